package solver

import (
	"fmt"
	"math"

	"github.com/pocky-solar/dem-pipeline/internal/response"
)

// Basis normalization modes.
const (
	NormalizeMax  = "max"
	NormalizeArea = "area"
	NormalizeNone = "none"
)

// GaussianConfig extends Config for the joint Gaussian-basis regression.
type GaussianConfig struct {
	Config
	Bins       []float64 // requested logT bin centers
	MinCenter  float64   // 0 = min(Bins) - 0.4
	MaxCenter  float64   // 0 = max(Bins) + 0.4
	CenterStep float64   // 0 = 0.1
	Sigmas     []float64
	Normalize  string // max, area or none
	NonNeg     bool
}

// MultiSolution is a weight matrix with one row per requested logT bin.
type MultiSolution struct {
	Bins     []float64
	Channels []int
	Weights  [][]float64 // [bin][channel]
}

// gaussianBasis evaluates one profile per (center, sigma) pair over the grid.
func gaussianBasis(logT []float64, centers, sigmas []float64, normalize string, quad []float64) *matrix {
	profiles := newMatrix(len(centers)*len(sigmas), len(logT))
	row := 0
	for _, mu := range centers {
		for _, sigma := range sigmas {
			peak := 0.0
			area := 0.0
			for i, lt := range logT {
				z := (lt - mu) / sigma
				g := math.Exp(-0.5 * z * z)
				profiles.set(row, i, g)
				if g > peak {
					peak = g
				}
				area += g * quad[i]
			}
			switch normalize {
			case NormalizeMax:
				if peak > 0 {
					for i := range logT {
						profiles.set(row, i, profiles.at(row, i)/peak)
					}
				}
			case NormalizeArea:
				if area > 0 {
					for i := range logT {
						profiles.set(row, i, profiles.at(row, i)/area)
					}
				}
			}
			row++
		}
	}
	return profiles
}

// Gaussian fits one weight row per requested bin by regressing synthetic
// per-channel intensities of a Gaussian DEM family against the family's
// values at the bin centers.
func Gaussian(t *response.Table, gc GaussianConfig) (*MultiSolution, error) {
	if len(gc.Bins) == 0 {
		return nil, fmt.Errorf("gaussian regression needs at least one logT bin")
	}
	if len(gc.Sigmas) == 0 {
		return nil, fmt.Errorf("gaussian regression needs at least one sigma")
	}
	cols := make([]int, len(gc.Channels))
	for i, ch := range gc.Channels {
		j, err := t.ChannelIndex(ch)
		if err != nil {
			return nil, err
		}
		cols[i] = j
	}
	delta, err := resolveDelta(t, gc.DeltaLogT)
	if err != nil {
		return nil, err
	}

	bins := append([]float64(nil), gc.Bins...)
	sortFloats(bins)
	minC, maxC, step := gc.MinCenter, gc.MaxCenter, gc.CenterStep
	if minC == 0 {
		minC = bins[0] - 0.4
	}
	if maxC == 0 {
		maxC = bins[len(bins)-1] + 0.4
	}
	if step == 0 {
		step = 0.1
	}
	var centers []float64
	for c := minC; c <= maxC+1e-6; c += step {
		centers = append(centers, c)
	}

	quad := quadWeights(t.LogT, delta, gc.PerLogT)
	profiles := gaussianBasis(t.LogT, centers, gc.Sigmas, gc.Normalize, quad)

	// intensities[m][c] = ∫ profile_m(T)·response(T,c)·quad(T)
	nCh := len(gc.Channels)
	intensities := newMatrix(profiles.rows, nCh)
	for m := 0; m < profiles.rows; m++ {
		for c := 0; c < nCh; c++ {
			s := 0.0
			for i := range t.LogT {
				s += profiles.at(m, i) * t.Response.At(i, cols[c]) * quad[i]
			}
			intensities.set(m, c, s)
		}
	}

	// targets[m][b]: profile m sampled at bin center b.
	targets := newMatrix(profiles.rows, len(bins))
	prow := make([]float64, len(t.LogT))
	for m := 0; m < profiles.rows; m++ {
		for i := range t.LogT {
			prow[i] = profiles.at(m, i)
		}
		for b, center := range bins {
			targets.set(m, b, response.Interp(center, t.LogT, prow))
		}
	}

	lam := 0.0
	if gc.Ridge > 0 {
		lam = gc.Ridge * intensities.gram().trace() / float64(max(nCh, 1))
	}

	weights := make([][]float64, len(bins))
	for b := range bins {
		y := make([]float64, profiles.rows)
		for m := 0; m < profiles.rows; m++ {
			y[m] = targets.at(m, b)
		}
		var w []float64
		switch {
		case gc.NonNeg:
			w = nnlsProjected(intensities, y, lam, nnlsMaxIter, nnlsTol)
		case gc.Ridge > 0:
			g := intensities.gram()
			for i := 0; i < g.rows; i++ {
				g.set(i, i, g.at(i, i)+lam)
			}
			w, err = solveSystem(g, intensities.mulVecT(y))
			if err != nil {
				return nil, fmt.Errorf("gaussian ridge solve for bin %g: %w", bins[b], err)
			}
		default:
			w, err = leastSquares(intensities, y)
			if err != nil {
				return nil, fmt.Errorf("gaussian least squares for bin %g: %w", bins[b], err)
			}
		}
		weights[b] = w
	}

	return &MultiSolution{
		Bins:     bins,
		Channels: append([]int(nil), gc.Channels...),
		Weights:  weights,
	}, nil
}

func sortFloats(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
