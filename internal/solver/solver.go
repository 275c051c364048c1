// Package solver derives per-channel DEM proxy weights from a temperature
// response table.
//
// Four regression regimes are supported: plain least-squares inversion at a
// single temperature, ridge-regularized inversion, joint regression against a
// Gaussian temperature basis, and non-negativity-constrained fitting via
// projected gradient descent. Weight sets are immutable once derived; ratio
// correction returns a new set.
package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/pocky-solar/dem-pipeline/internal/response"
)

// ln10 converts between per-logT and per-T bin widths.
var ln10 = math.Log(10.0)

// Numerical-degeneracy failures. All are fatal at the point of computation.
var (
	ErrZeroResponse      = errors.New("response vector is zero at this logT")
	ErrZeroNormalization = errors.New("weight normalization product is zero")
	ErrMissingRatio      = errors.New("missing ratio for channel")
	ErrInvalidRatio      = errors.New("ratio must be positive")
)

// Config carries the run-wide solver settings. It is built once from flags
// and passed by value to every derivation.
type Config struct {
	Channels  []int
	DeltaLogT float64 // bin width in logT; 0 infers the median grid spacing
	PerLogT   bool    // DEM per dlogT (default is per dT)
	Ridge     float64 // ridge strength; 0 disables
}

// Solution is the single-temperature weight set for one logT bin.
type Solution struct {
	LogT0    float64
	Channels []int
	Weights  []float64
	Scale    float64 // physical bin-width conversion factor
}

// resolveDelta returns the explicit bin width or the median grid spacing.
func resolveDelta(t *response.Table, delta float64) (float64, error) {
	if delta > 0 {
		return delta, nil
	}
	return t.MedianSpacing()
}

// binScale is the conversion from weighted counts to DEM units for one bin.
func binScale(logT0, delta float64, perLogT bool) float64 {
	if perLogT {
		return delta
	}
	return ln10 * math.Pow(10, logT0) * delta
}

// quadWeights is the per-sample integration factor over the logT grid.
func quadWeights(logT []float64, delta float64, perLogT bool) []float64 {
	quad := make([]float64, len(logT))
	for i, lt := range logT {
		if perLogT {
			quad[i] = delta
		} else {
			quad[i] = ln10 * math.Pow(10, lt) * delta
		}
	}
	return quad
}

// Linear derives the weight vector for a single target temperature.
//
// Without ridge the minimum-norm inversion w = r/(r·r) is rescaled so that
// scale·(w·r) == 1 exactly. With ridge the weighted normal equations
// (G + λI)·w = r are solved directly and no rescaling is applied; the
// regularized system is taken as self-consistent.
func Linear(t *response.Table, cfg Config, logT0 float64) (*Solution, error) {
	cols := make([]int, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		j, err := t.ChannelIndex(ch)
		if err != nil {
			return nil, err
		}
		cols[i] = j
	}

	r, err := t.Sample(logT0, cfg.Channels)
	if err != nil {
		return nil, err
	}
	delta, err := resolveDelta(t, cfg.DeltaLogT)
	if err != nil {
		return nil, err
	}
	scale := binScale(logT0, delta, cfg.PerLogT)

	var w []float64
	if cfg.Ridge > 0 {
		quad := quadWeights(t.LogT, delta, cfg.PerLogT)
		n := len(cfg.Channels)
		g := newMatrix(n, n)
		for i := range t.LogT {
			q := quad[i]
			for a := 0; a < n; a++ {
				ra := t.Response.At(i, cols[a])
				for b := a; b < n; b++ {
					g.data[a*n+b] += ra * q * t.Response.At(i, cols[b])
				}
			}
		}
		for a := 0; a < n; a++ {
			for b := 0; b < a; b++ {
				g.set(a, b, g.at(b, a))
			}
		}
		lam := cfg.Ridge * g.trace() / float64(max(n, 1))
		for i := 0; i < n; i++ {
			g.set(i, i, g.at(i, i)+lam)
		}
		w, err = solveSystem(g, r)
		if err != nil {
			return nil, fmt.Errorf("ridge inversion at logT=%g: %w", logT0, err)
		}
	} else {
		denom := dot(r, r)
		if denom == 0 {
			return nil, fmt.Errorf("logT=%g: %w", logT0, ErrZeroResponse)
		}
		w = make([]float64, len(r))
		for i := range r {
			w[i] = r[i] / denom
		}
		norm := scale * dot(w, r)
		if norm == 0 {
			return nil, fmt.Errorf("logT=%g: %w", logT0, ErrZeroNormalization)
		}
		for i := range w {
			w[i] /= norm
		}
	}

	return &Solution{
		LogT0:    logT0,
		Channels: append([]int(nil), cfg.Channels...),
		Weights:  w,
		Scale:    scale,
	}, nil
}

// ForceNonNegative clamps a single-temperature solution to non-negative
// weights and renormalizes against the response vector. A new solution is
// returned; sol is unchanged.
func ForceNonNegative(t *response.Table, cfg Config, sol *Solution) (*Solution, error) {
	r, err := t.Sample(sol.LogT0, sol.Channels)
	if err != nil {
		return nil, err
	}
	w := make([]float64, len(sol.Weights))
	for i, v := range sol.Weights {
		w[i] = math.Max(0, v)
	}
	norm := sol.Scale * dot(w, r)
	if norm == 0 {
		return nil, fmt.Errorf("nonnegative weights collapsed to zero at logT=%g: %w",
			sol.LogT0, ErrZeroNormalization)
	}
	for i := range w {
		w[i] /= norm
	}
	out := *sol
	out.Weights = w
	return &out, nil
}
