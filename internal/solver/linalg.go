package solver

import (
	"fmt"
	"math"
)

// matrix is a dense row-major matrix. The solver regime is tiny (channel
// counts of ~6, basis sizes of a few dozen), so plain slices beat pulling in
// a BLAS binding.
type matrix struct {
	rows, cols int
	data       []float64
}

func newMatrix(rows, cols int) *matrix {
	return &matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

func (m *matrix) at(i, j int) float64     { return m.data[i*m.cols+j] }
func (m *matrix) set(i, j int, v float64) { m.data[i*m.cols+j] = v }

// mulVec computes m · v.
func (m *matrix) mulVec(v []float64) []float64 {
	out := make([]float64, m.rows)
	for i := 0; i < m.rows; i++ {
		s := 0.0
		for j := 0; j < m.cols; j++ {
			s += m.at(i, j) * v[j]
		}
		out[i] = s
	}
	return out
}

// mulVecT computes mᵀ · v.
func (m *matrix) mulVecT(v []float64) []float64 {
	out := make([]float64, m.cols)
	for i := 0; i < m.rows; i++ {
		vi := v[i]
		for j := 0; j < m.cols; j++ {
			out[j] += m.at(i, j) * vi
		}
	}
	return out
}

// gram computes mᵀ · m.
func (m *matrix) gram() *matrix {
	g := newMatrix(m.cols, m.cols)
	for i := 0; i < m.rows; i++ {
		for a := 0; a < m.cols; a++ {
			va := m.at(i, a)
			if va == 0 {
				continue
			}
			for b := a; b < m.cols; b++ {
				g.data[a*m.cols+b] += va * m.at(i, b)
			}
		}
	}
	for a := 0; a < m.cols; a++ {
		for b := 0; b < a; b++ {
			g.set(a, b, g.at(b, a))
		}
	}
	return g
}

func (m *matrix) trace() float64 {
	s := 0.0
	for i := 0; i < m.rows && i < m.cols; i++ {
		s += m.at(i, i)
	}
	return s
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm2(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

// solveSystem solves A·x = b in place of a copy, by Gaussian elimination
// with partial pivoting.
func solveSystem(a *matrix, b []float64) ([]float64, error) {
	n := a.rows
	if a.cols != n || len(b) != n {
		return nil, fmt.Errorf("solve: non-square system %dx%d", a.rows, a.cols)
	}
	m := newMatrix(n, n)
	copy(m.data, a.data)
	rhs := append([]float64(nil), b...)

	for col := 0; col < n; col++ {
		pivot := col
		pivotVal := math.Abs(m.at(col, col))
		for row := col + 1; row < n; row++ {
			if v := math.Abs(m.at(row, col)); v > pivotVal {
				pivotVal = v
				pivot = row
			}
		}
		if pivotVal < 1e-300 {
			return nil, fmt.Errorf("solve: singular system at column %d", col)
		}
		if pivot != col {
			for j := 0; j < n; j++ {
				m.data[col*n+j], m.data[pivot*n+j] = m.data[pivot*n+j], m.data[col*n+j]
			}
			rhs[col], rhs[pivot] = rhs[pivot], rhs[col]
		}
		p := m.at(col, col)
		for row := col + 1; row < n; row++ {
			factor := m.at(row, col) / p
			if factor == 0 {
				continue
			}
			for j := col; j < n; j++ {
				m.set(row, j, m.at(row, j)-factor*m.at(col, j))
			}
			rhs[row] -= factor * rhs[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		s := rhs[row]
		for j := row + 1; j < n; j++ {
			s -= m.at(row, j) * x[j]
		}
		x[row] = s / m.at(row, row)
	}
	return x, nil
}

// leastSquares solves min ‖A·x − y‖ through the normal equations. When the
// Gram matrix is singular (collinear columns), a trace-relative jitter is
// added so a solution always comes back, matching the tolerance of an
// SVD-based least-squares in this well-scaled regime.
func leastSquares(a *matrix, y []float64) ([]float64, error) {
	g := a.gram()
	aty := a.mulVecT(y)
	x, err := solveSystem(g, aty)
	if err == nil {
		return x, nil
	}
	jitter := g.trace() * 1e-12
	if jitter <= 0 {
		jitter = 1e-12
	}
	for i := 0; i < g.rows; i++ {
		g.set(i, i, g.at(i, i)+jitter)
	}
	return solveSystem(g, aty)
}

// spectralNormSq estimates ‖A‖₂² (the largest eigenvalue of AᵀA) by power
// iteration.
func spectralNormSq(a *matrix) float64 {
	n := a.cols
	if n == 0 || a.rows == 0 {
		return 0
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	lambda := 0.0
	for iter := 0; iter < 100; iter++ {
		w := a.mulVecT(a.mulVec(v))
		nw := norm2(w)
		if nw == 0 {
			return 0
		}
		for i := range w {
			w[i] /= nw
		}
		next := dot(w, a.mulVecT(a.mulVec(w)))
		if lambda > 0 && math.Abs(next-lambda) <= 1e-12*lambda {
			return next
		}
		lambda = next
		v = w
	}
	return lambda
}
