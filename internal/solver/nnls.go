package solver

import "math"

const (
	nnlsMaxIter = 1000
	nnlsTol     = 1e-8
)

// nnlsProjected minimizes ‖A·w − y‖² + λ‖w‖² subject to w ≥ 0 by projected
// gradient descent. The iterate starts from the clamped unconstrained
// solution and takes fixed steps of 1/(‖A‖₂² + λ), the Lipschitz constant of
// the gradient. When the loop exhausts maxIter the last iterate is returned
// as-is; the caller sees a feasible point either way.
func nnlsProjected(a *matrix, y []float64, lambda float64, maxIter int, tol float64) []float64 {
	n := a.cols
	w, err := leastSquares(a, y)
	if err != nil {
		w = make([]float64, n)
	}
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
	}

	lip := spectralNormSq(a) + lambda
	if lip <= 0 {
		return w
	}
	step := 1.0 / lip

	prev := make([]float64, n)
	grad := make([]float64, n)
	for iter := 0; iter < maxIter; iter++ {
		copy(prev, w)

		// grad = Aᵀ(A·w − y) + λw
		resid := a.mulVec(w)
		for i := range resid {
			resid[i] -= y[i]
		}
		atr := a.mulVecT(resid)
		for i := range grad {
			grad[i] = atr[i] + lambda*w[i]
		}

		for i := range w {
			w[i] -= step * grad[i]
			if w[i] < 0 {
				w[i] = 0
			}
		}

		diff := 0.0
		for i := range w {
			d := w[i] - prev[i]
			diff += d * d
		}
		if math.Sqrt(diff) <= tol*(norm2(w)+1e-12) {
			break
		}
	}
	return w
}
