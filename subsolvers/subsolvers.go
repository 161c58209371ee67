// Package subsolvers implements the trust-region subproblem solvers of the
// derivative-free least-squares optimizer.
//
// All solvers minimize a local model over a ball of given radius, optionally
// intersected with box bounds:
//
//   - MinimizeLinear: degree-one model via an active-set walk (trsbox),
//     plus ImproveGeometry for Lagrange-polynomial maximization.
//   - MinimizeBNTR: bound-constrained quadratic model via an active-set
//     Newton Conjugate Gradient method.
//   - MinimizeGQTPAR: nearly exact quadratic solver based on secular-equation
//     root finding with repeated Cholesky factorizations.
//   - SteihaugToint / TruncatedCG / BoundedTruncatedCG: truncated
//     conjugate-gradient cores, used standalone and as the inner step
//     computation of BNTR.
//
// Solvers work in the frame handed to them; the driver loop normalizes
// bounds into the unit trust-region frame before calling. Numerical
// degeneracy (indefinite Hessians, vanishing curvature) is handled inside
// the iteration logic and never surfaces as an error; the only errors
// returned are input-contract violations.
package subsolvers

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultZeroThreshold is the threshold below which numerical values are
// treated as zero up to machine precision.
const DefaultZeroThreshold = 1e-14

// epsilon23 is machine epsilon to the power 2/3, the tolerance used when
// deciding whether predicted and actual reductions are both negligible.
var epsilon23 = math.Pow(2.220446049250313e-16, 2.0/3.0)

// LinearModel holds the parameters of a degree-one model
// c + g'x, with g the gradient (linear terms).
type LinearModel struct {
	Constant float64
	Gradient []float64
}

// QuadraticModel holds the parameters of a quadratic model
// g'x + 0.5 x'Hx. The Hessian must be symmetric; it need not be positive
// semi-definite.
type QuadraticModel struct {
	Gradient []float64
	Hessian  *mat.SymDense
}

// Evaluate returns the model value g'x + 0.5 x'Hx.
func (m QuadraticModel) Evaluate(x []float64) float64 {
	return evaluateQuadratic(x, m.Gradient, m.Hessian)
}

// EvaluateGradient returns the model derivative g + Hx.
func (m QuadraticModel) EvaluateGradient(x []float64) []float64 {
	n := len(x)
	grad := make([]float64, n)
	hx := mat.NewVecDense(n, grad)
	hx.MulVec(m.Hessian, mat.NewVecDense(n, x))
	floats.Add(grad, m.Gradient)
	return grad
}

func evaluateQuadratic(x, gradient []float64, hessian mat.Symmetric) float64 {
	n := len(x)
	hx := mat.NewVecDense(n, nil)
	hx.MulVec(hessian, mat.NewVecDense(n, x))
	return floats.Dot(gradient, x) + 0.5*floats.Dot(x, hx.RawVector().Data)
}

// Solution is the result record of a quadratic subproblem solver.
type Solution struct {
	// X is the step within the ball-intersect-box region.
	X []float64
	// Criterion is the model value at X.
	Criterion float64
	// Iterations is the number of iterations performed.
	Iterations int
	// Converged reports whether a stopping tolerance was met before the
	// iteration cap.
	Converged bool
	// Message is a human-readable termination reason.
	Message string
}
