package subsolvers

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GQTPAROptions configures MinimizeGQTPAR. KEasy and KHard are the relative
// stopping tolerances of the boundary ("easy") and near-singular ("hard")
// cases; see Conn, Gould and Toint (2000), pp. 194-197.
type GQTPAROptions struct {
	KEasy   float64
	KHard   float64
	MaxIter int
}

// DefaultGQTPAROptions returns the default GQTPAR configuration.
func DefaultGQTPAROptions() GQTPAROptions {
	return GQTPAROptions{KEasy: 0.1, KHard: 0.2, MaxIter: 200}
}

// dampingFactors brackets the secular-equation root: the current candidate
// lambda together with its lower and upper bound estimates.
type dampingFactors struct {
	candidate  float64
	lowerBound float64
	upperBound float64
}

// MinimizeGQTPAR solves the ball-constrained quadratic trust-region
// subproblem to near-exactness following More and Sorensen (1983). A step
// x* is a global solution iff ||x*|| <= radius and there is a lambda >= 0
// with
//
//	(H + lambda*I) x* = -g,
//	lambda * (radius - ||x*||) = 0,
//	H + lambda*I positive semi-definite.
//
// The scalar lambda is found by repeated Cholesky factorization attempts:
// a successful factorization yields a Newton update of lambda from the
// secular equation, a failed one (indefinite matrix) raises the lower
// bracket. Near-singular Hessians take the hard-case branch, resolved with
// the smallest eigenpair; the gradient is judged effectively zero below a
// threshold of machine epsilon scaled by matrix norm and dimension (Golub &
// Van Loan convention). Box bounds are not supported by this solver.
func MinimizeGQTPAR(model QuadraticModel, radius float64, opts GQTPAROptions) (Solution, error) {
	n := len(model.Gradient)

	hessianInfNorm := infNorm(model.Hessian)
	// Below this, backward substitution against the factor is unreliable.
	zeroThreshold := float64(n) * machEps * hessianInfNorm

	gradientNorm := floats.Norm(model.Gradient, 2)
	lambdas := initialDampingFactors(model, radius, hessianInfNorm)

	negGradient := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		negGradient.SetVec(i, -model.Gradient[i])
	}

	x := make([]float64, n)
	converged := false
	message := "Maximum number of iterations reached."

	var chol mat.Cholesky
	niter := 0
	for ; niter < opts.MaxIter; niter++ {
		shifted := shiftedHessian(model.Hessian, lambdas.candidate)

		if chol.Factorize(shifted) {
			if gradientNorm > zeroThreshold {
				var xVec mat.VecDense
				if err := chol.SolveVecTo(&xVec, negGradient); err != nil {
					// Factor too ill-conditioned to solve against; treat
					// like a failed factorization.
					lambdas = raiseDamping(lambdas)
					continue
				}
				copy(x, xVec.RawVector().Data)
				xNorm := floats.Norm(x, 2)

				if xNorm < radius {
					// Inside the ball: either interior solution or hard case.
					if lambdas.candidate == 0 {
						converged = true
						message = "Interior solution found."
						break
					}
					lambdas.upperBound = math.Min(lambdas.upperBound, lambdas.candidate)

					if hardX, ok := resolveHardCase(model, x, radius, lambdas, opts.KHard); ok {
						x = hardX
						converged = true
						message = "Hard case: boundary solution along the smallest eigenvector."
						break
					}
					lambdas = newtonDampingUpdate(&chol, lambdas, x, xNorm, radius)
				} else {
					// On or outside the boundary.
					if math.Abs(xNorm-radius) <= opts.KEasy*radius {
						converged = true
						message = "Boundary solution found."
						break
					}
					lambdas.lowerBound = math.Max(lambdas.lowerBound, lambdas.candidate)
					lambdas = newtonDampingUpdate(&chol, lambdas, x, xNorm, radius)
				}
			} else {
				// Effectively zero gradient.
				if lambdas.candidate == 0 {
					for i := range x {
						x[i] = 0
					}
					converged = true
					message = "Interior solution found."
					break
				}
				lambdas.upperBound = math.Min(lambdas.upperBound, lambdas.candidate)
				if hardX, ok := resolveHardCase(model, make([]float64, n), radius, lambdas, opts.KHard); ok {
					x = hardX
					converged = true
					message = "Hard case: boundary solution along the smallest eigenvector."
					break
				}
				lambdas = bisectDamping(lambdas)
			}
		} else {
			// Indefinite: lambda is too small. A collapsed bracket here means
			// the minimal damping itself is singular, which is the hard case.
			lambdas.lowerBound = math.Max(lambdas.lowerBound, lambdas.candidate)
			if hardX, ok := resolveHardCase(model, make([]float64, n), radius, lambdas, opts.KHard); ok {
				x = hardX
				converged = true
				message = "Hard case: boundary solution along the smallest eigenvector."
				break
			}
			lambdas = bisectDamping(lambdas)
		}
	}

	return Solution{
		X:          x,
		Criterion:  model.Evaluate(x),
		Iterations: niter,
		Converged:  converged,
		Message:    message,
	}, nil
}

const machEps = 2.220446049250313e-16

// initialDampingFactors computes the starting bracket for lambda from the
// gradient norm, the Hessian diagonal and the Gershgorin disc bounds.
func initialDampingFactors(model QuadraticModel, radius, hessianInfNorm float64) dampingFactors {
	n := len(model.Gradient)
	gradientNorm := floats.Norm(model.Gradient, 2)
	hessianFroNorm := froNorm(model.Hessian)

	minDiag := math.Inf(1)
	for i := 0; i < n; i++ {
		minDiag = math.Min(minDiag, model.Hessian.At(i, i))
	}

	gershgorinLower, gershgorinUpper := gershgorinBounds(model.Hessian)

	lower := math.Max(0, math.Max(
		-minDiag,
		gradientNorm/radius-math.Min(gershgorinUpper, math.Min(hessianFroNorm, hessianInfNorm)),
	))
	upper := math.Max(0,
		gradientNorm/radius+math.Min(-gershgorinLower, math.Min(hessianFroNorm, hessianInfNorm)),
	)

	candidate := 0.0
	if lower > 0 {
		candidate = newDampingCandidate(lower, upper)
	}
	return dampingFactors{candidate: candidate, lowerBound: lower, upperBound: upper}
}

// newDampingCandidate picks a fresh lambda inside the bracket, preferring
// the geometric mean.
func newDampingCandidate(lower, upper float64) float64 {
	return math.Max(math.Sqrt(lower*upper), lower+0.01*(upper-lower))
}

// raiseDamping reacts to a failed factorization: the current candidate
// joins the lower bracket and a larger candidate is chosen.
func raiseDamping(lambdas dampingFactors) dampingFactors {
	lambdas.lowerBound = math.Max(lambdas.lowerBound, lambdas.candidate)
	lambdas.candidate = newDampingCandidate(lambdas.lowerBound, lambdas.upperBound)
	return lambdas
}

// bisectDamping picks a new candidate strictly inside the current bracket.
func bisectDamping(lambdas dampingFactors) dampingFactors {
	lambdas.candidate = newDampingCandidate(lambdas.lowerBound, lambdas.upperBound)
	return lambdas
}

// newtonDampingUpdate applies the secular-equation Newton step
//
//	lambda+ = lambda + (||x||/||w||)^2 * (||x||-radius)/radius
//
// where w solves L w = x against the Cholesky factor. Candidates that
// leave the bracket fall back to the safeguarded choice.
func newtonDampingUpdate(chol *mat.Cholesky, lambdas dampingFactors, x []float64, xNorm, radius float64) dampingFactors {
	n := len(x)

	var lower mat.TriDense
	chol.LTo(&lower)

	w := mat.NewVecDense(n, nil)
	if err := w.SolveVec(&lower, mat.NewVecDense(n, x)); err != nil {
		return bisectDamping(lambdas)
	}
	wNorm := floats.Norm(w.RawVector().Data, 2)
	if wNorm == 0 {
		return bisectDamping(lambdas)
	}

	ratio := xNorm / wNorm
	candidate := lambdas.candidate + ratio*ratio*(xNorm-radius)/radius

	if candidate <= lambdas.lowerBound || candidate >= lambdas.upperBound {
		return bisectDamping(lambdas)
	}
	lambdas.candidate = candidate
	return lambdas
}

// resolveHardCase handles the near-singular branch: the boundary solution
// gains a component along the eigenvector z of the smallest eigenvalue,
// x* = x + alpha*z with ||x*|| = radius. The step is accepted once the
// damping bracket has collapsed to within the relative tolerance kHard.
func resolveHardCase(model QuadraticModel, x []float64, radius float64, lambdas dampingFactors, kHard float64) ([]float64, bool) {
	gap := lambdas.upperBound - lambdas.lowerBound
	if gap > kHard*math.Max(lambdas.upperBound, 1) {
		return nil, false
	}

	var eig mat.EigenSym
	if !eig.Factorize(model.Hessian, true) {
		return nil, false
	}
	values := eig.Values(nil)
	minIdx := 0
	for i, v := range values {
		if v < values[minIdx] {
			minIdx = i
		}
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	n := len(x)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = vectors.At(i, minIdx)
	}

	// Positive root of ||x + alpha*z|| = radius; z is unit length.
	xx := floats.Dot(x, x)
	xz := floats.Dot(x, z)
	discriminant := xz*xz + (radius*radius - xx)
	if discriminant < 0 {
		return nil, false
	}
	alpha := -xz + math.Sqrt(discriminant)

	out := make([]float64, n)
	floats.AddScaledTo(out, x, alpha, z)

	// Of the two roots, keep the one with the smaller model value.
	alt := make([]float64, n)
	floats.AddScaledTo(alt, x, -xz-math.Sqrt(discriminant), z)
	if model.Evaluate(alt) < model.Evaluate(out) {
		out = alt
	}
	return out, true
}

// shiftedHessian returns H + lambda*I.
func shiftedHessian(hessian *mat.SymDense, lambda float64) *mat.SymDense {
	n := hessian.SymmetricDim()
	shifted := mat.NewSymDense(n, nil)
	shifted.CopySym(hessian)
	for i := 0; i < n; i++ {
		shifted.SetSym(i, i, hessian.At(i, i)+lambda)
	}
	return shifted
}

// gershgorinBounds returns lower and upper eigenvalue bounds from the
// Gershgorin circle theorem.
func gershgorinBounds(hessian *mat.SymDense) (float64, float64) {
	n := hessian.SymmetricDim()
	lower := math.Inf(1)
	upper := math.Inf(-1)
	for i := 0; i < n; i++ {
		center := hessian.At(i, i)
		discRadius := 0.0
		for j := 0; j < n; j++ {
			if j != i {
				discRadius += math.Abs(hessian.At(i, j))
			}
		}
		lower = math.Min(lower, center-discRadius)
		upper = math.Max(upper, center+discRadius)
	}
	return lower, upper
}

func infNorm(hessian *mat.SymDense) float64 {
	n := hessian.SymmetricDim()
	maxRow := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += math.Abs(hessian.At(i, j))
		}
		maxRow = math.Max(maxRow, row)
	}
	return maxRow
}

func froNorm(hessian *mat.SymDense) float64 {
	n := hessian.SymmetricDim()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := hessian.At(i, j)
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}
