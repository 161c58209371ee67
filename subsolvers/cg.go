package subsolvers

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SteihaugToint minimizes g'x + 0.5 x'Hx over ||x|| <= radius with the
// Steihaug-Toint truncated Conjugate Gradient method. The CG recursion runs
// on the residual r = Hx + g and truncates the moment the search direction
// has non-positive curvature or the unconstrained CG step would leave the
// ball; in both cases the step is extended along the current direction
// exactly to the ball boundary and returned.
func SteihaugToint(gradient []float64, hessian mat.Symmetric, radius float64) []float64 {
	const (
		absTol = 1.0e-8
		relTol = 1.0e-6
	)
	return truncatedCG(gradient, hessian, radius, absTol, relTol)
}

// TruncatedCG is SteihaugToint with caller-supplied absolute and relative
// residual tolerances. It is the inner step computation of BNTR's "cg"
// method, where the driver threads its own conjugate-gradient tolerances
// through.
func TruncatedCG(gradient []float64, hessian mat.Symmetric, radius, gtolAbs, gtolRel float64) []float64 {
	return truncatedCG(gradient, hessian, radius, gtolAbs, gtolRel)
}

func truncatedCG(gradient []float64, hessian mat.Symmetric, radius, gtolAbs, gtolRel float64) []float64 {
	n := len(gradient)
	maxIter := 2 * n

	residual := make([]float64, n)
	copy(residual, gradient)

	x := make([]float64, n)

	// Steepest descent direction at the initial point.
	direction := make([]float64, n)
	floats.ScaleTo(direction, -1, residual)

	gnorm := floats.Norm(residual, 2)
	stopTol := math.Max(gtolAbs, gtolRel*gnorm)

	hd := make([]float64, n)
	hdVec := mat.NewVecDense(n, hd)

	for iter := 0; gnorm > stopTol && iter < maxIter; iter++ {
		hdVec.MulVec(hessian, mat.NewVecDense(n, direction))
		curvature := floats.Dot(direction, hd)

		sigma := cgDistanceToBoundary(x, direction, radius)
		alpha := floats.Dot(residual, residual) / curvature

		if curvature <= 0 || alpha > sigma {
			// Extend to the ball boundary and truncate.
			floats.AddScaled(x, sigma, direction)
			break
		}

		rDotROld := floats.Dot(residual, residual)
		floats.AddScaled(x, alpha, direction)
		floats.AddScaled(residual, alpha, hd)

		beta := floats.Dot(residual, residual) / rDotROld
		for i := 0; i < n; i++ {
			direction[i] = -residual[i] + beta*direction[i]
		}
		gnorm = floats.Norm(residual, 2)
	}

	return x
}

// BoundedTruncatedCG minimizes g'x + 0.5 x'Hx over ||x|| <= radius
// intersected with the box [lower, upper], starting from x = 0. It runs the
// Steihaug-Toint recursion on the free coordinates; whenever a step first
// crosses a box bound, the coordinate is snapped to the bound, joins the
// fixed set, and CG restarts on the remaining free subspace. This is the
// "trsbox" inner step method of BNTR.
func BoundedTruncatedCG(gradient []float64, hessian mat.Symmetric, radius float64, lower, upper []float64) []float64 {
	const (
		absTol = 1.0e-8
		relTol = 1.0e-6
	)

	n := len(gradient)
	maxIter := 2 * n

	x := make([]float64, n)
	free := make([]bool, n)
	for i := range free {
		free[i] = lower[i] != upper[i]
	}

	hd := make([]float64, n)
	hdVec := mat.NewVecDense(n, hd)
	hx := make([]float64, n)
	hxVec := mat.NewVecDense(n, hx)

	// Residual and direction restricted to the free subspace.
	residual := make([]float64, n)
	direction := make([]float64, n)
	restart := func() float64 {
		hxVec.MulVec(hessian, mat.NewVecDense(n, x))
		for i := 0; i < n; i++ {
			if free[i] {
				residual[i] = gradient[i] + hx[i]
			} else {
				residual[i] = 0
			}
			direction[i] = -residual[i]
		}
		return floats.Norm(residual, 2)
	}

	gnorm := restart()
	stopTol := math.Max(absTol, relTol*gnorm)

	for iter := 0; gnorm > stopTol && iter < maxIter; iter++ {
		hdVec.MulVec(hessian, mat.NewVecDense(n, direction))
		curvature := floats.Dot(direction, hd)

		sigma := cgDistanceToBoundary(x, direction, radius)
		alpha := floats.Dot(residual, residual) / curvature
		truncate := curvature <= 0 || alpha > sigma
		if truncate {
			alpha = sigma
		}

		// First box bound crossed along the direction, if any.
		alphaBox := math.Inf(1)
		idxBox := -1
		boundBox := 0.0
		for i := 0; i < n; i++ {
			if !free[i] || direction[i] == 0 {
				continue
			}
			bound := upper[i]
			if direction[i] < 0 {
				bound = lower[i]
			}
			a := (bound - x[i]) / direction[i]
			if a < alphaBox {
				alphaBox, idxBox, boundBox = a, i, bound
			}
		}

		if idxBox >= 0 && alphaBox < alpha {
			// Snap to the bound, fix the coordinate, restart CG on the
			// reduced free set.
			floats.AddScaled(x, alphaBox, direction)
			x[idxBox] = boundBox
			free[idxBox] = false
			gnorm = restart()
			continue
		}

		floats.AddScaled(x, alpha, direction)
		if truncate {
			break
		}

		rDotROld := floats.Dot(residual, residual)
		floats.AddScaled(residual, alpha, hd)
		beta := floats.Dot(residual, residual) / rDotROld
		for i := 0; i < n; i++ {
			direction[i] = -residual[i] + beta*direction[i]
		}
		gnorm = floats.Norm(residual, 2)
	}

	for i := 0; i < n; i++ {
		x[i] = math.Min(math.Max(x[i], lower[i]), upper[i])
	}
	return x
}

// cgDistanceToBoundary returns the positive sigma with
// ||x + sigma*direction|| = radius.
func cgDistanceToBoundary(x, direction []float64, radius float64) float64 {
	ss := floats.Dot(x, x)
	sp := floats.Dot(x, direction)
	pp := floats.Dot(direction, direction)

	return (-sp + math.Sqrt(sp*sp+pp*(radius*radius-ss))) / pp
}
