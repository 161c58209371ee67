package subsolvers

import (
	"math"

	"gonum.org/v1/gonum/floats"

	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// MinimizeLinear solves the linear trust-region subproblem
//
//	min_x   g'x
//	s.t.    lower <= x <= upper,  ||x|| <= radius
//
// using an active-set walk (the TRSBOX approach from Powell's BOBYQA):
// starting from x = 0, repeatedly take the largest step along the negative
// gradient clipped to the trust-region ball, snap to the first bound that
// becomes active, drop that direction, and continue until all directions
// are exhausted or the ball boundary is reached without further bound
// activation. Directions with |g_i| < zeroThreshold are excluded up front.
//
// Pass DefaultZeroThreshold for zeroThreshold unless a caller-specific
// tolerance is needed.
func MinimizeLinear(model LinearModel, lower, upper []float64, radius, zeroThreshold float64) []float64 {
	n := len(model.Gradient)

	lowerInternal := make([]float64, n)
	upperInternal := make([]float64, n)
	for i := 0; i < n; i++ {
		lowerInternal[i] = math.Min(lower[i], -zeroThreshold)
		upperInternal[i] = math.Max(upper[i], zeroThreshold)
	}

	x := make([]float64, n)
	direction := make([]float64, n)

	// Directions with a numerically zero gradient component never enter the
	// candidate queue.
	var candidates []int
	for i := 0; i < n; i++ {
		if math.Abs(model.Gradient[i]) < zeroThreshold {
			direction[i] = 0
		} else {
			direction[i] = -model.Gradient[i]
			candidates = append(candidates, i)
		}
	}
	cursor := 0

	for step := 0; step < n; step++ {
		if floats.Norm(direction, 2) < zeroThreshold {
			break
		}

		alpha := distanceToBoundary(x, direction, radius, zeroThreshold)
		xUnconstrained := make([]float64, n)
		floats.AddScaledTo(xUnconstrained, x, alpha, direction)

		bound, idx, found := nextActiveBound(xUnconstrained, lowerInternal, upperInternal, candidates, &cursor)
		if !found {
			x = xUnconstrained
			break
		}
		x, direction = constrainedStepToBound(x, direction, bound, idx)
	}

	return x
}

// ImproveGeometry maximizes the absolute value of a degree-one Lagrange
// polynomial
//
//	L(x) = c + g'(x - xCenter)
//
// over the ball of the given radius around xCenter intersected with the box
// bounds. The maximization solves the linear subproblem twice, once with +g
// and once with -g, and keeps whichever candidate yields the larger |L|.
// The returned point is in absolute coordinates.
//
// An error is returned when xCenter violates the bounds.
func ImproveGeometry(
	xCenter []float64,
	model LinearModel,
	lower, upper []float64,
	radius, zeroThreshold float64,
) ([]float64, error) {
	n := len(xCenter)
	for i := 0; i < n; i++ {
		if lower[i] > xCenter[i]+zeroThreshold {
			return nil, scioptErrors.NewBoundsError("subsolvers.ImproveGeometry", i, "center violates lower bound")
		}
		if xCenter[i]-zeroThreshold > upper[i] {
			return nil, scioptErrors.NewBoundsError("subsolvers.ImproveGeometry", i, "center violates upper bound")
		}
	}

	lowerShifted := make([]float64, n)
	upperShifted := make([]float64, n)
	floats.SubTo(lowerShifted, lower, xCenter)
	floats.SubTo(upperShifted, upper, xCenter)

	negated := LinearModel{Constant: model.Constant, Gradient: make([]float64, n)}
	floats.ScaleTo(negated.Gradient, -1, model.Gradient)

	candidateMin := MinimizeLinear(model, lowerShifted, upperShifted, radius, zeroThreshold)
	candidateMax := MinimizeLinear(negated, lowerShifted, upperShifted, radius, zeroThreshold)

	lagrange := func(x []float64) float64 {
		return math.Abs(model.Constant + floats.Dot(model.Gradient, x))
	}

	winner := candidateMin
	if lagrange(candidateMax) > lagrange(candidateMin) {
		winner = candidateMax
	}
	floats.Add(winner, xCenter)
	return winner, nil
}

// nextActiveBound advances the cursor through the candidate-direction queue
// until a coordinate of the unconstrained candidate crosses a bound. The
// early-exit semantics match iterator consumption: each call resumes where
// the previous one stopped.
func nextActiveBound(
	xUnconstrained, lower, upper []float64,
	candidates []int,
	cursor *int,
) (bound float64, index int, found bool) {
	for *cursor < len(candidates) {
		i := candidates[*cursor]
		*cursor++
		switch {
		case xUnconstrained[i] >= upper[i]:
			return upper[i], i, true
		case xUnconstrained[i] <= lower[i]:
			return lower[i], i, true
		}
	}
	return 0, -1, false
}

// constrainedStepToBound takes the largest step that keeps the active
// coordinate on its bound, snaps it there exactly, and removes the
// direction from the search.
func constrainedStepToBound(x, direction []float64, bound float64, index int) ([]float64, []float64) {
	n := len(x)
	stepSize := (bound - x[index]) / direction[index]

	xNew := make([]float64, n)
	floats.AddScaledTo(xNew, x, stepSize, direction)
	xNew[index] = bound

	directionNew := make([]float64, n)
	copy(directionNew, direction)
	directionNew[index] = 0

	return xNew, directionNew
}

// distanceToBoundary returns the largest alpha >= 0 with
// ||x0 + alpha*direction|| = radius, or 0 for a vanishing direction.
func distanceToBoundary(x0, direction []float64, radius, zeroThreshold float64) float64 {
	gDotX0 := floats.Dot(direction, x0)
	gSumSq := floats.Dot(direction, direction)
	x0SumSq := floats.Dot(x0, x0)

	if math.Sqrt(gSumSq) < zeroThreshold {
		return 0
	}
	discriminant := math.Max(0, gDotX0*gDotX0+gSumSq*(radius*radius-x0SumSq))
	return (math.Sqrt(discriminant) - gDotX0) / gSumSq
}
