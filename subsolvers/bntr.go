package subsolvers

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// Inner step methods selectable for MinimizeBNTR.
const (
	CGMethodCG            = "cg"
	CGMethodSteihaugToint = "steihaug_toint"
	CGMethodTRSBox        = "trsbox"
)

// BNTROptions configures MinimizeBNTR. The zero value is not usable; start
// from DefaultBNTROptions.
type BNTROptions struct {
	// MaxIter caps the outer Newton-CG iterations.
	MaxIter int
	// MaxIterGradientDescent caps the preliminary bounded steepest-descent
	// phase.
	MaxIterGradientDescent int

	// Convergence tolerances on the bound-aware stationarity measure.
	GTolAbs    float64
	GTolRel    float64
	GTolScaled float64

	// CGMethod selects the inner step computation: CGMethodCG,
	// CGMethodSteihaugToint or CGMethodTRSBox.
	CGMethod string
	// CGGTolAbs and CGGTolRel are the residual tolerances of the inner
	// conjugate-gradient solve (CGMethodCG only).
	CGGTolAbs float64
	CGGTolRel float64
}

// DefaultBNTROptions returns the default BNTR configuration.
func DefaultBNTROptions() BNTROptions {
	return BNTROptions{
		MaxIter:                50,
		MaxIterGradientDescent: 5,
		GTolAbs:                1e-8,
		GTolRel:                1e-8,
		GTolScaled:             0,
		CGMethod:               CGMethodCG,
		CGGTolAbs:              1e-8,
		CGGTolRel:              1e-6,
	}
}

// Internal trust-region constants of the Newton-CG loop.
const (
	bntrEta1 = 1.0e-4
	bntrEta2 = 0.25
	bntrEta3 = 0.50
	bntrEta4 = 0.90

	bntrAlpha1 = 0.25
	bntrAlpha2 = 0.50
	bntrAlpha3 = 1.00
	bntrAlpha4 = 2.00
	bntrAlpha5 = 4.00

	bntrMinRadius     = 1e-10
	bntrMaxRadius     = 1e10
	bntrDefaultRadius = 100
)

// Constants of the preliminary gradient-descent phase.
const (
	gdTheta  = 0.25
	gdMu1    = 0.35
	gdMu2    = 0.50
	gdGamma1 = 0.0625
	gdGamma2 = 0.5
	gdGamma3 = 2.0
	gdGamma4 = 5.0
)

// activeBounds partitions the parameter indices by bound status. It is
// recomputed whenever the candidate point or its gradient changes.
type activeBounds struct {
	lower    []int // active at the lower bound with ascending gradient
	upper    []int // active at the upper bound with descending gradient
	fixed    []int // lower == upper
	active   []int // union of lower, upper and fixed
	inactive []int // free to move
}

// MinimizeBNTR minimizes a bound-constrained quadratic trust-region
// subproblem with an active-set Newton Conjugate Gradient method. The
// symmetric system Hx = -g is solved only on the inactive subspace; the
// active-set estimation follows Bertsekas. Newton steps are globalized with
// an internal trust region driven by the predicted-versus-actual reduction
// ratio, growing the radius only when the accepted step reached the
// trust-region boundary.
//
// The returned Solution always satisfies the box bounds. The only error is
// an unknown CGMethod.
func MinimizeBNTR(model QuadraticModel, lower, upper []float64, opts BNTROptions) (Solution, error) {
	switch opts.CGMethod {
	case CGMethodCG, CGMethodSteihaugToint, CGMethodTRSBox:
	default:
		return Solution{}, scioptErrors.NewSolverError("subsolvers.MinimizeBNTR", opts.CGMethod)
	}

	n := len(model.Gradient)
	x := make([]float64, n)

	state := takePreliminaryGradientDescentStep(x, model, lower, upper, opts)

	x = state.x
	fCandidate := state.criterion
	gradientUnprojected := state.gradientUnprojected
	info := state.bounds
	radius := state.radius
	converged := state.converged
	reason := state.reason

	niter := 0
	for ; niter <= opts.MaxIter; niter++ {
		if converged {
			break
		}

		xOld := make([]float64, n)
		copy(xOld, x)
		fOld := fCandidate

		acceptStep := false
		for !acceptStep && !converged {
			gradientInactive := gather(gradientUnprojected, info.inactive)
			hessianInactive := hessianSubmatrix(model.Hessian, info.inactive)

			cgStep, cgStepInactive, cgStepNorm := computeConjugateGradientStep(
				x, gradientInactive, hessianInactive, lower, upper, info, radius, opts,
			)

			xUnbounded := make([]float64, n)
			floats.AddTo(xUnbounded, x, cgStep)
			x = applyBoundsToCandidate(xUnbounded, lower, upper)

			predictedReduction := predictedReductionFromCGStep(
				cgStep, cgStepInactive, gradientUnprojected, gradientInactive, hessianInactive, info,
			)

			fCandidate = model.Evaluate(x)
			actualReduction := fOld - fCandidate

			radiusOld := radius
			radius, acceptStep = updateRadiusConjugateGradient(
				fCandidate, predictedReduction, actualReduction, cgStepNorm, radius,
			)

			if acceptStep {
				gradientUnprojected = model.EvaluateGradient(x)
				info = getActiveBounds(x, gradientUnprojected, lower, upper)
			} else {
				copy(x, xOld)
				fCandidate = fOld
				if radius == radiusOld {
					// Shrinking had no effect; the iteration is stuck.
					converged = true
					reason = "Trust-region radius stalled after step rejection."
					break
				}
			}

			converged, reason = checkBNTRConvergence(
				x, fCandidate, gradientUnprojected, model.Gradient, lower, upper,
				converged, reason, niter, opts.MaxIter,
				opts.GTolAbs, opts.GTolRel, opts.GTolScaled,
			)
		}
	}

	return Solution{
		X:          x,
		Criterion:  fCandidate,
		Iterations: niter,
		Converged:  converged,
		Message:    reason,
	}, nil
}

type preliminaryState struct {
	x                   []float64
	criterion           float64
	gradientUnprojected []float64
	bounds              activeBounds
	radius              float64
	converged           bool
	reason              string
}

// takePreliminaryGradientDescentStep runs the bounded steepest-descent
// phase that precedes the Newton-CG loop and checks whether the starting
// point already satisfies the stopping tolerances.
func takePreliminaryGradientDescentStep(
	x []float64,
	model QuadraticModel,
	lower, upper []float64,
	opts BNTROptions,
) preliminaryState {
	criterionCandidate := model.Evaluate(x)

	info := getActiveBounds(x, model.Gradient, lower, upper)
	gradientUnprojected := model.EvaluateGradient(x)
	gradientProjected := projectGradient(gradientUnprojected, info.inactive, len(x))

	converged, reason := checkBNTRConvergence(
		x, criterionCandidate, gradientUnprojected, model.Gradient, lower, upper,
		false, "", -1, -1, opts.GTolAbs, opts.GTolRel, opts.GTolScaled,
	)

	radius := float64(bntrDefaultRadius)
	if !converged {
		hessianInactive := hessianSubmatrix(model.Hessian, info.inactive)

		xGD, fMinGD, stepSizeAccepted, radiusGD, radiusLowerBound := performGradientDescentStep(
			x, criterionCandidate, gradientProjected, hessianInactive, model,
			lower, upper, info.inactive, opts.MaxIterGradientDescent,
		)
		radius = radiusGD

		if fMinGD < criterionCandidate {
			criterionCandidate = fMinGD

			xUnbounded := make([]float64, len(x))
			floats.AddScaledTo(xUnbounded, xGD, -stepSizeAccepted, gradientProjected)
			x = applyBoundsToCandidate(xUnbounded, lower, upper)

			gradientUnprojected = model.EvaluateGradient(x)
			info = getActiveBounds(x, gradientUnprojected, lower, upper)
			gradientProjected = projectGradient(gradientUnprojected, info.inactive, len(x))

			converged, reason = checkBNTRConvergence(
				x, criterionCandidate, gradientProjected, model.Gradient, lower, upper,
				false, "", -1, -1, opts.GTolAbs, opts.GTolRel, opts.GTolScaled,
			)
		}

		if !converged {
			radius = clampScalar(math.Max(radius, radiusLowerBound), bntrMinRadius, bntrMaxRadius)
		}
	}

	return preliminaryState{
		x:                   x,
		criterion:           criterionCandidate,
		gradientUnprojected: gradientUnprojected,
		bounds:              info,
		radius:              radius,
		converged:           converged,
		reason:              reason,
	}
}

// performGradientDescentStep walks along the projected steepest-descent
// direction for a fixed small number of iterations, growing and shrinking
// an internal gradient-descent trust radius from the agreement between
// predicted and actual reduction.
func performGradientDescentStep(
	xCandidate []float64,
	fCandidateInitial float64,
	gradientProjected []float64,
	hessianInactive *mat.SymDense,
	model QuadraticModel,
	lower, upper []float64,
	inactive []int,
	maxIterSteepestDescent int,
) (x []float64, fMin, stepSizeAccepted, radius, radiusLowerBound float64) {
	n := len(xCandidate)
	fMin = fCandidateInitial
	gradientNorm := floats.Norm(gradientProjected, 2)

	radius = bntrDefaultRadius
	radiusLowerBound = 0
	stepSizeAccepted = 0

	x = make([]float64, n)
	copy(x, xCandidate)

	for iter := 0; iter < maxIterSteepestDescent; iter++ {
		xOld := make([]float64, n)
		copy(xOld, x)

		stepSizeCandidate := radius / gradientNorm
		xTrial := make([]float64, n)
		floats.AddScaledTo(xTrial, xOld, -stepSizeCandidate, gradientProjected)
		x = applyBoundsToCandidate(xTrial, lower, upper)

		fCandidate := model.Evaluate(x)

		xDiff := make([]float64, n)
		floats.SubTo(xDiff, x, xOld)

		if fCandidate < fMin {
			fMin = fCandidate
			stepSizeAccepted = stepSizeCandidate
		}

		xInactive := gather(xDiff, inactive)
		squareTerms := quadraticForm(hessianInactive, xInactive)

		predictedReduction := radius * (gradientNorm - 0.5*radius*squareTerms/(gradientNorm*gradientNorm))
		actualReduction := fCandidateInitial - fCandidate

		radius, radiusLowerBound = updateRadiusGradientDescent(
			radius, radiusLowerBound, predictedReduction, actualReduction, gradientNorm,
		)
	}

	return x, fMin, stepSizeAccepted, radius, radiusLowerBound
}

// computeConjugateGradientStep computes the inner trust-region step on the
// inactive subspace and scatters it back to full dimension, with active
// coordinates stepping exactly onto their bounds.
func computeConjugateGradientStep(
	x, gradientInactive []float64,
	hessianInactive *mat.SymDense,
	lower, upper []float64,
	info activeBounds,
	radius float64,
	opts BNTROptions,
) (cgStep, cgStepInactive []float64, cgStepNorm float64) {
	if len(info.inactive) == 0 {
		// Save some computation and return an adjusted zero step.
		stepInactive := applyBoundsToCandidate(x, lower, upper)
		stepNorm := floats.Norm(stepInactive, 2)
		step := applyBoundsToCGStep(stepInactive, x, lower, upper, info)
		return step, stepInactive, stepNorm
	}

	solveInner := func(r float64) []float64 {
		switch opts.CGMethod {
		case CGMethodSteihaugToint:
			return SteihaugToint(gradientInactive, hessianInactive, r)
		case CGMethodTRSBox:
			return BoundedTruncatedCG(
				gradientInactive, hessianInactive, r,
				gather(lower, info.inactive), gather(upper, info.inactive),
			)
		default:
			return TruncatedCG(gradientInactive, hessianInactive, r, opts.CGGTolAbs, opts.CGGTolRel)
		}
	}

	stepInactive := solveInner(radius)
	stepNorm := floats.Norm(stepInactive, 2)

	if radius == 0 {
		if stepNorm > 0 {
			stepNorm = clampScalar(stepNorm, bntrMinRadius, bntrMaxRadius)
		} else {
			radius = clampScalar(bntrDefaultRadius, bntrMinRadius, bntrMaxRadius)
			stepInactive = solveInner(radius)
			stepNorm = floats.Norm(stepInactive, 2)
		}
	}

	cgStep = applyBoundsToCGStep(stepInactive, x, lower, upper, info)
	return cgStep, stepInactive, stepNorm
}

// predictedReductionFromCGStep returns the model reduction predicted by the
// conjugate-gradient step. When the bound projection changed the step, the
// reduction is recomputed on the projected step.
func predictedReductionFromCGStep(
	cgStep, cgStepInactive, gradientUnprojected, gradientInactive []float64,
	hessianInactive *mat.SymDense,
	info activeBounds,
) float64 {
	var predicted float64
	if len(info.active) > 0 {
		stepRecomputed := gather(cgStep, info.inactive)
		gradientRecomputed := gather(gradientUnprojected, info.inactive)
		predicted = floats.Dot(gradientRecomputed, stepRecomputed) +
			0.5*quadraticForm(hessianInactive, stepRecomputed)
	} else {
		predicted = floats.Dot(gradientInactive, cgStepInactive) +
			0.5*quadraticForm(hessianInactive, cgStepInactive)
	}
	return -predicted
}

// updateRadiusConjugateGradient updates the internal trust-region radius of
// the Newton-CG loop and decides step acceptance. The radius grows only
// when the computed step is at the trust-radius boundary.
func updateRadiusConjugateGradient(
	fCandidate, predictedReduction, actualReduction, cgStepNorm, radius float64,
) (float64, bool) {
	acceptStep := false

	if predictedReduction < 0 || !isFinite(predictedReduction) || !isFinite(actualReduction) {
		// Reject and start over.
		radius = bntrAlpha1 * math.Min(radius, cgStepNorm)
	} else {
		var kappa float64
		if math.Abs(actualReduction) <= math.Max(1, math.Abs(fCandidate)*epsilon23) &&
			math.Abs(predictedReduction) <= math.Max(1, math.Abs(fCandidate)*epsilon23) {
			kappa = 1
		} else {
			kappa = actualReduction / predictedReduction
		}

		if kappa < bntrEta1 {
			radius = bntrAlpha1 * math.Min(radius, cgStepNorm)
		} else {
			acceptStep = true
			if cgStepNorm == radius {
				switch {
				case kappa < bntrEta2:
					radius = bntrAlpha2 * radius
				case kappa < bntrEta3:
					radius = bntrAlpha3 * radius
				case kappa < bntrEta4:
					radius = bntrAlpha4 * radius
				default:
					radius = bntrAlpha5 * radius
				}
			}
		}
	}

	return clampScalar(radius, bntrMinRadius, bntrMaxRadius), acceptStep
}

// updateRadiusGradientDescent updates the gradient-descent trust radius and
// its lower bound from the agreement ratio kappa against the thresholds
// mu1/mu2 and the interpolation factors gamma1..gamma4.
func updateRadiusGradientDescent(
	radius, radiusLowerBound, predictedReduction, actualReduction, gradientNorm float64,
) (float64, float64) {
	var kappa float64
	if math.Abs(actualReduction) <= epsilon23 && math.Abs(predictedReduction) <= epsilon23 {
		kappa = 1
	} else {
		kappa = actualReduction / predictedReduction
	}

	tau1 := gdTheta * gradientNorm * radius /
		(gdTheta*gradientNorm*radius + (1-gdTheta)*predictedReduction - actualReduction)
	tau2 := gdTheta * gradientNorm * radius /
		(gdTheta*gradientNorm*radius - (1+gdTheta)*predictedReduction + actualReduction)

	tauMin := math.Min(tau1, tau2)
	tauMax := math.Max(tau1, tau2)

	var tau float64
	switch {
	case math.Abs(kappa-1) <= gdMu1:
		// Great agreement.
		radiusLowerBound = math.Max(radiusLowerBound, radius)
		switch {
		case tauMax < 1:
			tau = gdGamma3
		case tauMax > gdGamma4:
			tau = gdGamma4
		default:
			tau = tauMax
		}
	case math.Abs(kappa-1) <= gdMu2:
		// Good agreement.
		radiusLowerBound = math.Max(radiusLowerBound, radius)
		switch {
		case tauMax < gdGamma2:
			tau = gdGamma2
		case tauMax > gdGamma3:
			tau = gdGamma3
		default:
			tau = tauMax
		}
	default:
		// Not good agreement.
		switch {
		case tauMin > 1:
			tau = gdGamma2
		case tauMax < gdGamma1:
			tau = gdGamma1
		case tauMin < gdGamma1 && tauMax >= 1:
			tau = gdGamma1
		case tau1 >= gdGamma1 && tau1 < 1.0 && (tau2 < gdGamma1 || tau2 >= 1.0):
			tau = tau1
		case tau2 >= gdGamma1 && tau2 < 1.0 && (tau1 < gdGamma1 || tau2 >= 1.0):
			tau = tau2
		default:
			tau = tauMax
		}
	}

	return radius * tau, radiusLowerBound
}

// checkBNTRConvergence evaluates the bound-aware stationarity measure and
// the stopping tolerances. With niter < 0 the iteration-cap branch is
// skipped (preliminary phase).
func checkBNTRConvergence(
	x []float64,
	fCandidate float64,
	gradientCandidate, modelGradient, lower, upper []float64,
	converged bool,
	reason string,
	niter, maxIter int,
	gtolAbs, gtolRel, gtolScaled float64,
) (bool, string) {
	direction := fischerBurmeisterDirection(x, gradientCandidate, lower, upper)
	gradientNorm := floats.Norm(direction, 2)
	gradientNormInitial := floats.Norm(modelGradient, 2)

	switch {
	case gradientNorm < gtolAbs:
		converged = true
		reason = "Norm of the gradient is less than the absolute gradient tolerance."
	case fCandidate != 0 && math.Abs(gradientNorm/fCandidate) < gtolRel:
		converged = true
		reason = "Norm of the gradient relative to the criterion value is less than the relative gradient tolerance."
	case gradientNormInitial != 0 && gradientNorm/gradientNormInitial < gtolScaled:
		converged = true
		reason = "Norm of the gradient relative to its initial value is less than the scaled gradient tolerance."
	case gradientNormInitial != 0 && gradientNorm == 0 && gtolScaled == 0:
		converged = true
		reason = "Norm of the gradient relative to its initial value is less than the scaled gradient tolerance."
	case fCandidate <= math.Inf(-1):
		converged = true
		reason = "Criterion value is negative infinity."
	case niter >= 0 && niter == maxIter:
		reason = "Maximum number of iterations reached."
	}

	return converged, reason
}

// fischerBurmeisterDirection applies the Fischer-Burmeister complementarity
// function componentwise to the bounds and the unprojected gradient. Fixed
// coordinates contribute their distance to the bound instead.
func fischerBurmeisterDirection(x, gradient, lower, upper []float64) []float64 {
	n := len(x)
	direction := make([]float64, n)
	for i := 0; i < n; i++ {
		scalar := fischerBurmeister(upper[i]-x[i], -gradient[i])
		scalar = fischerBurmeister(scalar, x[i]-lower[i])
		if lower[i] == upper[i] {
			direction[i] = lower[i] - x[i]
		} else {
			direction[i] = scalar
		}
	}
	return direction
}

// fischerBurmeister evaluates sqrt(a²+b²)-(a+b) in the branch-stable form,
// switching formulas on the sign of a+b to avoid cancellation.
func fischerBurmeister(a, b float64) float64 {
	if a+b <= 0 {
		return math.Sqrt(a*a+b*b) - (a + b)
	}
	return -2 * a * b / (math.Sqrt(a*a+b*b) + (a + b))
}

// getActiveBounds computes the active-bounds partition at x. A bound is
// active when the candidate sits on it and the gradient pushes outward
// (Bertsekas estimation); coordinates with lower == upper are fixed.
func getActiveBounds(x, gradientUnprojected, lower, upper []float64) activeBounds {
	var info activeBounds
	for i := range x {
		switch {
		case x[i] <= lower[i] && gradientUnprojected[i] > 0:
			info.lower = append(info.lower, i)
			info.active = append(info.active, i)
		case x[i] >= upper[i] && gradientUnprojected[i] < 0:
			info.upper = append(info.upper, i)
			info.active = append(info.active, i)
		case lower[i] == upper[i]:
			info.fixed = append(info.fixed, i)
			info.active = append(info.active, i)
		default:
			info.inactive = append(info.inactive, i)
		}
	}
	return info
}

// hessianSubmatrix extracts the symmetric submatrix over the given indices.
func hessianSubmatrix(hessian *mat.SymDense, indices []int) *mat.SymDense {
	k := len(indices)
	sub := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sub.SetSym(i, j, hessian.At(indices[i], indices[j]))
		}
	}
	return sub
}

// applyBoundsToCandidate clamps x into the box, returning a new slice.
func applyBoundsToCandidate(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		switch {
		case x[i] <= lower[i]:
			out[i] = lower[i]
		case x[i] >= upper[i]:
			out[i] = upper[i]
		default:
			out[i] = x[i]
		}
	}
	return out
}

// applyBoundsToCGStep scatters the inactive-subspace step back to full
// dimension; active coordinates step exactly onto their bounds and fixed
// coordinates do not move.
func applyBoundsToCGStep(stepInactive, x, lower, upper []float64, info activeBounds) []float64 {
	step := make([]float64, len(x))
	for k, i := range info.inactive {
		step[i] = stepInactive[k]
	}
	for _, i := range info.lower {
		step[i] = lower[i] - x[i]
	}
	for _, i := range info.upper {
		step[i] = upper[i] - x[i]
	}
	for _, i := range info.fixed {
		step[i] = 0
	}
	return step
}

// projectGradient zeroes the gradient on all non-inactive coordinates.
func projectGradient(gradient []float64, inactive []int, n int) []float64 {
	projected := make([]float64, n)
	for _, i := range inactive {
		projected[i] = gradient[i]
	}
	return projected
}

func gather(v []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for k, i := range indices {
		out[k] = v[i]
	}
	return out
}

func quadraticForm(sym *mat.SymDense, v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := mat.NewVecDense(len(v), nil)
	tmp.MulVec(sym, mat.NewVecDense(len(v), v))
	return floats.Dot(v, tmp.RawVector().Data)
}

func clampScalar(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
