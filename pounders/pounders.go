// Package pounders implements a derivative-free trust-region optimizer for
// bound-constrained nonlinear least-squares problems.
//
// The algorithm maintains a sample set of evaluated points, fits one local
// quadratic surrogate per residual component, aggregates them into a main
// model through the least-squares criterion, and solves a trust-region
// subproblem for a trial step. Steps are accepted or rejected on the ratio
// of actual to predicted reduction, the radius adapts accordingly, and the
// geometry of the sample set is repaired whenever it no longer spans the
// parameter space within the trust region.
//
// Only a residual-vector black box is required; no derivatives are ever
// requested from the caller.
//
// Example:
//
//	criterion := func(x []float64) ([]float64, error) {
//		return []float64{x[0] - 1, x[1] - 2}, nil
//	}
//	result, err := pounders.Minimize(criterion, []float64{0, 0})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.X, result.Success)
package pounders

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ezoic/sciopt/core/parallel"
	"github.com/ezoic/sciopt/history"
	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
	scioptLog "github.com/ezoic/sciopt/pkg/log"
	"github.com/ezoic/sciopt/subsolvers"
)

// Supported trust-region subproblem solvers.
const (
	SolverBNTR   = "bntr"
	SolverGQTPAR = "gqtpar"
)

// config carries all hyperparameters of one Minimize call.
type config struct {
	gtolAbs    float64
	gtolRel    float64
	gtolScaled float64

	maxIter    int
	nMaxInterp int // 0 means 2n+1

	delta    float64
	deltaMin float64
	deltaMax float64
	gamma0   float64
	gamma1   float64

	theta1 float64
	theta2 float64
	eta0   float64
	eta1   float64
	c1     float64 // 0 means sqrt(n)
	c2     float64

	solver                 string
	subMaxIter             int
	subMaxIterGradDescent  int
	subGTolAbs, subGTolRel float64
	subGTolScaled          float64
	kEasy, kHard           float64

	lower, upper []float64
	evaluator    parallel.BatchEvaluator
	logger       scioptLog.Logger
}

func defaultConfig() config {
	return config{
		gtolAbs:               1e-8,
		gtolRel:               1e-8,
		gtolScaled:            0,
		maxIter:               2000,
		delta:                 0.1,
		deltaMin:              1e-6,
		deltaMax:              1e6,
		gamma0:                0.5,
		gamma1:                2,
		theta1:                1e-5,
		theta2:                1e-4,
		eta0:                  0,
		eta1:                  0.1,
		c2:                    10,
		solver:                SolverBNTR,
		subMaxIter:            50,
		subMaxIterGradDescent: 5,
		subGTolAbs:            1e-8,
		subGTolRel:            1e-8,
		subGTolScaled:         0,
		kEasy:                 0.1,
		kHard:                 0.2,
		evaluator:             parallel.Sequential(),
		logger:                scioptLog.GetLoggerWithName("pounders"),
	}
}

// Option configures Minimize.
type Option func(*config)

// WithBounds sets box bounds on the parameters. Entries may be ±Inf for
// one-sided or absent bounds. Both slices must have the length of x0.
func WithBounds(lower, upper []float64) Option {
	return func(c *config) {
		c.lower = lower
		c.upper = upper
	}
}

// WithGradientTolerances sets the absolute, relative and scaled gradient
// norm tolerances of the convergence check.
func WithGradientTolerances(abs, rel, scaled float64) Option {
	return func(c *config) {
		c.gtolAbs = abs
		c.gtolRel = rel
		c.gtolScaled = scaled
	}
}

// WithMaxIterations caps the number of trust-region iterations.
func WithMaxIterations(maxIter int) Option {
	return func(c *config) { c.maxIter = maxIter }
}

// WithRadius sets the initial, minimal and maximal trust-region radius.
func WithRadius(initial, min, max float64) Option {
	return func(c *config) {
		c.delta = initial
		c.deltaMin = min
		c.deltaMax = max
	}
}

// WithRadiusFactors sets the shrinking factor applied after unsuccessful
// steps and the expansion factor applied after very successful ones.
func WithRadiusFactors(shrink, expand float64) Option {
	return func(c *config) {
		c.gamma0 = shrink
		c.gamma1 = expand
	}
}

// WithAcceptanceThresholds sets the reduction-ratio thresholds: a step is
// accepted when rho >= eta1, or when rho > eta0 and the model is valid.
func WithAcceptanceThresholds(eta0, eta1 float64) Option {
	return func(c *config) {
		c.eta0 = eta0
		c.eta1 = eta1
	}
}

// WithAffineThresholds sets the tight and loose radius multipliers used when
// collecting affinely independent points for geometry maintenance. The tight
// threshold defaults to sqrt(n), the loose one to 10.
func WithAffineThresholds(c1, c2 float64) Option {
	return func(c *config) {
		c.c1 = c1
		c.c2 = c2
	}
}

// WithMaxInterpolationPoints caps the number of points participating in one
// residual-model fit. Defaults to 2n+1.
func WithMaxInterpolationPoints(nMaxInterp int) Option {
	return func(c *config) { c.nMaxInterp = nMaxInterp }
}

// WithSubsolver selects the trust-region subproblem solver, SolverBNTR
// (default, supports bounds) or SolverGQTPAR (ball only, nearly exact).
func WithSubsolver(name string) Option {
	return func(c *config) { c.solver = name }
}

// WithSubsolverIterations caps the subproblem iterations, and for BNTR the
// preliminary steepest-descent iterations.
func WithSubsolverIterations(maxIter, maxIterGradientDescent int) Option {
	return func(c *config) {
		c.subMaxIter = maxIter
		c.subMaxIterGradDescent = maxIterGradientDescent
	}
}

// WithSubsolverTolerances sets the BNTR stationarity tolerances.
func WithSubsolverTolerances(abs, rel, scaled float64) Option {
	return func(c *config) {
		c.subGTolAbs = abs
		c.subGTolRel = rel
		c.subGTolScaled = scaled
	}
}

// WithGQTPARTolerances sets the easy- and hard-case stopping tolerances of
// the GQTPAR subsolver.
func WithGQTPARTolerances(kEasy, kHard float64) Option {
	return func(c *config) {
		c.kEasy = kEasy
		c.kHard = kHard
	}
}

// WithBatchEvaluator injects the evaluator used for independent evaluation
// batches (bootstrap and geometry repair). Defaults to sequential
// evaluation; use parallel.Pool for concurrent criterion calls.
func WithBatchEvaluator(evaluator parallel.BatchEvaluator) Option {
	return func(c *config) { c.evaluator = evaluator }
}

// WithLogger sets the logger receiving per-iteration diagnostics.
func WithLogger(logger scioptLog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Result is the outcome of a Minimize call.
type Result struct {
	// X is the accepted solution point.
	X []float64
	// Residuals is the residual vector at X.
	Residuals []float64
	// Criterion is the sum of squared residuals at X.
	Criterion float64
	// History is the full evaluation record of the run.
	History *history.History
	// Iterations is the number of trust-region iterations performed.
	Iterations int
	// Success reports whether a convergence criterion was met before the
	// iteration cap.
	Success bool
	// Message is a human-readable termination reason.
	Message string
}

// solver bundles the per-run state shared by the driver helpers.
type solver struct {
	config
	criterion parallel.Criterion
}

// Minimize finds a local minimum of the least-squares criterion
// sum_j criterion(x)[j]^2 starting from x0, using only residual-vector
// evaluations.
//
// Parameters:
//   - criterion: black-box residual function, assumed pure and costly.
//   - x0: starting point of length n.
//   - opts: functional options; see With... for the tunable set.
//
// Returns the result record and an error only for input-contract
// violations (infeasible starting bounds, unknown subsolver, failing
// criterion). Non-convergence within the iteration cap is not an error; it
// is reported through Result.Success and Result.Message.
func Minimize(criterion parallel.Criterion, x0 []float64, opts ...Option) (result *Result, err error) {
	defer scioptErrors.Recover(&err, "pounders.Minimize")

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n := len(x0)
	if n == 0 {
		return nil, scioptErrors.NewValueError("pounders.Minimize", "empty starting point")
	}
	if cfg.nMaxInterp == 0 {
		cfg.nMaxInterp = 2*n + 1
	}
	if cfg.c1 == 0 {
		cfg.c1 = math.Sqrt(float64(n))
	}
	if cfg.lower == nil {
		cfg.lower = fill(n, math.Inf(-1))
	}
	if cfg.upper == nil {
		cfg.upper = fill(n, math.Inf(1))
	}
	if len(cfg.lower) != n || len(cfg.upper) != n {
		return nil, scioptErrors.NewDimensionError("pounders.Minimize", n, len(cfg.lower))
	}
	if cfg.solver != SolverBNTR && cfg.solver != SolverGQTPAR {
		return nil, scioptErrors.NewSolverError("pounders.Minimize", cfg.solver)
	}
	for i := 0; i < n; i++ {
		if x0[i]+cfg.delta-cfg.upper[i] > 1e-10 {
			return nil, scioptErrors.NewBoundsError("pounders.Minimize", i,
				"starting point plus initial radius exceeds upper bound")
		}
		if cfg.lower[i]-x0[i] > 1e-10 {
			return nil, scioptErrors.NewBoundsError("pounders.Minimize", i,
				"starting point violates lower bound")
		}
	}

	s := &solver{config: cfg, criterion: criterion}
	return s.run(x0)
}

func (s *solver) run(x0 []float64) (*Result, error) {
	n := len(x0)
	delta := s.delta
	hist := history.New()

	// Bootstrap: the start point plus n coordinate perturbations of size
	// delta, evaluated as one batch.
	points := make([][]float64, 0, n+1)
	points = append(points, append([]float64(nil), x0...))
	for i := 0; i < n; i++ {
		perturbed := append([]float64(nil), x0...)
		perturbed[i] += delta
		points = append(points, perturbed)
	}
	results, err := s.evaluator.Evaluate(s.criterion, points)
	if err != nil {
		return nil, scioptErrors.Wrap(err, "pounders.Minimize")
	}
	if _, err := hist.AddBatch(points, results); err != nil {
		return nil, err
	}

	acceptedIndex := hist.BestIndex()
	xAccepted := hist.BestX()

	residualModel, err := newInitialResidualModel(hist, acceptedIndex, delta)
	if err != nil {
		return nil, err
	}
	mainModel := mainModelFromResiduals(residualModel)

	gradientNormInitial := floats.Norm(mainModel.Gradient, 2) * delta

	s.logger.Info("starting optimization",
		scioptLog.AlgorithmKey, "pounders",
		scioptLog.ParamsKey, n,
		scioptLog.ResidualsKey, len(residualModel.Intercepts),
		scioptLog.SolverKey, s.solver,
		scioptLog.RadiusKey, delta,
	)

	valid := true
	var lastModelIndices []int
	converged := false
	message := "Continue iterating."
	gradientNorm := gradientNormInitial

	niter := 0
	for ; niter <= s.maxIter; niter++ {
		sub, err := s.solveSubproblem(mainModel, xAccepted, delta)
		if err != nil {
			return nil, err
		}

		xCandidate := make([]float64, n)
		floats.AddScaledTo(xCandidate, xAccepted, delta, sub.X)
		residualsCandidate, err := s.criterion(xCandidate)
		if err != nil {
			return nil, scioptErrors.Wrap(err, "pounders.Minimize")
		}
		if _, err := hist.Add(xCandidate, residualsCandidate); err != nil {
			return nil, err
		}

		// rho compares the realized criterion reduction against the model
		// prediction. NaN or Inf from degenerate divisions counts as
		// unsuccessful.
		actualReduction := hist.CritValue(acceptedIndex) - hist.CritValue(-1)
		predictedReduction := -sub.Criterion
		rho := actualReduction / predictedReduction

		if rho >= s.eta1 || (rho > s.eta0 && valid) {
			newBest := hist.BestX()
			shift := make([]float64, n)
			floats.SubTo(shift, newBest, xAccepted)
			floats.Scale(1/delta, shift)

			copy(residualModel.Intercepts, hist.Residuals(acceptedIndex))
			residualModel.shiftCenter(shift)
			mainModel = shiftMainModel(mainModel, shift)

			xAccepted = newBest
			acceptedIndex = hist.BestIndex()
		}
		critAccepted := hist.CritValue(acceptedIndex)

		// An invalid model is repaired before the radius update so the
		// validity flag reflects the geometry the step was computed from.
		if !valid {
			search := findAffinePoints(hist, xAccepted, delta, s.theta1, s.c1, newAffineSearch(n))
			if len(search.indices) < n {
				if _, err := s.addGeometryPoints(hist, search, xAccepted, delta); err != nil {
					return nil, err
				}
			}
		}

		deltaOld := delta
		delta = updateRadius(delta, rho, s.eta1, valid, floats.Norm(sub.X, 2), s.gamma0, s.gamma1, s.deltaMin, s.deltaMax)

		// Re-derive validity at the updated radius: tight threshold first,
		// then the loose one, then synthesized geometry points.
		search := findAffinePoints(hist, xAccepted, delta, s.theta1, s.c1, newAffineSearch(n))
		if len(search.indices) == n {
			valid = true
		} else {
			valid = false
			search = findAffinePoints(hist, xAccepted, delta, s.theta1, s.c2, search)
			if len(search.indices) < n {
				search, err = s.addGeometryPoints(hist, search, xAccepted, delta)
				if err != nil {
					return nil, err
				}
			}
		}

		modelIndices := make([]int, 0, len(search.indices)+1)
		modelIndices = append(modelIndices, acceptedIndex)
		modelIndices = append(modelIndices, search.indices...)

		// Refit the residual model in the frame of the updated radius.
		residualModel.rescale(delta / deltaOld)
		copy(residualModel.Intercepts, hist.Residuals(acceptedIndex))

		sys := buildInterpolationSystem(hist, xAccepted, delta, modelIndices, s.c2, s.theta2, s.nMaxInterp)
		coeffs, err := solveCoefficients(hist, residualModel, sys)
		if err != nil {
			return nil, err
		}
		residualModel.addCoefficients(coeffs)
		mainModel = mainModelFromResiduals(residualModel)

		gradientNorm = floats.Norm(mainModel.Gradient, 2) * delta

		repeated := sameModelIndices(sys.indices, lastModelIndices)
		lastModelIndices = append(lastModelIndices[:0], sys.indices...)

		converged, message = checkConvergence(convergenceState{
			gradientNorm:        gradientNorm,
			gradientNormInitial: gradientNormInitial,
			critval:             critAccepted,
			delta:               delta,
			deltaOld:            deltaOld,
			sameModelUsed:       repeated,
			niter:               niter,
			maxIter:             s.maxIter,
			gtolAbs:             s.gtolAbs,
			gtolRel:             s.gtolRel,
			gtolScaled:          s.gtolScaled,
		})

		s.logger.Debug("iteration finished",
			scioptLog.IterationKey, niter,
			scioptLog.RhoKey, rho,
			scioptLog.RadiusKey, delta,
			scioptLog.CriterionKey, critAccepted,
			scioptLog.GradNormKey, gradientNorm,
			scioptLog.EvalsKey, hist.Len(),
		)

		if converged {
			break
		}
	}
	if niter > s.maxIter {
		niter = s.maxIter
	}

	s.logger.Info("optimization finished",
		scioptLog.IterationKey, niter,
		scioptLog.SuccessKey, converged,
		scioptLog.MessageKey, message,
		scioptLog.GradNormKey, gradientNorm,
		scioptLog.EvalsKey, hist.Len(),
	)

	return &Result{
		X:          hist.X(acceptedIndex),
		Residuals:  hist.Residuals(acceptedIndex),
		Criterion:  hist.CritValue(acceptedIndex),
		History:    hist,
		Iterations: niter,
		Success:    converged,
		Message:    message,
	}, nil
}

// solveSubproblem normalizes the box bounds into the unit trust-region
// frame, clips them to [-1, 1], and dispatches to the selected subsolver.
// The returned step lives in the unit frame.
func (s *solver) solveSubproblem(model subsolvers.QuadraticModel, xAccepted []float64, delta float64) (subsolvers.Solution, error) {
	n := len(xAccepted)
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = math.Max((s.lower[i]-xAccepted[i])/delta, -1)
		upper[i] = math.Min((s.upper[i]-xAccepted[i])/delta, 1)
	}

	switch s.solver {
	case SolverBNTR:
		opts := subsolvers.DefaultBNTROptions()
		opts.MaxIter = s.subMaxIter
		opts.MaxIterGradientDescent = s.subMaxIterGradDescent
		opts.GTolAbs = s.subGTolAbs
		opts.GTolRel = s.subGTolRel
		opts.GTolScaled = s.subGTolScaled
		return subsolvers.MinimizeBNTR(model, lower, upper, opts)
	case SolverGQTPAR:
		opts := subsolvers.GQTPAROptions{KEasy: s.kEasy, KHard: s.kHard, MaxIter: s.subMaxIter}
		return subsolvers.MinimizeGQTPAR(model, 1, opts)
	default:
		return subsolvers.Solution{}, scioptErrors.NewSolverError("pounders.solveSubproblem", s.solver)
	}
}

// shiftMainModel re-centers the aggregated model by the unit-frame shift d:
// the gradient gains the curvature contribution, the Hessian is unchanged.
func shiftMainModel(model subsolvers.QuadraticModel, d []float64) subsolvers.QuadraticModel {
	grad := model.EvaluateGradient(d)
	return subsolvers.QuadraticModel{Gradient: grad, Hessian: model.Hessian}
}

// updateRadius applies the trust-region radius rule: expand when the step
// was very successful and used a substantial part of the region, shrink when
// the step failed despite a valid model.
func updateRadius(delta, rho, eta1 float64, valid bool, stepNorm, gamma0, gamma1, deltaMin, deltaMax float64) float64 {
	switch {
	case rho >= eta1 && stepNorm > 0.5:
		return math.Min(delta*gamma1, deltaMax)
	case valid:
		return math.Max(delta*gamma0, deltaMin)
	default:
		return delta
	}
}

type convergenceState struct {
	gradientNorm        float64
	gradientNormInitial float64
	critval             float64
	delta, deltaOld     float64
	sameModelUsed       bool
	niter, maxIter      int
	gtolAbs             float64
	gtolRel             float64
	gtolScaled          float64
}

// checkConvergence evaluates the termination criteria in a fixed priority
// order, so the reported reason is deterministic when several criteria hold
// at once.
func checkConvergence(st convergenceState) (bool, string) {
	switch {
	case st.sameModelUsed && st.delta == st.deltaOld:
		return true, "Identical model used in successive iterations."
	case st.gradientNorm < st.gtolAbs:
		return true, "Norm of the gradient is less than absolute_gradient_tolerance."
	case st.critval != 0 && math.Abs(st.gradientNorm/st.critval) < st.gtolRel:
		return true, "Norm of the gradient relative to the criterion value is less than relative_gradient_tolerance."
	case st.gradientNormInitial != 0 && st.gradientNorm/st.gradientNormInitial < st.gtolScaled:
		return true, "Norm of the gradient divided by norm of the gradient at the initial parameters is less than scaled_gradient_tolerance."
	case st.gradientNormInitial != 0 && st.gradientNorm == 0 && st.gtolScaled == 0:
		return true, "Norm of the gradient divided by norm of the gradient at the initial parameters is less than scaled_gradient_tolerance."
	case math.IsInf(st.critval, -1):
		return true, "Criterion value is negative infinity."
	case st.niter == st.maxIter:
		return false, "Maximum number of iterations reached."
	}
	return false, "Continue iterating."
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
