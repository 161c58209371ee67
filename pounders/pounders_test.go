package pounders

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/ezoic/sciopt/core/parallel"
	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// residualsToTarget builds the least-squares criterion with residuals
// r_i(x) = x_i - target_i, whose unconstrained minimum is target.
func residualsToTarget(target []float64) parallel.Criterion {
	return func(x []float64) ([]float64, error) {
		out := make([]float64, len(x))
		floats.SubTo(out, x, target)
		return out, nil
	}
}

func TestMinimizeConvergesToTarget(t *testing.T) {
	target := []float64{1.0, -0.5, 2.0}
	x0 := []float64{0.5, 0.5, 0.5}

	result, err := Minimize(residualsToTarget(target), x0)
	require.NoError(t, err)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.InDeltaSlice(t, target, result.X, 1e-4)
	assert.InDelta(t, 0, result.Criterion, 1e-8)
	for _, r := range result.Residuals {
		assert.InDelta(t, 0, r, 1e-4)
	}
	assert.Greater(t, result.History.Len(), len(x0)+1)
}

func TestMinimizeWithGQTPAR(t *testing.T) {
	target := []float64{2.0, -1.0}
	x0 := []float64{0, 0}

	result, err := Minimize(residualsToTarget(target), x0, WithSubsolver(SolverGQTPAR))
	require.NoError(t, err)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.InDeltaSlice(t, target, result.X, 1e-4)
}

func TestMinimizeWithActiveBounds(t *testing.T) {
	// The target lies outside the box; the solution is the bound-projected
	// optimum.
	target := []float64{2.0, -2.0}
	lower := []float64{-0.5, -0.5}
	upper := []float64{0.5, 0.5}
	x0 := []float64{0, 0}

	result, err := Minimize(residualsToTarget(target), x0, WithBounds(lower, upper))
	require.NoError(t, err)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.InDeltaSlice(t, []float64{0.5, -0.5}, result.X, 1e-3)
	for i := range result.X {
		assert.GreaterOrEqual(t, result.X[i], lower[i]-1e-10)
		assert.LessOrEqual(t, result.X[i], upper[i]+1e-10)
	}
}

func TestMinimizeHigherDimension(t *testing.T) {
	n := 6
	target := make([]float64, n)
	x0 := make([]float64, n)
	for i := range target {
		target[i] = 0.5 + 0.1*float64(i)
	}

	result, err := Minimize(residualsToTarget(target), x0)
	require.NoError(t, err)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.InDeltaSlice(t, target, result.X, 1e-3)
}

func TestMinimizeRosenbrockResiduals(t *testing.T) {
	// Rosenbrock in least-squares form: r1 = 10(x2 - x1^2), r2 = 1 - x1.
	criterion := func(x []float64) ([]float64, error) {
		return []float64{10 * (x[1] - x[0]*x[0]), 1 - x[0]}, nil
	}

	result, err := Minimize(criterion, []float64{-1.2, 1.0})
	require.NoError(t, err)

	// The curved valley is hard for a sampling method; require substantial
	// progress rather than full convergence to (1, 1).
	assert.Less(t, result.Criterion, 1.0)
}

func TestMinimizeInputContract(t *testing.T) {
	criterion := residualsToTarget([]float64{0, 0})

	t.Run("infeasible starting bounds", func(t *testing.T) {
		_, err := Minimize(criterion, []float64{1, 1},
			WithBounds([]float64{-1, -1}, []float64{1, 1}))
		require.Error(t, err)
		assert.ErrorIs(t, err, scioptErrors.ErrBoundsInfeasible)
	})

	t.Run("starting point below lower bound", func(t *testing.T) {
		_, err := Minimize(criterion, []float64{-2, 0},
			WithBounds([]float64{-1, -1}, []float64{1, 1}))
		require.Error(t, err)
		assert.ErrorIs(t, err, scioptErrors.ErrBoundsInfeasible)
	})

	t.Run("unknown subsolver", func(t *testing.T) {
		_, err := Minimize(criterion, []float64{0, 0}, WithSubsolver("newton"))
		require.Error(t, err)
		assert.ErrorIs(t, err, scioptErrors.ErrUnknownSolver)
	})

	t.Run("empty starting point", func(t *testing.T) {
		_, err := Minimize(criterion, nil)
		require.Error(t, err)
	})
}

func TestMinimizeReportsMaxIterations(t *testing.T) {
	criterion := residualsToTarget([]float64{5, 5, 5, 5})

	result, err := Minimize(criterion, []float64{0, 0, 0, 0},
		WithMaxIterations(1),
		WithGradientTolerances(0, 0, 0))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Maximum number of iterations reached.", result.Message)
	assert.Equal(t, 1, result.Iterations)
}

func TestMinimizeWithParallelEvaluator(t *testing.T) {
	target := []float64{1, 2, 3}

	result, err := Minimize(residualsToTarget(target), []float64{0, 0, 0},
		WithBatchEvaluator(parallel.Pool(2)))
	require.NoError(t, err)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.InDeltaSlice(t, target, result.X, 1e-4)
}

func TestUpdateRadiusStaysWithinBounds(t *testing.T) {
	tests := []struct {
		name     string
		delta    float64
		rho      float64
		valid    bool
		stepNorm float64
		expected float64
	}{
		{"very successful grows", 1, 0.5, true, 0.9, 2},
		{"growth capped at maximum", 800_000, 0.5, true, 0.9, 1e6},
		{"small step does not grow", 1, 0.5, true, 0.1, 0.5},
		{"unsuccessful valid shrinks", 1, 0.01, true, 0.9, 0.5},
		{"shrink floored at minimum", 1.5e-6, 0.01, true, 0.9, 1e-6},
		{"unsuccessful invalid keeps radius", 1, 0.01, false, 0.9, 1},
		{"nan rho treated as unsuccessful", 1, math.NaN(), true, 0.9, 0.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := updateRadius(tc.delta, tc.rho, 0.1, tc.valid, tc.stepNorm, 0.5, 2, 1e-6, 1e6)
			assert.InDelta(t, tc.expected, got, 1e-12)
		})
	}
}

func TestCheckConvergencePriorityOrder(t *testing.T) {
	base := convergenceState{
		gradientNorm:        1,
		gradientNormInitial: 1,
		critval:             1,
		delta:               1,
		deltaOld:            1,
		niter:               3,
		maxIter:             10,
		gtolAbs:             1e-8,
		gtolRel:             1e-8,
		gtolScaled:          0,
	}

	t.Run("repeated model wins over gradient tolerance", func(t *testing.T) {
		st := base
		st.sameModelUsed = true
		st.gradientNorm = 0 // absolute tolerance also satisfied

		converged, message := checkConvergence(st)
		assert.True(t, converged)
		assert.Equal(t, "Identical model used in successive iterations.", message)
	})

	t.Run("repeated model requires unchanged radius", func(t *testing.T) {
		st := base
		st.sameModelUsed = true
		st.deltaOld = 2

		converged, _ := checkConvergence(st)
		assert.False(t, converged)
	})

	t.Run("absolute before relative tolerance", func(t *testing.T) {
		st := base
		st.gradientNorm = 1e-9
		st.critval = 1e6 // relative check would also pass

		converged, message := checkConvergence(st)
		assert.True(t, converged)
		assert.Equal(t, "Norm of the gradient is less than absolute_gradient_tolerance.", message)
	})

	t.Run("relative tolerance", func(t *testing.T) {
		st := base
		st.gradientNorm = 1e-3
		st.critval = 1e8

		converged, message := checkConvergence(st)
		assert.True(t, converged)
		assert.Contains(t, message, "relative_gradient_tolerance")
	})

	t.Run("zero gradient with zero scaled tolerance", func(t *testing.T) {
		st := base
		st.gradientNorm = 0
		st.gtolAbs = 0

		converged, message := checkConvergence(st)
		assert.True(t, converged)
		assert.Contains(t, message, "scaled_gradient_tolerance")
	})

	t.Run("max iterations is not success", func(t *testing.T) {
		st := base
		st.niter = st.maxIter

		converged, message := checkConvergence(st)
		assert.False(t, converged)
		assert.Equal(t, "Maximum number of iterations reached.", message)
	})

	t.Run("continue otherwise", func(t *testing.T) {
		converged, message := checkConvergence(base)
		assert.False(t, converged)
		assert.Equal(t, "Continue iterating.", message)
	})
}
