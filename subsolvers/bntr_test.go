package subsolvers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

func TestMinimizeBNTRInteriorMinimum(t *testing.T) {
	// Strictly convex with the unconstrained minimizer inside the box: the
	// solver must find the Newton point for every inner method.
	gradient := []float64{2, -4, 1}
	hessian := mat.NewSymDense(3, []float64{
		4, 0, 0,
		0, 4, 0,
		0, 0, 2,
	})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	lower := []float64{-5, -5, -5}
	upper := []float64{5, 5, 5}
	expected := []float64{-0.5, 1, -0.5}

	for _, method := range []string{CGMethodCG, CGMethodSteihaugToint, CGMethodTRSBox} {
		t.Run(method, func(t *testing.T) {
			opts := DefaultBNTROptions()
			opts.CGMethod = method

			solution, err := MinimizeBNTR(model, lower, upper, opts)
			require.NoError(t, err)

			assert.True(t, solution.Converged)
			assert.InDeltaSlice(t, expected, solution.X, 1e-6)
			assert.InDelta(t, model.Evaluate(expected), solution.Criterion, 1e-8)
		})
	}
}

func TestMinimizeBNTRActiveBound(t *testing.T) {
	// The unconstrained minimizer (-0.5, 1) violates the upper bound on the
	// second coordinate; the solution must sit on that bound.
	gradient := []float64{2, -4}
	hessian := mat.NewSymDense(2, []float64{4, 0, 0, 4})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	lower := []float64{-5, -5}
	upper := []float64{5, 0.25}

	solution, err := MinimizeBNTR(model, lower, upper, DefaultBNTROptions())
	require.NoError(t, err)

	assert.True(t, solution.Converged)
	assert.InDeltaSlice(t, []float64{-0.5, 0.25}, solution.X, 1e-6)
}

func TestMinimizeBNTRFixedCoordinateNeverMoves(t *testing.T) {
	gradient := []float64{3, -4}
	hessian := mat.NewSymDense(2, []float64{4, 0, 0, 4})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	lower := []float64{0, -5}
	upper := []float64{0, 5}

	solution, err := MinimizeBNTR(model, lower, upper, DefaultBNTROptions())
	require.NoError(t, err)

	assert.Equal(t, 0.0, solution.X[0])
	assert.InDelta(t, 1.0, solution.X[1], 1e-6)
}

func TestMinimizeBNTRRespectsBox(t *testing.T) {
	gradient := []float64{5, -3, 1, -2}
	hessian := mat.NewSymDense(4, []float64{
		3, 1, 0, 0,
		1, 4, 1, 0,
		0, 1, 3, 1,
		0, 0, 1, 2,
	})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	lower := []float64{-0.3, -0.3, -0.3, -0.3}
	upper := []float64{0.3, 0.3, 0.3, 0.3}

	solution, err := MinimizeBNTR(model, lower, upper, DefaultBNTROptions())
	require.NoError(t, err)

	for i, v := range solution.X {
		assert.GreaterOrEqual(t, v, lower[i]-1e-10, "coordinate %d below lower bound", i)
		assert.LessOrEqual(t, v, upper[i]+1e-10, "coordinate %d above upper bound", i)
	}
	assert.Less(t, solution.Criterion, 0.0)
}

func TestMinimizeBNTRUnknownCGMethod(t *testing.T) {
	model := QuadraticModel{
		Gradient: []float64{1},
		Hessian:  mat.NewSymDense(1, []float64{1}),
	}
	opts := DefaultBNTROptions()
	opts.CGMethod = "newton"

	_, err := MinimizeBNTR(model, []float64{-1}, []float64{1}, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, scioptErrors.ErrUnknownSolver)
}

func TestMinimizeBNTRZeroGradientConvergesImmediately(t *testing.T) {
	model := QuadraticModel{
		Gradient: []float64{0, 0},
		Hessian:  mat.NewSymDense(2, []float64{2, 0, 0, 2}),
	}

	solution, err := MinimizeBNTR(model, []float64{-1, -1}, []float64{1, 1}, DefaultBNTROptions())
	require.NoError(t, err)

	assert.True(t, solution.Converged)
	assert.InDeltaSlice(t, []float64{0, 0}, solution.X, 1e-12)
}
