package subsolvers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestMinimizeGQTPARInteriorSolution(t *testing.T) {
	// Positive definite with the Newton point inside the ball: the exact
	// unconstrained minimizer is returned and lambda stays at zero.
	gradient := []float64{1, -2}
	hessian := mat.NewSymDense(2, []float64{4, 0, 0, 2})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}

	solution, err := MinimizeGQTPAR(model, 10, DefaultGQTPAROptions())
	require.NoError(t, err)

	assert.True(t, solution.Converged)
	assert.InDeltaSlice(t, []float64{-0.25, 1}, solution.X, 1e-10)
}

func TestMinimizeGQTPARBoundarySolution(t *testing.T) {
	// Small ball: the Newton point is outside, so the solution lies on the
	// boundary within the relative tolerance k_easy.
	gradient := []float64{1, 1}
	hessian := mat.NewSymDense(2, []float64{2, 0, 0, 2})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	radius := 0.1

	solution, err := MinimizeGQTPAR(model, radius, DefaultGQTPAROptions())
	require.NoError(t, err)

	assert.True(t, solution.Converged)
	xNorm := floats.Norm(solution.X, 2)
	assert.InDelta(t, radius, xNorm, DefaultGQTPAROptions().KEasy*radius)
	assert.Less(t, solution.Criterion, 0.0)
}

func TestMinimizeGQTPARIndefiniteHessian(t *testing.T) {
	// Indefinite quadratic: the global solution is always on the boundary.
	gradient := []float64{1, 0}
	hessian := mat.NewSymDense(2, []float64{-2, 0, 0, 1})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	radius := 1.0

	solution, err := MinimizeGQTPAR(model, radius, DefaultGQTPAROptions())
	require.NoError(t, err)

	assert.True(t, solution.Converged)
	xNorm := floats.Norm(solution.X, 2)
	assert.InDelta(t, radius, xNorm, DefaultGQTPAROptions().KEasy*radius)
	// The step must at least beat the plain Cauchy point along -g.
	cauchy := []float64{-radius, 0}
	assert.LessOrEqual(t, solution.Criterion, model.Evaluate(cauchy)+1e-8)
}

func TestMinimizeGQTPARZeroGradient(t *testing.T) {
	t.Run("positive definite stays at origin", func(t *testing.T) {
		model := QuadraticModel{
			Gradient: []float64{0, 0},
			Hessian:  mat.NewSymDense(2, []float64{2, 0, 0, 3}),
		}

		solution, err := MinimizeGQTPAR(model, 1, DefaultGQTPAROptions())
		require.NoError(t, err)

		assert.True(t, solution.Converged)
		assert.InDeltaSlice(t, []float64{0, 0}, solution.X, 1e-12)
	})

	t.Run("negative curvature escapes along eigenvector", func(t *testing.T) {
		// Zero gradient with an indefinite Hessian is the hard case: the
		// solution moves to the boundary along the smallest eigenvector.
		model := QuadraticModel{
			Gradient: []float64{0, 0},
			Hessian:  mat.NewSymDense(2, []float64{-3, 0, 0, 1}),
		}
		radius := 1.0

		solution, err := MinimizeGQTPAR(model, radius, DefaultGQTPAROptions())
		require.NoError(t, err)

		assert.True(t, solution.Converged)
		assert.InDelta(t, radius, floats.Norm(solution.X, 2), 1e-6)
		assert.InDelta(t, -1.5, solution.Criterion, 0.5)
	})
}

func TestMinimizeGQTPARBeatsTruncatedCG(t *testing.T) {
	// On a well-conditioned problem the nearly exact solver must be at
	// least as good as the truncated CG step.
	gradient := []float64{2, -1, 0.5}
	hessian := mat.NewSymDense(3, []float64{
		3, 1, 0,
		1, 4, 1,
		0, 1, 2,
	})
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	radius := 0.4

	solution, err := MinimizeGQTPAR(model, radius, DefaultGQTPAROptions())
	require.NoError(t, err)
	require.True(t, solution.Converged)

	cgStep := SteihaugToint(gradient, hessian, radius)
	assert.LessOrEqual(t, solution.Criterion, model.Evaluate(cgStep)+1e-2)
}
