package subsolvers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestSteihaugTointInteriorNewtonStep(t *testing.T) {
	// Strictly convex model with the Newton step well inside the ball: CG
	// must reproduce -H^{-1}g.
	gradient := []float64{1, -2, 0.5}
	hessian := mat.NewSymDense(3, []float64{
		4, 0, 0,
		0, 5, 0,
		0, 0, 3,
	})

	got := SteihaugToint(gradient, hessian, 100)

	expected := []float64{-0.25, 0.4, -0.5 / 3.0}
	assert.InDeltaSlice(t, expected, got, 1e-8)
}

func TestSteihaugTointBindingRadius(t *testing.T) {
	// Tiny radius forces truncation exactly on the ball boundary.
	gradient := []float64{1, 1}
	hessian := mat.NewSymDense(2, []float64{
		2, 0,
		0, 2,
	})

	got := SteihaugToint(gradient, hessian, 0.1)

	assert.InDelta(t, 0.1, floats.Norm(got, 2), 1e-10)
	assert.Less(t, floats.Dot(gradient, got), 0.0)
}

func TestSteihaugTointNegativeCurvature(t *testing.T) {
	// Indefinite Hessian: the first direction has negative curvature, the
	// step is extended straight to the boundary.
	gradient := []float64{1, 0}
	hessian := mat.NewSymDense(2, []float64{
		-1, 0,
		0, 1,
	})

	got := SteihaugToint(gradient, hessian, 2)

	assert.InDelta(t, 2, floats.Norm(got, 2), 1e-10)
}

func TestTruncatedCGHonorsTolerances(t *testing.T) {
	gradient := []float64{1, -1}
	hessian := mat.NewSymDense(2, []float64{
		3, 1,
		1, 2,
	})

	got := TruncatedCG(gradient, hessian, 10, 1e-12, 1e-12)

	// Residual g + Hx at the solution must sit below the stop tolerance.
	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	residual := model.EvaluateGradient(got)
	assert.Less(t, floats.Norm(residual, 2), 1e-8)
}

func TestBoundedTruncatedCG(t *testing.T) {
	tests := []struct {
		name     string
		gradient []float64
		hessian  *mat.SymDense
		radius   float64
		lower    []float64
		upper    []float64
		expected []float64
	}{
		{
			name:     "bounds inactive matches newton step",
			gradient: []float64{2, -4},
			hessian:  mat.NewSymDense(2, []float64{4, 0, 0, 4}),
			radius:   10,
			lower:    []float64{-5, -5},
			upper:    []float64{5, 5},
			expected: []float64{-0.5, 1},
		},
		{
			name:     "bound clips one coordinate",
			gradient: []float64{2, -4},
			hessian:  mat.NewSymDense(2, []float64{4, 0, 0, 4}),
			radius:   10,
			lower:    []float64{-5, -5},
			upper:    []float64{5, 0.25},
			expected: []float64{-0.5, 0.25},
		},
		{
			name:     "fixed coordinate never moves",
			gradient: []float64{3, -4},
			hessian:  mat.NewSymDense(2, []float64{4, 0, 0, 4}),
			radius:   10,
			lower:    []float64{0, -5},
			upper:    []float64{0, 5},
			expected: []float64{0, 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BoundedTruncatedCG(tc.gradient, tc.hessian, tc.radius, tc.lower, tc.upper)
			assert.InDeltaSlice(t, tc.expected, got, 1e-8)
		})
	}
}

func TestBoundedTruncatedCGRespectsBallAndBox(t *testing.T) {
	gradient := []float64{5, -3, 1}
	hessian := mat.NewSymDense(3, []float64{
		2, 1, 0,
		1, 3, 1,
		0, 1, 2,
	})
	lower := []float64{-0.4, -0.4, -0.4}
	upper := []float64{0.4, 0.4, 0.4}

	got := BoundedTruncatedCG(gradient, hessian, 0.5, lower, upper)

	assert.LessOrEqual(t, floats.Norm(got, 2), 0.5*(1+1e-10))
	for i := range got {
		assert.GreaterOrEqual(t, got[i], lower[i]-1e-12)
		assert.LessOrEqual(t, got[i], upper[i]+1e-12)
	}

	model := QuadraticModel{Gradient: gradient, Hessian: hessian}
	assert.Less(t, model.Evaluate(got), 0.0)
}
