package pounders

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/sciopt/history"
	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
	"github.com/ezoic/sciopt/subsolvers"
)

// affineSearch accumulates a maximal affinely independent subset of
// historical points around the current center. Column k of directions is the
// centered direction of the k-th selected point; indices holds the matching
// history indices. Once a direction is selected, later candidates are judged
// by their projection onto the orthogonal complement of the selected span.
type affineSearch struct {
	directions *mat.Dense
	indices    []int
	project    bool
}

func newAffineSearch(n int) affineSearch {
	return affineSearch{directions: mat.NewDense(n, n, nil)}
}

// findAffinePoints walks the history newest first and greedily selects
// points whose centered direction lies within radius c of the center (in the
// unit frame) and whose component orthogonal to the already selected
// directions has norm at least theta1. The walk stops once n directions are
// found. Passing a partially filled search continues a previous walk with a
// looser threshold c.
func findAffinePoints(
	hist *history.History,
	xAccepted []float64,
	delta, theta1, c float64,
	search affineSearch,
) affineSearch {
	n := len(xAccepted)

	for i := hist.Len() - 1; i >= 0 && len(search.indices) < n; i-- {
		centered := hist.Centered(xAccepted, delta, i)[0]
		if floats.Norm(centered, 2) > c {
			continue
		}

		proj := floats.Norm(centered, 2)
		if search.project {
			proj = orthogonalComponentNorm(search.directions, len(search.indices), centered)
		}

		if proj >= theta1 {
			search.directions.SetCol(len(search.indices), centered)
			search.indices = append(search.indices, i)
			search.project = true
		}
	}
	return search
}

// orthogonalComponentNorm returns the norm of the component of x orthogonal
// to the span of the first nSelected columns of directions, via the trailing
// columns of the full Q factor.
func orthogonalComponentNorm(directions *mat.Dense, nSelected int, x []float64) float64 {
	n, _ := directions.Dims()

	var qr mat.QR
	qr.Factorize(directions)
	var q mat.Dense
	qr.QTo(&q)

	sum := 0.0
	for k := nSelected; k < n; k++ {
		v := 0.0
		for i := 0; i < n; i++ {
			v += x[i] * q.At(i, k)
		}
		sum += v * v
	}
	return math.Sqrt(sum)
}

// addGeometryPoints completes a deficient affine search by synthesizing one
// new sample per missing direction: the direction is the corresponding
// trailing column of the Q factor of the selected directions, and the point
// maximizes the absolute degree-one Lagrange polynomial along it within the
// trust region and the box bounds. All synthesized points are evaluated in
// one batch and appended to the history.
func (s *solver) addGeometryPoints(
	hist *history.History,
	search affineSearch,
	xAccepted []float64,
	delta float64,
) (affineSearch, error) {
	n := len(xAccepted)
	nSelected := len(search.indices)

	var qr mat.QR
	qr.Factorize(search.directions)
	var q mat.Dense
	qr.QTo(&q)

	points := make([][]float64, 0, n-nSelected)
	for k := nSelected; k < n; k++ {
		direction := make([]float64, n)
		mat.Col(direction, k, &q)

		lagrange := subsolvers.LinearModel{Gradient: direction}
		point, err := subsolvers.ImproveGeometry(
			xAccepted, lagrange, s.lower, s.upper, delta, subsolvers.DefaultZeroThreshold,
		)
		if err != nil {
			return search, err
		}
		points = append(points, point)
	}

	results, err := s.evaluator.Evaluate(s.criterion, points)
	if err != nil {
		return search, scioptErrors.Wrap(err, "pounders.addGeometryPoints")
	}
	first, err := hist.AddBatch(points, results)
	if err != nil {
		return search, err
	}

	for k, point := range points {
		centered := make([]float64, n)
		floats.SubTo(centered, point, xAccepted)
		floats.Scale(1/delta, centered)
		search.directions.SetCol(len(search.indices), centered)
		search.indices = append(search.indices, first+k)
		search.project = true
	}
	return search, nil
}

// interpolationSystem holds the matrices of one residual-model fit: the
// affine sample matrix M with rows [1, s_i], the quadratic monomial matrix N,
// and, when more than n+1 points participate, the null space Z of M' and the
// Cholesky factor of Z'NN'Z used by the minimum-Frobenius-norm solve.
type interpolationSystem struct {
	indices   []int
	points    [][]float64
	affine    *mat.Dense
	monomials *mat.Dense
	nullSpace *mat.Dense
	chol      *mat.Cholesky
}

// buildInterpolationSystem assembles the interpolation matrices for the
// given model points and then tries to grow the set, newest history entries
// first, up to nMaxInterp points. A candidate within radius c2 of the center
// joins the set only if the minimum-Frobenius system stays factorizable with
// all Cholesky pivots at least theta2, which keeps the fit well conditioned.
func buildInterpolationSystem(
	hist *history.History,
	xAccepted []float64,
	delta float64,
	modelIndices []int,
	c2, theta2 float64,
	nMaxInterp int,
) interpolationSystem {
	n := len(xAccepted)

	sys := interpolationSystem{
		indices: append([]int(nil), modelIndices...),
		points:  hist.Centered(xAccepted, delta, modelIndices...),
	}

	for i := hist.Len() - 1; i >= 0 && len(sys.indices) < nMaxInterp; i-- {
		if containsIndex(sys.indices, i) {
			continue
		}
		centered := hist.Centered(xAccepted, delta, i)[0]
		if floats.Norm(centered, 2) > c2 {
			continue
		}

		candidatePoints := append(sys.points, centered)
		affine, monomials := interpolationMatrices(candidatePoints, n)
		nullSpace, chol, ok := frobeniusFactor(affine, monomials, n, theta2)
		if !ok {
			continue
		}

		sys.indices = append(sys.indices, i)
		sys.points = candidatePoints
		sys.affine = affine
		sys.monomials = monomials
		sys.nullSpace = nullSpace
		sys.chol = chol
	}

	if sys.affine == nil {
		sys.affine, sys.monomials = interpolationMatrices(sys.points, n)
	}
	return sys
}

// interpolationMatrices builds the affine rows [1, s] and the quadratic
// monomial rows for the given centered points.
func interpolationMatrices(points [][]float64, n int) (*mat.Dense, *mat.Dense) {
	p := len(points)
	q := n * (n + 1) / 2

	affine := mat.NewDense(p, n+1, nil)
	monomials := mat.NewDense(p, q, nil)
	for i, s := range points {
		affine.Set(i, 0, 1)
		for k := 0; k < n; k++ {
			affine.Set(i, k+1, s[k])
		}
		monomials.SetRow(i, monomialBasis(s))
	}
	return affine, monomials
}

// frobeniusFactor computes the null space Z of the affine sample matrix and
// the Cholesky factor of Z'NN'Z. It reports false when the system is not
// positive definite or a pivot falls below theta2.
func frobeniusFactor(affine, monomials *mat.Dense, n int, theta2 float64) (*mat.Dense, *mat.Cholesky, bool) {
	p, _ := affine.Dims()
	if p <= n+1 {
		return nil, nil, false
	}

	var qr mat.QR
	qr.Factorize(affine)
	var q mat.Dense
	qr.QTo(&q)
	nullSpace := mat.DenseCopyOf(q.Slice(0, p, n+1, p))

	// W = Z'N, so Z'NN'Z = WW'.
	var w mat.Dense
	w.Mul(nullSpace.T(), monomials)
	var gram mat.SymDense
	gram.SymOuterK(1, &w)

	chol := &mat.Cholesky{}
	if !chol.Factorize(&gram) {
		return nil, nil, false
	}

	var factor mat.TriDense
	chol.LTo(&factor)
	for i := 0; i < p-n-1; i++ {
		if factor.At(i, i) < theta2 {
			return nil, nil, false
		}
	}
	return nullSpace, chol, true
}

// solveCoefficients fits the interpolation update for every residual
// component. The right-hand side is the actual residual minus the current
// model prediction at each model point. With exactly n+1 points the affine
// system is solved directly and the square-term update is zero; with more
// points the square terms come from the minimum-Frobenius-norm solve against
// the null space and the affine terms from the least-squares fit of what
// remains.
func solveCoefficients(
	hist *history.History,
	rm ResidualModel,
	sys interpolationSystem,
) (modelCoefficients, error) {
	m, n := rm.Linear.Dims()
	p := len(sys.indices)

	coeffs := modelCoefficients{
		linear: mat.NewDense(m, n, nil),
		square: make([]*mat.SymDense, m),
	}

	for j := 0; j < m; j++ {
		rhs := make([]float64, p)
		for i, idx := range sys.indices {
			rhs[i] = hist.Residuals(idx)[j] - rm.evaluate(j, sys.points[i])
		}
		rhsVec := mat.NewVecDense(p, rhs)

		var betaData []float64
		target := rhsVec
		if sys.chol != nil {
			// omega solves (Z'NN'Z) omega = Z'rhs; beta = N'Z omega.
			zr := mat.NewVecDense(p-n-1, nil)
			zr.MulVec(sys.nullSpace.T(), rhsVec)

			var omega mat.VecDense
			if err := sys.chol.SolveVecTo(&omega, zr); err != nil {
				return modelCoefficients{}, scioptErrors.Wrap(err, "pounders.solveCoefficients")
			}

			beta := mat.NewVecDense(n*(n+1)/2, nil)
			var nz mat.Dense
			nz.Mul(sys.monomials.T(), sys.nullSpace)
			beta.MulVec(&nz, &omega)
			betaData = beta.RawVector().Data

			// Remove the quadratic part before fitting the affine terms.
			residual := mat.NewVecDense(p, nil)
			residual.MulVec(sys.monomials, beta)
			residual.SubVec(rhsVec, residual)
			target = residual
		}

		var alpha mat.VecDense
		if err := alpha.SolveVec(sys.affine, target); err != nil {
			return modelCoefficients{}, scioptErrors.Wrap(err, "pounders.solveCoefficients")
		}

		for i := 0; i < n; i++ {
			coeffs.linear.Set(j, i, alpha.AtVec(i+1))
		}
		if betaData != nil {
			coeffs.square[j] = squareFromMonomials(betaData, n)
		} else {
			coeffs.square[j] = mat.NewSymDense(n, nil)
		}
	}
	return coeffs, nil
}

// monomialBasis maps a centered point to the quadratic monomial basis: the
// diagonal entries contribute 0.5*s_i^2 and each pair i<j contributes
// s_i*s_j, so the basis coefficients are exactly the Hessian entries.
func monomialBasis(s []float64) []float64 {
	n := len(s)
	out := make([]float64, n*(n+1)/2)
	k := 0
	for i := 0; i < n; i++ {
		out[k] = 0.5 * s[i] * s[i]
		k++
		for j := i + 1; j < n; j++ {
			out[k] = s[i] * s[j]
			k++
		}
	}
	return out
}

// squareFromMonomials unpacks monomial coefficients into a symmetric
// square-term matrix, inverting the monomialBasis ordering.
func squareFromMonomials(beta []float64, n int) *mat.SymDense {
	square := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		square.SetSym(i, i, beta[k])
		k++
		for j := i + 1; j < n; j++ {
			square.SetSym(i, j, beta[k])
			k++
		}
	}
	return square
}

// sameModelIndices reports whether two model index sets are identical in
// content and order.
func sameModelIndices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsIndex(indices []int, i int) bool {
	for _, v := range indices {
		if v == i {
			return true
		}
	}
	return false
}
