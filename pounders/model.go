package pounders

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/sciopt/history"
	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
	"github.com/ezoic/sciopt/subsolvers"
)

// ResidualModel is an m-tuple of independent quadratic surrogates, one per
// residual component, expressed in the unit trust-region frame
// s = (x - center)/radius:
//
//	r_j(s) ~ Intercepts[j] + Linear_j's + 0.5 s'Square[j] s
//
// Row j of Linear is the gradient of residual j. The model is rebuilt every
// iteration from interpolation coefficients.
type ResidualModel struct {
	Intercepts []float64
	Linear     *mat.Dense
	Square     []*mat.SymDense
}

// newResidualModel allocates a zero model for m residuals in n parameters.
func newResidualModel(m, n int) ResidualModel {
	squares := make([]*mat.SymDense, m)
	for j := range squares {
		squares[j] = mat.NewSymDense(n, nil)
	}
	return ResidualModel{
		Intercepts: make([]float64, m),
		Linear:     mat.NewDense(m, n, nil),
		Square:     squares,
	}
}

// newInitialResidualModel fits the starting linear surrogates from the
// bootstrap sample: the accepted point plus the n coordinate perturbations.
// In the unit frame the centered points form an n-by-n matrix; solving it
// against the residual differences yields one gradient per residual
// component. Square terms start at zero.
func newInitialResidualModel(hist *history.History, acceptedIndex int, delta float64) (ResidualModel, error) {
	xAccepted := hist.X(acceptedIndex)
	residualsAccepted := hist.Residuals(acceptedIndex)
	n := len(xAccepted)
	m := len(residualsAccepted)

	indices := make([]int, 0, n)
	for i := 0; i < n+1; i++ {
		if i != acceptedIndex {
			indices = append(indices, i)
		}
	}

	centered := hist.Centered(xAccepted, delta, indices...)
	diffs := hist.CenteredResiduals(residualsAccepted, indices...)

	sample := mat.NewDense(n, n, nil)
	rhs := mat.NewDense(n, m, nil)
	for k := 0; k < n; k++ {
		sample.SetRow(k, centered[k])
		rhs.SetRow(k, diffs[k])
	}

	var gradients mat.Dense
	if err := gradients.Solve(sample, rhs); err != nil {
		return ResidualModel{}, scioptErrors.Wrap(scioptErrors.ErrSingularMatrix, "pounders.newInitialResidualModel")
	}

	model := newResidualModel(m, n)
	copy(model.Intercepts, residualsAccepted)
	// gradients is n-by-m with one column per residual.
	for j := 0; j < m; j++ {
		for i := 0; i < n; i++ {
			model.Linear.Set(j, i, gradients.At(i, j))
		}
	}
	return model, nil
}

// shiftCenter re-centers the model at a point displaced by d in the unit
// frame: intercepts gain the model change, gradients gain the curvature
// contribution.
func (rm *ResidualModel) shiftCenter(d []float64) {
	m, n := rm.Linear.Dims()
	dVec := mat.NewVecDense(n, d)
	hd := mat.NewVecDense(n, nil)

	for j := 0; j < m; j++ {
		gj := rm.Linear.RawRowView(j)
		hd.MulVec(rm.Square[j], dVec)

		rm.Intercepts[j] += floats.Dot(gj, d) + 0.5*floats.Dot(d, hd.RawVector().Data)
		floats.Add(gj, hd.RawVector().Data)
	}
}

// rescale converts the model between trust-region frames when the radius
// changes from delta_old to delta: s_old = ratio * s_new with
// ratio = delta/delta_old.
func (rm *ResidualModel) rescale(ratio float64) {
	if ratio == 1 {
		return
	}
	m, n := rm.Linear.Dims()
	for j := 0; j < m; j++ {
		floats.Scale(ratio, rm.Linear.RawRowView(j))
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				rm.Square[j].SetSym(a, b, ratio*ratio*rm.Square[j].At(a, b))
			}
		}
	}
}

// modelCoefficients holds the interpolation update added onto the current
// residual model.
type modelCoefficients struct {
	linear *mat.Dense
	square []*mat.SymDense
}

// addCoefficients adds the interpolation update term by term.
func (rm *ResidualModel) addCoefficients(coeffs modelCoefficients) {
	m, n := rm.Linear.Dims()
	for j := 0; j < m; j++ {
		floats.Add(rm.Linear.RawRowView(j), coeffs.linear.RawRowView(j))
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				rm.Square[j].SetSym(a, b, rm.Square[j].At(a, b)+coeffs.square[j].At(a, b))
			}
		}
	}
}

// evaluate returns the model prediction for residual j at the centered
// point s.
func (rm *ResidualModel) evaluate(j int, s []float64) float64 {
	n := len(s)
	hs := mat.NewVecDense(n, nil)
	hs.MulVec(rm.Square[j], mat.NewVecDense(n, s))
	gj := rm.Linear.RawRowView(j)
	return rm.Intercepts[j] + floats.Dot(gj, s) + 0.5*floats.Dot(s, hs.RawVector().Data)
}

// mainModelFromResiduals aggregates the residual surrogates through the
// least-squares criterion sum_j r_j(s)^2:
//
//	g = 2 * sum_j c_j g_j
//	H = 2 * (sum_j g_j g_j' + sum_j c_j H_j)
//
// with c_j the intercepts. The aggregated Hessian is symmetric but need not
// be positive semi-definite.
func mainModelFromResiduals(rm ResidualModel) subsolvers.QuadraticModel {
	m, n := rm.Linear.Dims()

	gradient := make([]float64, n)
	hessian := mat.NewSymDense(n, nil)

	for j := 0; j < m; j++ {
		gj := rm.Linear.RawRowView(j)
		cj := rm.Intercepts[j]

		floats.AddScaled(gradient, 2*cj, gj)
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				hessian.SetSym(a, b, hessian.At(a, b)+2*(gj[a]*gj[b]+cj*rm.Square[j].At(a, b)))
			}
		}
	}

	return subsolvers.QuadraticModel{Gradient: gradient, Hessian: hessian}
}
