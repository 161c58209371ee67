// Package history implements the append-only evaluation store of the
// least-squares optimizer.
//
// Every criterion evaluation is recorded as a sample point: the parameter
// vector, the residual vector returned by the criterion, and the derived
// scalar criterion value (sum of squared residuals). Indices are stable and
// monotonically increasing; records are never mutated or deleted. The store
// answers "best so far" queries and maps absolute points into the unit
// trust-region frame for model fitting.
//
// The store is not safe for concurrent use. The driver loop is single
// threaded and appends whole evaluation batches between subsolver calls,
// which keeps indices of one batch contiguous.
package history

import (
	"gonum.org/v1/gonum/floats"

	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// History is an append-only store of evaluated sample points.
type History struct {
	n int // parameter dimension, fixed by the first entry
	m int // residual dimension, fixed by the first entry

	xs        [][]float64
	residuals [][]float64
	critvals  []float64

	bestIndex int
}

// New creates an empty history.
func New() *History {
	return &History{bestIndex: -1}
}

// Len returns the number of recorded evaluations.
func (h *History) Len() int {
	return len(h.xs)
}

// Add appends a single evaluated point and returns its index. The stored
// criterion value is the sum of squared residuals. The input slices are
// copied; callers may reuse them.
func (h *History) Add(x, residuals []float64) (int, error) {
	if len(h.xs) == 0 {
		if len(x) == 0 || len(residuals) == 0 {
			return 0, scioptErrors.NewValueError("History.Add", "empty point or residual vector")
		}
		h.n = len(x)
		h.m = len(residuals)
	}
	if len(x) != h.n {
		return 0, scioptErrors.NewDimensionError("History.Add", h.n, len(x))
	}
	if len(residuals) != h.m {
		return 0, scioptErrors.NewDimensionError("History.Add", h.m, len(residuals))
	}

	xc := make([]float64, h.n)
	copy(xc, x)
	rc := make([]float64, h.m)
	copy(rc, residuals)

	critval := floats.Dot(rc, rc)

	h.xs = append(h.xs, xc)
	h.residuals = append(h.residuals, rc)
	h.critvals = append(h.critvals, critval)

	index := len(h.xs) - 1
	if h.bestIndex < 0 || critval < h.critvals[h.bestIndex] {
		h.bestIndex = index
	}
	return index, nil
}

// AddBatch appends one batch of evaluations, preserving input order so the
// batch occupies a contiguous index range. Returns the index of the first
// entry of the batch.
func (h *History) AddBatch(xs, residuals [][]float64) (int, error) {
	if len(xs) != len(residuals) {
		return 0, scioptErrors.NewDimensionError("History.AddBatch", len(xs), len(residuals))
	}
	first := h.Len()
	for i := range xs {
		if _, err := h.Add(xs[i], residuals[i]); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// BestIndex returns the index of the minimal criterion value recorded so
// far, or -1 for an empty history. Ties resolve to the earliest entry.
func (h *History) BestIndex() int {
	return h.bestIndex
}

// BestX returns a copy of the parameter vector with the minimal criterion
// value.
func (h *History) BestX() []float64 {
	return h.X(h.bestIndex)
}

// BestResiduals returns a copy of the residual vector of the best entry.
func (h *History) BestResiduals() []float64 {
	return h.Residuals(h.bestIndex)
}

// X returns a copy of the parameter vector at index i. Negative indices
// count from the end, so X(-1) is the most recent point.
func (h *History) X(i int) []float64 {
	i = h.resolve(i)
	out := make([]float64, h.n)
	copy(out, h.xs[i])
	return out
}

// Residuals returns a copy of the residual vector at index i. Negative
// indices count from the end.
func (h *History) Residuals(i int) []float64 {
	i = h.resolve(i)
	out := make([]float64, h.m)
	copy(out, h.residuals[i])
	return out
}

// CritValue returns the criterion value at index i. Negative indices count
// from the end.
func (h *History) CritValue(i int) float64 {
	return h.critvals[h.resolve(i)]
}

// Xs returns copies of the parameter vectors at the given indices. With no
// indices, all recorded vectors are returned in evaluation order.
func (h *History) Xs(indices ...int) [][]float64 {
	if len(indices) == 0 {
		indices = h.allIndices()
	}
	out := make([][]float64, len(indices))
	for k, i := range indices {
		out[k] = h.X(i)
	}
	return out
}

// AllResiduals returns copies of the residual vectors at the given indices,
// or all of them in evaluation order when no indices are given.
func (h *History) AllResiduals(indices ...int) [][]float64 {
	if len(indices) == 0 {
		indices = h.allIndices()
	}
	out := make([][]float64, len(indices))
	for k, i := range indices {
		out[k] = h.Residuals(i)
	}
	return out
}

// CritValues returns the criterion values at the given indices, or all of
// them in evaluation order when no indices are given.
func (h *History) CritValues(indices ...int) []float64 {
	if len(indices) == 0 {
		indices = h.allIndices()
	}
	out := make([]float64, len(indices))
	for k, i := range indices {
		out[k] = h.CritValue(i)
	}
	return out
}

// Centered returns (x[i]-center)/radius for the given indices, mapping
// absolute points into the unit trust-region frame around center.
func (h *History) Centered(center []float64, radius float64, indices ...int) [][]float64 {
	out := make([][]float64, len(indices))
	for k, i := range indices {
		x := h.X(i)
		floats.Sub(x, center)
		floats.Scale(1/radius, x)
		out[k] = x
	}
	return out
}

// CenteredResiduals returns residuals[i]-centerResiduals for the given
// indices, used when fitting models to residual differences.
func (h *History) CenteredResiduals(centerResiduals []float64, indices ...int) [][]float64 {
	out := make([][]float64, len(indices))
	for k, i := range indices {
		r := h.Residuals(i)
		floats.Sub(r, centerResiduals)
		out[k] = r
	}
	return out
}

func (h *History) resolve(i int) int {
	if i < 0 {
		return len(h.xs) + i
	}
	return i
}

func (h *History) allIndices() []int {
	indices := make([]int, len(h.xs))
	for i := range indices {
		indices[i] = i
	}
	return indices
}
