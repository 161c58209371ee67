package history

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAddAndAccessors(t *testing.T) {
	h := New()

	idx0, err := h.Add([]float64{1, 2}, []float64{3, 4})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx0 != 0 {
		t.Fatalf("first index = %d, want 0", idx0)
	}

	idx1, err := h.Add([]float64{0, 0}, []float64{1, 1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx1 != 1 {
		t.Fatalf("second index = %d, want 1", idx1)
	}

	if got := h.CritValue(0); !almostEqual(got, 25, 1e-14) {
		t.Errorf("CritValue(0) = %v, want 25", got)
	}
	if got := h.CritValue(-1); !almostEqual(got, 2, 1e-14) {
		t.Errorf("CritValue(-1) = %v, want 2", got)
	}
	if got := h.BestIndex(); got != 1 {
		t.Errorf("BestIndex = %d, want 1", got)
	}
	if got := h.X(-1); got[0] != 0 || got[1] != 0 {
		t.Errorf("X(-1) = %v, want [0 0]", got)
	}
}

func TestRecordsAreImmutable(t *testing.T) {
	h := New()
	x := []float64{1, 1}
	if _, err := h.Add(x, []float64{2}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Mutating the caller's slice must not reach the stored record.
	x[0] = 99
	if got := h.X(0); got[0] != 1 {
		t.Errorf("stored x mutated through caller slice: %v", got)
	}

	// Mutating a returned copy must not reach the stored record either.
	got := h.X(0)
	got[1] = -5
	if again := h.X(0); again[1] != 1 {
		t.Errorf("stored x mutated through returned slice: %v", again)
	}
}

func TestDimensionChecks(t *testing.T) {
	h := New()
	if _, err := h.Add([]float64{1, 2}, []float64{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add([]float64{1}, []float64{1}); err == nil {
		t.Error("expected dimension error for short x")
	}
	if _, err := h.Add([]float64{1, 2}, []float64{1, 2}); err == nil {
		t.Error("expected dimension error for long residuals")
	}
}

func TestAddBatchContiguous(t *testing.T) {
	h := New()
	if _, err := h.Add([]float64{0}, []float64{5}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	xs := [][]float64{{1}, {2}, {3}}
	residuals := [][]float64{{1}, {0.5}, {2}}
	first, err := h.AddBatch(xs, residuals)
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if first != 1 {
		t.Fatalf("first batch index = %d, want 1", first)
	}
	if h.Len() != 4 {
		t.Fatalf("Len = %d, want 4", h.Len())
	}
	if got := h.BestIndex(); got != 2 {
		t.Errorf("BestIndex = %d, want 2", got)
	}
	if best := h.BestX(); best[0] != 2 {
		t.Errorf("BestX = %v, want [2]", best)
	}
}

func TestCentered(t *testing.T) {
	h := New()
	if _, err := h.Add([]float64{1, 1}, []float64{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add([]float64{1.5, 0.5}, []float64{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	centered := h.Centered([]float64{1, 1}, 0.5, 0, 1)
	want := [][]float64{{0, 0}, {1, -1}}
	for i := range want {
		for j := range want[i] {
			if !almostEqual(centered[i][j], want[i][j], 1e-14) {
				t.Errorf("Centered[%d][%d] = %v, want %v", i, j, centered[i][j], want[i][j])
			}
		}
	}
}

func TestBestTieResolvesToEarliest(t *testing.T) {
	h := New()
	for i := 0; i < 3; i++ {
		if _, err := h.Add([]float64{float64(i)}, []float64{2}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := h.BestIndex(); got != 0 {
		t.Errorf("BestIndex = %d, want 0 on ties", got)
	}
}
