// Package errors provides the error taxonomy used throughout the sciopt library.
//
// The package distinguishes two classes of failures:
//
//   - Input-contract violations (infeasible starting bounds, unknown solver
//     names, dimension mismatches) raised immediately at the public API
//     boundary. These are the only fatal errors in the library.
//   - Numerical anomalies (indefinite Hessians, degenerate reduction ratios,
//     non-convergence within an iteration cap). These are never surfaced as
//     errors; they are resolved inside the numerical logic and reported
//     through result records.
//
// All errors are created through the constructors in this package and wrap
// github.com/cockroachdb/errors so that callers get stack traces with %+v and
// can use errors.Is / errors.As from the standard library.
//
// Example usage:
//
//	if len(lower) != n {
//		return scioptErrors.NewDimensionError("Minimize", n, len(lower))
//	}
//
//	var dimErr *scioptErrors.DimensionError
//	if errors.As(err, &dimErr) {
//		fmt.Println(dimErr.Expected, dimErr.Got)
//	}
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrBoundsInfeasible indicates that the starting point plus the initial
	// trust-region radius violates the upper bounds.
	ErrBoundsInfeasible = errors.New("starting point is infeasible for the given bounds")

	// ErrUnknownSolver indicates that an unrecognized subproblem solver name
	// was requested.
	ErrUnknownSolver = errors.New("unknown subproblem solver")

	// ErrEmptyData indicates empty input vectors.
	ErrEmptyData = errors.New("empty data")

	// ErrSingularMatrix indicates a singular interpolation system.
	ErrSingularMatrix = errors.New("singular matrix")
)

// ValueError reports an invalid argument value passed to an operation.
type ValueError struct {
	Op      string // operation that rejected the value, e.g. "pounders.Minimize"
	Message string
}

// NewValueError creates a ValueError for the given operation.
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("sciopt: %s: %s", e.Op, e.Message)
}

// DimensionError reports a mismatch between an expected and an actual
// vector or matrix dimension.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
}

// NewDimensionError creates a DimensionError for the given operation.
func NewDimensionError(op string, expected, got int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got})
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("sciopt: %s: dimension mismatch: expected %d, got %d", e.Op, e.Expected, e.Got)
}

// BoundsError reports an infeasibility between a parameter vector and the
// box bounds, such as the start-point feasibility check of the driver loop.
type BoundsError struct {
	Op      string
	Index   int // first offending coordinate
	Message string
}

// NewBoundsError creates a BoundsError wrapping ErrBoundsInfeasible.
func NewBoundsError(op string, index int, message string) error {
	return errors.WithStack(errors.Mark(
		&BoundsError{Op: op, Index: index, Message: message},
		ErrBoundsInfeasible,
	))
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("sciopt: %s: bounds infeasible at index %d: %s", e.Op, e.Index, e.Message)
}

// SolverError reports an invalid solver configuration, such as an unknown
// subsolver name. Numerical failures inside a solver are not SolverErrors;
// they are reported through the solver's result record.
type SolverError struct {
	Op     string
	Solver string
}

// NewSolverError creates a SolverError wrapping ErrUnknownSolver.
func NewSolverError(op, solver string) error {
	return errors.WithStack(errors.Mark(
		&SolverError{Op: op, Solver: solver},
		ErrUnknownSolver,
	))
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("sciopt: %s: unknown solver %q", e.Op, e.Solver)
}

// Wrap annotates err with an operation name, preserving the error chain.
// Returns nil if err is nil.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "sciopt: %s", op)
}

// Recover converts a panic into an error assigned to *errp. It is installed
// with defer at public API boundaries so that indexing or linear-algebra
// panics surface as ordinary errors instead of crashing the caller:
//
//	func (h *History) At(i int) (x []float64, err error) {
//		defer scioptErrors.Recover(&err, "History.At")
//		...
//	}
func Recover(errp *error, op string) {
	if r := recover(); r != nil {
		switch v := r.(type) {
		case error:
			*errp = errors.Wrapf(v, "sciopt: %s: panic", op)
		default:
			*errp = errors.Newf("sciopt: %s: panic: %v", op, v)
		}
	}
}
