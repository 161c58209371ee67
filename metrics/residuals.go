// Package metrics provides diagnostics for least-squares optimization
// results.
//
// The functions summarize a residual vector into scalar error measures:
//
//   - MSE: Mean Squared Error of the residuals
//   - RMSE: Root Mean Squared Error (square root of MSE)
//   - MAE: Mean Absolute Error for robust error measurement
//   - MaxAbs: Largest absolute residual (worst-case fit)
//
// All functions operate on plain float64 slices as returned by the
// criterion function and by Result.Residuals.
//
// Example usage:
//
//	rmse, err := metrics.RMSE(result.Residuals)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("RMSE: %.4f\n", rmse)
package metrics

import (
	"math"

	scioptErrors "github.com/ezoic/sciopt/pkg/errors"
)

// MSE calculates the Mean Squared Error of a residual vector.
//
// MSE is the average squared residual. For a least-squares result it equals
// the criterion value divided by the number of residuals, so it is
// comparable across problems of different residual dimension.
//
// Parameters:
//   - residuals: Residual vector at the evaluated point
//
// Returns:
//   - float64: MSE value (non-negative)
//   - error: nil if successful, otherwise an error describing the failure
//
// Errors:
//   - ErrEmptyData: if the residual vector is empty
//
// Example:
//
//	mse, err := metrics.MSE(result.Residuals)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("MSE: %.4f\n", mse)
func MSE(residuals []float64) (float64, error) {
	n := len(residuals)
	if n == 0 {
		return 0, scioptErrors.NewValueError("MSE", "empty residual vector")
	}

	var sum float64
	for _, r := range residuals {
		sum += r * r
	}
	return sum / float64(n), nil
}

// RMSE calculates the Root Mean Squared Error of a residual vector.
//
// RMSE is the square root of MSE and carries the unit of the residuals
// themselves, which makes it the most interpretable single-number summary
// of fit quality.
//
// Parameters:
//   - residuals: Residual vector at the evaluated point
//
// Returns:
//   - float64: RMSE value (non-negative)
//   - error: nil if successful, otherwise an error describing the failure
//
// Errors:
//   - ErrEmptyData: if the residual vector is empty
func RMSE(residuals []float64) (float64, error) {
	mse, err := MSE(residuals)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE calculates the Mean Absolute Error of a residual vector.
//
// MAE averages absolute residuals and is less sensitive to outliers than
// MSE, making it useful when a few residual components dominate.
//
// Parameters:
//   - residuals: Residual vector at the evaluated point
//
// Returns:
//   - float64: MAE value (non-negative)
//   - error: nil if successful, otherwise an error describing the failure
//
// Errors:
//   - ErrEmptyData: if the residual vector is empty
func MAE(residuals []float64) (float64, error) {
	n := len(residuals)
	if n == 0 {
		return 0, scioptErrors.NewValueError("MAE", "empty residual vector")
	}

	var sum float64
	for _, r := range residuals {
		sum += math.Abs(r)
	}
	return sum / float64(n), nil
}

// MaxAbs returns the largest absolute residual, the worst-case component of
// the fit.
//
// Parameters:
//   - residuals: Residual vector at the evaluated point
//
// Returns:
//   - float64: Largest absolute residual (non-negative)
//   - error: nil if successful, otherwise an error describing the failure
//
// Errors:
//   - ErrEmptyData: if the residual vector is empty
func MaxAbs(residuals []float64) (float64, error) {
	if len(residuals) == 0 {
		return 0, scioptErrors.NewValueError("MaxAbs", "empty residual vector")
	}

	max := 0.0
	for _, r := range residuals {
		if a := math.Abs(r); a > max {
			max = a
		}
	}
	return max, nil
}
