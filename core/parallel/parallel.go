// Package parallel provides the parallel-execution primitives used by sciopt.
//
// Two facilities live here:
//
//   - Parallelize / ParallelizeWithThreshold: split an index range across
//     GOMAXPROCS workers for cheap data-parallel loops.
//   - BatchEvaluator: the collaborator the driver loop uses to evaluate the
//     criterion at many points at once. Results are returned in the same
//     order as the inputs and the first error encountered is propagated.
//
// The trust-region iteration itself is strictly sequential; only the
// evaluations inside a single batch (bootstrap points, geometry-repair
// points) are independent, so that is the only place worker pools appear.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits [0, n) into contiguous chunks and runs fn on each chunk
// in its own goroutine, blocking until all chunks are done.
func Parallelize(n int, fn func(start, end int)) {
	ParallelizeWithThreshold(n, 0, fn)
}

// ParallelizeWithThreshold behaves like Parallelize but runs sequentially
// when n is below threshold, avoiding goroutine overhead for small inputs.
func ParallelizeWithThreshold(n, threshold int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if n < threshold || workers <= 1 || n == 1 {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Criterion is a residual function: it maps a parameter vector of length n
// to a residual vector of length m. It must be pure; sciopt may evaluate it
// out of order within a batch.
type Criterion func(x []float64) ([]float64, error)

// BatchEvaluator evaluates a criterion at a batch of points. Implementations
// must return results in input order and report the first error raised by
// any evaluation. There is no partial-failure contract beyond that.
type BatchEvaluator interface {
	Evaluate(fn Criterion, points [][]float64) ([][]float64, error)
}

// Sequential returns a BatchEvaluator that evaluates points one after the
// other on the calling goroutine.
func Sequential() BatchEvaluator {
	return sequentialEvaluator{}
}

type sequentialEvaluator struct{}

func (sequentialEvaluator) Evaluate(fn Criterion, points [][]float64) ([][]float64, error) {
	results := make([][]float64, len(points))
	for i, x := range points {
		res, err := fn(x)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// Pool returns a BatchEvaluator backed by nWorkers goroutines. With
// nWorkers <= 0 the number of workers defaults to GOMAXPROCS. Each worker
// receives a pure point vector and returns a pure residual vector; no state
// is shared across workers.
func Pool(nWorkers int) BatchEvaluator {
	if nWorkers <= 0 {
		nWorkers = runtime.GOMAXPROCS(0)
	}
	return &poolEvaluator{nWorkers: nWorkers}
}

type poolEvaluator struct {
	nWorkers int
}

func (p *poolEvaluator) Evaluate(fn Criterion, points [][]float64) ([][]float64, error) {
	results := make([][]float64, len(points))

	workers := p.nWorkers
	if workers > len(points) {
		workers = len(points)
	}
	if workers <= 1 {
		return sequentialEvaluator{}.Evaluate(fn, points)
	}

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := fn(points[i])
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				results[i] = res
			}
		}()
	}

	for i := range points {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
