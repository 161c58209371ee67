// Package log provides structured logging for sciopt built on rs/zerolog.
//
// The package exposes a small Logger interface with variadic key/value pairs
// so that library code never depends on zerolog directly:
//
//	logger := log.GetLoggerWithName("pounders").With(
//		log.AlgorithmKey, "pounders",
//	)
//	logger.Info("Optimization started",
//		log.ParamsKey, n,
//		log.RadiusKey, delta,
//	)
//
// Logging is disabled by default: a library should stay silent unless the
// host application opts in via SetLevel or by injecting its own writer with
// SetOutput. All log lines carry the component name under "component".
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Shared structured-field keys. Using constants keeps field names consistent
// across packages and greppable in aggregated logs.
const (
	AlgorithmKey = "algorithm"
	ComponentKey = "component"
	OperationKey = "operation"
	IterationKey = "iteration"
	ParamsKey    = "n_params"
	ResidualsKey = "n_residuals"
	EvalsKey     = "n_evals"
	RadiusKey    = "radius"
	CriterionKey = "criterion"
	RhoKey       = "rho"
	GradNormKey  = "gradient_norm"
	SolverKey    = "solver"
	MessageKey   = "message"
	SuccessKey   = "success"
	DurationKey  = "duration_ms"
)

// Logger is the logging interface used throughout sciopt. Fields are passed
// as alternating key/value pairs; keys must be strings.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	// With returns a child logger with the given key/value pairs attached
	// to every line.
	With(keyvals ...interface{}) Logger
}

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stderr).Level(zerolog.Disabled).With().Timestamp().Logger()
)

// SetLevel sets the global log level. Use zerolog.Disabled (the default) to
// silence the library entirely.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	root = root.Level(level)
}

// SetOutput redirects all sciopt log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root = root.Output(w)
}

// GetLogger returns the root sciopt logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zerologAdapter{logger: root}
}

// GetLoggerWithName returns a logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zerologAdapter{logger: root.With().Str(ComponentKey, name).Logger()}
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func (z *zerologAdapter) Debug(msg string, keyvals ...interface{}) {
	z.emit(z.logger.Debug(), msg, keyvals)
}

func (z *zerologAdapter) Info(msg string, keyvals ...interface{}) {
	z.emit(z.logger.Info(), msg, keyvals)
}

func (z *zerologAdapter) Warn(msg string, keyvals ...interface{}) {
	z.emit(z.logger.Warn(), msg, keyvals)
}

func (z *zerologAdapter) Error(msg string, keyvals ...interface{}) {
	z.emit(z.logger.Error(), msg, keyvals)
}

func (z *zerologAdapter) With(keyvals ...interface{}) Logger {
	ctx := z.logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return &zerologAdapter{logger: ctx.Logger()}
}

func (z *zerologAdapter) emit(event *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keyvals[i+1])
	}
	event.Msg(msg)
}
