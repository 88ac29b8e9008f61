package reactor

import (
	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// reactorOptions holds the resolved configuration built up by ReactorOption
// values, a standard functional-options pattern.
type reactorOptions struct {
	logger         *logiface.Logger[*logifaceslog.Event]
	threadPoolSize int
	metricsEnabled bool
}

// ReactorOption configures a Reactor at construction time.
type ReactorOption func(*reactorOptions)

// WithLogger attaches a structured logger. See NewSlogLogger for the
// default construction helper.
func WithLogger(logger *logiface.Logger[*logifaceslog.Event]) ReactorOption {
	return func(o *reactorOptions) {
		o.logger = logger
	}
}

// WithThreadPoolSize overrides the CallInThread worker pool's concurrency
// limit. The default is SuggestThreadPoolSize().
func WithThreadPoolSize(size int) ReactorOption {
	return func(o *reactorOptions) {
		o.threadPoolSize = size
	}
}

// WithMetrics enables or disables tick-latency and queue-depth
// instrumentation. Enabled by default.
func WithMetrics(enabled bool) ReactorOption {
	return func(o *reactorOptions) {
		o.metricsEnabled = enabled
	}
}

func resolveOptions(opts []ReactorOption) *reactorOptions {
	o := &reactorOptions{metricsEnabled: true}
	for _, apply := range opts {
		apply(o)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	return o
}
