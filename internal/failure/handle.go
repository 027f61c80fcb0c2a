package failure

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/metrics"
)

var (
	installMu sync.Mutex
	installed *Handle
)

// Handle is the installed failure interceptor.
type Handle struct {
	reporter *Reporter
	logger   *slog.Logger
	tasks    errgroup.Group
}

// Option configures Install.
type Option func(*options)

type options struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithSink overrides the sink built from Config.Endpoint.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithLogger sets the logger used by the handle and its reporter.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors used by the reporter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Install creates the process-wide handle. While a handle is installed,
// further calls return it unchanged and ignore their arguments.
func Install(cfg Config, opts ...Option) (*Handle, error) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed != nil {
		return installed, nil
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	cfg.applyDefaults()

	sink := o.sink
	if sink == nil && cfg.Endpoint != "" {
		sink = NewHTTPSink(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout})
	}

	reporter, err := NewReporter(sink, cfg,
		WithReporterLogger(o.logger),
		WithReporterMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	installed = &Handle{
		reporter: reporter,
		logger:   o.logger,
	}
	o.logger.Debug("failure interceptor installed", "endpoint", cfg.Endpoint)
	return installed, nil
}

// Current returns the installed handle, or nil.
func Current() *Handle {
	installMu.Lock()
	defer installMu.Unlock()
	return installed
}

// Close waits for background tasks started with Go, drains queued reports
// and uninstalls the handle so Install can run again. Wrapped transports keep
// reporting through this handle's reporter; those reports are buffered for
// Flush.
func (h *Handle) Close() error {
	_ = h.tasks.Wait()
	h.reporter.Close()

	installMu.Lock()
	if installed == h {
		installed = nil
	}
	installMu.Unlock()
	return nil
}

// Reporter returns the handle's reporter.
func (h *Handle) Reporter() *Reporter {
	return h.reporter
}

// Report normalizes and reports err.
func (h *Handle) Report(ctx context.Context, err error) {
	h.reporter.Report(ctx, err)
}

// Go runs fn in the background. A returned error or a panic is reported
// instead of being lost; neither stops the process.
func (h *Handle) Go(fn func() error) {
	h.tasks.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				e := apperr.FromPanic(r).With("stack", string(debug.Stack()))
				h.logger.Error("background task panicked", "error", e)
				h.reporter.Report(context.Background(), e)
			}
		}()

		if err := fn(); err != nil {
			h.logger.Error("background task failed", "error", err)
			h.reporter.Report(context.Background(), err)
		}
		return nil
	})
}

// Recover reports a panic and then re-panics with the original value so the
// default crash behavior is kept. Use it as `defer h.Recover()`.
func (h *Handle) Recover() {
	r := recover()
	if r == nil {
		return
	}

	e := apperr.FromPanic(r)
	h.logger.Error("uncaught panic", "error", e, "stack", string(debug.Stack()))
	h.reporter.Report(context.Background(), e)
	panic(r)
}
