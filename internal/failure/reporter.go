package failure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/metrics"
	"github.com/rickgao/threatstream/internal/retry"
)

// Config controls reporting.
type Config struct {
	Endpoint        string        // Reporting endpoint URL; empty keeps reports local
	AppURL          string        // Reported as the report's url field
	UserAgent       string        // Reported as the report's userAgent field
	Timeout         time.Duration // Per-delivery timeout
	BufferCapacity  int           // Fallback buffer size
	HistorySize     int           // Recent errors kept for diagnostics
	BreakerFailures uint32        // Consecutive failures that open the breaker
	BreakerTimeout  time.Duration // How long the breaker stays open
	QueueSize       int           // Reports waiting for the delivery worker
	Retry           retry.Config  // Retry policy used by Flush
}

// DefaultConfig returns the defaults used for unset fields.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		BufferCapacity:  50,
		HistorySize:     50,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		QueueSize:       64,
		Retry:           retry.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Retry.Retries == 0 && c.Retry.Delay == 0 {
		c.Retry = d.Retry
	}
}

// Reporter sends normalized failures to a sink and buffers what it cannot
// deliver. Delivery runs on a single worker goroutine so Report never waits
// on the sink.
type Reporter struct {
	cfg     Config
	sink    Sink
	breaker *gobreaker.CircuitBreaker
	buffer  *lru.Cache[string, Report]
	logger  *slog.Logger
	metrics *metrics.Metrics

	queueMu sync.RWMutex
	queue   chan delivery
	closed  bool
	done    chan struct{}

	histMu  sync.Mutex
	history []*apperr.Error
	next    int
	full    bool

	flushMu sync.Mutex
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithReporterLogger sets the reporter's logger.
func WithReporterLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReporterMetrics sets the reporter's collectors.
func WithReporterMetrics(m *metrics.Metrics) ReporterOption {
	return func(r *Reporter) {
		r.metrics = m
	}
}

// NewReporter creates a reporter delivering to sink. A nil sink keeps
// reports in the recent history and the log only.
func NewReporter(sink Sink, cfg Config, opts ...ReporterOption) (*Reporter, error) {
	cfg.applyDefaults()

	buffer, err := lru.New[string, Report](cfg.BufferCapacity)
	if err != nil {
		return nil, fmt.Errorf("create fallback buffer: %w", err)
	}

	r := &Reporter{
		cfg:     cfg,
		sink:    sink,
		buffer:  buffer,
		logger:  slog.Default(),
		history: make([]*apperr.Error, cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "failure-reporting",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("reporting circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	if sink != nil {
		r.queue = make(chan delivery, cfg.QueueSize)
		r.done = make(chan struct{})
		go r.work()
	}

	return r, nil
}

// delivery is a queued report. A delivery with a non-nil sync channel is a
// marker closed once everything queued before it has been handled.
type delivery struct {
	ctx  context.Context
	rep  Report
	sync chan struct{}
}

// Report normalizes err, records it and queues it for delivery. When the
// queue is full or the reporter is closed the report goes straight to the
// fallback buffer. Report never blocks on the sink; a nil err is ignored.
func (r *Reporter) Report(ctx context.Context, err error) {
	e := apperr.From(err)
	if e == nil {
		return
	}

	r.remember(e)
	r.log(e)

	if r.sink == nil {
		return
	}

	rep := Report{
		ID:        uuid.NewString(),
		Error:     e,
		UserAgent: r.cfg.UserAgent,
		URL:       r.cfg.AppURL,
		Timestamp: time.Now().UTC(),
	}

	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		r.buffered(rep)
		return
	}
	select {
	case r.queue <- delivery{ctx: context.WithoutCancel(ctx), rep: rep}:
	default:
		r.logger.Debug("report queue full, buffering", "report_id", rep.ID, "code", e.Code)
		r.buffered(rep)
	}
}

// Sync waits until every report queued before the call has been delivered
// or buffered.
func (r *Reporter) Sync() {
	r.queueMu.RLock()
	if r.queue == nil || r.closed {
		r.queueMu.RUnlock()
		return
	}
	marker := make(chan struct{})
	r.queue <- delivery{sync: marker}
	r.queueMu.RUnlock()
	<-marker
}

// Close stops the delivery worker after it has handled the queued reports.
// Later reports are recorded and buffered for Flush.
func (r *Reporter) Close() {
	r.queueMu.Lock()
	if r.queue == nil || r.closed {
		r.queueMu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.queueMu.Unlock()

	<-r.done
}

func (r *Reporter) work() {
	defer close(r.done)

	for d := range r.queue {
		if d.sync != nil {
			close(d.sync)
			continue
		}
		if err := r.deliver(d.ctx, d.rep); err != nil {
			r.logger.Debug("report not delivered, buffering",
				"report_id", d.rep.ID,
				"code", d.rep.Error.Code,
				"error", err,
			)
			r.buffered(d.rep)
			continue
		}
		r.metrics.IncReportsSent()
	}
}

// Recent returns the most recent reported errors, oldest first.
func (r *Reporter) Recent() []*apperr.Error {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	if !r.full {
		return append([]*apperr.Error(nil), r.history[:r.next]...)
	}
	out := make([]*apperr.Error, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	out = append(out, r.history[:r.next]...)
	return out
}

// Pending returns the buffered reports, oldest first.
func (r *Reporter) Pending() []Report {
	keys := r.buffer.Keys()
	out := make([]Report, 0, len(keys))
	for _, k := range keys {
		if rep, ok := r.buffer.Peek(k); ok {
			out = append(out, rep)
		}
	}
	return out
}

// Flush redelivers buffered reports oldest first, retrying each with the
// configured policy. It stops at the first report that still cannot be
// delivered and returns how many were delivered.
func (r *Reporter) Flush(ctx context.Context) (int, error) {
	if r.sink == nil {
		return 0, nil
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	policy := r.cfg.Retry
	policy.Logger = r.logger
	policy.ShouldRetry = func(e *apperr.Error) bool {
		return !errors.Is(e, gobreaker.ErrOpenState) && apperr.IsRecoverable(e)
	}

	delivered := 0
	for _, key := range r.buffer.Keys() {
		rep, ok := r.buffer.Peek(key)
		if !ok {
			continue
		}

		err := retry.DoErr(ctx, policy, func(ctx context.Context) error {
			return r.deliver(ctx, rep)
		})
		if err != nil {
			r.metrics.SetReportsPending(r.buffer.Len())
			return delivered, fmt.Errorf("flush report %s: %w", key, err)
		}

		r.buffer.Remove(key)
		delivered++
		r.metrics.IncReportsSent()
	}

	r.metrics.SetReportsPending(r.buffer.Len())
	if delivered > 0 {
		r.logger.Info("flushed buffered failure reports", "count", delivered)
	}
	return delivered, nil
}

func (r *Reporter) deliver(ctx context.Context, rep Report) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		return nil, r.sink.Send(ctx, rep)
	})
	return err
}

func (r *Reporter) buffered(rep Report) {
	if evicted := r.buffer.Add(rep.ID, rep); evicted {
		r.metrics.IncReportsEvicted()
	}
	r.metrics.IncReportsBuffered()
	r.metrics.SetReportsPending(r.buffer.Len())
}

func (r *Reporter) remember(e *apperr.Error) {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	r.history[r.next] = e
	r.next++
	if r.next == len(r.history) {
		r.next = 0
		r.full = true
	}
}

// log surfaces the failure at a level matching its severity.
func (r *Reporter) log(e *apperr.Error) {
	level := slog.LevelInfo
	switch e.Severity {
	case apperr.SeverityLow:
		level = slog.LevelDebug
	case apperr.SeverityHigh:
		level = slog.LevelWarn
	case apperr.SeverityCritical:
		level = slog.LevelError
	}

	r.logger.Log(context.Background(), level, "failure reported",
		"code", e.Code,
		"severity", e.Severity.String(),
		"message", e.Message,
		"technical", e.Technical,
	)
}
