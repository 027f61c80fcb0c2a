package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/eventbus"
	"github.com/rickgao/threatstream/internal/metrics"
)

// Reporter receives failures the manager recovers from on its own.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReporter sets where parse and transport failures are reported.
func WithReporter(r Reporter) Option {
	return func(m *Manager) {
		m.reporter = r
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithHooks sets the lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(m *Manager) {
		m.hooks = h
	}
}

// WithBus publishes decoded events on bus instead of a private one.
func WithBus(bus *eventbus.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// session is one transport plus the goroutine driving it.
type session struct {
	transport Transport
	stop      chan struct{}
	once      sync.Once
}

func (s *session) halt() {
	s.once.Do(func() { close(s.stop) })
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Manager owns one stream connection: it connects through its factory,
// republishes decoded frames on its bus and reconnects after unintended
// closes.
type Manager struct {
	cfg      ManagerConfig
	factory  TransportFactory
	bus      *eventbus.Bus
	logger   *slog.Logger
	reporter Reporter
	metrics  *metrics.Metrics
	hooks    Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	errored     bool
	attempts    int
	intentional bool
	closed      bool
	gen         uint64
	current     *session
	timer       *time.Timer

	framesReceived atomic.Uint64
	parseErrors    atomic.Uint64
	sent           atomic.Uint64
	reconnects     atomic.Uint64
	lastMessageAt  atomic.Int64
}

// NewManager creates a manager in the closed state. Call Connect to start.
func NewManager(cfg ManagerConfig, factory TransportFactory, opts ...Option) *Manager {
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.ReconnectInterval < 0 {
		cfg.ReconnectInterval = 0
	}

	m := &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  slog.Default(),
		state:   StateClosed,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(m)
	}

	if m.bus == nil {
		m.bus = eventbus.New(
			eventbus.WithLogger(m.logger),
			eventbus.WithPanicHandler(func(ch eventbus.Channel, recovered any) {
				m.report(apperr.FromPanic(recovered).With("channel", string(ch)))
			}),
		)
	}
	m.metrics.SetConnectionState(m.state.String(), stateNames...)

	return m
}

// Connect starts a connection attempt unless one is already connecting or
// open. The outcome is observed through hooks and State.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.current != nil && (m.state == StateConnecting || m.state == StateOpen) {
		m.mu.Unlock()
		return nil
	}
	s, from := m.startLocked()
	m.mu.Unlock()

	m.fireStateChange(from, StateConnecting)
	go m.run(s)
	return nil
}

// Reconnect resets the attempt counter, discards any existing transport and
// connects again.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.attempts = 0
	s, from := m.startLocked()
	m.mu.Unlock()

	m.logger.Info("manual reconnect")
	m.fireStateChange(from, StateConnecting)
	go m.run(s)
	return nil
}

// Disconnect closes the stream intentionally. No automatic reconnect
// follows until Connect or Reconnect is called.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.stopTimerLocked()
	s := m.current
	m.current = nil
	if s != nil {
		s.halt()
	}
	from := m.setStateLocked(StateClosed)
	m.mu.Unlock()

	if s != nil {
		if err := s.transport.Close(); err != nil {
			m.logger.Debug("transport close failed", "error", err)
		}
	}

	if from != StateClosed {
		m.logger.Info("stream disconnected")
		m.fireStateChange(from, StateClosed)
		m.fireClose(CloseInfo{Code: websocket.CloseNormalClosure, Intentional: true})
	}
}

// Close disconnects, stops all manager goroutines and clears every
// subscription. It must not be called from a bus handler or hook.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.cancel()
	m.wg.Wait()
	m.bus.Clear()
	return nil
}

// Send delivers msg if the stream is open. Strings, byte slices and
// json.RawMessage are sent as is; anything else is JSON encoded. It reports
// whether a send was attempted, not whether the server received it.
func (m *Manager) Send(msg any) bool {
	m.mu.Lock()
	s := m.current
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || s == nil {
		m.metrics.IncSends(false)
		return false
	}

	data, err := encodeOutbound(msg)
	if err != nil {
		m.metrics.IncSends(false)
		m.report(apperr.Wrap(err, apperr.CodeClient, "Could not prepare the message for sending.", apperr.SeverityLow))
		return false
	}

	if err := s.transport.Send(data); err != nil {
		m.metrics.IncSends(false)
		m.logger.Warn("send failed", "error", err)
		m.report(apperr.Wrap(err, apperr.CodeTransport, "Could not send the message to the server.", apperr.SeverityMedium))
		return true
	}

	m.sent.Add(1)
	m.metrics.IncSends(true)
	return true
}

// Subscribe registers h for ch on the manager's bus.
func (m *Manager) Subscribe(ch eventbus.Channel, h eventbus.Handler) (unsubscribe func()) {
	return m.bus.Subscribe(ch, h)
}

// Bus returns the bus decoded events are published on.
func (m *Manager) Bus() *eventbus.Bus {
	return m.bus
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the state, error flag, attempt counter and stats.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:    m.state,
		Errored:  m.errored,
		Attempts: m.attempts,
	}
	m.mu.Unlock()

	st.Stats = Stats{
		FramesReceived: m.framesReceived.Load(),
		ParseErrors:    m.parseErrors.Load(),
		Sent:           m.sent.Load(),
		Reconnects:     m.reconnects.Load(),
	}
	if ns := m.lastMessageAt.Load(); ns != 0 {
		st.Stats.LastMessageAt = time.Unix(0, ns)
	}
	return st
}

// startLocked discards the current transport and creates the next one. The
// caller runs the returned session once the connecting transition has been
// announced.
func (m *Manager) startLocked() (*session, State) {
	m.stopTimerLocked()

	if old := m.current; old != nil {
		old.halt()
		if err := old.transport.Close(); err != nil {
			m.logger.Debug("transport close failed", "error", err)
		}
		m.current = nil
	}

	m.intentional = false
	m.gen++
	s := &session{
		transport: m.newTransport(),
		stop:      make(chan struct{}),
	}
	m.current = s
	from := m.setStateLocked(StateConnecting)

	m.wg.Add(1)
	return s, from
}

func (m *Manager) setStateLocked(to State) State {
	from := m.state
	m.state = to
	if from != to {
		m.metrics.SetConnectionState(to.String(), stateNames...)
	}
	return from
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// newTransport asks the factory for a transport. A panicking factory yields
// a transport whose dial fails with the recovered panic.
func (m *Manager) newTransport() (t Transport) {
	defer func() {
		if r := recover(); r != nil {
			t = failedTransport{err: apperr.FromPanic(r).With("stack", string(debug.Stack()))}
		}
	}()
	return m.factory()
}

// run dials s and then forwards its frames until it ends.
func (m *Manager) run(s *session) {
	defer m.wg.Done()
	defer m.recoverSession(s)

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	dialCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var dialCancel context.CancelFunc
		dialCtx, dialCancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer dialCancel()
	}

	if err := s.transport.Connect(dialCtx); err != nil {
		if s.stopped() {
			return
		}
		var e *apperr.Error
		if !errors.As(err, &e) {
			e = apperr.Network(err)
		}
		m.logger.Warn("stream connect failed", "error", err)
		m.closeSession(s, CloseInfo{Err: err}, e)
		return
	}

	if !m.opened(s) {
		return
	}

	m.readLoop(s)
}

func (m *Manager) opened(s *session) bool {
	m.mu.Lock()
	if m.current != s || s.stopped() {
		m.mu.Unlock()
		return false
	}
	m.attempts = 0
	m.errored = false
	from := m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.logger.Info("stream connected")
	m.fireStateChange(from, StateOpen)
	if m.hooks.OnOpen != nil {
		m.safeHook("open", m.hooks.OnOpen)
	}
	return true
}

func (m *Manager) readLoop(s *session) {
	msgs := s.transport.Messages()
	errs := s.transport.Errors()

	for {
		select {
		case <-s.stop:
			return
		case msg := <-msgs:
			m.dispatch(s, msg)
		case err := <-errs:
			// Frames read before the failure are still delivered, in order.
			for drained := false; !drained; {
				select {
				case msg := <-msgs:
					m.dispatch(s, msg)
				default:
					drained = true
				}
			}
			m.transportFailed(s, err)
			return
		}
	}
}

func (m *Manager) dispatch(s *session, msg TimestampedMessage) {
	if s.stopped() {
		return
	}

	ev, err := eventbus.Decode(msg.Data)
	if err != nil {
		m.parseErrors.Add(1)
		m.metrics.IncParseErrors()
		e := apperr.Wrap(err, apperr.CodeParse, "Received a malformed message from the server.", apperr.SeverityLow).
			With("frame_size", len(msg.Data))
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		m.report(e)
		return
	}

	if _, ok := ev.(eventbus.Unknown); ok {
		m.logger.Debug("frame on unregistered channel", "channel", ev.Channel())
	}

	m.framesReceived.Add(1)
	m.lastMessageAt.Store(msg.ReceivedAt.UnixNano())
	m.metrics.IncFrames(string(ev.Channel()))

	m.bus.Publish(ev)
}

func (m *Manager) transportFailed(s *session, err error) {
	info := CloseInfo{Err: err}

	var ce *websocket.CloseError
	clean := false
	if errors.As(err, &ce) {
		info.Code = ce.Code
		info.Reason = ce.Text
		clean = ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}

	var e *apperr.Error
	if clean {
		m.logger.Info("stream closed by server", "code", info.Code, "reason", info.Reason)
	} else {
		e = apperr.Wrap(err, apperr.CodeTransport, "Lost connection to the live event stream.", apperr.SeverityHigh)
		if info.Code != 0 {
			e.With("close_code", info.Code)
		}
		m.logger.Warn("stream transport failed", "error", err)
	}

	m.closeSession(s, info, e)
}

// closeSession moves an unintentionally ended session to closed and
// schedules a reconnect while attempts remain. e is nil for clean closes.
// It returns false when s was no longer the current session.
func (m *Manager) closeSession(s *session, info CloseInfo, e *apperr.Error) bool {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return false
	}
	s.halt()
	m.current = nil
	if e != nil {
		m.errored = true
	}
	from := m.setStateLocked(StateClosed)

	scheduled := false
	attempt := 0
	gen := m.gen
	if !m.intentional && !m.closed && m.attempts < m.cfg.ReconnectAttempts {
		m.attempts++
		attempt = m.attempts
		scheduled = true
	}
	m.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		m.logger.Debug("transport close failed", "error", err)
	}

	if e != nil {
		m.report(e)
		if m.hooks.OnError != nil {
			m.safeHook("error", func() { m.hooks.OnError(e) })
		}
	}

	m.fireStateChange(from, StateClosed)
	m.fireClose(info)

	if scheduled {
		m.mu.Lock()
		if m.gen == gen && m.current == nil && !m.intentional && !m.closed {
			m.stopTimerLocked()
			m.timer = time.AfterFunc(m.cfg.ReconnectInterval, func() { m.reconnectAfter(gen) })
		}
		m.mu.Unlock()

		m.reconnects.Add(1)
		m.metrics.IncReconnects()
		m.logger.Info("scheduling reconnect",
			"attempt", attempt,
			"max_attempts", m.cfg.ReconnectAttempts,
			"wait", m.cfg.ReconnectInterval,
		)
	} else {
		m.logger.Warn("reconnect attempts exhausted", "max_attempts", m.cfg.ReconnectAttempts)
	}
	return true
}

// recoverSession turns a panic on a session goroutine into a reported
// PANIC failure and an unclean close of that session.
func (m *Manager) recoverSession(s *session) {
	r := recover()
	if r == nil {
		return
	}

	e := apperr.FromPanic(r).With("stack", string(debug.Stack()))
	m.logger.Error("stream goroutine panicked", "error", e)
	if !m.closeSession(s, CloseInfo{Err: e}, e) {
		m.report(e)
	}
}

// failedTransport stands in for a transport the factory could not build.
type failedTransport struct {
	err error
}

func (f failedTransport) Connect(context.Context) error       { return f.err }
func (f failedTransport) Close() error                        { return nil }
func (f failedTransport) Send([]byte) error                   { return ErrNotConnected }
func (f failedTransport) Messages() <-chan TimestampedMessage { return nil }
func (f failedTransport) Errors() <-chan error                { return nil }
func (f failedTransport) IsConnected() bool                   { return false }

// reconnectAfter runs from the reconnect timer. gen guards against a timer
// that fired after Disconnect, Reconnect or a newer session.
func (m *Manager) reconnectAfter(gen uint64) {
	m.mu.Lock()
	if m.closed || m.intentional || m.gen != gen || m.current != nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	s, from := m.startLocked()
	m.mu.Unlock()

	m.fireStateChange(from, StateConnecting)
	go m.run(s)
}

func (m *Manager) report(e *apperr.Error) {
	if m.reporter == nil || e == nil {
		return
	}
	// Reports raised during teardown still get delivered.
	m.reporter.Report(context.WithoutCancel(m.ctx), e)
}

func (m *Manager) fireStateChange(from, to State) {
	if from == to || m.hooks.OnStateChange == nil {
		return
	}
	m.safeHook("state_change", func() { m.hooks.OnStateChange(from, to) })
}

func (m *Manager) fireClose(info CloseInfo) {
	if m.hooks.OnClose == nil {
		return
	}
	m.safeHook("close", func() { m.hooks.OnClose(info) })
}

func (m *Manager) safeHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle hook panicked", "hook", name, "panic", r)
		}
	}()
	fn()
}

func encodeOutbound(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case nil:
		return nil, errors.New("nil message")
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return data, nil
	}
}
