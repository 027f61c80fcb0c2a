package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/config"
	"github.com/rickgao/threatstream/internal/eventbus"
	"github.com/rickgao/threatstream/internal/failure"
	"github.com/rickgao/threatstream/internal/retry"
)

func testRetry() retry.Config {
	return retry.Config{
		Retries:     2,
		Delay:       time.Millisecond,
		ShouldRetry: retry.Recoverable,
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf).Debug("dbg")
	if !strings.Contains(buf.String(), "msg=dbg") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestFormatEvent(t *testing.T) {
	out, err := formatEvent(eventbus.ThreatAlert{IncidentID: "inc-9", SourceIP: "10.1.1.1"})
	if err != nil {
		t.Fatalf("formatEvent failed: %v", err)
	}

	if !strings.HasPrefix(out, "--- threat_alert ---\n") {
		t.Errorf("header missing: %q", out)
	}
	body := strings.TrimPrefix(out, "--- threat_alert ---\n")
	ev, err := eventbus.Decode([]byte(body))
	if err != nil {
		t.Fatalf("printed frame does not decode: %v", err)
	}
	if alert, ok := ev.(eventbus.ThreatAlert); !ok || alert.IncidentID != "inc-9" {
		t.Errorf("decoded = %#v", ev)
	}
}

func TestPrinter_WritesEachEvent(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	bus := eventbus.New()
	bus.Subscribe(eventbus.ChannelAll, p.print)
	bus.Publish(eventbus.SystemStatus{Status: "ok"})
	bus.Publish(eventbus.AdminAlert{Message: "check"})
	bus.Publish(eventbus.Unknown{Name: "dao_proposal", Data: []byte(`{"id":4}`)})

	out := buf.String()
	if strings.Count(out, "--- ") != 3 {
		t.Errorf("output = %q", out)
	}
	for _, header := range []string{"--- system_status ---", "--- admin_alert ---", "--- dao_proposal ---"} {
		if !strings.Contains(out, header) {
			t.Errorf("output missing %q: %q", header, out)
		}
	}
}

func TestFlushLoop_NonPositiveIntervalDoesNotPanic(t *testing.T) {
	r, err := failure.NewReporter(nil, failure.Config{})
	if err != nil {
		t.Fatalf("NewReporter failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		flushLoop(ctx, r, -time.Second, slog.Default())
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flushLoop did not stop after cancel")
	}
}

func TestFetchStatus_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != statusPath {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(eventbus.SystemStatus{Status: "ok", ActiveWSClients: 2})
	}))
	defer srv.Close()

	handle, err := failure.Install(failure.Config{}, failure.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer handle.Close()

	st, err := fetchStatus(context.Background(), handle.WrapClient(srv.Client()), srv.URL+"/", testRetry())
	if err != nil {
		t.Fatalf("fetchStatus failed: %v", err)
	}
	if st.Status != "ok" || st.ActiveWSClients != 2 {
		t.Errorf("status = %+v", st)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}

	recent := handle.Reporter().Recent()
	if len(recent) != 1 || recent[0].Code != apperr.HTTPCode(http.StatusServiceUnavailable) {
		t.Errorf("recent = %v, want one HTTP 503 report", recent)
	}
}

func TestFetchStatus_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.Client(), srv.URL, testRetry())
	if err == nil {
		t.Fatal("expected error")
	}
	if e := apperr.From(err); e.Code != apperr.CodeNotFound && e.Code != apperr.HTTPCode(http.StatusNotFound) {
		t.Errorf("code = %s", e.Code)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamwatch.yaml")
	yaml := "stream:\n  url: ws://localhost:8008/ws/alerts\nlogging:\n  level: info\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	var got *config.Config
	app := &cli.App{
		Name: "streamwatch",
		Commands: []*cli.Command{{
			Name:  "check",
			Flags: commonFlags,
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				got = cfg
				return err
			},
		}},
	}

	err := app.Run([]string{"streamwatch", "check", "--config", path, "--url", "wss://example.test/ws", "--verbose"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got.Stream.URL != "wss://example.test/ws" {
		t.Errorf("Stream.URL = %q", got.Stream.URL)
	}
	if got.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", got.Logging.Level)
	}
	if got.Stream.ReconnectAttempts != config.DefaultReconnectAttempts {
		t.Errorf("ReconnectAttempts = %d", got.Stream.ReconnectAttempts)
	}

	if err := app.Run([]string{"streamwatch", "check", "--url", "http://not-a-stream"}); err == nil {
		t.Error("expected validation error for non-websocket url")
	}
}

func TestBuildSink_NothingConfigured(t *testing.T) {
	cfg := config.Default()

	sink, pool, err := buildSink(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("buildSink failed: %v", err)
	}
	if sink != nil || pool != nil {
		t.Errorf("sink = %v, pool = %v, want both nil", sink, pool)
	}

	cfg.Reporting.Endpoint = "http://127.0.0.1:1/report"
	sink, _, err = buildSink(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("buildSink failed: %v", err)
	}
	if _, ok := sink.(*failure.HTTPSink); !ok {
		t.Errorf("sink = %T, want *failure.HTTPSink", sink)
	}
}
