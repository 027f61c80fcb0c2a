package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/config"
	"github.com/rickgao/threatstream/internal/connection"
	"github.com/rickgao/threatstream/internal/eventbus"
	"github.com/rickgao/threatstream/internal/failure"
	"github.com/rickgao/threatstream/internal/metrics"
	"github.com/rickgao/threatstream/internal/version"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Connect to the event stream and print every event",
		Flags: commonFlags,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Logging, os.Stderr)
			slog.SetDefault(logger)

			logger.Info("starting streamwatch",
				"version", version.Version,
				"commit", version.Commit,
				"url", cfg.Stream.URL,
			)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					logger.Info("received shutdown signal", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			handle, pool, err := installFailureHandle(ctx, cfg, logger, m)
			if err != nil {
				return err
			}
			defer func() {
				_ = handle.Close()
				if pool != nil {
					pool.Close()
				}
			}()
			defer handle.Recover()

			mgr := connection.NewManager(
				managerConfig(cfg.Stream),
				connection.WebSocketFactory(clientConfig(cfg.Stream), logger),
				connection.WithLogger(logger),
				connection.WithReporter(handle),
				connection.WithMetrics(m),
				connection.WithHooks(watchHooks(logger)),
			)

			p := newPrinter(c.App.Writer)
			mgr.Subscribe(eventbus.ChannelAll, p.print)

			srv := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg, healthFunc(mgr), logger)
			if err := srv.Start(); err != nil {
				_ = mgr.Close()
				return err
			}

			if err := mgr.Connect(); err != nil {
				_ = mgr.Close()
				return err
			}

			handle.Go(func() error {
				flushLoop(ctx, handle.Reporter(), cfg.Reporting.FlushInterval, logger)
				return nil
			})

			<-ctx.Done()
			logger.Info("shutting down")

			_ = mgr.Close()
			handle.Reporter().Sync()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if n, err := handle.Reporter().Flush(shutdownCtx); err != nil {
				logger.Warn("final flush incomplete", "delivered", n, "error", err)
			}
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}

			st := mgr.Status()
			logger.Info("streamwatch stopped",
				"frames", st.Stats.FramesReceived,
				"parse_errors", st.Stats.ParseErrors,
				"reconnects", st.Stats.Reconnects,
			)
			return nil
		},
	}
}

func watchHooks(logger *slog.Logger) connection.Hooks {
	return connection.Hooks{
		OnOpen: func() {
			logger.Info("stream open")
		},
		OnClose: func(info connection.CloseInfo) {
			logger.Info("stream closed",
				"code", info.Code,
				"reason", info.Reason,
				"intentional", info.Intentional,
			)
		},
		OnError: func(e *apperr.Error) {
			logger.Warn("stream error", "code", e.Code, "message", e.Message)
		},
		OnStateChange: func(from, to connection.State) {
			logger.Debug("stream state", "from", from.String(), "to", to.String())
		},
	}
}

// healthFunc is healthy while the stream is open.
func healthFunc(mgr *connection.Manager) metrics.HealthFunc {
	return func() (bool, string) {
		st := mgr.Status()
		body := fmt.Sprintf("state=%s attempts=%d errored=%t", st.State, st.Attempts, st.Errored)
		return st.State == connection.StateOpen, body
	}
}

func flushLoop(ctx context.Context, r *failure.Reporter, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = config.DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(r.Pending()) == 0 {
				continue
			}
			if n, err := r.Flush(ctx); err != nil {
				logger.Debug("flush incomplete", "delivered", n, "error", err)
			}
		}
	}
}

// printer writes events as indented envelopes. Handlers for different
// channels may run on different reconnect sessions, so writes are serialized.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) print(ev eventbus.Event) {
	out, err := formatEvent(ev)
	if err != nil {
		slog.Warn("could not format event", "channel", ev.Channel(), "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, out)
}

func formatEvent(ev eventbus.Event) (string, error) {
	frame, err := eventbus.Encode(ev)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s ---\n", ev.Channel())
	if err := json.Indent(&buf, frame, "", "  "); err != nil {
		return "", err
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
