package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/threatstream/internal/apperr"
	"github.com/rickgao/threatstream/internal/config"
	"github.com/rickgao/threatstream/internal/eventbus"
	"github.com/rickgao/threatstream/internal/failure"
	"github.com/rickgao/threatstream/internal/retry"
)

const statusPath = "/api/status"

func statusCmd() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:     "api",
			Usage:    "backend base URL (e.g. http://localhost:8008)",
			EnvVars:  []string{"STREAMWATCH_API"},
			Required: true,
		},
	}, commonFlags...)

	return &cli.Command{
		Name:  "status",
		Usage: "Fetch the backend health summary once",
		Flags: flags,
		Action: func(c *cli.Context) error {
			cfg, err := statusConfig(c)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Logging, os.Stderr)

			// Reports stay local here unless an endpoint is configured; the
			// command never touches the database.
			handle, err := failure.Install(failureConfig(cfg, logger), failure.WithLogger(logger))
			if err != nil {
				return err
			}
			defer handle.Close()

			client := handle.WrapClient(&http.Client{Timeout: cfg.Reporting.Timeout})
			st, err := fetchStatus(c.Context, client, c.String("api"), retryConfig(cfg.Retry, logger))
			if err != nil {
				return errors.New(describe(apperr.UserView(apperr.From(err), c.Bool("verbose"))))
			}

			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(out))
			return nil
		},
	}
}

// statusConfig loads the config like watch does but does not require a
// stream URL.
func statusConfig(c *cli.Context) (*config.Config, error) {
	if c.String("url") == "" && c.String("config") == "" {
		cfg := config.Default()
		if c.Bool("verbose") {
			cfg.Logging.Level = "debug"
		}
		return cfg, nil
	}
	return loadConfig(c)
}

// fetchStatus GETs the backend health summary, retrying recoverable
// failures with the configured policy. Client errors (4xx) are final.
func fetchStatus(ctx context.Context, client *http.Client, base string, policy retry.Config) (eventbus.SystemStatus, error) {
	url := strings.TrimRight(base, "/") + statusPath

	policy.ShouldRetry = func(e *apperr.Error) bool {
		if status, ok := apperr.HTTPStatus(e.Code); ok && status < 500 {
			return false
		}
		return apperr.IsRecoverable(e)
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (eventbus.SystemStatus, error) {
		var st eventbus.SystemStatus

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return st, apperr.Wrap(err, apperr.CodeClient, "Invalid backend address.", apperr.SeverityLow)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return st, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return st, apperr.FromResponse(resp)
		}

		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return st, apperr.Wrap(err, apperr.CodeParse, "The server sent a response that could not be read.", apperr.SeverityMedium)
		}
		slog.Debug("backend status fetched", "status", st.Status)
		return st, nil
	})
}

func describe(v apperr.View) string {
	var b strings.Builder
	b.WriteString(v.Title)
	if v.Details != "" {
		b.WriteString(" (")
		b.WriteString(v.Details)
		b.WriteString(")")
	}
	for _, a := range v.Actions {
		b.WriteString("\n  - ")
		b.WriteString(a)
	}
	return b.String()
}
