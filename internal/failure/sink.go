package failure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rickgao/threatstream/internal/apperr"
)

// Report is one failure as delivered to a sink.
type Report struct {
	ID        string        `json:"-"`
	Error     *apperr.Error `json:"error"`
	UserAgent string        `json:"userAgent"`
	URL       string        `json:"url"`
	Timestamp time.Time     `json:"timestamp"`
}

// Sink delivers reports somewhere durable.
type Sink interface {
	Send(ctx context.Context, r Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Send(ctx context.Context, r Report) error {
	return f(ctx, r)
}

// HTTPSink POSTs reports as JSON. Any 2xx response is success.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink posting to endpoint. client must not be wrapped
// by a Handle, or failed reports would report themselves.
func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

func (s *HTTPSink) Send(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Network(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.FromResponse(resp)
	}
	return nil
}

// MultiSink sends every report to each of its sinks. A report counts as
// delivered when at least one sink accepted it, so a flush never duplicates
// it into the sinks that already have it.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, r Report) error {
	if len(m) == 0 {
		return errors.New("no sinks configured")
	}

	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}
