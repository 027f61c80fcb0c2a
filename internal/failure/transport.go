package failure

import (
	"context"
	"io"
	"net/http"

	"github.com/rickgao/threatstream/internal/apperr"
)

// roundTripper reports failed requests made through next.
type roundTripper struct {
	next http.RoundTripper
	h    *Handle
}

// RoundTripper wraps next so that failures are reported. 4xx responses are
// reported and returned untouched. 5xx responses are reported, their body is
// closed and the *apperr.Error is returned instead. Transport errors are
// reported as NETWORK_ERROR and returned. Wrapping an already wrapped
// transport returns it unchanged.
func (h *Handle) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if _, ok := next.(*roundTripper); ok {
		return next
	}
	return &roundTripper{next: next, h: h}
}

// WrapClient returns a shallow copy of c whose transport is wrapped. A nil c
// wraps a zero client.
func (h *Handle) WrapClient(c *http.Client) *http.Client {
	var wrapped http.Client
	if c != nil {
		wrapped = *c
	}
	wrapped.Transport = h.RoundTripper(wrapped.Transport)
	return &wrapped
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Reporting outlives a cancelled request.
	ctx := context.WithoutCancel(req.Context())

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		e := apperr.Network(err).Merge(map[string]any{
			"method": req.Method,
			"url":    req.URL.String(),
		})
		rt.h.reporter.Report(ctx, e)
		return nil, e
	}

	if resp.StatusCode < 400 {
		return resp, nil
	}

	e := apperr.FromResponse(resp)
	rt.h.reporter.Report(ctx, e)

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, e
	}
	return resp, nil
}
