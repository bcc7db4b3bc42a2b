package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// DefaultHTTPURL is the local logger endpoint.
const DefaultHTTPURL = "http://127.0.0.1:8788/log"

// HTTP POSTs each entry as a JSON object. There is no retry: a failed
// request is reported and the entry is gone.
type HTTP struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// HTTPOption configures an HTTP sink.
type HTTPOption func(*HTTP)

// WithHTTPClient sets a custom client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates an HTTP sink targeting url (DefaultHTTPURL when empty).
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	if url == "" {
		url = DefaultHTTPURL
	}
	h := &HTTP{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTP) Deliver(ctx context.Context, entry turn.LogEntry) error {
	body, err := turn.MarshalEntry(entry)
	if err != nil {
		return fmt.Errorf("http sink: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http sink: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http sink: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http sink: status %d", resp.StatusCode)
	}
	h.logger.Debug("http sink: delivered", "status", resp.StatusCode, "platform", entry.Platform)
	return nil
}

func (h *HTTP) Close() error { return nil }
