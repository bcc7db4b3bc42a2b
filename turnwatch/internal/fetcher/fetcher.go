// Package fetcher is the browserless path: one HTTP GET of a page (a
// shared conversation link, typically) parsed into a complete document.
// It only helps when the provider renders turns server-side; Sufficient
// tells the caller when the body is an empty client-rendered shell.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
)

// MaxBody caps the bytes read from a response.
const MaxBody = 10 << 20

// Result is the outcome of a fetch.
type Result struct {
	Document   *dom.Document
	StatusCode int
	Size       int
	// Sufficient is false when the page looks like a client-rendered shell
	// that needs a browser.
	Sufficient bool
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs url and parses the body. Non-2xx statuses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetcher: %s: status %d", url, resp.StatusCode)
	}

	cr := &countingReader{r: io.LimitReader(resp.Body, MaxBody)}
	doc, err := dom.Parse(cr)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	res := &Result{Document: doc, StatusCode: resp.StatusCode, Size: cr.n}
	doc.View(func(n *html.Node) { res.Sufficient = Sufficient(n) })

	f.logger.Debug("fetcher: fetched",
		"url", url, "status", resp.StatusCode,
		"size", cr.n, "sufficient", res.Sufficient)
	return res, nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
