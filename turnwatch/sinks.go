package turnwatch

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/config"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/sink"
)

// Sink is the output interface for observed turns.
type Sink = sink.Sink

// EntryFunc is called for each entry by a callback sink.
type EntryFunc = sink.EntryFunc

// NewStdoutSink creates a JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewHTTPSink creates a sink POSTing each entry to url, without retry.
func NewHTTPSink(url string, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return sink.NewHTTP(url, sink.WithHTTPLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn EntryFunc) Sink {
	return sink.NewCallback(fn)
}

func buildSinks(cfgs []config.SinkConfig, logger *slog.Logger) ([]Sink, error) {
	out := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		case "http":
			out = append(out, NewHTTPSink(c.URL, logger))
		default:
			return nil, fmt.Errorf("turnwatch: sinks[%d]: unknown type %q", i, c.Type)
		}
	}
	return out, nil
}
