// CLAUDE:SUMMARY CLI entry point for turnsink: local HTTP receiver appending turn entries to an NDJSON file.
// Command turnsink receives turnwatch entries on POST /log and appends
// them to an NDJSON file.
//
// Usage:
//
//	turnsink                                  # 127.0.0.1:8788, conversations.ndjson
//	turnsink -addr :9000 -out /data/chat.ndjson
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/chatscribe/turnsink"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8788", "listen address")
	out := flag.String("out", turnsink.DefaultPath, "NDJSON output file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *out); err != nil {
		logger.Error("turnsink: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, out string) error {
	s, err := turnsink.New(out, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("turnsink: listening", "addr", addr, "out", out)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("turnsink: stopped", "lines", s.Lines())
	return nil
}
