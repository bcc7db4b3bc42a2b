// CLAUDE:SUMMARY CLI entry point for turnwatch: live chat-turn capture from config, a single URL, or offline HTML.
// Command turnwatch captures chat turns from ChatGPT, Claude and Gemini
// pages and forwards them to the configured sinks.
//
// Usage:
//
//	turnwatch -config turnwatch.yaml                        # observe pages from YAML config
//	turnwatch -url https://claude.ai/chat/x -platform claude  # observe one page in Chrome
//	turnwatch -url https://... -platform chatgpt -fetch       # fetch once over HTTP
//	turnwatch -file saved.html -platform gemini               # scan saved HTML, print entries
//	turnwatch -file saved.html -platform gemini -probe        # show what the adapter matches
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/chatscribe/turnwatch"
)

func main() {
	configPath := flag.String("config", "", "path to turnwatch.yaml config file")
	pageURL := flag.String("url", "", "observe a single URL")
	platform := flag.String("platform", "", "platform of -url or -file: chatgpt, claude, gemini")
	fetchOnly := flag.Bool("fetch", false, "with -url: fetch over HTTP and scan once instead of using Chrome")
	file := flag.String("file", "", "scan a saved HTML file and print its entries")
	probe := flag.Bool("probe", false, "with -file: print the adapter probe report instead of entries")
	profileDir := flag.String("profile-dir", "", "Chrome user data dir (logged-in profile)")
	database := flag.String("db", "", "SQLite database with a chat_pages table")
	stdout := flag.Bool("stdout", false, "also write entries to stdout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := turnwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = turnwatch.LoadConfigFile(*configPath); err != nil {
			logger.Error("turnwatch: fatal", "error", err)
			os.Exit(1)
		}
	}
	if *profileDir != "" {
		cfg.Browser.ProfileDir = *profileDir
	}
	if *database != "" {
		cfg.Database = *database
	}

	var err error
	switch {
	case *file != "":
		err = runFile(logger, cfg, *file, *platform, *probe)
	case *pageURL != "":
		err = runPage(ctx, logger, cfg, *pageURL, *platform, *fetchOnly, *stdout)
	case *configPath != "" || *database != "":
		err = runConfig(ctx, logger, cfg, *stdout)
	default:
		fmt.Fprintln(os.Stderr, "usage: turnwatch -config <file> | -url <url> -platform <p> [-fetch] | -file <html> -platform <p> [-probe]")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("turnwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func runFile(logger *slog.Logger, cfg *turnwatch.Config, path, platform string, probe bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Offline scans print to stdout only.
	cfg.Sinks = []turnwatch.SinkConfig{{Type: "stdout"}}
	w, err := turnwatch.New(cfg, logger)
	if err != nil {
		return err
	}
	defer w.Stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if probe {
		rep, err := w.Probe(platform, f)
		if err != nil {
			return err
		}
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	entries, err := w.ScanHTML(platform, f)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func runPage(ctx context.Context, logger *slog.Logger, cfg *turnwatch.Config, url, platform string, fetchOnly, stdout bool) error {
	var extra []turnwatch.Sink
	if stdout {
		extra = append(extra, turnwatch.NewStdoutSink(nil))
	}
	w, err := turnwatch.New(cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer w.Stop()

	if fetchOnly {
		_, err := w.ScanURL(ctx, platform, url)
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := w.ObservePage(ctx, turnwatch.PageConfig{ID: platform + "-cli", URL: url, Platform: platform}); err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	<-ctx.Done()
	return nil
}

func runConfig(ctx context.Context, logger *slog.Logger, cfg *turnwatch.Config, stdout bool) error {
	var extra []turnwatch.Sink
	if stdout {
		extra = append(extra, turnwatch.NewStdoutSink(nil))
	}
	w, err := turnwatch.New(cfg, logger, extra...)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("turnwatch: started", "platforms", w.Platforms(), "pages", len(cfg.Pages))
	<-ctx.Done()
	w.Stop()
	return nil
}
