// Package main provides the pagefix command, which post-processes the pages
// of a generated documentation site.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/pagefix/internal/buildinfo"
	"github.com/euforicio/pagefix/internal/config"
	"github.com/euforicio/pagefix/internal/enhance"
	"github.com/euforicio/pagefix/internal/highlight"
	"github.com/euforicio/pagefix/internal/site"
	"github.com/euforicio/pagefix/internal/watch"
)

func main() {
	var versionFlag *bool
	cfg, _, err := config.Load("pagefix", os.Args[1:], func(fs *pflag.FlagSet) {
		versionFlag = fs.Bool("version", false, "Print version information and exit")
	})
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		os.Exit(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	// stdout carries page output in --stdin mode, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "pagefix")
	slog.SetDefault(logger)
	logger.Log(context.Background(), slog.LevelInfo-1, "starting pagefix", slog.String("version", buildinfo.Summary()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("pagefix failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	enhancer, err := newEnhancer(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.CSSOut != "" {
		if err := writeCSS(cfg.CSSOut, cfg.Style); err != nil {
			return err
		}
		logger.Info("stylesheet written", slog.String("path", cfg.CSSOut))
	}

	if cfg.Stdin {
		return processStdin(enhancer, cfg.Fragment, os.Stdin, os.Stdout)
	}

	proc, err := site.New(enhancer, logger, site.Options{
		Root:      cfg.RootDir,
		OutputDir: cfg.OutputDir,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
		Workers:   cfg.Workers,
		DryRun:    cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("init processor: %w", err)
	}

	summary, err := proc.Run(ctx)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Printf("%d pages, %d would change, %d failed\n", summary.Pages, summary.Changed, len(summary.Failed))
	}
	if !cfg.Watch {
		if len(summary.Failed) > 0 {
			return fmt.Errorf("%d pages failed", len(summary.Failed))
		}
		return nil
	}

	w, err := watch.New(ctx, proc, logger, watch.Options{})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Error("close watcher", slog.Any("err", err))
		}
	}()

	logger.Info("watching for changes", slog.String("root", proc.Root()))
	for evt := range w.Subscribe(ctx) {
		if evt.Type == watch.EventPageFailed {
			logger.Warn("page failed", slog.String("path", evt.Path), slog.String("err", evt.Error))
		}
	}
	return ctx.Err()
}

func newEnhancer(cfg config.Config, logger *slog.Logger) (*enhance.Enhancer, error) {
	var hl enhance.Highlighter
	if cfg.Highlighter == config.HighlighterChroma {
		c, err := highlight.New(logger, highlight.Options{Style: cfg.Style})
		if err != nil {
			return nil, fmt.Errorf("init highlighter: %w", err)
		}
		hl = c
	}
	enhancer, err := enhance.New(enhance.Options{
		Markers:     cfg.Markers,
		Highlighter: hl,
		Strict:      cfg.Strict,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init enhancer: %w", err)
	}
	return enhancer, nil
}

func processStdin(enhancer *enhance.Enhancer, fragment bool, r io.Reader, w io.Writer) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var out []byte
	var rep enhance.Report
	if fragment {
		var rendered string
		rendered, rep, err = enhancer.ProcessFragment(string(raw))
		out = []byte(rendered)
	} else {
		var buf bytes.Buffer
		rep, err = enhancer.ProcessDocument(bytes.NewReader(raw), &buf)
		out = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("process stdin: %w", err)
	}
	if !rep.Touched() {
		out = raw
	}
	_, err = w.Write(out)
	return err
}

func writeCSS(path, style string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return fmt.Errorf("ensure css directory: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return fmt.Errorf("create css: %w", err)
	}
	if err := highlight.WriteCSS(f, style); err != nil {
		_ = f.Close()
		return fmt.Errorf("write css: %w", err)
	}
	return f.Close()
}
