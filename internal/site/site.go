// Package site applies page enhancements across a generated site tree.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/euforicio/pagefix/internal/enhance"
)

// Options configure a processing run.
type Options struct {
	Root      string
	OutputDir string // empty = rewrite pages in place
	Include   []string
	Exclude   []string
	Workers   int
	DryRun    bool
}

// Summary describes a completed run.
type Summary struct {
	Report   enhance.Report `json:"report"`
	Pages    int            `json:"pages"`
	Changed  int            `json:"changed"`
	Copied   int            `json:"copied"`
	Failed   []string       `json:"failed,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Result is the outcome of processing a single page.
type Result struct {
	Report  enhance.Report
	Output  []byte
	Changed bool
	Written bool
}

// Processor walks a site and enhances every selected page.
type Processor struct {
	enhancer *enhance.Enhancer
	selector *Selector
	logger   *slog.Logger
	root     string
	output   string
	dryRun   bool
	workers  int
}

var defaultExcludedDirs = []string{
	"node_modules",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
}

// New constructs a processor for opts.
func New(enhancer *enhance.Enhancer, logger *slog.Logger, opts Options) (*Processor, error) {
	if enhancer == nil {
		return nil, errors.New("enhancer must be provided")
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("root directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	output := ""
	if strings.TrimSpace(opts.OutputDir) != "" {
		if output, err = filepath.Abs(opts.OutputDir); err != nil {
			return nil, fmt.Errorf("resolve output: %w", err)
		}
		if output == root {
			output = ""
		}
	}

	sel, err := NewSelector(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Processor{
		enhancer: enhancer,
		selector: sel,
		logger:   logger.With("component", "site"),
		root:     root,
		output:   output,
		dryRun:   opts.DryRun,
		workers:  workers,
	}, nil
}

// Root returns the absolute root directory.
func (p *Processor) Root() string {
	return p.root
}

// OutputDir returns the absolute output directory, or "" for in-place runs.
func (p *Processor) OutputDir() string {
	return p.output
}

// Selects reports whether the slash-separated path relative to root is a page.
func (p *Processor) Selects(rel string) bool {
	return p.selector.Match(rel)
}

// Run processes every selected page under the root.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	pages, others, err := p.collect(ctx)
	if err != nil {
		return Summary{}, err
	}

	if p.output != "" && !p.dryRun {
		if err := os.MkdirAll(p.output, 0o755); err != nil { //nolint:gosec // standard directory permissions
			return Summary{}, fmt.Errorf("create output: %w", err)
		}
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	summary.Pages = len(pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, rel := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.ProcessFile(gctx, rel)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var pageErr *PageError
				if errors.As(err, &pageErr) {
					p.logger.Warn("page skipped", slog.String("path", rel), slog.Any("err", pageErr.Err))
					summary.Failed = append(summary.Failed, rel)
					return nil
				}
				return err
			}
			summary.Report.Add(res.Report)
			if res.Changed {
				summary.Changed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	sort.Strings(summary.Failed)

	if p.output != "" && !p.dryRun {
		for _, rel := range others {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if err := copyFile(filepath.Join(p.root, filepath.FromSlash(rel)), p.Target(rel)); err != nil {
				return summary, fmt.Errorf("copy %s: %w", rel, err)
			}
			summary.Copied++
		}
	}

	summary.Duration = time.Since(start)
	p.logger.Info("site processed",
		slog.Int("pages", summary.Pages),
		slog.Int("changed", summary.Changed),
		slog.Int("copied", summary.Copied),
		slog.Int("failed", len(summary.Failed)),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

// PageError wraps failures confined to one page: unreadable markup or a
// strict-mode tab mismatch. Runs record them and continue.
type PageError struct {
	Path string
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %s: %v", e.Path, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// ProcessFile enhances the page at rel (slash-separated, relative to root)
// and writes the result unless the run is a dry run.
func (p *Processor) ProcessFile(ctx context.Context, rel string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	src := filepath.Join(p.root, filepath.FromSlash(rel))
	info, err := os.Stat(src)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	raw, err := os.ReadFile(src) //nolint:gosec // src is built from the validated root
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", rel, err)
	}

	var buf bytes.Buffer
	rep, err := p.enhancer.ProcessDocument(bytes.NewReader(raw), &buf)
	if err != nil {
		return Result{}, &PageError{Path: rel, Err: err}
	}

	// Pages nothing matched keep their original bytes rather than the
	// re-serialized tree.
	res := Result{Report: rep, Output: raw}
	if rep.Touched() && !bytes.Equal(raw, buf.Bytes()) {
		res.Output = buf.Bytes()
		res.Changed = true
	}
	if p.dryRun {
		return res, nil
	}
	if p.output == "" && !res.Changed {
		return res, nil
	}

	dest := p.Target(rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return res, fmt.Errorf("ensure directory for %s: %w", rel, err)
	}
	if err := writeFileAtomic(dest, res.Output, info.Mode().Perm()); err != nil {
		return res, fmt.Errorf("write %s: %w", rel, err)
	}
	res.Written = true
	p.logger.Debug("page written", slog.String("path", rel), slog.Bool("changed", res.Changed))
	return res, nil
}

// Target returns the absolute path a page at rel is written to.
func (p *Processor) Target(rel string) string {
	base := p.root
	if p.output != "" {
		base = p.output
	}
	return filepath.Join(base, filepath.FromSlash(rel))
}

// Rel converts an absolute path under root to the slash-separated form used
// for selection. ok is false for paths outside root.
func (p *Processor) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// collect returns selected pages and, for runs with an output directory, the
// remaining files to copy. Both are sorted.
func (p *Processor) collect(ctx context.Context) (pages, others []string, err error) {
	err = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == p.root {
				return nil
			}
			if p.output != "" && path == p.output {
				return filepath.SkipDir
			}
			if isExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, ok := p.Rel(path)
		if !ok {
			return nil
		}
		if p.selector.Match(rel) {
			pages = append(pages, rel)
		} else if p.output != "" {
			others = append(others, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", p.root, err)
	}
	sort.Strings(pages)
	sort.Strings(others)
	return pages, others, nil
}

// IsExcludedDir reports whether a directory name is never descended into.
func IsExcludedDir(name string) bool {
	return isExcludedDir(name)
}

func isExcludedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, excluded := range defaultExcludedDirs {
		if strings.EqualFold(name, excluded) {
			return true
		}
	}
	return false
}

// Selector matches slash-separated relative paths against include and exclude
// globs. Patterns use doublestar syntax ("**/*.html").
type Selector struct {
	include []string
	exclude []string
}

// NewSelector validates the patterns.
func NewSelector(include, exclude []string) (*Selector, error) {
	s := &Selector{}
	for _, set := range []struct {
		dst *[]string
		src []string
	}{
		{&s.include, include},
		{&s.exclude, exclude},
	} {
		for _, pattern := range set.src {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid glob pattern %q", pattern)
			}
			*set.dst = append(*set.dst, pattern)
		}
	}
	if len(s.include) == 0 {
		return nil, errors.New("at least one include pattern is required")
	}
	return s, nil
}

// Match reports whether rel is included and not excluded.
func (s *Selector) Match(rel string) bool {
	return matchAny(s.include, rel) && !matchAny(s.exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// writeFileAtomic replaces target with data via a temp file in the same
// directory. The result carries perm, the mode of the page it was read from.
func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".pagefix-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replace page: %w", err)
	}
	keep = true
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	data, err := os.ReadFile(src) //nolint:gosec // src is walked from the validated root
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644) //nolint:gosec // standard file permissions
}
