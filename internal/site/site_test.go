package site_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"github.com/euforicio/pagefix/internal/enhance"
	"github.com/euforicio/pagefix/internal/site"
)

var pagePatterns = []string{"**/*.html", "**/*.htm"}

func newProcessor(t *testing.T, opts site.Options, strict bool) *site.Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := enhance.New(enhance.Options{Markers: enhance.DefaultMarkers(), Strict: strict}, logger)
	if err != nil {
		t.Fatalf("enhance.New returned error: %v", err)
	}
	if opts.Include == nil {
		opts.Include = pagePatterns
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	p, err := site.New(e, logger, opts)
	if err != nil {
		t.Fatalf("site.New returned error: %v", err)
	}
	return p
}

func copySite(t *testing.T) string {
	t.Helper()
	src := filepath.Join("..", "..", "testdata", "site")
	dst := t.TempDir()
	if err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	}); err != nil {
		t.Fatalf("copy site: %v", err)
	}
	return dst
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func loadDoc(t *testing.T, path string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(readFile(t, path)))
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return doc
}

func TestRunInPlace(t *testing.T) {
	t.Parallel()
	root := copySite(t)
	plainBefore := readFile(t, filepath.Join(root, "guide", "plain.html"))
	skippedBefore := readFile(t, filepath.Join(root, "node_modules", "pkg", "readme.html"))

	p := newProcessor(t, site.Options{Root: root}, false)
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Pages != 3 || summary.Changed != 2 || summary.Copied != 0 || len(summary.Failed) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Report.TabGroups != 1 || summary.Report.Tabs != 2 || summary.Report.Tables != 1 || summary.Report.Links != 1 {
		t.Fatalf("unexpected report: %+v", summary.Report)
	}

	index := loadDoc(t, filepath.Join(root, "index.html"))
	if cls := index.Find("pre").AttrOr("class", ""); cls != "prettyprint linenums" {
		t.Fatalf("unexpected pre classes: %q", cls)
	}
	if target := index.Find("a.externalLink").AttrOr("target", ""); target != "_blank" {
		t.Fatalf("unexpected link target: %q", target)
	}

	tabs := loadDoc(t, filepath.Join(root, "guide", "tabs.html"))
	var ids []string
	tabs.Find(".tab-pane").Each(func(_ int, s *goquery.Selection) {
		ids = append(ids, s.AttrOr("id", ""))
	})
	if diff := cmp.Diff([]string{"tab-0-0", "tab-0-1"}, ids); diff != "" {
		t.Fatalf("pane ids mismatch (-want +got):\n%s", diff)
	}

	if got := readFile(t, filepath.Join(root, "guide", "plain.html")); got != plainBefore {
		t.Fatalf("expected untouched page to keep its bytes, got %s", got)
	}
	if got := readFile(t, filepath.Join(root, "node_modules", "pkg", "readme.html")); got != skippedBefore {
		t.Fatalf("expected node_modules to be skipped")
	}

	again, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if again.Changed != 0 {
		t.Fatalf("expected second run to change nothing, got %d", again.Changed)
	}
}

func TestRunToOutputDir(t *testing.T) {
	t.Parallel()
	root := copySite(t)
	out := filepath.Join(t.TempDir(), "public")
	indexBefore := readFile(t, filepath.Join(root, "index.html"))

	p := newProcessor(t, site.Options{Root: root, OutputDir: out}, false)
	if got, want := p.Target("guide/tabs.html"), filepath.Join(out, "guide", "tabs.html"); got != want {
		t.Fatalf("Target = %q, want %q", got, want)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Pages != 3 || summary.Copied != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if got := readFile(t, filepath.Join(root, "index.html")); got != indexBefore {
		t.Fatalf("expected source page untouched")
	}
	for _, rel := range []string{"index.html", "guide/tabs.html", "guide/plain.html", "css/site.css"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("expected %s in output: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "node_modules")); !os.IsNotExist(err) {
		t.Fatalf("expected excluded directory not to be copied, stat err=%v", err)
	}
	if cls := loadDoc(t, filepath.Join(out, "index.html")).Find("table").AttrOr("class", ""); cls != "bodyTable table table-striped table-bordered" {
		t.Fatalf("unexpected table classes in output: %q", cls)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	t.Parallel()
	root := copySite(t)
	before := readFile(t, filepath.Join(root, "index.html"))

	p := newProcessor(t, site.Options{Root: root, DryRun: true}, false)
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Changed != 2 {
		t.Fatalf("expected 2 pages reported as changing, got %d", summary.Changed)
	}
	if got := readFile(t, filepath.Join(root, "index.html")); got != before {
		t.Fatalf("dry run modified index.html")
	}
}

func TestRunStrictRecordsFailedPages(t *testing.T) {
	t.Parallel()
	root := copySite(t)
	bad := `<html><body><div class="tab-group"><ul><li>A</li><li>B</li></ul><div class="tab-pane">a</div></div></body></html>`
	if err := os.WriteFile(filepath.Join(root, "guide", "broken.html"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}

	p := newProcessor(t, site.Options{Root: root}, true)
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"guide/broken.html"}, summary.Failed); diff != "" {
		t.Fatalf("failed pages mismatch (-want +got):\n%s", diff)
	}
	if summary.Changed != 2 {
		t.Fatalf("expected remaining pages processed, got %d changed", summary.Changed)
	}
	if got := readFile(t, filepath.Join(root, "guide", "broken.html")); got != bad {
		t.Fatalf("expected failed page left as is")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()
	root := copySite(t)
	p := newProcessor(t, site.Options{Root: root}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestSelector(t *testing.T) {
	t.Parallel()
	sel, err := site.NewSelector([]string{"**/*.html"}, []string{"apidocs/**", "**/*-frame.html"})
	if err != nil {
		t.Fatalf("NewSelector returned error: %v", err)
	}
	tests := map[string]bool{
		"index.html":                true,
		"guide/setup.html":          true,
		"apidocs/index.html":        false,
		"guide/overview-frame.html": false,
		"css/site.css":              false,
	}
	for rel, want := range tests {
		if got := sel.Match(rel); got != want {
			t.Errorf("Match(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestNewSelectorRejectsBadPatterns(t *testing.T) {
	t.Parallel()
	if _, err := site.NewSelector([]string{"[unclosed"}, nil); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
	if _, err := site.NewSelector([]string{" "}, nil); err == nil {
		t.Fatalf("expected error for empty include set")
	}
}

func TestNewRequiresDirectory(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(file, []byte("<p>x</p>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := enhance.New(enhance.Options{Markers: enhance.DefaultMarkers()}, nil)
	if err != nil {
		t.Fatalf("enhance.New: %v", err)
	}
	if _, err := site.New(e, nil, site.Options{Root: file, Include: pagePatterns}); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
}

func TestRunInPlaceKeepsFileMode(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not preserved on windows")
	}
	root := copySite(t)
	index := filepath.Join(root, "index.html")
	if err := os.Chmod(index, 0o600); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	p := newProcessor(t, site.Options{Root: root}, false)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(readFile(t, index), `class="prettyprint linenums"`) {
		t.Fatalf("expected index.html to be rewritten")
	}
	info, err := os.Stat(index)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Fatalf("expected mode 0600 after rewrite, got %o", mode)
	}
}
