package highlight_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/pagefix/internal/enhance"
	"github.com/euforicio/pagefix/internal/highlight"
)

func newEnhancer(t *testing.T) *enhance.Enhancer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hl, err := highlight.New(logger, highlight.Options{Style: "monokai"})
	if err != nil {
		t.Fatalf("highlight.New returned error: %v", err)
	}
	e, err := enhance.New(enhance.Options{Markers: enhance.DefaultMarkers(), Highlighter: hl}, logger)
	if err != nil {
		t.Fatalf("enhance.New returned error: %v", err)
	}
	return e
}

func TestHighlightMarkedBlocks(t *testing.T) {
	t.Parallel()
	e := newEnhancer(t)

	out, rep, err := e.ProcessFragment(`<div class="prettyprint"><pre class="lang-go">package main

func main() {}
</pre></div><pre>plain</pre>`)
	if err != nil {
		t.Fatalf("ProcessFragment returned error: %v", err)
	}
	if rep.Highlighted != 1 {
		t.Fatalf("expected 1 highlighted block, got %d", rep.Highlighted)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	block := doc.Find("pre.prettyprint")
	if !block.HasClass(highlight.DoneClass) || !block.HasClass("chroma") {
		t.Fatalf("expected highlighted block classes, got %q", block.AttrOr("class", ""))
	}
	if block.Find("span.kd, span.kn").Length() == 0 {
		t.Fatalf("expected keyword spans in highlighted block, got %s", out)
	}
	if !strings.Contains(block.Text(), "func main()") {
		t.Fatalf("expected source text preserved, got %q", block.Text())
	}
	if plain := doc.Find("pre").Last(); plain.Find("span").Length() != 0 {
		t.Fatalf("expected unmarked block untouched")
	}
}

func TestHighlightSkipsProcessedBlocks(t *testing.T) {
	t.Parallel()
	e := newEnhancer(t)

	first, _, err := e.ProcessFragment(`<pre class="prettyprint lang-python">print("hi")</pre>`)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, rep, err := e.ProcessFragment(first)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if rep.Highlighted != 0 {
		t.Fatalf("expected no blocks highlighted twice, got %d", rep.Highlighted)
	}
	if first != second {
		t.Fatalf("second pass changed output:\nfirst  %s\nsecond %s", first, second)
	}
}

func TestHighlightLineNumbers(t *testing.T) {
	t.Parallel()
	e := newEnhancer(t)

	out, _, err := e.ProcessFragment(`<div class="prettyprint linenums"><pre class="lang-go">a := 1
b := 2
</pre></div>`)
	if err != nil {
		t.Fatalf("ProcessFragment returned error: %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	block := doc.Find("pre")
	if cls := block.AttrOr("class", ""); cls != "lang-go prettyprint linenums prettyprinted chroma" {
		t.Fatalf("unexpected block classes %q", cls)
	}
	var numbers []string
	block.Find("span.ln").Each(func(_ int, s *goquery.Selection) {
		numbers = append(numbers, strings.TrimSpace(s.Text()))
	})
	if strings.Join(numbers, ",") != "1,2" {
		t.Fatalf("expected line numbers 1,2, got %v in %s", numbers, out)
	}
	if block.Find("pre, code").Length() != 0 {
		t.Fatalf("expected no nested pre or code wrapper, got %s", out)
	}
}

func TestHighlightWithoutLineNumbersKeepsLines(t *testing.T) {
	t.Parallel()
	e := newEnhancer(t)

	out, _, err := e.ProcessFragment(`<pre class="prettyprint lang-go">a := 1</pre>`)
	if err != nil {
		t.Fatalf("ProcessFragment returned error: %v", err)
	}
	if strings.Contains(out, `class="ln"`) {
		t.Fatalf("expected no line numbers without the marker, got %s", out)
	}
	if !strings.Contains(out, `class="line"`) {
		t.Fatalf("expected line spans, got %s", out)
	}
}

func TestNewRejectsUnknownStyle(t *testing.T) {
	t.Parallel()
	_, err := highlight.New(nil, highlight.Options{Style: "no-such-style"})
	if !errors.Is(err, highlight.ErrUnknownStyle) {
		t.Fatalf("expected ErrUnknownStyle, got %v", err)
	}
}

func TestWriteCSS(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := highlight.WriteCSS(&buf, ""); err != nil {
		t.Fatalf("WriteCSS returned error: %v", err)
	}
	if !strings.Contains(buf.String(), ".chroma") {
		t.Fatalf("expected chroma rules in stylesheet, got %s", buf.String())
	}
}
