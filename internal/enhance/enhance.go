// Package enhance post-processes generated documentation pages: it restores
// highlighter classes on code blocks, styles body tables, builds tab widgets
// from flat lists and opens external links in a new browsing context.
//
// Every transformation takes the root it operates on explicitly, so callers
// can run them over a full document or over a parsed fragment.
package enhance

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrTabMismatch is returned in strict mode when a tab group has a different
// number of list items and content panes.
var ErrTabMismatch = errors.New("tab items and panes differ")

// Report counts what a pass touched.
type Report struct {
	CodeBlocks  int           `json:"codeBlocks"`
	Tables      int           `json:"tables"`
	TabGroups   int           `json:"tabGroups"`
	Tabs        int           `json:"tabs"`
	Links       int           `json:"links"`
	Highlighted int           `json:"highlighted"`
	Mismatches  []TabMismatch `json:"mismatches,omitempty"`
}

// TabMismatch records a tab group whose list items and panes do not pair up.
type TabMismatch struct {
	Group int `json:"group"`
	Items int `json:"items"`
	Panes int `json:"panes"`
}

// Add folds other into r.
func (r *Report) Add(other Report) {
	r.CodeBlocks += other.CodeBlocks
	r.Tables += other.Tables
	r.TabGroups += other.TabGroups
	r.Tabs += other.Tabs
	r.Links += other.Links
	r.Highlighted += other.Highlighted
	r.Mismatches = append(r.Mismatches, other.Mismatches...)
}

// Touched reports whether any transformation matched an element.
func (r Report) Touched() bool {
	return r.CodeBlocks+r.Tables+r.TabGroups+r.Links+r.Highlighted > 0
}

// Options configure an Enhancer.
type Options struct {
	Markers     Markers
	Highlighter Highlighter
	// Strict turns tab count mismatches into ErrTabMismatch.
	Strict bool
}

// Enhancer applies the page transformations with a fixed marker vocabulary.
type Enhancer struct {
	markers     Markers
	sel         *matchers
	highlighter Highlighter
	strict      bool
	logger      *slog.Logger
}

// New validates the markers and returns an Enhancer. A nil Highlighter leaves
// highlighting to the browser.
func New(opts Options, logger *slog.Logger) (*Enhancer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sel, err := opts.Markers.compile()
	if err != nil {
		return nil, err
	}
	hl := opts.Highlighter
	if hl == nil {
		hl = NopHighlighter{}
	}
	return &Enhancer{
		markers:     opts.Markers,
		sel:         sel,
		highlighter: hl,
		strict:      opts.Strict,
		logger:      logger.With("component", "enhance"),
	}, nil
}

// Apply runs every transformation over root, then hands the page to the
// highlighter once.
func (e *Enhancer) Apply(root *goquery.Selection) (Report, error) {
	var rep Report
	if root == nil || root.Length() == 0 {
		return rep, nil
	}

	rep.CodeBlocks = e.NormalizeCodeBlocks(root)
	rep.Tables = e.StyleTables(root)
	groups, tabs, mismatches := e.BuildTabGroups(root)
	rep.TabGroups, rep.Tabs, rep.Mismatches = groups, tabs, mismatches
	rep.Links = e.TagExternalLinks(root)

	for _, m := range mismatches {
		e.logger.Warn("tab group items and panes differ",
			slog.Int("group", m.Group),
			slog.Int("items", m.Items),
			slog.Int("panes", m.Panes))
	}
	if e.strict && len(mismatches) > 0 {
		m := mismatches[0]
		return rep, fmt.Errorf("%w: group %d has %d items and %d panes", ErrTabMismatch, m.Group, m.Items, m.Panes)
	}

	n, err := e.highlighter.Highlight(root.FindMatcher(e.sel.highlightedBlocks), e.markers)
	rep.Highlighted = n
	if err != nil {
		e.logger.Warn("highlight failed", slog.Any("err", err))
	}
	return rep, nil
}

// ProcessDocument parses a full HTML document from r, enhances it and renders
// the result to w.
func (e *Enhancer) ProcessDocument(r io.Reader, w io.Writer) (Report, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Report{}, fmt.Errorf("parse document: %w", err)
	}
	rep, err := e.Apply(doc.Selection)
	if err != nil {
		return rep, err
	}
	if err := html.Render(w, doc.Nodes[0]); err != nil {
		return rep, fmt.Errorf("render document: %w", err)
	}
	return rep, nil
}

// ProcessFragment enhances a body fragment such as a single generated
// section and returns the rendered fragment.
func (e *Enhancer) ProcessFragment(src string) (string, Report, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return "", Report{}, fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	rep, err := e.Apply(goquery.NewDocumentFromNode(body).Selection)
	if err != nil {
		return "", rep, err
	}

	var buf bytes.Buffer
	for n := body.FirstChild; n != nil; n = n.NextSibling {
		if err := html.Render(&buf, n); err != nil {
			return "", rep, fmt.Errorf("render fragment: %w", err)
		}
	}
	return buf.String(), rep, nil
}
