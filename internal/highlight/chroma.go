// Package highlight renders marked code blocks server-side with Chroma, as an
// alternative to the browser-side prettify pass.
package highlight

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/euforicio/pagefix/internal/enhance"
)

// DoneClass marks blocks that have already been highlighted. It is the class
// prettify itself uses, so pages highlighted either way are skipped.
const DoneClass = "prettyprinted"

// DefaultStyle is used when no style is configured.
const DefaultStyle = "github"

// ErrUnknownStyle is returned for style names Chroma does not ship.
var ErrUnknownStyle = errors.New("unknown chroma style")

// Chroma highlights code blocks in place using classed spans.
type Chroma struct {
	style  *chroma.Style
	logger *slog.Logger
}

// Options configure the Chroma highlighter.
type Options struct {
	Style string
}

// New returns a highlighter for the given style.
func New(logger *slog.Logger, opts Options) (*Chroma, error) {
	if logger == nil {
		logger = slog.Default()
	}
	style, err := lookupStyle(opts.Style)
	if err != nil {
		return nil, err
	}
	return &Chroma{
		style:  style,
		logger: logger.With("component", "highlight"),
	}, nil
}

// Highlight implements enhance.Highlighter. Blocks that fail to tokenise are
// logged and left untouched.
func (c *Chroma) Highlight(blocks *goquery.Selection, markers enhance.Markers) (int, error) {
	count := 0
	var errs []error
	blocks.Each(func(_ int, block *goquery.Selection) {
		if block.HasClass(DoneClass) {
			return
		}
		out, err := c.render(block, block.HasClass(markers.LineNumbers))
		if err != nil {
			c.logger.Debug("highlight block failed", slog.Any("err", err))
			errs = append(errs, err)
			return
		}
		block.SetHtml(out)
		enhance.AddClass(block, DoneClass, "chroma")
		count++
	})
	return count, errors.Join(errs...)
}

func (c *Chroma) render(block *goquery.Selection, lineNumbers bool) (string, error) {
	source := block.Text()
	lexer := lexerFor(block, source)

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return "", fmt.Errorf("tokenise %s: %w", lexer.Config().Name, err)
	}

	formatter := html.New(
		html.WithClasses(true),
		html.WithLineNumbers(lineNumbers),
		html.WithPreWrapper(existingPre{}),
	)
	var buf bytes.Buffer
	if err := formatter.Format(&buf, c.style, iterator); err != nil {
		return "", fmt.Errorf("format %s: %w", lexer.Config().Name, err)
	}
	return buf.String(), nil
}

// existingPre suppresses chroma's own <pre><code> wrapper: the output goes
// into the page's block. PreventSurroundingPre would also drop line spans.
type existingPre struct{}

func (existingPre) Start(bool, string) string { return "" }
func (existingPre) End(bool) string           { return "" }

// lexerFor picks a lexer from a lang-* or language-* class, falling back to
// content analysis and finally plain text.
func lexerFor(block *goquery.Selection, source string) chroma.Lexer {
	classes := strings.Fields(block.AttrOr("class", ""))
	if code := block.ChildrenFiltered("code"); code.Length() > 0 {
		classes = append(classes, strings.Fields(code.AttrOr("class", ""))...)
	}
	var lexer chroma.Lexer
	for _, class := range classes {
		for _, prefix := range []string{"lang-", "language-"} {
			if name, ok := strings.CutPrefix(class, prefix); ok && lexer == nil {
				lexer = lexers.Get(name)
			}
		}
	}
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// WriteCSS writes the stylesheet matching the classes emitted by Highlight.
func WriteCSS(w io.Writer, styleName string) error {
	style, err := lookupStyle(styleName)
	if err != nil {
		return err
	}
	formatter := html.New(html.WithClasses(true))
	return formatter.WriteCSS(w, style)
}

func lookupStyle(name string) (*chroma.Style, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultStyle
	}
	style, ok := styles.Registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStyle, name)
	}
	return style, nil
}
