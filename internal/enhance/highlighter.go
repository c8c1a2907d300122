package enhance

import "github.com/PuerkitoBio/goquery"

// Highlighter is the syntax highlighting collaborator, invoked once per page
// after the markup has been normalized with every <pre> carrying the
// highlight marker. Implementations must skip blocks they already processed
// so that a second pass over the same page is harmless.
type Highlighter interface {
	Highlight(blocks *goquery.Selection, markers Markers) (int, error)
}

// NopHighlighter leaves highlighting to the browser-side script.
type NopHighlighter struct{}

// Highlight implements Highlighter.
func (NopHighlighter) Highlight(*goquery.Selection, Markers) (int, error) {
	return 0, nil
}
