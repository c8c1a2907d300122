package enhance

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// NormalizeCodeBlocks moves the highlight and line-number markers from a code
// block's container onto the block itself. Some generators drop the class from
// the authored <pre> and leave it on the wrapper, where the highlighter never
// looks. Returns the number of blocks that received a marker.
func (e *Enhancer) NormalizeCodeBlocks(root *goquery.Selection) int {
	moved := make(map[*html.Node]struct{})
	for _, pass := range []struct {
		blocks cascadia.Selector
		class  string
	}{
		{e.sel.highlightBlocks, e.markers.Highlight},
		{e.sel.lineNumberBlocks, e.markers.LineNumbers},
	} {
		// Matches are collected before mutating: the container loses its
		// marker as soon as its first block is handled.
		root.FindMatcher(pass.blocks).Each(func(_ int, block *goquery.Selection) {
			block.Parent().RemoveClass(pass.class)
			AddClass(block, pass.class)
			moved[block.Get(0)] = struct{}{}
		})
	}
	return len(moved)
}
