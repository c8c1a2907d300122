package enhance

import "github.com/PuerkitoBio/goquery"

// TagExternalLinks makes every external anchor open in a new browsing context.
func (e *Enhancer) TagExternalLinks(root *goquery.Selection) int {
	links := root.FindMatcher(e.sel.externalLinks)
	links.SetAttr("target", e.markers.ExternalTarget)
	return links.Length()
}
