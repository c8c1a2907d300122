package enhance

import "github.com/PuerkitoBio/goquery"

// StyleTables clears the border attribute of every body table and adds the
// presentation classes. Returns the number of tables styled.
func (e *Enhancer) StyleTables(root *goquery.Selection) int {
	tables := root.FindMatcher(e.sel.bodyTables)
	AddClass(tables.RemoveAttr("border"), e.markers.TableClasses...)
	return tables.Length()
}
