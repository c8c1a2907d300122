package enhance

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TabID returns the identifier shared by tab item and pane item of group.
func TabID(group, item int) string {
	return fmt.Sprintf("tab-%d-%d", group, item)
}

// BuildTabGroups turns each tab group's flat list and content panes into the
// markup expected by the browser-side tab behaviour. Items and panes are
// paired by position; groups whose counts differ are returned as mismatches
// and still processed positionally.
func (e *Enhancer) BuildTabGroups(root *goquery.Selection) (groups, tabs int, mismatches []TabMismatch) {
	root.FindMatcher(e.sel.tabGroups).Each(func(g int, group *goquery.Selection) {
		items := e.tabItems(group)
		panes := e.owned(group, group.FindMatcher(e.sel.tabPanes))

		items.Each(func(k int, item *goquery.Selection) {
			e.setActive(item, k == 0)
			label := strings.TrimSpace(item.Text())
			item.Empty()
			item.AppendNodes(e.tabLink(g, k, label))
		})
		panes.Each(func(k int, pane *goquery.Selection) {
			pane.SetAttr("id", TabID(g, k))
			e.setActive(pane, k == 0)
		})

		if items.Length() != panes.Length() {
			mismatches = append(mismatches, TabMismatch{Group: g, Items: items.Length(), Panes: panes.Length()})
		}
		groups++
		tabs += items.Length()
	})
	return groups, tabs, mismatches
}

// tabItems styles the group's list as a tab bar and returns its items.
func (e *Enhancer) tabItems(group *goquery.Selection) *goquery.Selection {
	list := e.owned(group, group.FindMatcher(e.sel.tabLists)).First()
	if list.Length() == 0 {
		return list
	}
	AddClass(list, e.markers.TabBarClasses...)
	return list.ChildrenFiltered("li")
}

// owned drops matches that belong to a tab group nested inside group.
func (e *Enhancer) owned(group, matches *goquery.Selection) *goquery.Selection {
	owner := group.Get(0)
	return matches.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Parent().ClosestMatcher(e.sel.tabGroups).Get(0) == owner
	})
}

func (e *Enhancer) setActive(s *goquery.Selection, active bool) {
	if active {
		AddClass(s, e.markers.Active)
		return
	}
	s.RemoveClass(e.markers.Active)
}

func (e *Enhancer) tabLink(group, item int, label string) *html.Node {
	a := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: "href", Val: "#" + TabID(group, item)},
			{Key: e.markers.ToggleAttr, Val: e.markers.ToggleValue},
		},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	return a
}
