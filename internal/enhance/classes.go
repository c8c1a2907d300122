package enhance

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// AddClass adds classes to every element of s and leaves each class list
// single-space separated. goquery's AddClass pads the existing value.
func AddClass(s *goquery.Selection, classes ...string) *goquery.Selection {
	s.AddClass(classes...)
	s.Each(func(_ int, el *goquery.Selection) {
		if v, ok := el.Attr("class"); ok {
			el.SetAttr("class", strings.Join(strings.Fields(v), " "))
		}
	})
	return s
}
