package selectors

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SelectionProber probes selectors inside a parsed document or subtree.
type SelectionProber struct {
	Sel *goquery.Selection
}

func (p SelectionProber) Probe(selector string) (bool, error) {
	return Visible(p.Sel.Find(selector)).Length() > 0, nil
}

// First returns the visible matches of the first candidate for f that
// matches inside sel, or an empty selection.
func (c *Contract) First(f Field, sel *goquery.Selection) *goquery.Selection {
	for _, s := range c.Fields[f] {
		found := Visible(sel.Find(s))
		if found.Length() > 0 {
			return found
		}
	}
	return sel.Slice(0, 0)
}

// Visible filters out elements hidden by attribute or inline style.
func Visible(sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		for n := s; n.Length() > 0; n = n.Parent() {
			if _, hidden := n.Attr("hidden"); hidden {
				return false
			}
			if t, _ := n.Attr("type"); strings.EqualFold(t, "hidden") {
				return false
			}
			style, _ := n.Attr("style")
			style = strings.ReplaceAll(strings.ToLower(style), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return false
			}
		}
		return true
	})
}
