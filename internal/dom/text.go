// Package dom holds the DOM helpers the content context runs against a
// parsed page: deep text, actionable-element lookup and the dim overlay.
package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// actionableTags are the elements a purchase click is attributed to
var actionableTags = map[string]bool{
	"button": true,
	"a":      true,
	"input":  true,
}

// DeepText concatenates every descendant text node of n, each trimmed, joined
// by single spaces.
func DeepText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if t := strings.TrimSpace(c.Data); t != "" {
					parts = append(parts, t)
				}
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// ClosestActionable returns the nearest ancestor-or-self of n that is a
// button, anchor or input, or nil when the ancestor chain has none.
func ClosestActionable(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && actionableTags[cur.Data] {
			return cur
		}
	}
	return nil
}

// Attr returns the value of attribute key on n, or "" when absent
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// ID returns the element id
func ID(n *html.Node) string {
	return Attr(n, "id")
}

// ClassName returns the raw class attribute
func ClassName(n *html.Node) string {
	return Attr(n, "class")
}

// ParentElement returns the closest element parent of n, skipping the
// document node.
func ParentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}
