package usecase

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hesto/backend/internal/dom"
)

// priceKeywords mark elements whose class or id suggests a price
var priceKeywords = []string{"price", "cost", "amount", "total", "value", "sale"}

// priceCandidateTags are the elements scanned at each ancestor level
var priceCandidateTags = map[string]bool{
	"span":   true,
	"div":    true,
	"p":      true,
	"li":     true,
	"strong": true,
}

// FindPriceNearby climbs from the actionable element's parent towards the
// root. At each level it scans descendant span/div/p/li/strong elements and
// accepts one labelled as a price (class/id) or holding a currency-prefixed
// amount. The climb stops at the first accepted element; nil means nothing
// was found or its text was not numeric.
func FindPriceNearby(actionable *html.Node) *float64 {
	if actionable == nil {
		return nil
	}
	for level := dom.ParentElement(actionable); level != nil; level = dom.ParentElement(level) {
		candidate := acceptedPriceCandidate(level)
		if candidate == nil {
			continue
		}
		d, ok := CleanPrice(dom.DeepText(candidate))
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return &f
	}
	return nil
}

// acceptedPriceCandidate returns the first descendant of level, in document
// order, that is labelled as a price or whose text is a currency-prefixed
// amount.
func acceptedPriceCandidate(level *html.Node) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if priceCandidateTags[c.Data] && (hasPriceKeyword(c) || HasCurrencyPrefixedNumber(dom.DeepText(c))) {
				return c
			}
			if hit := walk(c); hit != nil {
				return hit
			}
		}
		return nil
	}
	return walk(level)
}

func hasPriceKeyword(n *html.Node) bool {
	class := strings.ToLower(dom.ClassName(n))
	id := strings.ToLower(dom.ID(n))
	for _, kw := range priceKeywords {
		if strings.Contains(class, kw) || strings.Contains(id, kw) {
			return true
		}
	}
	return false
}
