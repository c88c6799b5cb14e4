package usecase

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// JSONLDParser extracts schema.org Product nodes from ld+json script tags
type JSONLDParser struct {
	log *logrus.Entry
}

// NewJSONLDParser creates a structured-data parser
func NewJSONLDParser() *JSONLDParser {
	return &JSONLDParser{log: logging.NewLogger("extractor")}
}

// Name implements ProductStrategy
func (p *JSONLDParser) Name() string { return StrategyJSONLD }

// Extract implements ProductStrategy. Scripts are scanned in document order;
// a malformed script is logged and skipped.
func (p *JSONLDParser) Extract(page *dom.Page) (*domain.ProductData, bool) {
	var found map[string]any

	page.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		if !json.Valid([]byte(raw)) {
			p.log.WithField("script", i).Warn("Skipping malformed JSON-LD block")
			return true
		}
		found = findProductNode(json.RawMessage(raw))
		return found == nil
	})

	if found == nil {
		return nil, false
	}
	return mapProductNode(found, page.URL), true
}

// jsonMember is one object member, kept in source order
type jsonMember struct {
	key   string
	value json.RawMessage
}

// objectMembers lists an object's members in the order they appear in raw
func objectMembers(raw json.RawMessage) ([]jsonMember, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var members []jsonMember
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		members = append(members, jsonMember{key: key, value: value})
	}
	return members, nil
}

// findProductNode walks objects and arrays depth-first in document order and
// returns the first node typed Product.
func findProductNode(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '{':
		members, err := objectMembers(raw)
		if err != nil {
			return nil
		}
		for _, m := range members {
			if m.key != "@type" {
				continue
			}
			var t any
			if json.Unmarshal(m.value, &t) == nil && isProductType(t) {
				var node map[string]any
				if err := json.Unmarshal(raw, &node); err != nil {
					return nil
				}
				return node
			}
		}
		for _, m := range members {
			if hit := findProductNode(m.value); hit != nil {
				return hit
			}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		for _, item := range items {
			if hit := findProductNode(item); hit != nil {
				return hit
			}
		}
	}
	return nil
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

func mapProductNode(node map[string]any, pageURL string) *domain.ProductData {
	product := &domain.ProductData{
		Name:        stringField(node["name"]),
		Description: stringField(node["description"]),
		Image:       imageField(node["image"]),
		URL:         domain.StringPtr(pageURL),
	}

	offer := firstObject(node["offers"])
	if offer != nil {
		if price, ok := ParsePriceValue(offer["price"]); ok {
			product.Price = &price
		} else if price, ok := ParsePriceValue(offer["lowPrice"]); ok {
			product.Price = &price
		}
		product.Currency = stringField(offer["priceCurrency"])
		product.Availability = stringField(offer["availability"])
	}

	return product
}

func stringField(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return domain.StringPtr(strings.TrimSpace(s))
}

// imageField accepts a URL string, an array (first element) or an ImageObject
func imageField(v any) *string {
	switch img := v.(type) {
	case string:
		return domain.StringPtr(img)
	case []any:
		if len(img) > 0 {
			return imageField(img[0])
		}
	case map[string]any:
		return stringField(img["url"])
	}
	return nil
}

func firstObject(v any) map[string]any {
	switch o := v.(type) {
	case map[string]any:
		return o
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}
