package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-faster/errors"
	"golang.org/x/net/html"

	"github.com/hesto/backend/internal/domain"
)

// Page is a parsed snapshot of the document a content context is injected in
type Page struct {
	URL string
	Doc *goquery.Document
}

// ParsePage parses raw HTML captured by the content shim
func ParsePage(pageURL, rawHTML string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, errors.Wrap(err, "parse page html")
	}
	return &Page{URL: pageURL, Doc: doc}, nil
}

// First returns the first node matching selector, or nil
func (p *Page) First(selector string) *html.Node {
	sel := p.Doc.Find(selector)
	if sel.Length() == 0 {
		return nil
	}
	return sel.Get(0)
}

// Target resolves the click target selector sent by the shim
func (p *Page) Target(selector string) (*html.Node, error) {
	n := p.First(selector)
	if n == nil {
		return nil, errors.Wrapf(domain.ErrTargetNotFound, "selector %q", selector)
	}
	return n, nil
}

// Title returns og:title when present, else the <title> text
func (p *Page) Title() string {
	if og, ok := p.Doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	return strings.TrimSpace(p.Doc.Find("title").First().Text())
}

// Selection wraps a node so callers can use goquery traversal on it
func (p *Page) Selection(n *html.Node) *goquery.Selection {
	return p.Doc.FindNodes(n)
}
