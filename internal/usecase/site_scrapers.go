package usecase

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
)

// SiteLayout describes where a known marketplace keeps its product fields
type SiteLayout struct {
	Name         string
	Hosts        []string // host suffixes; empty means try on every page
	Title        string
	PriceWhole   string
	PriceFrac    string
	PriceSymbol  string
	Image        string
	Description  string
	Availability string
}

// AmazonLayout is the product detail page layout of amazon.* storefronts
var AmazonLayout = SiteLayout{
	Name:         "amazon",
	Title:        "#productTitle",
	PriceWhole:   ".a-price-whole",
	PriceFrac:    ".a-price-fraction",
	PriceSymbol:  ".a-price-symbol",
	Image:        "#landingImage",
	Description:  "#productDescription",
	Availability: "#availability",
}

// SiteScraper reads product fields from known marketplace markup
type SiteScraper struct {
	layouts []SiteLayout
}

// NewSiteScraper returns a scraper for the given layouts (Amazon when none)
func NewSiteScraper(layouts ...SiteLayout) *SiteScraper {
	if len(layouts) == 0 {
		layouts = []SiteLayout{AmazonLayout}
	}
	return &SiteScraper{layouts: layouts}
}

// Name implements ProductStrategy
func (s *SiteScraper) Name() string { return StrategySite }

// Extract implements ProductStrategy. A layout whose title is missing is a miss.
func (s *SiteScraper) Extract(page *dom.Page) (*domain.ProductData, bool) {
	for _, layout := range s.layouts {
		if !layout.appliesTo(page.URL) {
			continue
		}
		if product, ok := scrapeLayout(page, layout); ok {
			return product, true
		}
	}
	return nil, false
}

func (l SiteLayout) appliesTo(pageURL string) bool {
	if len(l.Hosts) == 0 {
		return true
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range l.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func scrapeLayout(page *dom.Page, l SiteLayout) (*domain.ProductData, bool) {
	doc := page.Doc
	name := firstText(doc, l.Title)
	if name == "" {
		return nil, false
	}

	product := &domain.ProductData{
		Name:         domain.StringPtr(name),
		URL:          domain.StringPtr(page.URL),
		Description:  domain.StringPtr(firstText(doc, l.Description)),
		Availability: domain.StringPtr(firstText(doc, l.Availability)),
	}

	whole := digitsOnly(firstText(doc, l.PriceWhole))
	if whole != "" {
		frac := digitsOnly(firstText(doc, l.PriceFrac))
		if frac == "" {
			frac = "00"
		}
		if d, ok := CleanPrice(whole + "." + frac); ok {
			f, _ := d.Float64()
			product.Price = &f
		}
	}

	currency := CurrencyFromSymbol(firstText(doc, l.PriceSymbol))
	product.Currency = &currency

	if src, ok := doc.Find(l.Image).First().Attr("src"); ok {
		product.Image = domain.StringPtr(strings.TrimSpace(src))
	}

	return product, true
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	node := doc.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	return dom.DeepText(node.Get(0))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
