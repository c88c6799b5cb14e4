package usecase

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// Strategy names accepted in extraction.strategies
const (
	StrategySite   = "site"
	StrategyJSONLD = "jsonld"
	StrategyNearby = "nearby"
)

// DefaultStrategyOrder is the declared priority list used when none is configured
var DefaultStrategyOrder = []string{StrategySite, StrategyJSONLD}

// ProductStrategy is one independent way of reading a product off a page
type ProductStrategy interface {
	Name() string
	Extract(page *dom.Page) (*domain.ProductData, bool)
}

// Extraction is the product plus the strategy that produced it
type Extraction struct {
	Product  domain.ProductData
	Strategy string
}

// ProductExtractor runs strategies in priority order; the first success wins
// and the nearby-price heuristic completes missing name/price.
type ProductExtractor struct {
	strategies []ProductStrategy
	log        *logrus.Entry
}

// NewProductExtractor builds the strategy chain from configured names
func NewProductExtractor(order []string) (*ProductExtractor, error) {
	if len(order) == 0 {
		order = DefaultStrategyOrder
	}
	strategies := make([]ProductStrategy, 0, len(order))
	for _, name := range order {
		switch name {
		case StrategySite:
			strategies = append(strategies, NewSiteScraper())
		case StrategyJSONLD:
			strategies = append(strategies, NewJSONLDParser())
		default:
			return nil, fmt.Errorf("unknown extraction strategy %q", name)
		}
	}
	return NewProductExtractorWith(strategies...), nil
}

// NewProductExtractorWith uses the given strategies as-is
func NewProductExtractorWith(strategies ...ProductStrategy) *ProductExtractor {
	return &ProductExtractor{
		strategies: strategies,
		log:        logging.NewLogger("extractor"),
	}
}

// Extract never fails: a strategy that panics or misses degrades to the next
// one, and total failure yields an all-nil product.
func (e *ProductExtractor) Extract(page *dom.Page, actionable *html.Node) Extraction {
	if page == nil {
		return Extraction{}
	}

	var result Extraction
	for _, strategy := range e.strategies {
		product, ok := e.run(strategy, page)
		if !ok || product == nil {
			continue
		}
		result = Extraction{Product: *product, Strategy: strategy.Name()}
		break
	}

	if result.Product.Price == nil {
		if price := FindPriceNearby(actionable); price != nil {
			result.Product.Price = price
			if result.Strategy == "" {
				result.Strategy = StrategyNearby
			}
		}
	}

	// Only the fallback path needs name/url completion
	if result.Strategy == StrategyNearby {
		if result.Product.Name == nil {
			result.Product.Name = domain.StringPtr(page.Title())
		}
		if result.Product.URL == nil {
			result.Product.URL = domain.StringPtr(page.URL)
		}
		if result.Product.Currency == nil {
			currency := DefaultCurrency
			result.Product.Currency = &currency
		}
	}

	e.log.WithFields(logrus.Fields{
		"strategy":    result.Strategy,
		"triggerable": result.Product.IsTriggerable(),
		"url":         page.URL,
	}).Debug("Product extraction finished")

	return result
}

func (e *ProductExtractor) run(strategy ProductStrategy, page *dom.Page) (product *domain.ProductData, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("strategy", strategy.Name()).Errorf("Strategy panicked: %v", r)
			product, ok = nil, false
		}
	}()
	return strategy.Extract(page)
}
