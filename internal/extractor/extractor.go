package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/price-monitor/internal/price"
)

var ErrExtractionFailed = errors.New("extraction failed")

// Result is the structured data pulled out of a product page.
type Result struct {
	SKU      string
	Price    price.Price
	Strategy string
}

// Strategy is one way of locating a price on a page. Find must not modify doc.
// It may report a SKU even when it finds no price.
type Strategy struct {
	Name string
	Find func(doc *goquery.Document) (sku, rawPrice string)
}

// DefaultStrategies returns the strategies in the order they are tried:
// structured data first, visible text last.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "json-ld", Find: fromJSONLD},
		{Name: "microdata", Find: fromMicrodata},
		{Name: "selectors", Find: fromSelectors},
		{Name: "text-pattern", Find: fromText},
	}
}

// Extractor runs an ordered list of strategies until one yields a valid price.
type Extractor struct {
	strategies []Strategy
}

func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// Extract parses htmlContent and returns the first price any strategy can
// produce. Failures wrap ErrExtractionFailed with the reason of every strategy.
func (e *Extractor) Extract(htmlContent string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse html: %v", ErrExtractionFailed, err)
	}

	var sku string
	var reasons []string
	for _, s := range e.strategies {
		candidateSKU, raw := s.Find(doc)
		if sku == "" {
			sku = candidateSKU
		}
		if raw == "" {
			reasons = append(reasons, s.Name+": no price")
			continue
		}

		p, err := price.Parse(raw)
		if errors.Is(err, price.ErrNegative) || errors.Is(err, price.ErrOutOfRange) {
			// The page states an invalid price; a later strategy must not
			// reinterpret the same amount.
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name, err))
			break
		}
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}

		if sku == "" {
			sku = findSKU(doc)
		}
		return Result{SKU: sku, Price: p, Strategy: s.Name}, nil
	}

	return Result{}, fmt.Errorf("%w: %s", ErrExtractionFailed, strings.Join(reasons, "; "))
}

// findSKU looks in the usual places when the winning strategy carried no SKU.
func findSKU(doc *goquery.Document) string {
	if sku, _ := fromJSONLD(doc); sku != "" {
		return sku
	}
	if sel := doc.Find(`[itemprop="sku"]`).First(); sel.Length() > 0 {
		return strings.TrimSpace(sel.AttrOr("content", sel.Text()))
	}
	if v, ok := doc.Find(`meta[property="product:retailer_item_id"]`).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find("[data-sku]").Attr("data-sku"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
