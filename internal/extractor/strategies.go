package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/user/price-monitor/internal/price"
)

// priceSelectors are tried in order; storefront-specific ones first.
var priceSelectors = []string{
	".a-price .a-offscreen",
	"#priceblock_dealprice",
	"#priceblock_ourprice",
	`[data-test="product-price"]`,
	`[data-testid="price"]`,
	"span.price",
	"div.price",
	".product-price",
	".price",
}

func fromJSONLD(doc *goquery.Document) (sku, rawPrice string) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dec := json.NewDecoder(strings.NewReader(s.Text()))
		dec.UseNumber()

		var v any
		if err := dec.Decode(&v); err != nil {
			return true
		}

		for _, node := range ldNodes(v) {
			if sku == "" {
				sku = firstString(node, "sku", "mpn", "productID")
			}
			if p := offerPrice(node["offers"]); p != "" {
				if id := firstString(node, "sku", "mpn", "productID"); id != "" {
					sku = id
				}
				rawPrice = p
				return false
			}
		}
		return true
	})
	return sku, rawPrice
}

// ldNodes flattens top-level arrays and @graph containers into a list of objects.
func ldNodes(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, ldNodes(item)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{t}
		if graph, ok := t["@graph"]; ok {
			out = append(out, ldNodes(graph)...)
		}
		return out
	}
	return nil
}

func offerPrice(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if p := offerPrice(item); p != "" {
				return p
			}
		}
	case map[string]any:
		if p := firstString(t, "price", "lowPrice"); p != "" {
			return p
		}
		if spec, ok := t["priceSpecification"]; ok {
			return offerPrice(spec)
		}
	}
	return ""
}

func firstString(node map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := node[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return plainNumber(v)
		}
	}
	return ""
}

// plainNumber renders a JSON number without exponent, so "1.2e2" reaches the
// price parser as "120".
func plainNumber(n json.Number) string {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return n.String()
	}
	return d.String()
}

func fromMicrodata(doc *goquery.Document) (sku, rawPrice string) {
	if sel := doc.Find(`[itemprop="sku"]`).First(); sel.Length() > 0 {
		sku = strings.TrimSpace(sel.AttrOr("content", sel.Text()))
	}

	if sel := doc.Find(`[itemprop="price"]`).First(); sel.Length() > 0 {
		rawPrice = strings.TrimSpace(sel.AttrOr("content", sel.Text()))
		if rawPrice != "" {
			return sku, rawPrice
		}
	}

	for _, prop := range []string{"product:price:amount", "og:price:amount"} {
		if v, ok := doc.Find(`meta[property="` + prop + `"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
			return sku, strings.TrimSpace(v)
		}
	}
	return sku, ""
}

func fromSelectors(doc *goquery.Document) (sku, rawPrice string) {
	for _, selector := range priceSelectors {
		var text string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = strings.TrimSpace(s.Text())
			return text == ""
		})
		if text != "" {
			return "", text
		}
	}
	return "", ""
}

// fromText searches the visible body text for an amount next to a currency marker.
func fromText(doc *goquery.Document) (sku, rawPrice string) {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return "", price.FindAmount(body.Text())
}
