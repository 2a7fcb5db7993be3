// Package price parses scraped price text into exact decimal amounts.
package price

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPrice    = errors.New("no numeric price found")
	ErrNegative   = errors.New("price is negative")
	ErrOutOfRange = errors.New("price out of range")
)

// Max is the largest price accepted from a page.
var Max = decimal.NewFromInt(100_000_000)

// A number starts and ends with a digit and may carry grouping or decimal
// separators in between. A leading minus sign is captured so it can be rejected.
var numberPattern = regexp.MustCompile(`(-|\x{2212})?\d(?:[\d.,'\x{00A0}\x{202F}]*\d)?`)

// currencyPattern matches an amount next to a currency symbol or ISO code,
// including a minus sign written before the symbol ("-$5.00").
var currencyPattern = regexp.MustCompile(
	`(?:(?:-|\x{2212})\s?)?(?:[$€£¥₹]|\b(?:USD|EUR|GBP|CAD|AUD|CHF)\b)\s?(?:-|\x{2212})?\d(?:[\d.,'\x{00A0}\x{202F}]*\d)?` +
		`|(?:-|\x{2212})?\d(?:[\d.,'\x{00A0}\x{202F}]*\d)?\s?(?:€|\b(?:EUR|CHF|USD|GBP)\b)`)

var groupSeparators = strings.NewReplacer("'", "", "\u00a0", "", "\u202f", "")

// Price is an exact, positive decimal amount. Two prices parsed from "$29.99",
// "29.99" and "29.990" are Equal and have the same String form.
type Price struct {
	d decimal.Decimal
}

// FindAmount returns the first amount in text that carries a currency marker,
// or "" when there is none.
func FindAmount(text string) string {
	return strings.TrimSpace(currencyPattern.FindString(text))
}

// Parse extracts the amount next to a currency marker, or the first number
// when raw has none, and normalizes thousands separators and decimal marks.
func Parse(raw string) (Price, error) {
	src := raw
	if amount := FindAmount(raw); amount != "" {
		src = amount
	}
	m := numberPattern.FindString(src)
	if m == "" {
		return Price{}, fmt.Errorf("%w in %q", ErrNoPrice, raw)
	}
	if isNegative(m) || isNegative(strings.TrimSpace(src)) {
		return Price{}, fmt.Errorf("%w: %q", ErrNegative, raw)
	}

	num := normalize(groupSeparators.Replace(m))
	d, err := decimal.NewFromString(num)
	if err != nil {
		return Price{}, fmt.Errorf("%w in %q", ErrNoPrice, raw)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Price {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// FromDecimal validates d as a price.
func FromDecimal(d decimal.Decimal) (Price, error) {
	if d.Sign() < 0 {
		return Price{}, fmt.Errorf("%w: %s", ErrNegative, d)
	}
	if d.Sign() == 0 || d.GreaterThan(Max) {
		return Price{}, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return Price{d: canonical(d)}, nil
}

// normalize decides which separator is the decimal mark and drops the other.
// A lone comma followed by exactly three digits is a thousands separator
// ("1,299"), a lone dot is always a decimal mark ("29.990").
func normalize(num string) string {
	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			return strings.ReplaceAll(num, ",", "")
		}
		num = strings.ReplaceAll(num, ".", "")
		return strings.Replace(num, ",", ".", 1)
	case lastComma >= 0:
		if strings.Count(num, ",") > 1 || len(num)-lastComma-1 == 3 {
			return strings.ReplaceAll(num, ",", "")
		}
		return strings.Replace(num, ",", ".", 1)
	case strings.Count(num, ".") > 1:
		return strings.ReplaceAll(num, ".", "")
	}
	return num
}

func isNegative(s string) bool {
	return strings.HasPrefix(s, "-") || strings.HasPrefix(s, "\u2212")
}

// canonical strips trailing fractional zeros so equal amounts share one representation.
func canonical(d decimal.Decimal) decimal.Decimal {
	return decimal.RequireFromString(d.String())
}

func (p Price) IsZero() bool { return p.d.IsZero() }

func (p Price) Decimal() decimal.Decimal { return p.d }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }

func (p Price) LessThan(o Price) bool { return p.d.LessThan(o.d) }

func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }

// String renders at least two fractional digits: "29.99", "100.00", "9.995".
func (p Price) String() string {
	places := -p.d.Exponent()
	if places < 2 {
		places = 2
	}
	return p.d.StringFixed(places)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	p.d = canonical(d)
	return nil
}

// Value stores the canonical string so databases without a decimal type keep it exact.
func (p Price) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *Price) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	p.d = canonical(d)
	return nil
}
