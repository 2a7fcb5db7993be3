// Package detector classifies a freshly extracted price against the stored one.
package detector

import (
	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

// Classify compares newPrice with the existing record. existing is nil when
// the target has never been scraped successfully.
func Classify(existing *domain.PriceRecord, newPrice price.Price) domain.Classification {
	switch {
	case existing == nil:
		return domain.ClassNew
	case newPrice.LessThan(existing.Price):
		return domain.ClassDecreased
	case newPrice.GreaterThan(existing.Price):
		return domain.ClassIncreased
	default:
		return domain.ClassUnchanged
	}
}

// ShouldPersist reports whether c enters the persist-and-notify branch.
// Price rises are deliberately not written to avoid noise.
func ShouldPersist(c domain.Classification) bool {
	return c == domain.ClassNew || c == domain.ClassDecreased
}
