package detector

import (
	"testing"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

func record(p string) *domain.PriceRecord {
	return &domain.PriceRecord{URL: "https://shop.example/p/1", Price: price.MustParse(p), Version: 1}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		existing *domain.PriceRecord
		newPrice string
		want     domain.Classification
		persist  bool
	}{
		{"first seen", nil, "50.00", domain.ClassNew, true},
		{"drop", record("100.00"), "90.00", domain.ClassDecreased, true},
		{"rise", record("100.00"), "110.00", domain.ClassIncreased, false},
		{"same value", record("100.00"), "100", domain.ClassUnchanged, false},
		{"same value, other formatting", record("29.99"), "$29.990", domain.ClassUnchanged, false},
		{"one cent drop", record("29.99"), "29.98", domain.ClassDecreased, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.existing, price.MustParse(tt.newPrice))
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
			if ShouldPersist(got) != tt.persist {
				t.Errorf("ShouldPersist(%s) = %v, want %v", got, !tt.persist, tt.persist)
			}
		})
	}
}
