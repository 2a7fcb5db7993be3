package domain

import (
	"time"

	"github.com/user/price-monitor/internal/price"
)

// TargetURL is a monitored product page managed through the admin API.
type TargetURL struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceRecord is the latest known price of a target.
// Version is the compare-and-set token: 0 means "not stored yet".
type PriceRecord struct {
	URL       string      `json:"url"`
	SKU       string      `json:"sku,omitempty"`
	Price     price.Price `json:"price"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PriceHistoryEntry is one append-only row of the price history.
type PriceHistoryEntry struct {
	URL        string      `json:"url"`
	SKU        string      `json:"sku,omitempty"`
	Price      price.Price `json:"price"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Classification is the drop detector verdict for a freshly extracted price.
type Classification string

const (
	ClassNew       Classification = "new"
	ClassUnchanged Classification = "unchanged"
	ClassIncreased Classification = "increased"
	ClassDecreased Classification = "decreased"
)

// OutcomeKind is the terminal state of one target within a run.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeFetchFailed      OutcomeKind = "fetch_failed"
	OutcomeExtractionFailed OutcomeKind = "extraction_failed"
	OutcomeStorageFailed    OutcomeKind = "storage_failed"
)

// Outcome records how a single target was processed.
type Outcome struct {
	URL            string         `json:"url"`
	Kind           OutcomeKind    `json:"kind"`
	Reason         string         `json:"reason,omitempty"`
	SKU            string         `json:"sku,omitempty"`
	Price          *price.Price   `json:"price,omitempty"`
	Previous       *price.Price   `json:"previous,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	Persisted      bool           `json:"persisted"`
	Notified       bool           `json:"notified"`
	NotifyError    string         `json:"notify_error,omitempty"`
	Attempts       int            `json:"attempts"`
	Duration       time.Duration  `json:"duration"`
}

// RunReport aggregates one pipeline execution.
type RunReport struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Attempted          int       `json:"attempted"`
	Succeeded          int       `json:"succeeded"`
	FetchFailed        int       `json:"fetch_failed"`
	ExtractionFailed   int       `json:"extraction_failed"`
	StorageFailed      int       `json:"storage_failed"`
	PriceDrops         int       `json:"price_drops"`
	Notified           int       `json:"notified"`
	NotificationFailed int       `json:"notification_failed"`
	Cancelled          bool      `json:"cancelled"`
	Outcomes           []Outcome `json:"outcomes"`
}

// Add counts o into the report totals and appends it.
func (r *RunReport) Add(o Outcome) {
	r.Attempted++
	switch o.Kind {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeFetchFailed:
		r.FetchFailed++
	case OutcomeExtractionFailed:
		r.ExtractionFailed++
	case OutcomeStorageFailed:
		r.StorageFailed++
	}
	if o.Classification == ClassDecreased && o.Persisted {
		r.PriceDrops++
	}
	if o.Notified {
		r.Notified++
	}
	if o.NotifyError != "" {
		r.NotificationFailed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Progress tracks how far the current run is.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Status is the snapshot exposed to status pollers (admin UI, CLI).
type Status struct {
	Running    bool       `json:"running"`
	RunID      string     `json:"run_id,omitempty"`
	LastRun    *time.Time `json:"last_run"`
	LastStatus string     `json:"last_status,omitempty"`
	Error      string     `json:"error,omitempty"`
	Progress   Progress   `json:"progress"`
	LastReport *RunReport `json:"last_report,omitempty"`
}

// AddTargetRequest is the payload for adding or renaming a target.
type AddTargetRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"max=200"`
}
