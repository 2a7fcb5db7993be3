// Package notifier delivers price-drop alerts over external transports.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

// PriceEvent describes the change that triggered a notification.
type PriceEvent struct {
	URL            string                `json:"url"`
	Name           string                `json:"name,omitempty"`
	SKU            string                `json:"sku,omitempty"`
	Classification domain.Classification `json:"classification"`
	OldPrice       *price.Price          `json:"old_price,omitempty"`
	NewPrice       price.Price           `json:"new_price"`
	DetectedAt     time.Time             `json:"detected_at"`
}

// Message is one alert. Recipient overrides the transport's configured
// recipient when set.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Event     PriceEvent
}

// Notifier sends a message. Implementations own their retry semantics.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// DefaultTemplate mirrors the SMS text the monitor has always sent.
const DefaultTemplate = `Price changed for product (SKU: {{if .SKU}}{{.SKU}}{{else}}N/A{{end}}): ` +
	`{{if .OldPrice}}{{.OldPrice}}{{else}}new{{end}} -> {{.NewPrice}}
URL: {{.URL}}`

// Composer renders messages from a text/template over PriceEvent.
type Composer struct {
	tmpl *template.Template
}

func NewComposer(text string) (*Composer, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("message").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("notifier.NewComposer: %w", err)
	}
	return &Composer{tmpl: tmpl}, nil
}

func (c *Composer) Compose(ev PriceEvent) (Message, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, ev); err != nil {
		return Message{}, fmt.Errorf("notifier.Compose: %w", err)
	}

	label := ev.Name
	if label == "" {
		label = ev.URL
	}
	subject := "Price drop: " + label
	if ev.Classification == domain.ClassNew {
		subject = "Now tracking: " + label
	}
	return Message{Subject: subject, Body: buf.String(), Event: ev}, nil
}

// Multi fans a message out to every notifier. It fails if any transport fails
// but always tries all of them.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every message. Used when no transport is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }
