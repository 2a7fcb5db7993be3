package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"gopkg.in/gomail.v2"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

func dropEvent() PriceEvent {
	old := price.MustParse("100.00")
	return PriceEvent{
		URL:            "https://shop.test/kettle",
		Name:           "Kettle",
		SKU:            "KT-1",
		Classification: domain.ClassDecreased,
		OldPrice:       &old,
		NewPrice:       price.MustParse("90.00"),
		DetectedAt:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestComposeDefaultTemplate(t *testing.T) {
	c, err := NewComposer("")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := c.Compose(dropEvent())
	if err != nil {
		t.Fatal(err)
	}
	want := "Price changed for product (SKU: KT-1): 100.00 -> 90.00\nURL: https://shop.test/kettle"
	if msg.Body != want {
		t.Errorf("body = %q, want %q", msg.Body, want)
	}
	if msg.Subject != "Price drop: Kettle" {
		t.Errorf("subject = %q", msg.Subject)
	}

	ev := dropEvent()
	ev.SKU, ev.OldPrice, ev.Classification = "", nil, domain.ClassNew
	msg, err = c.Compose(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Body, "SKU: N/A") || !strings.Contains(msg.Body, "new -> 90.00") {
		t.Errorf("first-seen body = %q", msg.Body)
	}
}

func TestComposeCustomTemplate(t *testing.T) {
	c, err := NewComposer(`{{.Name}} dropped to {{.NewPrice}}`)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := c.Compose(dropEvent())
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "Kettle dropped to 90.00" {
		t.Errorf("body = %q", msg.Body)
	}

	if _, err := NewComposer(`{{.Name`); err == nil {
		t.Error("expected a parse error")
	}
}

type fakeTelegram struct{ sent []tgbotapi.MessageConfig }

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegram(t *testing.T) {
	bot := &fakeTelegram{}
	tg := &Telegram{bot: bot, chatID: 42}

	if err := tg.Notify(context.Background(), Message{Body: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := tg.Notify(context.Background(), Message{Body: "hi", Recipient: "7"}); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 2 || bot.sent[0].ChatID != 42 || bot.sent[1].ChatID != 7 || bot.sent[0].Text != "hello" {
		t.Errorf("sent = %+v", bot.sent)
	}
	if err := tg.Notify(context.Background(), Message{Recipient: "@channel"}); err == nil {
		t.Error("expected an error for a non-numeric chat id")
	}
}

type fakeSMS struct {
	params []*openapi.CreateMessageParams
	err    error
}

func (f *fakeSMS) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return &openapi.ApiV2010Message{}, f.err
}

func TestTwilio(t *testing.T) {
	api := &fakeSMS{}
	tw := &Twilio{api: api, from: "+15550001", to: "+15550002"}

	if err := tw.Notify(context.Background(), Message{Body: "drop"}); err != nil {
		t.Fatal(err)
	}
	p := api.params[0]
	if *p.To != "+15550002" || *p.From != "+15550001" || *p.Body != "drop" {
		t.Errorf("params = to %s from %s body %s", *p.To, *p.From, *p.Body)
	}

	api.err = errors.New("rate limited")
	if err := tw.Notify(context.Background(), Message{Body: "drop"}); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v", err)
	}

	if err := (&Twilio{api: api}).Notify(context.Background(), Message{}); err == nil {
		t.Error("expected an error without a recipient")
	}
}

type fakeDialer struct{ sent []*gomail.Message }

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmail(t *testing.T) {
	d := &fakeDialer{}
	e := &Email{dialer: d, from: "monitor@shop.test", to: "me@shop.test"}

	if err := e.Notify(context.Background(), Message{Subject: "Price drop: Kettle", Body: "90.00"}); err != nil {
		t.Fatal(err)
	}
	m := d.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "me@shop.test" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("Subject"); got[0] != "Price drop: Kettle" {
		t.Errorf("Subject = %v", got)
	}
}

type fakePublisher struct {
	key string
	msg amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.key, f.msg = key, msg
	return nil
}

func TestRabbitPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	r := &Rabbit{ch: pub, queueName: "price_drops"}

	if err := r.Notify(context.Background(), Message{Subject: "s", Body: "b", Event: dropEvent()}); err != nil {
		t.Fatal(err)
	}
	if pub.key != "price_drops" || pub.msg.ContentType != "application/json" {
		t.Errorf("published to %q as %q", pub.key, pub.msg.ContentType)
	}

	var got map[string]any
	if err := json.Unmarshal(pub.msg.Body, &got); err != nil {
		t.Fatal(err)
	}
	if got["new_price"] != "90.00" || got["old_price"] != "100.00" || got["classification"] != "decreased" || got["body"] != "b" {
		t.Errorf("event = %v", got)
	}
}

type failing struct{ err error }

func (f failing) Notify(context.Context, Message) error { return f.err }

type counting struct{ n int }

func (c *counting) Notify(context.Context, Message) error { c.n++; return nil }

func TestMultiTriesEveryTransport(t *testing.T) {
	c := &counting{}
	boom := errors.New("boom")
	err := Multi{failing{boom}, c, Nop{}}.Notify(context.Background(), Message{})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if c.n != 1 {
		t.Errorf("later transport called %d times, want 1", c.n)
	}
	if err := (Multi{Nop{}, c}).Notify(context.Background(), Message{}); err != nil {
		t.Error(err)
	}
}
