package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Rabbit publishes price events as JSON so other services can react to them.
type Rabbit struct {
	conn      *amqp.Connection
	ch        publisher
	queueName string
}

// rabbitEvent is the wire format of a published event.
type rabbitEvent struct {
	PriceEvent
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewRabbit(url, queueName string) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	return &Rabbit{conn: conn, ch: ch, queueName: queueName}, nil
}

func (r *Rabbit) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(rabbitEvent{PriceEvent: msg.Event, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("notifier.rabbitmq: %w", err)
	}

	err = r.ch.PublishWithContext(ctx, "", r.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notifier.rabbitmq: %w", err)
	}
	return nil
}

func (r *Rabbit) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
