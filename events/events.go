package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"dessert-admin/models"
	"dessert-admin/services"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var ErrDisabled = errors.New("kafka disabled")

// Message is the JSON value written for every accepted order mutation.
type Message struct {
	EventID       string               `json:"event_id"`
	Type          string               `json:"type"`
	OrderID       string               `json:"order_id"`
	Status        models.PaymentStatus `json:"payment_status"`
	Operator      string               `json:"operator"`
	Subtotal      int64                `json:"subtotal"`
	TotalUnits    int                  `json:"total_units"`
	Items         []models.UpdateItem  `json:"items"`
	PaymentMethod string               `json:"payment_method,omitempty"`
	PaymentRef    string               `json:"payment_ref,omitempty"`
	CancelReason  string               `json:"cancel_reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func NewMessage(ev services.OrderEvent) Message {
	o := ev.Order
	return Message{
		EventID:       uuid.NewString(),
		Type:          "order." + string(ev.Kind),
		OrderID:       o.ID,
		Status:        o.Status,
		Operator:      ev.Operator,
		Subtotal:      o.Subtotal,
		TotalUnits:    o.TotalUnits,
		Items:         services.UpdateItems(o.LineItems),
		PaymentMethod: o.PaymentMethod,
		PaymentRef:    o.PaymentRef,
		CancelReason:  o.CancelReason,
		OccurredAt:    ev.At.UTC(),
	}
}

func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes order events keyed by order id, so one order's events stay
// in a single partition. It implements services.Notifier.
type Publisher struct {
	w messageWriter
}

func NewPublisher(brokersCSV, topic string) (*Publisher, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, ErrDisabled
	}
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (p *Publisher) Notify(ctx context.Context, ev services.OrderEvent) error {
	msg := NewMessage(ev)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.OrderID),
		Value:   data,
		Time:    msg.OccurredAt,
		Headers: []kafka.Header{{Key: "type", Value: []byte(msg.Type)}},
	})
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Tail reads events from topic and hands each decoded message to fn until ctx
// is done. Undecodable messages are skipped.
func Tail(ctx context.Context, brokersCSV, topic, groupID string, fn func(Message)) error {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return ErrDisabled
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil || msg.EventID == "" {
			continue
		}
		fn(msg)
	}
}
