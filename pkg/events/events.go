package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Subject, err)
	}
	return nil
}

const headerEventID = "Event-Id"

type NATSEventBus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

// Publish sends data as JSON. Payloads are not logged since some carry
// tracking links.
func (n *NATSEventBus) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(headerEventID, uuid.NewString())

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "event_id", msg.Header.Get(headerEventID))

	return n.conn.PublishMsg(msg)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	sub, err := n.conn.Subscribe(subject, wrap(handler))
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	return nil
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	sub, err := n.conn.QueueSubscribe(subject, queue, wrap(handler))
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	return nil
}

// Close drains subscriptions so in-flight handlers finish.
func (n *NATSEventBus) Close() error {
	for _, s := range n.subs {
		_ = s.Unsubscribe()
	}
	return n.conn.Drain()
}

func wrap(handler func(msg *Message)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		id := ""
		if msg.Header != nil {
			id = msg.Header.Get(headerEventID)
		}
		if id == "" {
			id = uuid.NewString()
		}
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        id,
		})
	}
}

// Subjects
const (
	TrackingLinkRequested = "tracking.link.requested"

	BookingCreated       = "booking.created"
	BookingStatusChanged = "booking.status_changed"

	PaymentCaptured = "payment.captured"
	PaymentFailed   = "payment.failed"
)

// TrackingLinkRequestedEvent carries a signed link to the notify service.
type TrackingLinkRequestedEvent struct {
	Reference string    `json:"reference"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
	TTL       int64     `json:"ttl_seconds"`
}

type BookingCreatedEvent struct {
	BookingID   int64     `json:"booking_id"`
	Reference   string    `json:"reference"`
	Tenant      string    `json:"tenant"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Service     string    `json:"service"`
	Office      string    `json:"office"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type BookingStatusChangedEvent struct {
	BookingID int64     `json:"booking_id"`
	Reference string    `json:"reference"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Note      string    `json:"note,omitempty"`
	ChangedBy int64     `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

type PaymentEvent struct {
	PaymentID   int64     `json:"payment_id"`
	IntentID    string    `json:"intent_id"`
	Tenant      string    `json:"tenant"`
	Reference   string    `json:"reference"`
	TaxType     string    `json:"tax_type"`
	Email       string    `json:"email"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}
