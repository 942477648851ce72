package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/events"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/mailer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const sendTimeout = 20 * time.Second

var emailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_notify_emails_total",
	Help: "Emails rendered from portal events, by subject and result.",
}, []string{"subject", "result"})

// Consumer turns portal events into citizen emails.
type Consumer struct {
	mailer mailer.Service
}

func New(m mailer.Service) *Consumer {
	return &Consumer{mailer: m}
}

type handlerFunc func(ctx context.Context, msg *events.Message) (mailer.Message, error)

func (c *Consumer) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		events.TrackingLinkRequested: trackingLink,
		events.BookingCreated:        bookingCreated,
		events.BookingStatusChanged:  statusChanged,
		events.PaymentCaptured:       paymentCaptured,
	}
}

// Subscribe joins queue on every subject the consumer handles so that
// replicas share the work.
func (c *Consumer) Subscribe(sub events.Subscriber, queue string) error {
	for subject := range c.handlers() {
		subject := subject
		if err := sub.QueueSubscribe(subject, queue, func(msg *events.Message) {
			_ = c.Handle(context.Background(), msg)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		logger.Info("Subscribed", "subject", subject, "queue", queue)
	}
	return nil
}

// Handle renders and sends the email for one event. Unknown subjects are ignored.
func (c *Consumer) Handle(ctx context.Context, msg *events.Message) error {
	render, ok := c.handlers()[msg.Subject]
	if !ok {
		return nil
	}

	email, err := render(ctx, msg)
	if err != nil {
		emailsTotal.WithLabelValues(msg.Subject, "bad_event").Inc()
		logger.Error("Failed to decode event", "subject", msg.Subject, "event_id", msg.ID, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := c.mailer.Send(ctx, email); err != nil {
		emailsTotal.WithLabelValues(msg.Subject, "failed").Inc()
		logger.Error("Failed to send email", "subject", msg.Subject, "event_id", msg.ID, "to", logger.MaskEmail(email.ToEmail), "error", err)
		return err
	}
	emailsTotal.WithLabelValues(msg.Subject, "sent").Inc()
	logger.Info("Email sent", "subject", msg.Subject, "event_id", msg.ID, "to", logger.MaskEmail(email.ToEmail))
	return nil
}

func trackingLink(_ context.Context, msg *events.Message) (mailer.Message, error) {
	var ev events.TrackingLinkRequestedEvent
	if err := msg.Decode(&ev); err != nil {
		return mailer.Message{}, err
	}
	return mailer.TrackingLink(ev.Email, ev.Name, ev.Reference, ev.Link, time.Duration(ev.TTL)*time.Second), nil
}

func bookingCreated(_ context.Context, msg *events.Message) (mailer.Message, error) {
	var ev events.BookingCreatedEvent
	if err := msg.Decode(&ev); err != nil {
		return mailer.Message{}, err
	}
	return mailer.BookingConfirmation(ev.Email, ev.Name, ev.Reference, ev.Service, ev.Office, ev.ScheduledAt), nil
}

func statusChanged(_ context.Context, msg *events.Message) (mailer.Message, error) {
	var ev events.BookingStatusChangedEvent
	if err := msg.Decode(&ev); err != nil {
		return mailer.Message{}, err
	}
	return mailer.StatusChanged(ev.Email, ev.Name, ev.Reference, ev.To, ev.Note), nil
}

func paymentCaptured(_ context.Context, msg *events.Message) (mailer.Message, error) {
	var ev events.PaymentEvent
	if err := msg.Decode(&ev); err != nil {
		return mailer.Message{}, err
	}
	return mailer.PaymentReceipt(ev.Email, ev.Reference, ev.TaxType, ev.AmountCents, ev.Currency), nil
}
