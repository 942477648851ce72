package service

import (
	"context"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/events"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
)

// EventNotifier hands tracking links to the notify service over NATS, so the
// request path never waits on SMTP.
type EventNotifier struct {
	publisher events.Publisher
	now       func() time.Time
}

func NewEventNotifier(publisher events.Publisher) *EventNotifier {
	return &EventNotifier{publisher: publisher, now: time.Now}
}

func (n *EventNotifier) SendTrackingLink(ctx context.Context, b *domain.Booking, link string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(n.now()).Round(time.Second)
	if ttl < 0 {
		ttl = 0
	}
	return n.publisher.Publish(ctx, events.TrackingLinkRequested, events.TrackingLinkRequestedEvent{
		Reference: b.Reference,
		Email:     b.Email,
		Name:      b.Name,
		Link:      link,
		ExpiresAt: expiresAt.UTC(),
		TTL:       int64(ttl / time.Second),
	})
}
