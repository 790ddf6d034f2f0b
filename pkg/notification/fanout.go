package notification

import (
	"context"
	"fmt"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/metrics"
)

// Pusher delivers in-app notifications to live connections.
type Pusher interface {
	Publish(n Notification) bool
}

// FanOut consumes report events and records one notification per
// recipient and channel. Redelivered events produce no duplicates.
type FanOut struct {
	inbox  Inbox
	pusher Pusher
	log    *logging.Logger
}

func NewFanOut(inbox Inbox, pusher Pusher) *FanOut {
	return &FanOut{inbox: inbox, pusher: pusher, log: logging.New("notification-fanout")}
}

func (f *FanOut) Handle(ctx context.Context, env events.Envelope) error {
	notifications, err := Resolve(env)
	if err != nil {
		return fmt.Errorf("resolve recipients for %s: %w", env.EventID, err)
	}

	for _, n := range notifications {
		created, err := f.inbox.Insert(ctx, n)
		if err != nil {
			metrics.NotificationsCreated.WithLabelValues(string(n.Channel), "failed").Inc()
			return err
		}
		if !created {
			metrics.NotificationsCreated.WithLabelValues(string(n.Channel), "duplicate").Inc()
			continue
		}
		metrics.NotificationsCreated.WithLabelValues(string(n.Channel), "created").Inc()

		if n.Channel == ChannelInApp && f.pusher != nil && !f.pusher.Publish(n) {
			f.log.Warn(ctx, "live push dropped", nil, logging.Fields{"recipient": n.Recipient, "event_id": n.EventID})
		}
	}

	if len(notifications) > 0 {
		f.log.Info(ctx, "notifications fanned out", logging.Fields{
			"event_id": env.EventID, "type": string(env.Type), "count": len(notifications),
		})
	}
	return nil
}
