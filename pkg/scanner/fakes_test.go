package scanner

import (
	"context"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notice"
	"github.com/telekom/sla-escalation/pkg/notification"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, req notification.Request) (*notification.Record, error) {
	return &notification.Record{ID: req.Key.String(), Channel: req.Channel, Status: notification.StatusSent}, nil
}

type renderer struct{}

func (renderer) Render(kind notice.Kind, e *breach.Event) (notice.Content, error) {
	return notice.Content{Subject: string(kind), Body: e.ClaimID}, nil
}
