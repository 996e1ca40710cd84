package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telekom/sla-escalation/pkg/notification"
)

type NotificationService struct {
	client *Client
}

func (c *Client) Notifications() *NotificationService {
	return &NotificationService{client: c}
}

func (n *NotificationService) List(ctx context.Context, f notification.Filter) ([]notification.Record, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("claimId", f.ClaimID)
	set("breachId", f.BreachID)
	set("channel", string(f.Channel))
	set("status", string(f.Status))
	set("priority", string(f.Priority))
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var records []notification.Record
	if err := n.client.do(ctx, http.MethodGet, "notifications", q, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (n *NotificationService) Get(ctx context.Context, id string) (*notification.Record, error) {
	var rec notification.Record
	if err := n.client.do(ctx, http.MethodGet, "notifications/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
