package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telekom/sla-escalation/pkg/api"
	"github.com/telekom/sla-escalation/pkg/breach"
)

type BreachService struct {
	client *Client
}

func (c *Client) Breaches() *BreachService {
	return &BreachService{client: c}
}

// ListOptions narrows BreachService.List. A nil Open lists every breach.
type ListOptions struct {
	Open    *bool
	ClaimID string
}

func (b *BreachService) List(ctx context.Context, opts ListOptions) ([]breach.Event, error) {
	q := url.Values{}
	if opts.Open != nil {
		q.Set("open", strconv.FormatBool(*opts.Open))
	}
	if opts.ClaimID != "" {
		q.Set("claimId", opts.ClaimID)
	}
	var events []breach.Event
	if err := b.client.do(ctx, http.MethodGet, "breaches", q, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (b *BreachService) Get(ctx context.Context, id string) (*breach.Event, error) {
	var e breach.Event
	if err := b.client.do(ctx, http.MethodGet, "breaches/"+url.PathEscape(id), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *BreachService) Register(ctx context.Context, reg api.BreachRegistration) (*breach.Event, error) {
	var e breach.Event
	if err := b.client.do(ctx, http.MethodPost, "breaches", nil, reg, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Escalate asks the service to evaluate the breach now.
func (b *BreachService) Escalate(ctx context.Context, id string) (*api.EscalationView, error) {
	var v api.EscalationView
	if err := b.client.do(ctx, http.MethodPost, "breaches/"+url.PathEscape(id)+"/escalate", nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (b *BreachService) Resolve(ctx context.Context, id string) (*breach.Event, error) {
	var e breach.Event
	if err := b.client.do(ctx, http.MethodPost, "breaches/"+url.PathEscape(id)+"/resolve", nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
