package escalation

import (
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notice"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// Delivery is one (recipient role, channel) pair required by a tier.
type Delivery struct {
	Role      breach.Role
	Channel   notification.Channel
	Recipient string
	Priority  notification.Priority
	Kind      notice.Kind
}

// Key returns the idempotency key of d for a breach and tier.
func (d Delivery) Key(breachID string, tier breach.Tier) notification.Key {
	return notification.Key{
		BreachID: breachID,
		Tier:     int(tier),
		Role:     string(d.Role),
		Channel:  d.Channel,
	}
}

// Skip is a required delivery that could not be planned because the
// breach carries no address for the role on that channel.
type Skip struct {
	Role    breach.Role
	Channel notification.Channel
	Kind    notice.Kind
}

// tier3Recipients are the roles emailed on institutional review, in order.
var tier3Recipients = []breach.Role{breach.RoleAttorney, breach.RoleEmployer, breach.RoleTPA}

// Plan resolves the recipient and channel set for escalating e to tier.
// Portal messages are addressed to a role on the claim and never need a
// contact; email and SMS deliveries without an address are returned as skips.
func Plan(e *breach.Event, tier breach.Tier) ([]Delivery, []Skip) {
	p := planner{e: e}

	switch tier {
	case breach.TierAlert:
		attorneyPriority := notification.PriorityHigh
		if e.Severity == breach.SeverityCritical {
			attorneyPriority = notification.PriorityCritical
		}
		p.email(breach.RoleAttorney, attorneyPriority, notice.KindAttorney)
		p.portal(breach.RoleWorker, notification.PriorityNormal, notice.KindClient)
		if e.Severity == breach.SeverityCritical {
			p.sms(breach.RoleWorker, notification.PriorityCritical, notice.KindClientSMS)
		}

	case breach.TierOperational:
		p.email(breach.RoleEmployer, notification.PriorityHigh, notice.KindEmployer)
		p.email(breach.RoleTPA, notification.PriorityHigh, notice.KindTPA)

	case breach.TierInstitutional:
		// Priority is forced to critical regardless of breach severity.
		for _, role := range tier3Recipients {
			p.email(role, notification.PriorityCritical, notice.KindCritical)
		}
		p.portal(breach.RoleAll, notification.PriorityCritical, notice.KindCriticalBroadcast)
	}

	return p.deliveries, p.skips
}

type planner struct {
	e          *breach.Event
	deliveries []Delivery
	skips      []Skip
}

func (p *planner) email(role breach.Role, priority notification.Priority, kind notice.Kind) {
	c, _ := p.e.Contact(role)
	p.add(role, notification.ChannelEmail, c.Email, priority, kind)
}

func (p *planner) sms(role breach.Role, priority notification.Priority, kind notice.Kind) {
	c, _ := p.e.Contact(role)
	p.add(role, notification.ChannelSMS, c.Phone, priority, kind)
}

func (p *planner) portal(role breach.Role, priority notification.Priority, kind notice.Kind) {
	p.add(role, notification.ChannelPortal, string(role), priority, kind)
}

func (p *planner) add(role breach.Role, ch notification.Channel, recipient string, priority notification.Priority, kind notice.Kind) {
	if recipient == "" {
		p.skips = append(p.skips, Skip{Role: role, Channel: ch, Kind: kind})
		return
	}
	p.deliveries = append(p.deliveries, Delivery{
		Role:      role,
		Channel:   ch,
		Recipient: recipient,
		Priority:  priority,
		Kind:      kind,
	})
}
