package escalation

import (
	"time"

	"github.com/telekom/sla-escalation/pkg/breach"
)

const (
	// OperationalAfter is the breach age at which tier 2 begins.
	OperationalAfter = 24 * time.Hour
	// InstitutionalAfter is the breach age at which tier 3 begins.
	InstitutionalAfter = 72 * time.Hour
)

// Classify maps the age of a breach to its escalation tier. Each band
// includes its lower edge. Negative ages caused by clock skew fall into
// tier 1.
func Classify(createdAt, now time.Time) breach.Tier {
	elapsed := now.Sub(createdAt)
	switch {
	case elapsed >= InstitutionalAfter:
		return breach.TierInstitutional
	case elapsed >= OperationalAfter:
		return breach.TierOperational
	default:
		return breach.TierAlert
	}
}
