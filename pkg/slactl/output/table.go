package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/sla-escalation/pkg/api"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notification"
)

func WriteNotificationTable(w io.Writer, records []notification.Record) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCLAIM\tCHANNEL\tRECIPIENT\tPRIORITY\tSTATUS\tCREATED")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.ClaimID, r.Channel, dash(r.Recipient), r.Priority, r.Status, formatTime(r.CreatedAt))
	}
	_ = tw.Flush()
}

// WriteNotificationTableWide adds the escalation key and failure details.
func WriteNotificationTableWide(w io.Writer, records []notification.Record) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCLAIM\tBREACH\tTIER\tROLE\tCHANNEL\tRECIPIENT\tPRIORITY\tSTATUS\tATTEMPTS\tCREATED\tFAILURE")
	for _, r := range records {
		tier := "-"
		if r.Tier > 0 {
			tier = fmt.Sprintf("%d", r.Tier)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.ClaimID, dash(r.BreachID), tier, dash(r.RecipientRole), r.Channel, dash(r.Recipient),
			r.Priority, r.Status, r.Attempts, formatTime(r.CreatedAt), dash(truncate(r.FailureReason, 60)))
	}
	_ = tw.Flush()
}

func WriteBreachTable(w io.Writer, events []breach.Event) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCLAIM\tSEVERITY\tTIER\tSTATE\tCREATED")
	for _, e := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ClaimID, e.Severity, e.LastEscalatedTier, breachState(e), formatTime(e.CreatedAt))
	}
	_ = tw.Flush()
}

func WriteBreachTableWide(w io.Writer, events []breach.Event) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCLAIM\tREFERENCE\tSEVERITY\tRESPONSIBLE\tDELAY_DAYS\tTIER\tLAST_ESCALATED\tSTATE\tCREATED\tRECIPIENTS")
	for _, e := range events {
		lastEscalated := "-"
		if e.LastEscalatedAt != nil {
			lastEscalated = formatTime(*e.LastEscalatedAt)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ClaimID, dash(e.ClaimReference), e.Severity, dash(responsibleParty(e)), e.DelayDays,
			e.LastEscalatedTier, lastEscalated, breachState(e), formatTime(e.CreatedAt), dash(recipientRoles(e)))
	}
	_ = tw.Flush()
}

// WriteEscalationResult prints the outcome line followed by the sent notifications.
func WriteEscalationResult(w io.Writer, v *api.EscalationView) {
	_, _ = fmt.Fprintf(w, "breach %s: %s (tier %s -> %s, %d failed)\n",
		v.BreachID, v.Outcome, v.PreviousTier, v.Tier, v.Failed)
	if len(v.Notifications) > 0 {
		records := make([]notification.Record, 0, len(v.Notifications))
		for _, r := range v.Notifications {
			if r != nil {
				records = append(records, *r)
			}
		}
		WriteNotificationTable(w, records)
	}
	for _, s := range v.Skipped {
		_, _ = fmt.Fprintf(w, "skipped %s notice to %s via %s: no contact on file\n", s.Kind, s.Role, s.Channel)
	}
}

func breachState(e breach.Event) string {
	if e.Resolved {
		return "resolved"
	}
	return "open"
}

func responsibleParty(e breach.Event) string {
	switch {
	case e.ResponsiblePartyName != "" && e.ResponsiblePartyType != "":
		return fmt.Sprintf("%s (%s)", e.ResponsiblePartyName, e.ResponsiblePartyType)
	case e.ResponsiblePartyName != "":
		return e.ResponsiblePartyName
	default:
		return e.ResponsiblePartyType
	}
}

func recipientRoles(e breach.Event) string {
	roles := make([]string, 0, len(e.Recipients))
	for _, r := range []breach.Role{breach.RoleWorker, breach.RoleAttorney, breach.RoleEmployer, breach.RoleTPA} {
		if _, ok := e.Recipients[r]; ok {
			roles = append(roles, string(r))
		}
	}
	return strings.Join(roles, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
