// Package escalation drives SLA breaches through the three-tier escalation
// protocol: Classify maps breach age to a tier, Plan resolves who is
// notified on which channel, and the Coordinator submits the tier's
// notifications and advances the breach once all of them were attempted.
package escalation
