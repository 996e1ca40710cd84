// Package mail delivers escalation notices over SMTP with bounded retries
// and an HTML alternative part rendered from an embedded layout.
package mail
