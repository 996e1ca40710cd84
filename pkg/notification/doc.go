// Package notification defines notification requests, the audit-grade
// records produced by dispatching them, and the legal status lifecycle
// pending -> sent -> delivered / pending -> failed / sent -> failed.
package notification
