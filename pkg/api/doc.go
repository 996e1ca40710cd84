// Package api implements the HTTP API server (Gin-based) of the escalation
// service: notification ledger queries, provider delivery webhooks, the
// breach registry with manual escalate and resolve actions, health, version
// and Prometheus metrics endpoints, and JWKS-based bearer authentication.
package api
