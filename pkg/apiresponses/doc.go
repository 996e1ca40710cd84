// Package apiresponses provides standardized HTTP API response helpers
// (error, not-found, unauthorized, conflict, etc.) and the mapping of
// ledger and breach registry errors onto HTTP statuses.
package apiresponses
