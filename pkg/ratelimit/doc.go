// Package ratelimit is the token-bucket middleware in front of /api. Buckets
// are keyed by client IP unless a KeyFunc is supplied and are dropped after
// a period without requests.
package ratelimit
