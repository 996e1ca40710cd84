// Package ledger defines the append-only notification ledger and its in-memory backend.
package ledger
