// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package dispatch turns notification requests into channel sends and
// records every attempt in the notification ledger.
//
// Each request is handled in isolation: provider errors, timeouts and open
// circuits end up as a failed record, never as an error of the call. Only
// ledger failures are returned to the caller. Submissions carrying an
// idempotency key are deduplicated against the ledger, so replaying a
// partially processed escalation tier never sends twice.
package dispatch
