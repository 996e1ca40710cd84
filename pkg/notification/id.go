// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notification

import "github.com/oklog/ulid/v2"

// NewID returns a new record id. ULIDs sort by creation time and are
// monotonic within the process, which keeps ledger ordering stable.
func NewID() string {
	return ulid.Make().String()
}
