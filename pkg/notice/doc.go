// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package notice renders the human-readable subject and body of escalation
// notices. The escalation coordinator treats the rendered text as opaque.
package notice
