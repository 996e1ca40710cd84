// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package sms sends text messages through an HTTP JSON SMS gateway.
package sms
