// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys written by the request-id and auth middleware.
const (
	ReqLoggerKey = "reqLogger"
	UserIDKey    = "user_id"
	EmailKey     = "email"
	UsernameKey  = "username"
	GroupsKey    = "groups"
)

// AnonymousCaller is the audit identity of unauthenticated API calls.
const AnonymousCaller = "api"

// GetReqLogger returns the logger stored under ReqLoggerKey, or fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if l, ok := c.Value(ReqLoggerKey).(*zap.SugaredLogger); ok {
		return l
	}
	return fallback
}

// EnrichReqLoggerWithAuth attaches the caller's email and username to log.
// Token groups are only counted; the full list is logged at debug level.
func EnrichReqLoggerWithAuth(c *gin.Context, log *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || log == nil {
		return log
	}
	for _, key := range []string{EmailKey, UsernameKey} {
		if v := c.GetString(key); v != "" {
			log = log.With(key, v)
		}
	}
	if groups := c.GetStringSlice(GroupsKey); len(groups) > 0 {
		log = log.With("groupCount", len(groups))
		log.Debugw("Request token groups", "groups", groups)
	}
	return log
}

// CallerIdentity names the authenticated caller for audit records, preferring
// email over username over subject. Unauthenticated requests yield AnonymousCaller.
func CallerIdentity(c *gin.Context) string {
	for _, key := range []string{EmailKey, UsernameKey, UserIDKey} {
		if v := c.GetString(key); v != "" {
			return v
		}
	}
	return AnonymousCaller
}

// BreachFields returns the key/value pairs identifying a breach in log calls.
// claimID is omitted when empty.
func BreachFields(breachID, claimID string) []interface{} {
	if claimID == "" {
		return []interface{}{"breachID", breachID}
	}
	return []interface{}{"breachID", breachID, "claimID", claimID}
}
