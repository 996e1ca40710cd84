/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// Machine-readable error codes carried in APIError.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeUnprocessable      = "UNPROCESSABLE_ENTITY"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respond(c *gin.Context, status int, code, msg, details string) {
	c.JSON(status, APIError{Error: msg, Code: code, Details: details})
}

func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

func RespondBadRequest(c *gin.Context, msg string) {
	respond(c, http.StatusBadRequest, CodeBadRequest, msg, "")
}

// RespondBadRequestWithDetails reports a malformed body; details usually holds
// the decoder or validation error.
func RespondBadRequestWithDetails(c *gin.Context, msg, details string) {
	respond(c, http.StatusBadRequest, CodeBadRequest, msg, details)
}

// RespondUnauthorizedWithMessage answers 401; an empty msg becomes a generic one.
func RespondUnauthorizedWithMessage(c *gin.Context, msg string) {
	if msg == "" {
		msg = "not authenticated"
	}
	respond(c, http.StatusUnauthorized, CodeUnauthorized, msg, "")
}

func RespondUnprocessableEntity(c *gin.Context, msg string) {
	respond(c, http.StatusUnprocessableEntity, CodeUnprocessable, msg, "")
}

func RespondTooManyRequests(c *gin.Context, msg string) {
	respond(c, http.StatusTooManyRequests, CodeRateLimited, msg, "")
}

func RespondServiceUnavailable(c *gin.Context, msg string) {
	respond(c, http.StatusServiceUnavailable, CodeServiceUnavailable, msg, "")
}

// RespondInternalError logs err and answers 500 without exposing it.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw("Request failed", "operation", operation, "error", err)
	}
	respond(c, http.StatusInternalServerError, CodeInternal, "failed to "+operation, "")
}

type errorMapping struct {
	target error
	status int
	code   string
}

var knownErrors = []errorMapping{
	{notification.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{breach.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{notification.ErrInvalidTransition, http.StatusConflict, CodeConflict},
	{notification.ErrDuplicateKey, http.StatusConflict, CodeConflict},
	{breach.ErrExists, http.StatusConflict, CodeConflict},
	{breach.ErrTierConflict, http.StatusConflict, CodeConflict},
	{breach.ErrTierRegression, http.StatusUnprocessableEntity, CodeUnprocessable},
}

// RespondError maps ledger and breach registry errors onto HTTP statuses.
// Unrecognised errors go through RespondInternalError.
func RespondError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	for _, m := range knownErrors {
		if errors.Is(err, m.target) {
			respond(c, m.status, m.code, err.Error(), "")
			return
		}
	}
	RespondInternalError(c, operation, err, log)
}
