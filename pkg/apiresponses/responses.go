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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// APIError represents a standardized error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes carried in APIError.Code.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnknownKey      = "UNKNOWN_KEY"
	CodeNotFound        = "NOT_FOUND"
	CodeTenantNotFound  = "TENANT_NOT_FOUND"
	CodeStorage         = "STORAGE_FAILURE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// StatusFor maps an error from the control plane packages to an HTTP status
// and an error code.
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, control.ErrUnauthorized):
		return http.StatusForbidden, CodeUnauthorized
	case errors.Is(err, control.ErrUnknownFlag), errors.Is(err, control.ErrUnknownKey):
		return http.StatusBadRequest, CodeUnknownKey
	case errors.Is(err, control.ErrValidation):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, control.ErrTenantNotFound):
		return http.StatusNotFound, CodeTenantNotFound
	case errors.Is(err, control.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeStorage
	}
}

// RespondError renders err with the status chosen by StatusFor. Server-side
// failures are logged with full details and returned to the client sanitized.
func RespondError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
		}
		c.JSON(status, APIError{Error: fmt.Sprintf("failed to %s", operation), Code: code})
		return
	}
	if log != nil {
		log.Debugw("Request rejected", "operation", operation, "status", status, "error", err)
	}
	c.JSON(status, APIError{Error: err.Error(), Code: code})
}

// RespondUnauthenticated sends a 401 for a missing or invalid bearer token.
func RespondUnauthenticated(c *gin.Context, message string) {
	if message == "" {
		message = "user not authenticated"
	}
	c.Header("WWW-Authenticate", `Bearer realm="controlplane"`)
	c.JSON(http.StatusUnauthorized, APIError{
		Error: message,
		Code:  CodeUnauthenticated,
	})
}

// RespondForbidden sends a 403 Forbidden response with an optional reason.
func RespondForbidden(c *gin.Context, reason string) {
	if reason == "" {
		reason = "access denied"
	}
	c.JSON(http.StatusForbidden, APIError{
		Error: reason,
		Code:  CodeUnauthorized,
	})
}

// RespondBadRequest sends a 400 Bad Request response.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error: message,
		Code:  CodeBadRequest,
	})
}

// RespondBadRequestWithDetails sends a 400 Bad Request with additional details.
func RespondBadRequestWithDetails(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error:   message,
		Code:    CodeBadRequest,
		Details: details,
	})
}

// RespondTooManyRequests sends a 429 with a Retry-After hint.
func RespondTooManyRequests(c *gin.Context, message string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.JSON(http.StatusTooManyRequests, APIError{
		Error: message,
		Code:  CodeRateLimited,
	})
}

// RespondServiceUnavailable sends a 503 Service Unavailable response.
func RespondServiceUnavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, APIError{
		Error: fmt.Sprintf("service unavailable: %s", service),
		Code:  CodeUnavailable,
	})
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
