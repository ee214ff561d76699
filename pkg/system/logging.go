// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
	ReqLoggerKey = "reqLogger"
	// RequestIDKey holds the request id in the gin context.
	RequestIDKey = "requestId"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"

	// ActorIDKey and RolesKey are set by the authentication middleware.
	ActorIDKey = "actor_id"
	RolesKey   = "roles"
)

// RequestLogger stores a request-scoped logger carrying a request id. An
// incoming X-Request-ID is reused when present.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With("requestId", id, "method", c.Request.Method, "path", c.FullPath()))
		c.Next()
	}
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the actor
// fields available in the gin context and stores it back.
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if actor := c.GetString(ActorIDKey); actor != "" {
		reqLogger = reqLogger.With("actor", actor)
	}
	if v, ok := c.Get(RolesKey); ok {
		if roles, ok2 := v.([]string); ok2 && len(roles) > 0 {
			reqLogger = reqLogger.With("roleCount", len(roles))
			// full role list is useful at debug level only
			reqLogger.Debugw("Request token roles", "roles", roles)
		}
	}
	c.Set(ReqLoggerKey, reqLogger)
	return reqLogger
}

// TenantFields returns key/value pairs for SugaredLogger.With or Infow. An
// empty key only adds the tenant.
func TenantFields(tenantID, key string) []interface{} {
	if key == "" {
		return []interface{}{"tenant", tenantID}
	}
	return []interface{}{"tenant", tenantID, "key", key}
}
