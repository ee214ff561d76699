package system

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestRequestLoggerAssignsID(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core).Sugar()))
	r.GET("/ping", func(c *gin.Context) {
		GetReqLogger(c, nil).Infow("handled")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)

	entries := recorded.FilterMessage("handled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ContextMap()["requestId"])
	assert.Equal(t, "/ping", entries[0].ContextMap()["path"])

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	r.ServeHTTP(w, req)
	assert.Equal(t, "caller-id", w.Header().Get(RequestIDHeader))
}

func TestEnrichReqLoggerWithAuthAddsFields(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set(ActorIDKey, "alice")
	ctx.Set(RolesKey, []string{"superadmin", "viewer"})

	core, recorded := observer.New(zap.DebugLevel)
	enriched := EnrichReqLoggerWithAuth(ctx, zap.New(core).Sugar())
	enriched.Infow("final-log")

	entries := recorded.FilterMessage("final-log").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "alice", fields["actor"])
	assert.EqualValues(t, 2, fields["roleCount"])
	assert.Same(t, enriched, GetReqLogger(ctx, nil))
	assert.Len(t, recorded.FilterMessage("Request token roles").All(), 1)
}

func TestEnrichReqLoggerWithAuthNil(t *testing.T) {
	assert.Nil(t, EnrichReqLoggerWithAuth(nil, nil))
}

func TestTenantFields(t *testing.T) {
	assert.Equal(t, []interface{}{"tenant", "acme"}, TenantFields("acme", ""))
	assert.Equal(t, []interface{}{"tenant", "acme", "key", "inbox_disabled"}, TenantFields("acme", "inbox_disabled"))
}
