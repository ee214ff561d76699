package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/system"
)

// ToggleTenantControlRequest is the body of PUT /api/tenants/:tenant/controls/:key.
type ToggleTenantControlRequest struct {
	Value  *bool  `json:"value"`
	Reason string `json:"reason"`
}

// ClearTenantControlRequest is the optional body of DELETE /api/tenants/:tenant/controls/:key.
// The reason may also be passed as ?reason=.
type ClearTenantControlRequest struct {
	Reason string `json:"reason"`
}

// FeatureState is the response of GET /api/tenants/:tenant/features/:key.
type FeatureState struct {
	TenantID string      `json:"tenantId"`
	Key      control.Key `json:"key"`
	Enabled  bool        `json:"enabled"`
}

// TenantsController serves everything scoped to one tenant.
type TenantsController struct {
	controls TenantControlService
	failures FailureService
	resolver StateResolver
	log      *zap.SugaredLogger
}

func NewTenantsController(controls TenantControlService, failures FailureService, resolver StateResolver, log *zap.SugaredLogger) *TenantsController {
	return &TenantsController{controls: controls, failures: failures, resolver: resolver, log: log.Named("tenants-api")}
}

func (tc *TenantsController) BasePath() string { return "tenants/:tenant" }

func (tc *TenantsController) Handlers() []gin.HandlerFunc { return nil }

func (tc *TenantsController) Register(rg *gin.RouterGroup) error {
	rg.GET("controls", instrumentedHandler("handleListTenantControls", tc.handleListControls))
	rg.PUT("controls/:key", instrumentedHandler("handleToggleTenantControl", tc.handleToggleControl))
	rg.DELETE("controls/:key", instrumentedHandler("handleClearTenantControl", tc.handleClearControl))
	rg.GET("features", instrumentedHandler("handleEffectiveControls", tc.handleEffectiveControls))
	rg.GET("features/:key", instrumentedHandler("handleGetFeatureState", tc.handleFeatureState))
	rg.GET("failures", instrumentedHandler("handleListActiveFailures", tc.handleListActiveFailures))
	rg.GET("failures/history", instrumentedHandler("handleFailureHistory", tc.handleFailureHistory))
	rg.GET("failure-view", instrumentedHandler("handleGetFailureView", tc.handleFailureView))
	return nil
}

func (tc *TenantsController) logger(c *gin.Context) *zap.SugaredLogger {
	return system.GetReqLogger(c, tc.log).With(system.TenantFields(c.Param("tenant"), c.Param("key"))...)
}

func (tc *TenantsController) handleListControls(c *gin.Context) {
	list, err := tc.controls.List(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		apiresponses.RespondError(c, "list tenant controls", err, tc.logger(c))
		return
	}
	if list == nil {
		list = []control.TenantControl{}
	}
	apiresponses.RespondOK(c, list)
}

func (tc *TenantsController) handleToggleControl(c *gin.Context) {
	log := tc.logger(c)
	actor, ok := ActorFrom(c)
	if !ok {
		apiresponses.RespondUnauthenticated(c, "")
		return
	}

	var req ToggleTenantControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}
	if req.Value == nil {
		apiresponses.RespondBadRequest(c, "value is required")
		return
	}

	ctl, err := tc.controls.Toggle(c.Request.Context(), actor, c.Param("tenant"), c.Param("key"), *req.Value, req.Reason)
	if err != nil {
		apiresponses.RespondError(c, "toggle tenant control", err, log)
		return
	}
	log.Infow("Tenant control toggled via API", "value", ctl.Value)
	apiresponses.RespondOK(c, ctl)
}

func (tc *TenantsController) handleClearControl(c *gin.Context) {
	log := tc.logger(c)
	actor, ok := ActorFrom(c)
	if !ok {
		apiresponses.RespondUnauthenticated(c, "")
		return
	}

	reason := c.Query("reason")
	if reason == "" && c.Request.ContentLength != 0 {
		var req ClearTenantControlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
			return
		}
		reason = req.Reason
	}

	if err := tc.controls.Clear(c.Request.Context(), actor, c.Param("tenant"), c.Param("key"), reason); err != nil {
		apiresponses.RespondError(c, "clear tenant control", err, log)
		return
	}
	log.Infow("Tenant control cleared via API")
	apiresponses.RespondOK(c, gin.H{"cleared": true})
}

func (tc *TenantsController) handleEffectiveControls(c *gin.Context) {
	apiresponses.RespondOK(c, tc.resolver.EffectiveControls(c.Request.Context(), c.Param("tenant")))
}

func (tc *TenantsController) handleFeatureState(c *gin.Context) {
	key, err := control.ParseKey(c.Param("key"))
	if err != nil {
		apiresponses.RespondError(c, "get feature state", err, tc.logger(c))
		return
	}
	tenantID := c.Param("tenant")
	apiresponses.RespondOK(c, FeatureState{
		TenantID: tenantID,
		Key:      key,
		Enabled:  tc.resolver.GetFeatureState(c.Request.Context(), tenantID, string(key)),
	})
}

func (tc *TenantsController) handleListActiveFailures(c *gin.Context) {
	apiresponses.RespondOK(c, nonNil(tc.failures.ListActive(c.Request.Context(), c.Param("tenant"))))
}

func (tc *TenantsController) handleFailureHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apiresponses.RespondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := tc.failures.History(c.Request.Context(), c.Param("tenant"), limit)
	if err != nil {
		apiresponses.RespondError(c, "list failure history", err, tc.logger(c))
		return
	}
	apiresponses.RespondOK(c, nonNil(list))
}

func (tc *TenantsController) handleFailureView(c *gin.Context) {
	apiresponses.RespondOK(c, nonNil(tc.resolver.GetFailureView(c.Request.Context(), c.Param("tenant"))))
}

func nonNil(list []control.FailureRecord) []control.FailureRecord {
	if list == nil {
		return []control.FailureRecord{}
	}
	return list
}
