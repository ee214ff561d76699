package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/system"
)

// OperationsController serves the platform-wide operator views.
type OperationsController struct {
	resolver StateResolver
	audit    AuditReader
	authz    control.Authorizer
	log      *zap.SugaredLogger
}

func NewOperationsController(resolver StateResolver, audit AuditReader, authz control.Authorizer, log *zap.SugaredLogger) *OperationsController {
	if authz == nil {
		authz = control.SuperadminOnly
	}
	return &OperationsController{resolver: resolver, audit: audit, authz: authz, log: log.Named("operations-api")}
}

func (oc *OperationsController) BasePath() string { return "" }

func (oc *OperationsController) Handlers() []gin.HandlerFunc { return nil }

func (oc *OperationsController) Register(rg *gin.RouterGroup) error {
	rg.GET("health-snapshot", instrumentedHandler("handleHealthSnapshot", oc.handleHealthSnapshot))
	rg.GET("audit", instrumentedHandler("handleListAudit", oc.handleListAudit))
	return nil
}

func (oc *OperationsController) handleHealthSnapshot(c *gin.Context) {
	apiresponses.RespondOK(c, oc.resolver.GetHealthSnapshot(c.Request.Context()))
}

func (oc *OperationsController) handleListAudit(c *gin.Context) {
	log := system.GetReqLogger(c, oc.log)
	actor, ok := ActorFrom(c)
	if !ok {
		apiresponses.RespondUnauthenticated(c, "")
		return
	}
	if err := oc.authz.Authorize(actor, control.ObjectAudit, control.PermRead); err != nil {
		apiresponses.RespondError(c, "list audit", err, log)
		return
	}

	filter := control.AuditFilter{
		TargetKind: control.TargetKind(c.Query("targetKind")),
		TargetKey:  c.Query("targetKey"),
		TenantID:   c.Query("tenant"),
	}
	switch filter.TargetKind {
	case "", control.TargetSystemFlag, control.TargetTenantControl, control.TargetFailureRecord:
	default:
		apiresponses.RespondBadRequest(c, "unknown targetKind")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apiresponses.RespondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := oc.audit.List(c.Request.Context(), filter)
	if err != nil {
		apiresponses.RespondError(c, "list audit", err, log)
		return
	}
	apiresponses.RespondOK(c, entries)
}
