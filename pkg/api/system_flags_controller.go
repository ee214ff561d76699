package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/system"
)

// ToggleSystemFlagRequest is the body of PUT /api/system-flags/:key.
type ToggleSystemFlagRequest struct {
	Value *bool `json:"value"`
}

type SystemFlagsController struct {
	flags SystemFlagService
	log   *zap.SugaredLogger
}

func NewSystemFlagsController(flags SystemFlagService, log *zap.SugaredLogger) *SystemFlagsController {
	return &SystemFlagsController{flags: flags, log: log.Named("system-flags-api")}
}

func (sc *SystemFlagsController) BasePath() string { return "system-flags" }

func (sc *SystemFlagsController) Handlers() []gin.HandlerFunc { return nil }

func (sc *SystemFlagsController) Register(rg *gin.RouterGroup) error {
	rg.GET("", instrumentedHandler("handleListSystemFlags", sc.handleList))
	rg.PUT(":key", instrumentedHandler("handleToggleSystemFlag", sc.handleToggle))
	return nil
}

// handleList serves the cached key to value map. With ?detail=true it serves
// the stored rows instead, which carry UpdatedAt and UpdatedBy and fail when
// storage does.
func (sc *SystemFlagsController) handleList(c *gin.Context) {
	if detail, _ := strconv.ParseBool(c.Query("detail")); !detail {
		apiresponses.RespondOK(c, sc.flags.GetAll(c.Request.Context()))
		return
	}
	log := system.GetReqLogger(c, sc.log)
	list, err := sc.flags.List(c.Request.Context())
	if err != nil {
		apiresponses.RespondError(c, "list system flags", err, log)
		return
	}
	apiresponses.RespondOK(c, list)
}

func (sc *SystemFlagsController) handleToggle(c *gin.Context) {
	log := system.GetReqLogger(c, sc.log)
	actor, ok := ActorFrom(c)
	if !ok {
		apiresponses.RespondUnauthenticated(c, "")
		return
	}

	var req ToggleSystemFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}
	if req.Value == nil {
		apiresponses.RespondBadRequest(c, "value is required")
		return
	}

	flag, err := sc.flags.Toggle(c.Request.Context(), actor, c.Param("key"), *req.Value)
	if err != nil {
		apiresponses.RespondError(c, "toggle system flag", err, log)
		return
	}
	log.Infow("System flag toggled via API", "key", flag.Key, "value", flag.Value)
	apiresponses.RespondOK(c, flag)
}
