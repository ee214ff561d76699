package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/system"
)

// FailuresController serves failure reporting and resolution. Report
// ingestion can carry its own rate limiter since subsystems report in bursts.
type FailuresController struct {
	failures FailureService
	limiter  gin.HandlerFunc
	log      *zap.SugaredLogger
}

func NewFailuresController(svc FailureService, reportLimiter gin.HandlerFunc, log *zap.SugaredLogger) *FailuresController {
	return &FailuresController{failures: svc, limiter: reportLimiter, log: log.Named("failures-api")}
}

func (fc *FailuresController) BasePath() string { return "failures" }

func (fc *FailuresController) Handlers() []gin.HandlerFunc { return nil }

func (fc *FailuresController) Register(rg *gin.RouterGroup) error {
	report := []gin.HandlerFunc{}
	if fc.limiter != nil {
		report = append(report, fc.limiter)
	}
	report = append(report, instrumentedHandler("handleReportFailure", fc.handleReport))
	rg.POST("", report...)
	rg.GET(":id", instrumentedHandler("handleGetFailure", fc.handleGet))
	rg.POST(":id/resolve", instrumentedHandler("handleResolveFailure", fc.handleResolve))
	return nil
}

func (fc *FailuresController) handleReport(c *gin.Context) {
	log := system.GetReqLogger(c, fc.log)

	var rep failures.Report
	if err := c.ShouldBindJSON(&rep); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid request body", err.Error())
		return
	}
	rec, err := fc.failures.Report(c.Request.Context(), rep)
	if err != nil {
		apiresponses.RespondError(c, "report failure", err, log)
		return
	}
	apiresponses.RespondOK(c, rec)
}

func (fc *FailuresController) handleGet(c *gin.Context) {
	rec, err := fc.failures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiresponses.RespondError(c, "get failure", err, system.GetReqLogger(c, fc.log))
		return
	}
	apiresponses.RespondOK(c, rec)
}

func (fc *FailuresController) handleResolve(c *gin.Context) {
	log := system.GetReqLogger(c, fc.log).With("failureId", c.Param("id"))
	actor, ok := ActorFrom(c)
	if !ok {
		apiresponses.RespondUnauthenticated(c, "")
		return
	}
	rec, err := fc.failures.Resolve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apiresponses.RespondError(c, "resolve failure", err, log)
		return
	}
	log.Infow("Failure resolved via API", "tenant", rec.TenantID)
	apiresponses.RespondOK(c, rec)
}
