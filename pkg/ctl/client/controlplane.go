package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
	"github.com/telekom/tenant-control-plane/pkg/version"
)

// FeatureState mirrors the response of GET /api/tenants/:tenant/features/:key.
type FeatureState struct {
	TenantID string      `json:"tenantId" yaml:"tenantId"`
	Key      control.Key `json:"key" yaml:"key"`
	Enabled  bool        `json:"enabled" yaml:"enabled"`
}

type toggleRequest struct {
	Value  *bool  `json:"value"`
	Reason string `json:"reason,omitempty"`
}

func tenantPath(tenantID string, parts ...string) string {
	p := "/api/tenants/" + url.PathEscape(tenantID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) ListSystemFlags(ctx context.Context) ([]control.SystemFlag, error) {
	var out []control.SystemFlag
	err := c.do(ctx, http.MethodGet, "/api/system-flags?detail=true", nil, &out)
	return out, err
}

func (c *Client) SetSystemFlag(ctx context.Context, key string, value bool) (control.SystemFlag, error) {
	var out control.SystemFlag
	err := c.do(ctx, http.MethodPut, "/api/system-flags/"+url.PathEscape(key), toggleRequest{Value: &value}, &out)
	return out, err
}

func (c *Client) ListTenantControls(ctx context.Context, tenantID string) ([]control.TenantControl, error) {
	var out []control.TenantControl
	err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "controls"), nil, &out)
	return out, err
}

func (c *Client) SetTenantControl(ctx context.Context, tenantID, key string, value bool, reason string) (control.TenantControl, error) {
	var out control.TenantControl
	err := c.do(ctx, http.MethodPut, tenantPath(tenantID, "controls", key), toggleRequest{Value: &value, Reason: reason}, &out)
	return out, err
}

func (c *Client) ClearTenantControl(ctx context.Context, tenantID, key, reason string) error {
	endpoint := tenantPath(tenantID, "controls", key) + "?" + url.Values{"reason": {reason}}.Encode()
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) FeatureState(ctx context.Context, tenantID, key string) (FeatureState, error) {
	var out FeatureState
	err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "features", key), nil, &out)
	return out, err
}

func (c *Client) EffectiveControls(ctx context.Context, tenantID string) ([]resolver.EffectiveControl, error) {
	var out []resolver.EffectiveControl
	err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "features"), nil, &out)
	return out, err
}

func (c *Client) ListActiveFailures(ctx context.Context, tenantID string) ([]control.FailureRecord, error) {
	var out []control.FailureRecord
	err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "failures"), nil, &out)
	return out, err
}

func (c *Client) FailureView(ctx context.Context, tenantID string) ([]control.FailureRecord, error) {
	var out []control.FailureRecord
	err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "failure-view"), nil, &out)
	return out, err
}

func (c *Client) FailureHistory(ctx context.Context, tenantID string, limit int) ([]control.FailureRecord, error) {
	endpoint := tenantPath(tenantID, "failures", "history")
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out []control.FailureRecord
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) GetFailure(ctx context.Context, id string) (control.FailureRecord, error) {
	var out control.FailureRecord
	err := c.do(ctx, http.MethodGet, "/api/failures/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) ReportFailure(ctx context.Context, rep failures.Report) (control.FailureRecord, error) {
	var out control.FailureRecord
	err := c.do(ctx, http.MethodPost, "/api/failures", rep, &out)
	return out, err
}

func (c *Client) ResolveFailure(ctx context.Context, id string) (control.FailureRecord, error) {
	var out control.FailureRecord
	err := c.do(ctx, http.MethodPost, "/api/failures/"+url.PathEscape(id)+"/resolve", nil, &out)
	return out, err
}

func (c *Client) HealthSnapshot(ctx context.Context) (resolver.HealthSnapshot, error) {
	var out resolver.HealthSnapshot
	err := c.do(ctx, http.MethodGet, "/api/health-snapshot", nil, &out)
	return out, err
}

func (c *Client) ListAudit(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error) {
	q := url.Values{}
	if f.TargetKind != "" {
		q.Set("targetKind", string(f.TargetKind))
	}
	if f.TargetKey != "" {
		q.Set("targetKey", f.TargetKey)
	}
	if f.TenantID != "" {
		q.Set("tenant", f.TenantID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	endpoint := "/api/audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out []control.AuditEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) ServerVersion(ctx context.Context) (version.BuildInfo, error) {
	var out version.BuildInfo
	err := c.do(ctx, http.MethodGet, "/api/version", nil, &out)
	return out, err
}
