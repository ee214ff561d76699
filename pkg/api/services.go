package api

import (
	"context"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
)

// SystemFlagService is implemented by *flags.Store.
type SystemFlagService interface {
	GetAll(ctx context.Context) map[control.Key]bool
	List(ctx context.Context) ([]control.SystemFlag, error)
	Toggle(ctx context.Context, actor control.Actor, key string, value bool) (control.SystemFlag, error)
}

// TenantControlService is implemented by *tenantcontrol.Store.
type TenantControlService interface {
	List(ctx context.Context, tenantID string) ([]control.TenantControl, error)
	Toggle(ctx context.Context, actor control.Actor, tenantID, key string, value bool, reason string) (control.TenantControl, error)
	Clear(ctx context.Context, actor control.Actor, tenantID, key, reason string) error
}

// FailureService is implemented by *failures.Registry.
type FailureService interface {
	Report(ctx context.Context, rep failures.Report) (control.FailureRecord, error)
	Resolve(ctx context.Context, actor control.Actor, id string) (control.FailureRecord, error)
	ListActive(ctx context.Context, tenantID string) []control.FailureRecord
	Get(ctx context.Context, id string) (control.FailureRecord, error)
	History(ctx context.Context, tenantID string, limit int) ([]control.FailureRecord, error)
}

// StateResolver is implemented by *resolver.Resolver.
type StateResolver interface {
	GetFeatureState(ctx context.Context, tenantID, key string) bool
	EffectiveControls(ctx context.Context, tenantID string) []resolver.EffectiveControl
	GetFailureView(ctx context.Context, tenantID string) []control.FailureRecord
	GetHealthSnapshot(ctx context.Context) resolver.HealthSnapshot
}

// AuditReader is implemented by *audit.Log.
type AuditReader interface {
	List(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error)
}
