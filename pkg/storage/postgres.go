// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

//go:embed schema.sql
var schemaSQL string

// pgxPool is the subset of *pgxpool.Pool used by Postgres.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Postgres is a Store backed by pgx. Row-level serialization uses transaction
// scoped advisory locks keyed by the mutated row, so two writers of the same
// key queue behind each other while other keys proceed.
type Postgres struct {
	pool pgxPool
	log  *zap.SugaredLogger
}

var _ Store = (*Postgres)(nil)

// OpenPool connects a pgx pool and verifies it with a ping.
func OpenPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool pgxPool, log *zap.SugaredLogger) *Postgres {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Postgres{pool: pool, log: log.Named("postgres")}
}

// Migrate creates the control plane tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	p.log.Infow("Schema migrated")
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

// QueryRow lets the Postgres tenant directory share this pool.
func (p *Postgres) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

const lockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// stampSQL is evaluated after the advisory lock is held. It never goes below
// the newest entry already recorded for the same target.
const stampSQL = `
SELECT greatest(clock_timestamp(), max(ts))
FROM audit_log
WHERE target_kind = $1 AND target_key = $2 AND tenant_id = $3`

// mutate runs write and the audit append for entry in one transaction under
// the advisory lock for lockKey. write receives the commit time and may fill
// in fields of entry that are only known once the row has been read.
func (p *Postgres) mutate(ctx context.Context, lockKey string, entry *control.AuditEntry, write func(tx pgx.Tx, now time.Time) (*bool, error)) (Commit, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Commit{}, control.StorageError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockSQL, lockKey); err != nil {
		return Commit{}, control.StorageError("lock "+lockKey, err)
	}
	var now time.Time
	err = tx.QueryRow(ctx, stampSQL, string(entry.TargetKind), entry.TargetKey, entry.TenantID).Scan(&now)
	if err != nil {
		return Commit{}, control.StorageError("stamp "+lockKey, err)
	}
	now = now.UTC()

	prev, err := write(tx, now)
	if err != nil {
		return Commit{}, err
	}

	entry.Timestamp = now
	c := Commit{Previous: prev, At: now}
	c.Audit, c.AuditErr = p.appendAudit(ctx, tx, *entry, prev)
	if err := tx.Commit(ctx); err != nil {
		return Commit{}, control.StorageError("commit", err)
	}
	return c, nil
}

// appendAudit inserts entry inside a savepoint so a failed append leaves the
// primary write of the enclosing transaction intact.
func (p *Postgres) appendAudit(ctx context.Context, tx pgx.Tx, entry control.AuditEntry, prev *bool) (control.AuditEntry, error) {
	entry.PreviousValue = prev
	sp, err := tx.Begin(ctx)
	if err != nil {
		return entry, err
	}
	err = sp.QueryRow(ctx, `
INSERT INTO audit_log (id, actor_id, action, target_kind, target_key, tenant_id, previous_value, new_value, reason, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING seq`,
		entry.ID, entry.ActorID, string(entry.Action), string(entry.TargetKind), entry.TargetKey,
		entry.TenantID, prev, entry.NewValue, entry.Reason, entry.Timestamp,
	).Scan(&entry.Seq)
	if err != nil {
		_ = sp.Rollback(ctx)
		return entry, err
	}
	if err := sp.Commit(ctx); err != nil {
		return entry, err
	}
	return entry, nil
}

func (p *Postgres) ListSystemFlags(ctx context.Context) ([]control.SystemFlag, error) {
	rows, err := p.pool.Query(ctx, `SELECT key, value, updated_at, updated_by FROM system_flags ORDER BY key`)
	if err != nil {
		return nil, control.StorageError("list system flags", err)
	}
	defer rows.Close()

	var out []control.SystemFlag
	for rows.Next() {
		var f control.SystemFlag
		var key string
		if err := rows.Scan(&key, &f.Value, &f.UpdatedAt, &f.UpdatedBy); err != nil {
			return nil, control.StorageError("scan system flag", err)
		}
		k, err := control.ParseSystemKey(key)
		if err != nil {
			p.log.Warnw("Ignoring stored system flag with unknown key", "key", key)
			continue
		}
		f.Key = k
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, control.StorageError("list system flags", err)
	}
	return out, nil
}

func (p *Postgres) PutSystemFlag(ctx context.Context, flag control.SystemFlag, entry control.AuditEntry) (Commit, error) {
	return p.mutate(ctx, "system_flag:"+string(flag.Key), &entry, func(tx pgx.Tx, now time.Time) (*bool, error) {
		old := flag.Key.Default()
		err := tx.QueryRow(ctx, `SELECT value FROM system_flags WHERE key = $1`, string(flag.Key)).Scan(&old)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, control.StorageError("read system flag", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO system_flags (key, value, updated_at, updated_by)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = EXCLUDED.updated_at,
  updated_by = EXCLUDED.updated_by`,
			string(flag.Key), flag.Value, now, flag.UpdatedBy)
		if err != nil {
			return nil, control.StorageError("write system flag", err)
		}
		return control.BoolPtr(old), nil
	})
}

func (p *Postgres) ListTenantControls(ctx context.Context, tenantID string) ([]control.TenantControl, error) {
	rows, err := p.pool.Query(ctx, `
SELECT tenant_id, key, value, reason, updated_by, updated_at
FROM tenant_controls
WHERE tenant_id = $1
ORDER BY key`, tenantID)
	if err != nil {
		return nil, control.StorageError("list tenant controls", err)
	}
	defer rows.Close()

	var out []control.TenantControl
	for rows.Next() {
		var tc control.TenantControl
		var key string
		if err := rows.Scan(&tc.TenantID, &key, &tc.Value, &tc.Reason, &tc.UpdatedBy, &tc.UpdatedAt); err != nil {
			return nil, control.StorageError("scan tenant control", err)
		}
		k, err := control.ParseKey(key)
		if err != nil {
			p.log.Warnw("Ignoring stored tenant control with unknown key", "tenant", tenantID, "key", key)
			continue
		}
		tc.Key = k
		tc.TenantOnly = k.TenantOnly()
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, control.StorageError("list tenant controls", err)
	}
	return out, nil
}

func tenantLockKey(tenantID string, key control.Key) string {
	return "tenant_control:" + tenantID + ":" + string(key)
}

func (p *Postgres) PutTenantControl(ctx context.Context, tc control.TenantControl, entry control.AuditEntry) (Commit, error) {
	return p.mutate(ctx, tenantLockKey(tc.TenantID, tc.Key), &entry, func(tx pgx.Tx, now time.Time) (*bool, error) {
		old := tc.Key.Default()
		err := tx.QueryRow(ctx, `SELECT value FROM tenant_controls WHERE tenant_id = $1 AND key = $2`,
			tc.TenantID, string(tc.Key)).Scan(&old)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, control.StorageError("read tenant control", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO tenant_controls (tenant_id, key, value, reason, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, key) DO UPDATE SET
  value = EXCLUDED.value,
  reason = EXCLUDED.reason,
  updated_by = EXCLUDED.updated_by,
  updated_at = EXCLUDED.updated_at`,
			tc.TenantID, string(tc.Key), tc.Value, tc.Reason, tc.UpdatedBy, now)
		if err != nil {
			if IsCheckViolation(err) {
				return nil, control.Validationf("reason is required")
			}
			return nil, control.StorageError("write tenant control", err)
		}
		return control.BoolPtr(old), nil
	})
}

func (p *Postgres) DeleteTenantControl(ctx context.Context, tenantID string, key control.Key, entry control.AuditEntry) (Commit, error) {
	return p.mutate(ctx, tenantLockKey(tenantID, key), &entry, func(tx pgx.Tx, _ time.Time) (*bool, error) {
		var old bool
		err := tx.QueryRow(ctx, `DELETE FROM tenant_controls WHERE tenant_id = $1 AND key = $2 RETURNING value`,
			tenantID, string(key)).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no override for %s on tenant %s", control.ErrNotFound, key, tenantID)
		}
		if err != nil {
			return nil, control.StorageError("delete tenant control", err)
		}
		return control.BoolPtr(old), nil
	})
}

const failureColumns = `id, tenant_id, category, source, severity, message, is_active, metadata,
  created_at, last_seen_at, occurrences, resolved_at, resolved_by`

func scanFailure(row pgx.Row) (control.FailureRecord, error) {
	var r control.FailureRecord
	var category, severity string
	var metadata map[string]string
	err := row.Scan(&r.ID, &r.TenantID, &category, &r.Source, &severity, &r.Message, &r.IsActive,
		&metadata, &r.CreatedAt, &r.LastSeenAt, &r.Occurrences, &r.ResolvedAt, &r.ResolvedBy)
	if err != nil {
		return control.FailureRecord{}, err
	}
	r.Category = control.Category(category)
	r.Severity = control.Severity(severity)
	if len(metadata) > 0 {
		r.Metadata = metadata
	}
	return r, nil
}

func (p *Postgres) UpsertFailure(ctx context.Context, rec control.FailureRecord) (UpsertResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, control.StorageError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockSQL, "failure:"+rec.DedupKey()); err != nil {
		return UpsertResult{}, control.StorageError("lock failure", err)
	}

	var prevSeverity string
	err = tx.QueryRow(ctx, `
SELECT severity FROM failure_records
WHERE tenant_id = $1 AND category = $2 AND source = $3 AND is_active`,
		rec.TenantID, string(rec.Category), rec.Source).Scan(&prevSeverity)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return UpsertResult{}, control.StorageError("read failure", err)
	}

	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	row := tx.QueryRow(ctx, `
INSERT INTO failure_records (id, tenant_id, category, source, severity, message, is_active, metadata,
  created_at, last_seen_at, occurrences)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, 1)
ON CONFLICT (tenant_id, category, source) WHERE is_active DO UPDATE SET
  severity = EXCLUDED.severity,
  message = EXCLUDED.message,
  metadata = EXCLUDED.metadata,
  last_seen_at = EXCLUDED.last_seen_at,
  occurrences = failure_records.occurrences + 1
RETURNING `+failureColumns,
		rec.ID, rec.TenantID, string(rec.Category), rec.Source, string(rec.Severity), rec.Message,
		metadata, rec.CreatedAt, rec.LastSeenAt)
	stored, err := scanFailure(row)
	if err != nil {
		return UpsertResult{}, control.StorageError("upsert failure", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, control.StorageError("commit", err)
	}
	return UpsertResult{
		Record:           stored,
		Created:          stored.ID == rec.ID,
		PreviousSeverity: control.Severity(prevSeverity),
	}, nil
}

func (p *Postgres) GetFailure(ctx context.Context, id string) (control.FailureRecord, error) {
	rec, err := scanFailure(p.pool.QueryRow(ctx, `SELECT `+failureColumns+` FROM failure_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return control.FailureRecord{}, fmt.Errorf("%w: failure %s", control.ErrNotFound, id)
	}
	if err != nil {
		return control.FailureRecord{}, control.StorageError("get failure", err)
	}
	return rec, nil
}

func (p *Postgres) ResolveFailure(ctx context.Context, res Resolution, entry control.AuditEntry) (control.FailureRecord, Commit, error) {
	var resolved control.FailureRecord
	c, err := p.mutate(ctx, "failure_id:"+res.ID, &entry, func(tx pgx.Tx, now time.Time) (*bool, error) {
		rec, err := scanFailure(tx.QueryRow(ctx, `
UPDATE failure_records
SET is_active = FALSE, resolved_at = $2, resolved_by = $3
WHERE id = $1 AND is_active
RETURNING `+failureColumns, res.ID, now, res.ResolvedBy))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: active failure %s", control.ErrNotFound, res.ID)
		}
		if err != nil {
			return nil, control.StorageError("resolve failure", err)
		}
		resolved = rec
		entry.TenantID = rec.TenantID
		return control.BoolPtr(true), nil
	})
	if err != nil {
		return control.FailureRecord{}, Commit{}, err
	}
	return resolved, c, nil
}

func (p *Postgres) ListFailures(ctx context.Context, q FailureQuery) ([]control.FailureRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.TenantID != "" {
		args = append(args, q.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if q.ActiveOnly {
		where = append(where, "is_active")
	}
	sql := `SELECT ` + failureColumns + ` FROM failure_records`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, control.StorageError("list failures", err)
	}
	defer rows.Close()

	var out []control.FailureRecord
	for rows.Next() {
		rec, err := scanFailure(rows)
		if err != nil {
			return nil, control.StorageError("scan failure", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, control.StorageError("list failures", err)
	}
	return out, nil
}

func (p *Postgres) CountActiveFailures(ctx context.Context) (map[control.Severity]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT severity, count(*) FROM failure_records WHERE is_active GROUP BY severity`)
	if err != nil {
		return nil, control.StorageError("count failures", err)
	}
	defer rows.Close()

	counts := map[control.Severity]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, control.StorageError("scan failure count", err)
		}
		counts[control.Severity(sev)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, control.StorageError("count failures", err)
	}
	return counts, nil
}

func (p *Postgres) ListAudit(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.TargetKind != "" {
		args = append(args, string(f.TargetKind))
		where = append(where, fmt.Sprintf("target_kind = $%d", len(args)))
	}
	if f.TargetKey != "" {
		args = append(args, f.TargetKey)
		where = append(where, fmt.Sprintf("target_key = $%d", len(args)))
	}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	sql := `SELECT seq, id, actor_id, action, target_kind, target_key, tenant_id, previous_value, new_value, reason, ts FROM audit_log`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, control.StorageError("list audit", err)
	}
	defer rows.Close()

	var out []control.AuditEntry
	for rows.Next() {
		var e control.AuditEntry
		var action, kind string
		if err := rows.Scan(&e.Seq, &e.ID, &e.ActorID, &action, &kind, &e.TargetKey, &e.TenantID,
			&e.PreviousValue, &e.NewValue, &e.Reason, &e.Timestamp); err != nil {
			return nil, control.StorageError("scan audit entry", err)
		}
		e.Action = control.AuditAction(action)
		e.TargetKind = control.TargetKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, control.StorageError("list audit", err)
	}
	return out, nil
}
