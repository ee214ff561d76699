// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package tenants is the tenant directory collaborator. The control plane
// only asks it whether a tenant exists before storing an override.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// Directory answers tenant existence questions.
type Directory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Tenant is one directory entry.
type Tenant struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Domain string `yaml:"domain" json:"domain"`
	// Inactive tenants are treated as missing.
	Inactive bool `yaml:"inactive,omitempty" json:"inactive,omitempty"`
}

type tenantsFile struct {
	Version int      `yaml:"version"`
	Tenants []Tenant `yaml:"tenants"`
}

// FileDirectory serves tenants from a YAML file loaded into memory.
type FileDirectory struct {
	path string
	log  *zap.SugaredLogger

	mu      sync.RWMutex
	tenants map[string]Tenant
}

// LoadFile reads a tenants file:
//
//	version: 1
//	tenants:
//	  - id: acme
//	    name: ACME Corp
//	    domain: acme.example.com
func LoadFile(path string, log *zap.SugaredLogger) (*FileDirectory, error) {
	d := &FileDirectory{path: path, log: log.Named("tenants")}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the file. On error the previous content stays in place.
func (d *FileDirectory) Reload() error {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("tenants: reading %s: %w", d.path, err)
	}
	m, err := parse(b)
	if err != nil {
		return fmt.Errorf("tenants: %s: %w", d.path, err)
	}
	d.mu.Lock()
	d.tenants = m
	d.mu.Unlock()
	d.log.Infow("Loaded tenant directory", "path", d.path, "tenants", len(m))
	return nil
}

func parse(b []byte) (map[string]Tenant, error) {
	var tf tenantsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, err
	}
	if tf.Version != 1 {
		return nil, errors.New("unsupported version")
	}
	m := make(map[string]Tenant, len(tf.Tenants))
	for _, t := range tf.Tenants {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, errors.New("tenant without id")
		}
		if _, dup := m[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", t.ID)
		}
		m[t.ID] = t
	}
	return m, nil
}

// Exists reports whether id is a known, active tenant.
func (d *FileDirectory) Exists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	return ok && !t.Inactive, nil
}

// List returns all tenants sorted by id.
func (d *FileDirectory) List() []Tenant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Static is a fixed set of tenant ids, used in tests and for single-tenant setups.
type Static map[string]bool

// NewStatic returns a Static directory holding ids.
func NewStatic(ids ...string) Static {
	s := make(Static, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s Static) Exists(_ context.Context, id string) (bool, error) {
	return s[id], nil
}

// rowQuerier is satisfied by *pgxpool.Pool.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory looks tenants up in the tenants table.
type PostgresDirectory struct {
	db rowQuerier
}

// NewPostgres returns a directory backed by db.
func NewPostgres(db rowQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := d.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1 AND is_active)`, id).Scan(&ok)
	if err != nil {
		return false, control.StorageError("lookup tenant", err)
	}
	return ok, nil
}
