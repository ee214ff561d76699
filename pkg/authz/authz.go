// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package authz checks control plane permissions against a casbin policy.
//
// Subjects are roles ("role:superadmin"); an actor is allowed when any of
// its roles is. In shadow mode the policy is evaluated and disagreements are
// logged, but the built-in superadmin rule decides. In disabled mode only the
// built-in rule applies.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

//go:embed model.conf
var defaultModel string

//go:embed policy.csv
var defaultPolicy string

// Mode selects how the policy result is used.
type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// ParseMode validates a configured mode. Empty means enforce.
func ParseMode(raw string) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow, ModeDisabled:
		return Mode(raw), nil
	default:
		return "", errors.New("authz: invalid mode (expected enforce|shadow|disabled)")
	}
}

// Config configures an Authorizer.
type Config struct {
	Mode Mode
	// ModelPath and PolicyPath default to the embedded model and policy.
	ModelPath  string
	PolicyPath string
}

// Authorizer implements control.Authorizer with casbin.
type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
	fallback control.Authorizer
	log      *zap.SugaredLogger
}

var _ control.Authorizer = (*Authorizer)(nil)

// New loads the model and policy.
func New(cfg Config, log *zap.SugaredLogger) (*Authorizer, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}
	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(defaultModel)
	}
	if err != nil {
		return nil, fmt.Errorf("authz: loading model: %w", err)
	}

	var enforcer *casbin.Enforcer
	if cfg.PolicyPath != "" {
		enforcer, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewEnforcer(m)
		if err == nil {
			_, err = enforcer.AddPolicies(parsePolicy(defaultPolicy))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("authz: loading policy: %w", err)
	}

	return &Authorizer{
		enforcer: enforcer,
		mode:     cfg.Mode,
		fallback: control.SuperadminOnly,
		log:      log.Named("authz"),
	}, nil
}

func parsePolicy(csv string) [][]string {
	var rules [][]string
	for _, line := range strings.Split(csv, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 || strings.TrimSpace(fields[0]) != "p" {
			continue
		}
		rules = append(rules, []string{
			strings.TrimSpace(fields[1]),
			strings.TrimSpace(fields[2]),
			strings.TrimSpace(fields[3]),
		})
	}
	return rules
}

// Subject maps a role name to its policy subject.
func Subject(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

// Mode returns the configured mode.
func (a *Authorizer) Mode() Mode {
	return a.mode
}

// Authorize returns nil when actor may perform action on object.
func (a *Authorizer) Authorize(actor control.Actor, object, action string) error {
	builtin := a.fallback.Authorize(actor, object, action)
	if a.mode == ModeDisabled {
		return builtin
	}

	allowed, err := a.enforce(actor, object, action)
	if err != nil {
		a.log.Errorw("Policy evaluation failed", "actor", actor.ID, "object", object, "action", action, "error", err)
		if a.mode == ModeEnforce {
			return fmt.Errorf("%w: policy evaluation failed", control.ErrUnauthorized)
		}
		return builtin
	}

	if a.mode == ModeShadow {
		if allowed != (builtin == nil) {
			a.log.Warnw("Policy decision differs from built-in rule",
				"actor", actor.ID, "roles", actor.Roles, "object", object, "action", action,
				"policyAllowed", allowed, "builtinAllowed", builtin == nil)
		}
		return builtin
	}

	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", control.ErrUnauthorized)
	}
	if !allowed {
		return fmt.Errorf("%w: %s may not %s %s", control.ErrUnauthorized, actor.ID, action, object)
	}
	return nil
}

func (a *Authorizer) enforce(actor control.Actor, object, action string) (bool, error) {
	for _, role := range actor.Roles {
		ok, err := a.enforcer.Enforce(Subject(role), object, action)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
