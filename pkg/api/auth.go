package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/system"
)

const (
	AuthHeaderKey = "Authorization"
	// ActorKey holds the authenticated control.Actor in the gin context.
	ActorKey = "actor"
)

// AuthConfig configures bearer token validation. Exactly one of Secret and
// JWKSURL is used; Secret wins when both are set.
type AuthConfig struct {
	Secret          string
	JWKSURL         string
	Issuer          string
	Audience        string
	RoleClaim       string
	RefreshInterval time.Duration
}

type AuthHandler struct {
	keyfunc   jwt.Keyfunc
	methods   []string
	jwks      *keyfunc.JWKS
	issuer    string
	audience  string
	roleClaim string
	log       *zap.SugaredLogger
}

// NewAuth builds the token validator. With a JWKS URL the key set is fetched
// once here and refreshed in the background.
func NewAuth(log *zap.SugaredLogger, cfg AuthConfig) (*AuthHandler, error) {
	a := &AuthHandler{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		roleClaim: cfg.RoleClaim,
		log:       log.Named("auth"),
	}
	if a.roleClaim == "" {
		a.roleClaim = "roles"
	}

	switch {
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		a.methods = []string{"HS256", "HS384", "HS512"}
		a.keyfunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return secret, nil
		}
	case cfg.JWKSURL != "":
		refresh := cfg.RefreshInterval
		if refresh <= 0 {
			refresh = time.Hour
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   refresh,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				a.log.Errorf("failed to refresh JWKS configuration: %v", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("could not get JWKS: %w", err)
		}
		a.jwks = jwks
		a.keyfunc = jwks.Keyfunc
		a.methods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256"}
	default:
		return nil, errors.New("auth: either a secret or a JWKS URL is required")
	}
	return a, nil
}

// Close stops the JWKS background refresh.
func (a *AuthHandler) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// Authenticate validates a bearer token and returns the actor it names.
func (a *AuthHandler) Authenticate(bearer string) (control.Actor, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(a.methods))
	if _, err := parser.ParseWithClaims(bearer, claims, a.keyfunc); err != nil {
		return control.Actor{}, err
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return control.Actor{}, errors.New("token issuer mismatch")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return control.Actor{}, errors.New("token audience mismatch")
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return control.Actor{}, errors.New("token has no subject")
	}
	email, _ := claims["email"].(string)

	roles := normalizeRoles(append(stringList(claims[a.roleClaim]), realmRoles(claims)...))
	if len(roles) == 0 {
		a.log.Debugw("JWT parsed but no roles found", "sub", sub, "roleClaim", a.roleClaim)
	}
	return control.Actor{ID: sub, Email: email, Roles: roles}, nil
}

func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apiresponses.RespondUnauthenticated(c, "No Bearer token provided in Authorization header")
			c.Abort()
			return
		}

		actor, err := a.Authenticate(strings.TrimSpace(authHeader[len("Bearer "):]))
		if err != nil {
			system.GetReqLogger(c, a.log).Debugw("Rejected bearer token", "error", err)
			apiresponses.RespondUnauthenticated(c, "invalid token")
			c.Abort()
			return
		}

		c.Set(ActorKey, actor)
		c.Set(system.ActorIDKey, actor.ID)
		c.Set(system.RolesKey, actor.Roles)
		system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, a.log))
		c.Next()
	}
}

// ActorFrom returns the actor stored by the middleware.
func ActorFrom(c *gin.Context) (control.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return control.Actor{}, false
	}
	actor, ok := v.(control.Actor)
	return actor, ok
}

func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// realmRoles reads the Keycloak realm_access.roles claim.
func realmRoles(claims jwt.MapClaims) []string {
	realm, ok := claims["realm_access"].(map[string]interface{})
	if !ok {
		return nil
	}
	return stringList(realm["roles"])
}

// normalizeRoles trims, strips Keycloak group paths to their last segment
// and removes duplicates while keeping order.
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.Trim(strings.TrimSpace(r), "/")
		if idx := strings.LastIndex(r, "/"); idx != -1 {
			r = r[idx+1:]
		}
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
