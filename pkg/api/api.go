package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/ratelimit"
	"github.com/telekom/tenant-control-plane/pkg/system"
	"github.com/telekom/tenant-control-plane/pkg/version"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// HealthChecker reports whether the storage backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type ServerOptions struct {
	ListenAddress     string
	TLSCertFile       string
	TLSKeyFile        string
	TrustedProxies    []string
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	EnableHTTP2       bool
	Debug             bool
	// RateLimiter applies to authenticated API routes; nil disables it.
	RateLimiter *ratelimit.ActorLimiter
	Health      HealthChecker
}

type Server struct {
	gin  *gin.Engine
	api  *gin.RouterGroup
	opts ServerOptions
	auth *AuthHandler
	log  *zap.SugaredLogger
	http *http.Server
}

// NewServer builds the engine with logging, recovery, tracing and the
// unauthenticated endpoints. Controllers are added with RegisterAll.
func NewServer(log *zap.Logger, opts ServerOptions, auth *AuthHandler) (*Server, error) {
	if auth == nil {
		return nil, errors.New("api: authentication handler is required")
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
		tracingMiddleware(),
	)

	origins := opts.AllowedOrigins
	if opts.Debug && len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:8080"}
	}
	if len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Authorization", "Content-Type", system.RequestIDHeader},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		gin:  engine,
		opts: opts,
		auth: auth,
		log:  log.Sugar().Named("api"),
	}

	engine.GET("healthz", s.healthz)
	engine.GET("metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("api/version", instrumentedHandler("handleVersion", s.getVersion))

	handlers := []gin.HandlerFunc{auth.Middleware()}
	if opts.RateLimiter != nil {
		handlers = append(handlers, opts.RateLimiter.Middleware())
	}
	s.api = engine.Group("api", handlers...)

	s.http = &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           engine,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	if opts.ReadHeaderTimeout <= 0 {
		s.http.ReadHeaderTimeout = 10 * time.Second
	}
	if !opts.EnableHTTP2 {
		s.http.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
	}

	return s, nil
}

func (s *Server) RegisterAll(controllers []APIController) error {
	for _, c := range controllers {
		if err := c.Register(s.api.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Infow("Starting API server", "address", s.opts.ListenAddress, "tls", s.opts.TLSCertFile != "")
	var err error
	if s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != "" {
		err = s.http.ListenAndServeTLS(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	return s.http.Shutdown(ctx)
}

// Close releases the rate limiter and JWKS background refresh.
func (s *Server) Close() {
	if s.opts.RateLimiter != nil {
		s.opts.RateLimiter.Stop()
	}
	if s.auth != nil {
		s.auth.Close()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health.Ping(ctx); err != nil {
			system.GetReqLogger(c, s.log).Warnw("Health check failed", "error", err)
			apiresponses.RespondServiceUnavailable(c, "storage")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getVersion(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}
