package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// ActorKey is the gin context key holding the authenticated actor id.
const ActorKey = "actor_id"

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64 `yaml:"rate"`
	// Burst is the maximum number of requests allowed in a burst
	Burst int `yaml:"burst"`
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration `yaml:"maxAge"`
}

// ActorConfig holds separate limits for anonymous clients and authenticated actors.
type ActorConfig struct {
	// Anonymous applies per client IP to requests without an actor.
	Anonymous Config `yaml:"anonymous"`
	// Authenticated applies per actor id.
	Authenticated Config `yaml:"authenticated"`
}

// DefaultAPIConfig returns default config for API endpoints
// 20 req/s per client, burst of 50
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultActorConfig returns the default limits for operator traffic.
// Anonymous: 10 req/s per IP, burst of 20
// Authenticated: 50 req/s per actor, burst of 100
func DefaultActorConfig() ActorConfig {
	return ActorConfig{
		Anonymous: Config{
			Rate:            10,
			Burst:           20,
			CleanupInterval: time.Minute,
			MaxAge:          5 * time.Minute,
		},
		Authenticated: Config{
			Rate:            50,
			Burst:           100,
			CleanupInterval: time.Minute,
			MaxAge:          10 * time.Minute,
		},
	}
}

// DefaultReportConfig returns limits for failure report ingestion.
// Services report in bursts during outages: 200 req/s per client, burst of 1000.
func DefaultReportConfig() Config {
	return Config{
		Rate:            200,
		Burst:           1000,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	return c
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedLimiter keeps one token bucket per key and evicts idle keys.
type KeyedLimiter struct {
	name    string
	clock   clock.WithTicker
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	stop    sync.Once
}

// New creates a keyed limiter using the real clock.
func New(name string, cfg Config) *KeyedLimiter {
	return NewWithClock(name, cfg, clock.RealClock{})
}

// NewWithClock creates a keyed limiter driven by clk.
func NewWithClock(name string, cfg Config, clk clock.WithTicker) *KeyedLimiter {
	rl := &KeyedLimiter{
		name:    name,
		clock:   clk,
		entries: make(map[string]*entry),
		config:  cfg.withDefaults(),
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request for key may proceed.
func (rl *KeyedLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.entries[key] = e
	}
	e.lastAccess = now

	if e.limiter.AllowN(now, 1) {
		return true
	}
	metrics.RateLimitRejections.WithLabelValues(rl.name).Inc()
	return false
}

// RetryAfter estimates how long a rejected client should wait.
func (rl *KeyedLimiter) RetryAfter() time.Duration {
	if rl.config.Rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rl.config.Rate)
}

// Middleware limits requests per client IP.
func (rl *KeyedLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			apiresponses.RespondTooManyRequests(c, "Rate limit exceeded, please try again later", rl.RetryAfter())
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *KeyedLimiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

func (rl *KeyedLimiter) cleanup() {
	ticker := rl.clock.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C():
			rl.evictIdle()
		}
	}
}

func (rl *KeyedLimiter) evictIdle() {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *KeyedLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Config returns the effective configuration.
func (rl *KeyedLimiter) Config() Config {
	return rl.config
}

// ActorLimiter applies per-actor limits to authenticated requests and
// per-IP limits to the rest. It must run after the authentication middleware.
type ActorLimiter struct {
	anonymous *KeyedLimiter
	actors    *KeyedLimiter
}

// NewActor creates an ActorLimiter using the real clock.
func NewActor(cfg ActorConfig) *ActorLimiter {
	return NewActorWithClock(cfg, clock.RealClock{})
}

// NewActorWithClock creates an ActorLimiter driven by clk.
func NewActorWithClock(cfg ActorConfig, clk clock.WithTicker) *ActorLimiter {
	return &ActorLimiter{
		anonymous: NewWithClock("anonymous", cfg.Anonymous, clk),
		actors:    NewWithClock("actor", cfg.Authenticated, clk),
	}
}

// Allow returns (allowed, authenticated).
func (al *ActorLimiter) Allow(c *gin.Context) (bool, bool) {
	if actor := c.GetString(ActorKey); actor != "" {
		return al.actors.Allow(actor), true
	}
	return al.anonymous.Allow(c.ClientIP()), false
}

// Middleware returns a gin middleware applying the actor-aware limits.
func (al *ActorLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, authenticated := al.Allow(c)
		if !allowed {
			if authenticated {
				apiresponses.RespondTooManyRequests(c, "Rate limit exceeded, please try again later", al.actors.RetryAfter())
			} else {
				apiresponses.RespondTooManyRequests(c, "Rate limit exceeded. Please authenticate for higher limits.", al.anonymous.RetryAfter())
			}
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops both cleanup goroutines.
func (al *ActorLimiter) Stop() {
	al.anonymous.Stop()
	al.actors.Stop()
}

// AnonymousLen returns the number of tracked client IPs.
func (al *ActorLimiter) AnonymousLen() int {
	return al.anonymous.Len()
}

// ActorLen returns the number of tracked actors.
func (al *ActorLimiter) ActorLen() int {
	return al.actors.Len()
}
