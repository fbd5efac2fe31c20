package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	// StatusDegraded marks an optional dependency that is down
	StatusDegraded = "degraded"
)

// Checker manages health checks
type Checker struct {
	db          *gorm.DB
	redis       *redis.Client
	isReady     bool
	readyMu     sync.RWMutex
	startupTime time.Time
}

func NewChecker(db *gorm.DB, redis *redis.Client) *Checker {
	return &Checker{
		db:          db,
		redis:       redis,
		startupTime: time.Now(),
	}
}

// SetReady marks the service as ready
func (c *Checker) SetReady(ready bool) {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	c.isReady = ready
}

func (c *Checker) IsReady() bool {
	c.readyMu.RLock()
	defer c.readyMu.RUnlock()
	return c.isReady
}

// Check represents a single dependency check
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Report is the /health body. Ts is epoch milliseconds.
type Report struct {
	OK     bool             `json:"ok"`
	Ts     int64            `json:"ts"`
	Uptime string           `json:"uptime"`
	Checks map[string]Check `json:"checks"`
}

// Run executes every check. The report is OK unless the database is down.
func (c *Checker) Run(ctx context.Context) Report {
	checks := map[string]Check{
		"database": c.checkDatabase(ctx),
		"redis":    c.checkRedis(ctx),
	}
	return Report{
		OK:     checks["database"].Status == StatusHealthy,
		Ts:     time.Now().UnixMilli(),
		Uptime: time.Since(c.startupTime).Round(time.Second).String(),
		Checks: checks,
	}
}

// Health reports dependency status
func (c *Checker) Health(ctx *gin.Context) {
	report := c.Run(ctx.Request.Context())
	if !report.OK {
		ctx.JSON(http.StatusServiceUnavailable, report)
		return
	}
	ctx.JSON(http.StatusOK, report)
}

// Healthz handles liveness probe - is the process alive?
func (c *Checker) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Readyz handles readiness probe - can the service accept traffic?
func (c *Checker) Readyz(ctx *gin.Context) {
	if !c.IsReady() {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"message": "service is starting up",
		})
		return
	}

	report := c.Run(ctx.Request.Context())
	if !report.OK {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": report.Checks})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ready", "checks": report.Checks})
}

func (c *Checker) checkDatabase(parent context.Context) Check {
	if c.db == nil {
		return Check{Status: StatusUnhealthy, Message: "database not configured"}
	}

	start := time.Now()
	sqlDB, err := c.db.DB()
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(parent, 3*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: StatusHealthy, Duration: time.Since(start).String()}
}

func (c *Checker) checkRedis(parent context.Context) Check {
	if c.redis == nil {
		return Check{Status: StatusHealthy, Message: "redis not configured (optional)"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, 3*time.Second)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return Check{Status: StatusDegraded, Message: err.Error()}
	}
	return Check{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// RegisterRoutes registers health check routes
func (c *Checker) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", c.Health)
	r.GET("/healthz", c.Healthz)
	r.GET("/readyz", c.Readyz)
}
