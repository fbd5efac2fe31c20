package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adlaunch/backend/internal/api/handlers"
	"github.com/adlaunch/backend/internal/auth"
	"github.com/adlaunch/backend/internal/health"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/metrics"
	"github.com/adlaunch/backend/internal/services"
	"github.com/adlaunch/backend/internal/websocket"
)

type Server struct {
	router   *gin.Engine
	services *services.Container
	wsHub    *websocket.Hub
	health   *health.Checker
}

func NewServer(svc *services.Container, wsHub *websocket.Hub, checker *health.Checker) *Server {
	if !svc.Config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		router:   gin.New(),
		services: svc,
		wsHub:    wsHub,
		health:   checker,
	}

	server.setupMiddleware()
	server.setupRoutes()
	return server
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(logger.GinRecovery())
	s.router.Use(logger.GinMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(securityHeaders())
	s.router.Use(requestMetrics())
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origin := s.services.Config.CORSOrigin
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestMetrics labels by route template so ids do not explode cardinality.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", handlers.Landing)
	s.health.RegisterRoutes(s.router)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authLimiter := auth.NewLimiter(s.services.Redis, auth.RateLimitConfig{
		Requests: s.services.Config.AuthRatePerMinute,
		Window:   time.Minute,
	})

	// Auth routes (public, rate limited per IP)
	authGroup := s.router.Group("/auth")
	authGroup.Use(auth.RateLimitMiddleware(authLimiter, "auth"))
	{
		authHandler := handlers.NewAuthHandler(s.services)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	metaHandler := handlers.NewMetaHandler(s.services)
	// Meta redirects here without our bearer token; the state row carries the tenant.
	s.router.GET("/meta/oauth/callback", metaHandler.Callback)

	protected := s.router.Group("")
	protected.Use(auth.Middleware(s.services.Auth))
	{
		meta := protected.Group("/meta")
		{
			meta.GET("/oauth/start", metaHandler.Start)
			meta.GET("/ad-accounts", metaHandler.AdAccounts)
			meta.GET("/pixels", metaHandler.Pixels)
			meta.GET("/pages", metaHandler.Pages)
		}

		campaigns := protected.Group("/campaigns")
		{
			campaignHandler := handlers.NewCampaignHandler(s.services)
			campaigns.POST("/launch", campaignHandler.Launch)
			campaigns.GET("", campaignHandler.List)
			campaigns.GET("/:id", campaignHandler.Get)
		}

		reports := protected.Group("/reports")
		{
			reportHandler := handlers.NewReportHandler(s.services)
			reports.GET("/campaigns", reportHandler.Campaigns)
			reports.GET("/ads", reportHandler.Ads)
		}
	}

	s.router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(s.wsHub, s.services.Auth, c.Writer, c.Request)
	})
}
