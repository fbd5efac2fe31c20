package services

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/auth"
	"github.com/adlaunch/backend/internal/config"
	"github.com/adlaunch/backend/internal/services/platforms"
	"github.com/adlaunch/backend/internal/vault"
)

// Graph is the subset of the Meta Graph API the services call.
type Graph interface {
	Get(ctx context.Context, path, token string, params url.Values, out interface{}) error
	PostParams(ctx context.Context, path, token string, params url.Values, out interface{}) error
	PostMultipart(ctx context.Context, path, token string, fields map[string]string, file *platforms.UploadFile, out interface{}) error
}

// OAuthGraph adds the login dialog and code exchange.
type OAuthGraph interface {
	Graph
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*platforms.TokenResponse, json.RawMessage, error)
}

// Notifier pushes events to a tenant's live sessions.
type Notifier interface {
	NotifyClient(clientID uuid.UUID, msgType string, payload interface{})
}

// Container holds all service instances
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Graph  OAuthGraph
	Vault  *vault.Vault
	Audit  *audit.Logger

	Auth     *auth.Service
	Meta     *MetaService
	Campaign *CampaignService
	Insights *InsightsService
	Reports  *ReportService
}

func NewContainer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, graph OAuthGraph, v *vault.Vault, notifier Notifier) *Container {
	c := &Container{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Graph:  graph,
		Vault:  v,
		Audit:  audit.NewLogger(db),
	}

	c.Auth = auth.NewService(db, auth.Config{JWTSecret: cfg.JWTSecret}, c.Audit)
	c.Meta = NewMetaService(db, graph, v, c.Audit, cfg.AppBaseURL)
	c.Campaign = NewCampaignService(db, graph, c.Meta, c.Audit, notifier)
	c.Insights = NewInsightsService(db, graph, c.Meta, c.Audit, notifier)
	c.Reports = NewReportService(db)

	return c
}

// NewMetaClient builds the Graph gateway from configuration
func NewMetaClient(cfg *config.Config) *platforms.MetaClient {
	return platforms.NewMetaClient(platforms.MetaConfig{
		AppID:         cfg.MetaAppID,
		AppSecret:     cfg.MetaAppSecret,
		RedirectURI:   cfg.MetaRedirectURI,
		GraphVersion:  cfg.MetaGraphVersion,
		GraphBaseURL:  cfg.MetaGraphBaseURL,
		DialogBaseURL: cfg.MetaDialogBaseURL,
	})
}
