package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/models"
	"github.com/adlaunch/backend/internal/vault"
)

// StateTTL bounds how long a login dialog may stay open.
const StateTTL = 15 * time.Minute

// MetaService owns the OAuth connection of each tenant and the asset listings
// that depend on it.
type MetaService struct {
	db         *gorm.DB
	graph      OAuthGraph
	vault      *vault.Vault
	audit      *audit.Logger
	appBaseURL string
	now        func() time.Time
}

func NewMetaService(db *gorm.DB, graph OAuthGraph, v *vault.Vault, auditLog *audit.Logger, appBaseURL string) *MetaService {
	return &MetaService{
		db:         db,
		graph:      graph,
		vault:      v,
		audit:      auditLog,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		now:        time.Now,
	}
}

func newStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// StartConnect stores a one-time state for the tenant and returns the dialog URL.
func (s *MetaService) StartConnect(ctx context.Context, clientID uuid.UUID) (string, error) {
	state, err := newStateToken()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	row := &models.OAuthState{State: state, ClientID: clientID, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}

	return s.graph.AuthURL(state), nil
}

func (s *MetaService) redirect(ok bool) string {
	if ok {
		return s.appBaseURL + "/?meta=ok"
	}
	return s.appBaseURL + "/?meta=fail"
}

// HandleCallback always returns a redirect target. err explains a failure
// redirect and is meant for logging only.
func (s *MetaService) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if code == "" || state == "" {
		return s.redirect(false), ErrMissingCallback
	}

	clientID, err := s.consumeState(ctx, state)
	if err != nil {
		return s.redirect(false), err
	}
	ctx = logger.WithClientID(ctx, clientID)
	log := logger.FromContext(ctx)

	tok, raw, err := s.graph.ExchangeCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("details", errorDetails(err)).Msg("Meta token exchange failed")
		s.audit.LogFailure(ctx, clientID, models.ActionMetaConnect, err)
		return s.redirect(false), err
	}

	conn, err := s.saveConnection(ctx, clientID, tok.AccessToken, tok.TokenType, tok.ExpiresIn, raw)
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist Meta connection")
		return s.redirect(false), err
	}

	s.audit.LogSuccess(ctx, clientID, models.ActionMetaConnect, "meta_connection", conn.ID.String())
	log.Info().Str("connection_id", conn.ID.String()).Msg("Meta account connected")

	return s.redirect(true), nil
}

// consumeState deletes the state row and returns its tenant. Only the caller
// whose delete removed the row wins, so a replayed callback fails.
func (s *MetaService) consumeState(ctx context.Context, state string) (uuid.UUID, error) {
	var row models.OAuthState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ?", state).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidState
			}
			return err
		}
		res := tx.Where("state = ?", state).Delete(&models.OAuthState{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	if s.now().Sub(row.CreatedAt) > StateTTL {
		return uuid.Nil, ErrInvalidState
	}
	return row.ClientID, nil
}

// saveConnection appends a connection row and moves the tenant's current
// pointer to it in the same transaction.
func (s *MetaService) saveConnection(ctx context.Context, clientID uuid.UUID, accessToken, tokenType string, expiresIn int64, raw []byte) (*models.MetaConnection, error) {
	sealed, err := s.vault.Seal(accessToken)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}

	conn := &models.MetaConnection{
		ID:          uuid.New(),
		ClientID:    clientID,
		AccessToken: sealed,
		TokenType:   tokenType,
		RawJSON:     datatypes.JSON(stripAccessToken(raw)),
		CreatedAt:   s.now(),
	}
	if expiresIn > 0 {
		exp := s.now().Add(time.Duration(expiresIn) * time.Second)
		conn.ExpiresAt = &exp
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conn).Error; err != nil {
			return err
		}
		return tx.Model(&models.Client{}).
			Where("id = ?", clientID).
			Update("current_connection_id", conn.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func stripAccessToken(raw []byte) []byte {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return []byte("{}")
	}
	delete(payload, "access_token")
	out, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}
	return out
}

// LatestToken returns the access token of the tenant's current connection.
func (s *MetaService) LatestToken(ctx context.Context, clientID uuid.UUID) (string, error) {
	db := s.db.WithContext(ctx)

	var client models.Client
	if err := db.Select("id", "current_connection_id").Where("id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrMetaNotConnected
		}
		return "", err
	}
	if client.CurrentConnectionID == nil {
		return "", ErrMetaNotConnected
	}

	var conn models.MetaConnection
	err := db.Where("id = ? AND client_id = ?", *client.CurrentConnectionID, clientID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrMetaNotConnected
	}
	if err != nil {
		return "", err
	}

	token, err := s.vault.Open(conn.AccessToken)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return token, nil
}

// PruneStates deletes states whose dialog was never completed.
func (s *MetaService) PruneStates(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-StateTTL)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.OAuthState{})
	return res.RowsAffected, res.Error
}

// GraphUser is the /me node
type GraphUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AdAccount struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
	Currency      string `json:"currency"`
}

type Pixel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type AdAccountsResult struct {
	Me         GraphUser   `json:"me"`
	AdAccounts []AdAccount `json:"ad_accounts"`
}

func listParams(fields string) url.Values {
	return url.Values{"fields": {fields}, "limit": {"200"}}
}

func (s *MetaService) AdAccounts(ctx context.Context, clientID uuid.UUID) (*AdAccountsResult, error) {
	token, err := s.LatestToken(ctx, clientID)
	if err != nil {
		return nil, err
	}

	result := &AdAccountsResult{AdAccounts: []AdAccount{}}
	if err := s.graph.Get(ctx, "/me", token, url.Values{"fields": {"id,name"}}, &result.Me); err != nil {
		return nil, err
	}

	var accounts struct {
		Data []AdAccount `json:"data"`
	}
	if err := s.graph.Get(ctx, "/me/adaccounts", token, listParams("id,name,account_status,currency"), &accounts); err != nil {
		return nil, err
	}
	if accounts.Data != nil {
		result.AdAccounts = accounts.Data
	}
	return result, nil
}

func (s *MetaService) Pixels(ctx context.Context, clientID uuid.UUID, adAccountID string) ([]Pixel, error) {
	token, err := s.LatestToken(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if adAccountID == "" {
		return nil, validationError("Missing ad_account_id")
	}

	var resp struct {
		Data []Pixel `json:"data"`
	}
	if err := s.graph.Get(ctx, "/"+url.PathEscape(adAccountID)+"/owned_pixels", token, listParams("id,name"), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []Pixel{}, nil
	}
	return resp.Data, nil
}

func (s *MetaService) Pages(ctx context.Context, clientID uuid.UUID) ([]Page, error) {
	token, err := s.LatestToken(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []Page `json:"data"`
	}
	if err := s.graph.Get(ctx, "/me/accounts", token, listParams("id,name,category"), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []Page{}, nil
	}
	return resp.Data, nil
}
