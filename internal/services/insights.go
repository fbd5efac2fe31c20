package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/metrics"
	"github.com/adlaunch/backend/internal/models"
)

const (
	insightFields   = "spend,impressions,clicks,inline_link_clicks,ctr,cpc,cpm,date_start,date_stop"
	insightLookback = 7

	EventInsightsSynced = "insights.synced"
)

type InsightsService struct {
	db       *gorm.DB
	graph    Graph
	meta     *MetaService
	audit    *audit.Logger
	notifier Notifier
	now      func() time.Time
}

func NewInsightsService(db *gorm.DB, graph Graph, meta *MetaService, auditLog *audit.Logger, notifier Notifier) *InsightsService {
	return &InsightsService{
		db:       db,
		graph:    graph,
		meta:     meta,
		audit:    auditLog,
		notifier: notifier,
		now:      time.Now,
	}
}

// SyncSummary describes one pass over all active tenants.
type SyncSummary struct {
	Clients  int `json:"clients"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Upserted int `json:"upserted"`
}

// InsightWindow returns the trailing seven day range ending today, in UTC.
func InsightWindow(now time.Time) (since, until string) {
	now = now.UTC()
	return now.AddDate(0, 0, -insightLookback).Format("2006-01-02"), now.Format("2006-01-02")
}

// SyncAll pulls insights for every active tenant. A failing tenant is logged
// and counted; it never stops the others.
func (s *InsightsService) SyncAll(ctx context.Context) (*SyncSummary, error) {
	var clientIDs []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.Client{}).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Pluck("id", &clientIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list active clients: %w", err)
	}

	summary := &SyncSummary{}
	for _, clientID := range clientIDs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Clients++

		n, err := s.syncGuarded(ctx, clientID)
		switch {
		case errors.Is(err, ErrMetaNotConnected):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			summary.Upserted += n
			metrics.InsightsTenantFailuresTotal.Inc()
			logger.FromContext(ctx).Error().Err(err).
				Str("client_id", clientID.String()).
				Str("details", errorDetails(err)).
				Msg("Insights sync failed for client")
			s.audit.LogFailure(ctx, clientID, models.ActionInsightsSync, err)
		default:
			summary.Upserted += n
		}
	}
	return summary, nil
}

func (s *InsightsService) syncGuarded(ctx context.Context, clientID uuid.UUID) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during insights sync: %v", r)
		}
	}()
	return s.SyncClient(ctx, clientID)
}

type launchedIDs struct {
	MetaCampaignID *string
	MetaAdID       *string
}

// SyncClient refreshes the insight rows of one tenant's launched campaigns and
// returns how many rows were written. A failed pull does not stop the others;
// the failures come back joined once every object was tried.
func (s *InsightsService) SyncClient(ctx context.Context, clientID uuid.UUID) (int, error) {
	token, err := s.meta.LatestToken(ctx, clientID)
	if err != nil {
		return 0, err
	}

	var rows []launchedIDs
	err = s.db.WithContext(ctx).Model(&models.Campaign{}).
		Select("meta_campaign_id", "meta_ad_id").
		Where("client_id = ? AND status = ? AND meta_campaign_id IS NOT NULL", clientID, models.CampaignStatusLaunched).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	since, until := InsightWindow(s.now())
	log := logger.FromContext(ctx)
	upserted, pulls := 0, 0
	var failures []error
	for _, row := range rows {
		targets := []struct {
			level string
			id    *string
		}{
			{models.InsightLevelCampaign, row.MetaCampaignID},
			{models.InsightLevelAd, row.MetaAdID},
		}
		for _, t := range targets {
			if t.id == nil || *t.id == "" {
				continue
			}
			pulls++
			ok, err := s.pull(ctx, clientID, token, t.level, *t.id, since, until)
			if err != nil {
				if ctx.Err() != nil {
					return upserted, ctx.Err()
				}
				log.Warn().Err(err).
					Str("client_id", clientID.String()).
					Str("level", t.level).
					Str("meta_id", *t.id).
					Str("details", errorDetails(err)).
					Msg("Insights pull failed")
				failures = append(failures, fmt.Errorf("%s %s: %w", t.level, *t.id, err))
				continue
			}
			if ok {
				upserted++
			}
		}
	}

	if upserted > 0 && s.notifier != nil {
		s.notifier.NotifyClient(clientID, EventInsightsSynced, map[string]int{"upserted": upserted})
	}
	if len(failures) > 0 {
		return upserted, fmt.Errorf("%d of %d insight pulls failed: %w", len(failures), pulls, errors.Join(failures...))
	}
	return upserted, nil
}

// graphInsight is one insights row. Graph encodes metrics as strings.
type graphInsight struct {
	DateStart        string      `json:"date_start"`
	DateStop         string      `json:"date_stop"`
	Spend            graphNumber `json:"spend"`
	Impressions      graphNumber `json:"impressions"`
	Clicks           graphNumber `json:"clicks"`
	InlineLinkClicks graphNumber `json:"inline_link_clicks"`
	CTR              graphNumber `json:"ctr"`
	CPC              graphNumber `json:"cpc"`
	CPM              graphNumber `json:"cpm"`
}

// graphNumber accepts both "12.5" and 12.5.
type graphNumber string

func (n *graphNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = graphNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = graphNumber(num.String())
	return nil
}

func (s *InsightsService) pull(ctx context.Context, clientID uuid.UUID, token, level, metaID, since, until string) (bool, error) {
	window, _ := json.Marshal(map[string]string{"since": since, "until": until})
	params := url.Values{
		"fields":     {insightFields},
		"time_range": {string(window)},
		"limit":      {"100"},
	}

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := s.graph.Get(ctx, "/"+url.PathEscape(metaID)+"/insights", token, params, &resp); err != nil {
		return false, err
	}
	if len(resp.Data) == 0 {
		return false, nil
	}

	if err := s.Upsert(ctx, clientID, level, metaID, resp.Data[0]); err != nil {
		return false, err
	}
	metrics.InsightsUpsertsTotal.WithLabelValues(level).Inc()
	return true, nil
}

// Upsert stores one insights row keyed by tenant, level, remote id and window.
// A repeated key overwrites the metrics and refreshes created_at.
func (s *InsightsService) Upsert(ctx context.Context, clientID uuid.UUID, level, metaID string, raw json.RawMessage) error {
	var in graphInsight
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decode insight: %w", err)
	}
	if in.DateStart == "" || in.DateStop == "" {
		return fmt.Errorf("insight for %s has no date window", metaID)
	}

	record := &models.InsightRecord{
		ClientID:         clientID,
		Level:            level,
		MetaID:           metaID,
		DateStart:        in.DateStart,
		DateStop:         in.DateStop,
		Spend:            parseFloat(in.Spend),
		Impressions:      parseInt(in.Impressions),
		Clicks:           parseInt(in.Clicks),
		InlineLinkClicks: parseInt(in.InlineLinkClicks),
		CTR:              parseFloat(in.CTR),
		CPC:              parseFloat(in.CPC),
		CPM:              parseFloat(in.CPM),
		RawJSON:          datatypes.JSON(raw),
		CreatedAt:        s.now(),
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "client_id"}, {Name: "level"}, {Name: "meta_id"}, {Name: "date_start"}, {Name: "date_stop"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"spend", "impressions", "clicks", "inline_link_clicks", "ctr", "cpc", "cpm", "raw_json", "created_at",
		}),
	}).Create(record).Error
}

func parseFloat(v graphNumber) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(v graphNumber) *int64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		f := parseFloat(v)
		if f == nil {
			return nil
		}
		n = int64(*f)
	}
	return &n
}
