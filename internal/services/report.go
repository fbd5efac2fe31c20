package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/models"
)

const reportLimit = 200

type ReportService struct {
	db *gorm.DB
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

// Metrics are null until the first insights pull lands.
type Metrics struct {
	Spend            *float64 `json:"spend"`
	Impressions      *int64   `json:"impressions"`
	Clicks           *int64   `json:"clicks"`
	InlineLinkClicks *int64   `json:"inline_link_clicks"`
	CTR              *float64 `json:"ctr"`
	CPC              *float64 `json:"cpc"`
	CPM              *float64 `json:"cpm"`
}

func metricsOf(r *models.InsightRecord) Metrics {
	if r == nil {
		return Metrics{}
	}
	return Metrics{
		Spend:            r.Spend,
		Impressions:      r.Impressions,
		Clicks:           r.Clicks,
		InlineLinkClicks: r.InlineLinkClicks,
		CTR:              r.CTR,
		CPC:              r.CPC,
		CPM:              r.CPM,
	}
}

type CampaignReportRow struct {
	ID             uuid.UUID             `json:"id"`
	Name           string                `json:"name"`
	Status         models.CampaignStatus `json:"status"`
	MetaCampaignID *string               `json:"meta_campaign_id"`
	Metrics
}

type AdReportRow struct {
	ID       uuid.UUID             `json:"id"`
	Name     string                `json:"name"`
	Status   models.CampaignStatus `json:"status"`
	MetaAdID *string               `json:"meta_ad_id"`
	Metrics
}

func (s *ReportService) recentCampaigns(ctx context.Context, clientID uuid.UUID) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Select("id", "name", "status", "meta_campaign_id", "meta_ad_id", "created_at").
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Limit(reportLimit).
		Find(&campaigns).Error
	return campaigns, err
}

// latestInsights maps each remote id to its newest record at the given level.
// Windows shift daily, so one id can own several rows.
func (s *ReportService) latestInsights(ctx context.Context, clientID uuid.UUID, level string, metaIDs []string) (map[string]*models.InsightRecord, error) {
	latest := make(map[string]*models.InsightRecord, len(metaIDs))
	if len(metaIDs) == 0 {
		return latest, nil
	}

	var records []models.InsightRecord
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND level = ? AND meta_id IN ?", clientID, level, metaIDs).
		Order("date_stop DESC").
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	for i := range records {
		if _, seen := latest[records[i].MetaID]; !seen {
			latest[records[i].MetaID] = &records[i]
		}
	}
	return latest, nil
}

// Campaigns reports the tenant's recent campaigns with campaign level metrics.
func (s *ReportService) Campaigns(ctx context.Context, clientID uuid.UUID) ([]CampaignReportRow, error) {
	campaigns, err := s.recentCampaigns(ctx, clientID)
	if err != nil {
		return nil, err
	}

	insights, err := s.latestInsights(ctx, clientID, models.InsightLevelCampaign, remoteIDs(campaigns, func(c *models.Campaign) *string { return c.MetaCampaignID }))
	if err != nil {
		return nil, err
	}

	rows := make([]CampaignReportRow, 0, len(campaigns))
	for i := range campaigns {
		c := &campaigns[i]
		row := CampaignReportRow{ID: c.ID, Name: c.Name, Status: c.Status, MetaCampaignID: c.MetaCampaignID}
		if c.MetaCampaignID != nil {
			row.Metrics = metricsOf(insights[*c.MetaCampaignID])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Ads reports the tenant's recent campaigns with ad level metrics.
func (s *ReportService) Ads(ctx context.Context, clientID uuid.UUID) ([]AdReportRow, error) {
	campaigns, err := s.recentCampaigns(ctx, clientID)
	if err != nil {
		return nil, err
	}

	insights, err := s.latestInsights(ctx, clientID, models.InsightLevelAd, remoteIDs(campaigns, func(c *models.Campaign) *string { return c.MetaAdID }))
	if err != nil {
		return nil, err
	}

	rows := make([]AdReportRow, 0, len(campaigns))
	for i := range campaigns {
		c := &campaigns[i]
		row := AdReportRow{ID: c.ID, Name: c.Name, Status: c.Status, MetaAdID: c.MetaAdID}
		if c.MetaAdID != nil {
			row.Metrics = metricsOf(insights[*c.MetaAdID])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func remoteIDs(campaigns []models.Campaign, pick func(*models.Campaign) *string) []string {
	ids := make([]string, 0, len(campaigns))
	for i := range campaigns {
		if id := pick(&campaigns[i]); id != nil && *id != "" {
			ids = append(ids, *id)
		}
	}
	return ids
}
