package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	InsightLevelCampaign = "campaign"
	InsightLevelAd       = "ad"
)

// InsightRecord is one metrics pull for a remote campaign or ad over a date window.
type InsightRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_insights_key,priority:1" json:"client_id"`
	Level     string    `gorm:"size:20;not null;uniqueIndex:idx_insights_key,priority:2" json:"level"`
	MetaID    string    `gorm:"size:64;not null;uniqueIndex:idx_insights_key,priority:3" json:"meta_id"`
	DateStart string    `gorm:"size:10;not null;uniqueIndex:idx_insights_key,priority:4" json:"date_start"`
	DateStop  string    `gorm:"size:10;not null;uniqueIndex:idx_insights_key,priority:5" json:"date_stop"`

	Spend            *float64 `json:"spend"`
	Impressions      *int64   `json:"impressions"`
	Clicks           *int64   `json:"clicks"`
	InlineLinkClicks *int64   `json:"inline_link_clicks"`
	CTR              *float64 `gorm:"column:ctr" json:"ctr"`
	CPC              *float64 `gorm:"column:cpc" json:"cpc"`
	CPM              *float64 `gorm:"column:cpm" json:"cpm"`

	RawJSON   datatypes.JSON `gorm:"column:raw_json" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

func (InsightRecord) TableName() string {
	return "meta_insights_daily"
}

func (r *InsightRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
