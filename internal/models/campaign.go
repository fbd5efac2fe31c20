package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusLaunched CampaignStatus = "launched"
	CampaignStatusError    CampaignStatus = "error"
)

type CreativeType string

const (
	CreativeTypeImage CreativeType = "image"
	CreativeTypeVideo CreativeType = "video"
)

// LaunchStep is the last remote step a launch completed.
type LaunchStep string

const (
	LaunchStepDraft            LaunchStep = "draft"
	LaunchStepCreativeUploaded LaunchStep = "creative_uploaded"
	LaunchStepCampaignCreated  LaunchStep = "campaign_created"
	LaunchStepAdSetCreated     LaunchStep = "adset_created"
	LaunchStepCreativeCreated  LaunchStep = "creative_created"
	LaunchStepAdCreated        LaunchStep = "ad_created"
	LaunchStepActivated        LaunchStep = "activated"
)

type Campaign struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID uuid.UUID `gorm:"type:uuid;not null;index" json:"client_id"`
	Name     string    `gorm:"size:200;not null" json:"name"`

	AdAccountID    string         `gorm:"size:64;not null" json:"ad_account_id"`
	PixelID        string         `gorm:"size:64;not null" json:"pixel_id"`
	PageID         string         `gorm:"size:64;not null" json:"page_id"`
	LPURL          string         `gorm:"column:lp_url;type:text;not null" json:"lp_url"`
	EventName      string         `gorm:"size:64;not null" json:"event_name"`
	CountryCodes   datatypes.JSON `gorm:"column:country_codes" json:"country_codes"`
	DailyBudgetINR float64        `gorm:"column:daily_budget_inr;not null" json:"daily_budget_inr"`
	CreativeType   CreativeType   `gorm:"size:10;not null" json:"creative_type"`
	PrimaryText    string         `gorm:"type:text;not null" json:"primary_text"`
	Headline       string         `gorm:"size:255;not null" json:"headline"`

	Status     CampaignStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	LaunchStep LaunchStep     `gorm:"size:30" json:"launch_step"`

	MetaCampaignID *string `gorm:"size:64" json:"meta_campaign_id"`
	MetaAdSetID    *string `gorm:"column:meta_adset_id;size:64" json:"meta_adset_id"`
	MetaAdID       *string `gorm:"size:64" json:"meta_ad_id"`
	ErrorMessage   *string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Countries decodes the stored country code list.
func (c *Campaign) Countries() []string {
	var codes []string
	if len(c.CountryCodes) == 0 {
		return codes
	}
	_ = json.Unmarshal(c.CountryCodes, &codes)
	return codes
}
