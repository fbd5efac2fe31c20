package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditLogAction string

const (
	// Account actions
	ActionRegister     AuditLogAction = "register"
	ActionLogin        AuditLogAction = "login"
	ActionMetaConnect  AuditLogAction = "meta_connect"
	ActionInsightsSync AuditLogAction = "insights_sync"

	// Launch steps
	ActionLaunchDraft          AuditLogAction = "launch_draft"
	ActionLaunchUploadCreative AuditLogAction = "launch_upload_creative"
	ActionLaunchCampaign       AuditLogAction = "launch_create_campaign"
	ActionLaunchAdSet          AuditLogAction = "launch_create_adset"
	ActionLaunchCreative       AuditLogAction = "launch_create_creative"
	ActionLaunchAd             AuditLogAction = "launch_create_ad"
	ActionLaunchActivate       AuditLogAction = "launch_activate"
	ActionLaunchFailed         AuditLogAction = "launch_failed"
)

type AuditLogResult string

const (
	ResultSuccess AuditLogResult = "success"
	ResultFailed  AuditLogResult = "failed"
)

// AuditLog is an append-only trail of tenant actions. Launch steps record the
// remote object id they produced in TargetID.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID   *uuid.UUID `gorm:"type:uuid;index" json:"client_id,omitempty"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CampaignID *uuid.UUID `gorm:"type:uuid;index" json:"campaign_id,omitempty"`

	Action     AuditLogAction `gorm:"size:50;not null;index" json:"action"`
	TargetType string         `gorm:"size:50" json:"target_type,omitempty"`
	TargetID   string         `gorm:"size:200" json:"target_id,omitempty"`

	Result       AuditLogResult `gorm:"size:20;not null" json:"result"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`

	IPAddress string `gorm:"size:50" json:"ip_address,omitempty"`
	Duration  int64  `json:"duration_ms,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
