package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OAuthState binds an authorization redirect to the tenant that started it.
type OAuthState struct {
	State     string    `gorm:"size:64;primaryKey" json:"state"`
	ClientID  uuid.UUID `gorm:"type:uuid;not null;index" json:"client_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (OAuthState) TableName() string {
	return "oauth_states"
}

// MetaConnection is one successful OAuth exchange. Rows are append-only.
type MetaConnection struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"client_id"`
	AccessToken string         `gorm:"type:text;not null" json:"-"` // sealed by vault
	TokenType   string         `gorm:"size:30" json:"token_type,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	RawJSON     datatypes.JSON `gorm:"column:raw_json" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (MetaConnection) TableName() string {
	return "meta_connections"
}

func (m *MetaConnection) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
