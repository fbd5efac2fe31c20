package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleClient = "client"
	RoleAdmin  = "admin"

	PlanSingle = "single"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:30;not null;default:'client'" json:"role"`

	Memberships []UserClient `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Client is the tenant. Everything except users hangs off it.
type Client struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string    `gorm:"size:200;not null" json:"name"`
	Plan     string    `gorm:"size:30;not null;default:'single'" json:"plan"`
	IsActive bool      `gorm:"not null;default:true;index" json:"is_active"`

	// Points at the MetaConnection whose token is used for Graph calls.
	CurrentConnectionID *uuid.UUID `gorm:"type:uuid" json:"current_connection_id,omitempty"`

	Memberships []UserClient     `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
	OAuthStates []OAuthState     `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
	Connections []MetaConnection `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
	Campaigns   []Campaign       `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
	Insights    []InsightRecord  `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type UserClient struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ClientID  uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserClient) TableName() string {
	return "user_clients"
}
