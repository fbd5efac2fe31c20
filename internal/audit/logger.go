package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/models"
)

// LogEntry represents a log entry to be created
type LogEntry struct {
	ClientID   *uuid.UUID
	UserID     *uuid.UUID
	CampaignID *uuid.UUID

	Action     models.AuditLogAction
	TargetType string
	TargetID   string

	Result   models.AuditLogResult
	Err      error
	Metadata interface{}

	Duration  time.Duration
	IPAddress string
}

// Logger writes audit rows synchronously so a launch's step trail survives a crash.
type Logger struct {
	db *gorm.DB
}

func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// Log stores an entry. A nil Logger is a no-op.
func (l *Logger) Log(ctx context.Context, entry *LogEntry) (*models.AuditLog, error) {
	if l == nil {
		return nil, nil
	}

	row := &models.AuditLog{
		ClientID:   entry.ClientID,
		UserID:     entry.UserID,
		CampaignID: entry.CampaignID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Result:     entry.Result,
		IPAddress:  entry.IPAddress,
		Duration:   entry.Duration.Milliseconds(),
	}
	if row.Result == "" {
		row.Result = models.ResultSuccess
	}
	if entry.Err != nil {
		row.Result = models.ResultFailed
		row.ErrorMessage = entry.Err.Error()
	}
	if entry.Metadata != nil {
		if data, err := json.Marshal(entry.Metadata); err == nil {
			row.Metadata = datatypes.JSON(data)
		}
	}

	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("action", string(entry.Action)).Msg("Failed to write audit log")
		return nil, err
	}
	return row, nil
}

// LogSuccess records a successful action against a remote object
func (l *Logger) LogSuccess(ctx context.Context, clientID uuid.UUID, action models.AuditLogAction, targetType, targetID string) (*models.AuditLog, error) {
	return l.Log(ctx, &LogEntry{
		ClientID:   &clientID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     models.ResultSuccess,
	})
}

// LogFailure records a failed action
func (l *Logger) LogFailure(ctx context.Context, clientID uuid.UUID, action models.AuditLogAction, err error) (*models.AuditLog, error) {
	return l.Log(ctx, &LogEntry{
		ClientID: &clientID,
		Action:   action,
		Result:   models.ResultFailed,
		Err:      err,
	})
}

// CampaignTrail returns the audit rows for one campaign of one tenant, oldest first.
func (l *Logger) CampaignTrail(ctx context.Context, clientID, campaignID uuid.UUID) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := l.db.WithContext(ctx).
		Where("client_id = ? AND campaign_id = ?", clientID, campaignID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// Cleanup removes entries older than the retention window
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}
