package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"users", "clients", "user_clients", "oauth_states", "meta_connections", "campaigns", "meta_insights_daily", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, Migrate(db))
}

func TestClientDeleteCascades(t *testing.T) {
	db := openTestDB(t)

	user := models.User{Email: "a@example.com", PasswordHash: "x"}
	client := models.Client{Name: "A"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&client).Error)
	require.NoError(t, db.Create(&models.UserClient{UserID: user.ID, ClientID: client.ID}).Error)
	require.NoError(t, db.Create(&models.OAuthState{State: "s1", ClientID: client.ID}).Error)
	require.NoError(t, db.Create(&models.Campaign{ClientID: client.ID, Name: "c", Status: models.CampaignStatusDraft}).Error)

	require.NoError(t, db.Delete(&models.Client{}, "id = ?", client.ID).Error)

	var count int64
	db.Model(&models.UserClient{}).Where("client_id = ?", client.ID).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.OAuthState{}).Where("client_id = ?", client.ID).Count(&count)
	assert.Zero(t, count)
	db.Model(&models.Campaign{}).Where("client_id = ?", client.ID).Count(&count)
	assert.Zero(t, count)
}

func TestClientDefaults(t *testing.T) {
	db := openTestDB(t)

	client := models.Client{ID: uuid.New(), Name: "B"}
	require.NoError(t, db.Create(&client).Error)

	var got models.Client
	require.NoError(t, db.First(&got, "id = ?", client.ID).Error)
	assert.Equal(t, models.PlanSingle, got.Plan)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.CurrentConnectionID)
}

func TestConnectRedis(t *testing.T) {
	assert.Nil(t, ConnectRedis(""))

	mr := miniredis.RunT(t)
	client := ConnectRedis("redis://" + mr.Addr())
	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}
