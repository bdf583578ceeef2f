package implementation

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/model"
	"salesbot-wa-be/pkg/database"
	"salesbot-wa-be/pkg/sealbox"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	if err := godotenv.Load("../../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestCredentialRepositorySealsBlob(t *testing.T) {
	db := openDB(t)
	box, err := sealbox.New("integration-secret")
	require.NoError(t, err)
	repo := NewCredentialRepository(db, box)
	ctx := context.Background()
	kind := "it-" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = repo.Purge(ctx, kind) })

	require.NoError(t, repo.Save(ctx, kind, []byte("pairing-state")))

	var row model.WhatsappCredential
	require.NoError(t, db.Where("driver_kind = ?", kind).First(&row).Error)
	assert.NotEqual(t, []byte("pairing-state"), row.Blob)

	got, err := repo.Load(ctx, kind)
	require.NoError(t, err)
	assert.Equal(t, []byte("pairing-state"), got)

	require.NoError(t, repo.Purge(ctx, kind))
	got, err = repo.Load(ctx, kind)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHealthLogRepositoryAggregates(t *testing.T) {
	db := openDB(t)
	repo := NewHealthLogRepository(db)
	ctx := context.Background()
	since := time.Now().Add(-time.Second)

	for _, ev := range []*entity.HealthEvent{
		{Kind: entity.HealthKindReconnection, Severity: entity.SeverityWarning},
		{Kind: entity.HealthKindSendFailure, Severity: entity.SeverityError, Context: map[string]interface{}{"recipient": "5511999999999"}},
		{Kind: entity.HealthKindReady, Severity: entity.SeverityInfo},
	} {
		require.NoError(t, repo.Append(ctx, ev))
		assert.NotEqual(t, uuid.Nil, ev.Id)
	}

	stats, err := repo.QueryAggregate(ctx, since)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, 3)
	assert.GreaterOrEqual(t, stats.Errors, 1)
	assert.GreaterOrEqual(t, stats.Reconnections, 1)

	recent, err := repo.Recent(ctx, since, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestLeadRepositoryUpsert(t *testing.T) {
	db := openDB(t)
	repo := NewLeadRepository(db)
	ctx := context.Background()
	phone := "55" + uuid.NewString()[:8]
	t.Cleanup(func() { db.Exec("DELETE FROM leads WHERE phone = ?", phone) })

	first := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, repo.Upsert(ctx, phone, entity.LeadUpdate{LastMessage: "oi", At: first}))
	require.NoError(t, repo.Upsert(ctx, phone, entity.LeadUpdate{LastMessage: "quanto custa?", At: first.Add(time.Minute)}))

	lead, err := repo.FindByPhone(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, 2, lead.MessageCount)
	assert.Equal(t, "quanto custa?", lead.LastMessage)
	assert.True(t, lead.FirstContact.Equal(first))
}
