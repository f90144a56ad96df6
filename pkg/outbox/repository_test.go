package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return conn
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestRepositoryInsertDefaults(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	require.NoError(t, repo.Insert(conn, models.OutboxEvent{
		AggregateID:   "42",
		AggregateType: enums.AggregateUser,
		EventType:     enums.EventUserCreated,
		Payload:       json.RawMessage(`{"id":"42"}`),
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	require.NotEqual(t, uuid.Nil, row.ID)
	require.Equal(t, enums.OutboxStatusPending, row.Status)
	require.Nil(t, row.ProcessedAt)
}

func TestRepositoryFetchPendingFIFO(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, conn.Create(&models.OutboxEvent{
			ID:            ids[i],
			AggregateID:   "42",
			AggregateType: enums.AggregateUser,
			EventType:     enums.EventUserUpdated,
			Payload:       json.RawMessage(`{}`),
			Status:        enums.OutboxStatusPending,
			CreatedAt:     base.Add(time.Duration(2-i) * time.Minute),
		}).Error)
	}
	// A processed row must never come back.
	require.NoError(t, conn.Create(&models.OutboxEvent{
		ID: uuid.New(), AggregateID: "42", AggregateType: enums.AggregateUser,
		EventType: enums.EventUserUpdated, Payload: json.RawMessage(`{}`),
		Status: enums.OutboxStatusProcessed, CreatedAt: base.Add(-time.Hour),
	}).Error)

	rows, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, ids[2], rows[0].ID, "oldest row first")
	require.Equal(t, ids[0], rows[2].ID)

	limited, err := repo.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestRepositoryMarkProcessedAndFailed(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	ok := models.OutboxEvent{ID: uuid.New(), AggregateID: "1", AggregateType: enums.AggregateUser,
		EventType: enums.EventUserCreated, Payload: json.RawMessage(`{}`), Status: enums.OutboxStatusPending}
	bad := models.OutboxEvent{ID: uuid.New(), AggregateID: "2", AggregateType: enums.AggregateUser,
		EventType: enums.EventUserCreated, Payload: json.RawMessage(`{}`), Status: enums.OutboxStatusPending}
	require.NoError(t, conn.Create(&ok).Error)
	require.NoError(t, conn.Create(&bad).Error)

	require.NoError(t, repo.MarkProcessed(ctx, ok.ID))
	require.NoError(t, repo.MarkFailed(ctx, bad.ID, errors.New("broker said no")))

	var processed models.OutboxEvent
	require.NoError(t, conn.Where("id = ?", ok.ID).First(&processed).Error)
	require.Equal(t, enums.OutboxStatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)

	var failedRow models.OutboxEvent
	require.NoError(t, conn.Where("id = ?", bad.ID).First(&failedRow).Error)
	require.Equal(t, enums.OutboxStatusFailed, failedRow.Status)
	require.NotNil(t, failedRow.LastError)
	require.Equal(t, "broker said no", *failedRow.LastError)

	pending, err := repo.CountByStatus(ctx, enums.OutboxStatusPending)
	require.NoError(t, err)
	require.EqualValues(t, 0, pending)
	failed, err := repo.CountByStatus(ctx, enums.OutboxStatusFailed)
	require.NoError(t, err)
	require.EqualValues(t, 1, failed)
}

func TestServiceRecordRollsBackWithCaller(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), testLogger())
	ctx := context.Background()

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.RecordUserEvent(ctx, tx, enums.EventUserCreated, "42", &payloads.UserPayload{ID: "42", Username: "jdoe"}))
	require.NoError(t, tx.Rollback().Error)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.EqualValues(t, 0, count, "rolled-back transaction must not leave outbox rows")
}

func TestRecordUserEventEnvelope(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), testLogger())
	ctx := context.Background()

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.RecordUserEvent(ctx, tx, enums.EventUserDeleted, "42", &payloads.UserPayload{ID: "42", Username: "jdoe", Email: "jdoe@example.com"}))
	require.NoError(t, tx.Commit().Error)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	require.Equal(t, "42", row.AggregateID)
	require.Equal(t, enums.EventUserDeleted, row.EventType)

	var envelope payloads.UserEvent
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	require.NotEqual(t, uuid.Nil, envelope.ID, "envelope must mint an event id")
	require.Equal(t, "User", envelope.AggregateType)
	require.Equal(t, "42", envelope.AggregateID)
	require.Equal(t, "USER_DELETED", envelope.Type)
	require.NotNil(t, envelope.Payload)
	require.Equal(t, "jdoe", envelope.Payload.Username)
	require.False(t, envelope.OccurredAt.IsZero())
}

func TestRecordProfileUpdatedDefaultsTimestamp(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), testLogger())
	ctx := context.Background()

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.RecordProfileUpdated(ctx, tx, payloads.ProfileUpdatedEvent{
		UserID:   "42",
		Username: "jdoe",
		Address:  &payloads.AddressInfo{Street: "1 Main St", City: "Springfield"},
	}))
	require.NoError(t, tx.Commit().Error)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	require.Equal(t, enums.EventProfileUpdated, row.EventType)

	var event payloads.ProfileUpdatedEvent
	require.NoError(t, json.Unmarshal(row.Payload, &event))
	require.False(t, event.Timestamp.IsZero(), "timestamp must be defaulted")
	require.NotNil(t, event.Address)
	require.Equal(t, "1 Main St", event.Address.Street)
}

func TestTopicRouter(t *testing.T) {
	router := NewTopicRouter(config.KafkaConfig{
		UserEventsTopic:     "user-events",
		ProfileUpdatedTopic: "profile-updated",
	})

	require.Equal(t, "user-events", router.TopicFor(enums.EventUserCreated))
	require.Equal(t, "user-events", router.TopicFor(enums.EventUserUpdated))
	require.Equal(t, "user-events", router.TopicFor(enums.EventUserDeleted))
	require.Equal(t, "profile-updated", router.TopicFor(enums.EventProfileUpdated))
	require.Equal(t, "user-events", router.TopicFor(enums.OutboxEventType("SOMETHING_NEW")))

	require.ElementsMatch(t, []string{"user-events", "profile-updated"}, router.Topics())
}

func TestTopicRouterEmptyConfigFallsBack(t *testing.T) {
	router := NewTopicRouter(config.KafkaConfig{})
	require.Equal(t, "user-events", router.TopicFor(enums.EventUserCreated))
	require.Equal(t, "profile-updated", router.TopicFor(enums.EventProfileUpdated))
}
