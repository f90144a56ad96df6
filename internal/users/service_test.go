package users

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db"
	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	pkgerrors "github.com/helioslabs/userhub/pkg/errors"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.User{}, &models.OutboxEvent{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		DB:     db.FromConn(conn),
		Repo:   NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
	})
	require.NoError(t, err)
	return svc
}

func strPtr(s string) *string { return &s }

func TestCreateQueuesUserCreatedAtomically(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	row, err := svc.Create(ctx, CreateInput{
		Username:  "jdoe",
		Email:     "jdoe@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, row.ID)

	var outboxRow models.OutboxEvent
	require.NoError(t, conn.First(&outboxRow).Error)
	require.Equal(t, row.ID.String(), outboxRow.AggregateID)
	require.Equal(t, enums.EventUserCreated, outboxRow.EventType)
	require.Equal(t, enums.OutboxStatusPending, outboxRow.Status)

	var envelope payloads.UserEvent
	require.NoError(t, json.Unmarshal(outboxRow.Payload, &envelope))
	require.Equal(t, "USER_CREATED", envelope.Type)
	require.Equal(t, "jdoe", envelope.Payload.Username)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	_, err := svc.Create(context.Background(), CreateInput{
		Username: "jd",
		Email:    "not-an-email",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())

	var count int64
	require.NoError(t, conn.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestCreateRejectsDuplicateUsername(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Username: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Username: "jdoe", Email: "other@example.com"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestCreateRollsBackWhenOutboxInsertFails(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	// With the outbox table gone the insert inside the transaction fails and
	// the user row must roll back with it.
	require.NoError(t, conn.Migrator().DropTable(&models.OutboxEvent{}))

	_, err := svc.Create(context.Background(), CreateInput{
		Username: "jdoe",
		Email:    "jdoe@example.com",
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 0, count, "user insert must not survive a failed outbox append")
}

func TestUpdateQueuesUserUpdated(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	row, err := svc.Create(ctx, CreateInput{Username: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, row.ID, ProfileUpdateInput{
		FirstName: strPtr("Janet"),
	})
	require.NoError(t, err)
	require.Equal(t, "Janet", updated.FirstName)

	var updatedCount int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventUserUpdated).Count(&updatedCount).Error)
	require.EqualValues(t, 1, updatedCount)
}

func TestUpdateConflictingEmailFails(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Username: "first", Email: "first@example.com"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateInput{Username: "second", Email: "second@example.com"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, second.ID, ProfileUpdateInput{Email: strPtr("first@example.com")})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestUpdateProfileQueuesProfileUpdatedWithAddress(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	row, err := svc.Create(ctx, CreateInput{Username: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, row.ID, ProfileUpdateInput{
		PhoneNumber: strPtr("+15551234567"),
		Address: &AddressInput{
			Street:  "1 Main St",
			City:    "Springfield",
			State:   "IL",
			ZipCode: "62701",
			Country: "US",
		},
	})
	require.NoError(t, err)

	var outboxRow models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventProfileUpdated).First(&outboxRow).Error)

	var event payloads.ProfileUpdatedEvent
	require.NoError(t, json.Unmarshal(outboxRow.Payload, &event))
	require.Equal(t, row.ID.String(), event.UserID)
	require.False(t, event.Timestamp.IsZero())
	require.NotNil(t, event.Address)
	require.Equal(t, "62701", event.Address.ZipCode)
}

func TestUpdateProfileWithoutAddressOmitsBlock(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	row, err := svc.Create(ctx, CreateInput{Username: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, row.ID, ProfileUpdateInput{FirstName: strPtr("Jane")})
	require.NoError(t, err)

	var outboxRow models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventProfileUpdated).First(&outboxRow).Error)

	var event payloads.ProfileUpdatedEvent
	require.NoError(t, json.Unmarshal(outboxRow.Payload, &event))
	require.Nil(t, event.Address)
}

func TestDeleteTombstonesAndQueuesUserDeleted(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	row, err := svc.Create(ctx, CreateInput{Username: "jdoe", Email: "jdoe@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, row.ID))

	_, err = svc.Get(ctx, row.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	// Row is tombstoned, not removed.
	var total int64
	require.NoError(t, conn.Model(&models.User{}).Count(&total).Error)
	require.EqualValues(t, 1, total)

	var deleteRow models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventUserDeleted).First(&deleteRow).Error)
	require.Equal(t, row.ID.String(), deleteRow.AggregateID)
}

func TestDeleteMissingUserIsNotFound(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	err := svc.Delete(context.Background(), uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
