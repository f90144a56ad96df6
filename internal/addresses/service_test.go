package addresses

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:addresses_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Address{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) *Service {
	t.Helper()
	svc, err := NewService(NewRepository(conn), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func profileEvent(userID string) *payloads.ProfileUpdatedEvent {
	return &payloads.ProfileUpdatedEvent{
		UserID: userID,
		Address: &payloads.AddressInfo{
			Street:  "1 Main St",
			City:    "Springfield",
			State:   "IL",
			ZipCode: "62701",
			Country: "US",
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestApplyUserDeletedRemovesAllAddresses(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Create(&models.Address{ID: uuid.New(), UserID: "42", Line1: "somewhere"}).Error)
	}
	require.NoError(t, conn.Create(&models.Address{ID: uuid.New(), UserID: "7", Line1: "elsewhere"}).Error)

	require.NoError(t, svc.ApplyUserDeleted(context.Background(), conn, "42"))

	var count int64
	require.NoError(t, conn.Model(&models.Address{}).Where("user_id = ?", "42").Count(&count).Error)
	require.EqualValues(t, 0, count)
	require.NoError(t, conn.Model(&models.Address{}).Where("user_id = ?", "7").Count(&count).Error)
	require.EqualValues(t, 1, count, "other users' addresses must survive")
}

func TestApplyUserDeletedNoAddressesIsNoOp(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	require.NoError(t, svc.ApplyUserDeleted(context.Background(), conn, "42"))
}

func TestApplyProfileUpdatedCreatesThenOverwrites(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	require.NoError(t, svc.ApplyProfileUpdated(ctx, conn, profileEvent("42")))

	second := profileEvent("42")
	second.Address.Street = "2 Oak Ave"
	second.Address.ZipCode = "62702"
	require.NoError(t, svc.ApplyProfileUpdated(ctx, conn, second))

	var rows []models.Address
	require.NoError(t, conn.Where("user_id = ?", "42").Find(&rows).Error)
	require.Len(t, rows, 1, "profile updates target one row per user")
	require.True(t, rows[0].FromProfile)
	require.Equal(t, "2 Oak Ave", rows[0].Line1)
	require.Equal(t, "62702", rows[0].PostalCode)
}

func TestApplyProfileUpdatedLeavesManualAddressesAlone(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	manual := models.Address{ID: uuid.New(), UserID: "42", Line1: "manual entry", FromProfile: false}
	require.NoError(t, conn.Create(&manual).Error)

	require.NoError(t, svc.ApplyProfileUpdated(context.Background(), conn, profileEvent("42")))

	var rows []models.Address
	require.NoError(t, conn.Where("user_id = ?", "42").Order("line1 ASC").Find(&rows).Error)
	require.Len(t, rows, 2)

	var fromProfile int
	for _, row := range rows {
		if row.FromProfile {
			fromProfile++
		} else {
			require.Equal(t, "manual entry", row.Line1)
		}
	}
	require.Equal(t, 1, fromProfile)
}

func TestApplyProfileUpdatedWithoutAddressBlock(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	event := profileEvent("42")
	event.Address = nil
	require.NoError(t, svc.ApplyProfileUpdated(context.Background(), conn, event))

	var count int64
	require.NoError(t, conn.Model(&models.Address{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestApplyProfileUpdatedRejectsMissingUserID(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	event := profileEvent("")
	require.Error(t, svc.ApplyProfileUpdated(context.Background(), conn, event))
	require.Error(t, svc.ApplyProfileUpdated(context.Background(), conn, nil))
}
