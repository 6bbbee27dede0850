package services

import (
	"io"
	"strconv"
	"testing"
	"time"

	"fleetrent/database"
	"fleetrent/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// seedRent 建立客戶、車輛與一筆進行中的租賃
func seedRent(t *testing.T, db *gorm.DB, total, paid string) models.Rent {
	t.Helper()
	client := models.Client{Name: "Lin", Phone: "0912345678"}
	require.NoError(t, db.Create(&client).Error)

	plate := "ABC-" + strconv.Itoa(client.ClientID)
	require.NoError(t, db.Create(&models.Vehicle{LicensePlate: plate, Brand: "Toyota", Status: models.VehicleStatusRented}).Error)

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	rent := models.Rent{
		ClientID:     client.ClientID,
		LicensePlate: plate,
		StartTime:    start,
		EndTime:      start.Add(72 * time.Hour),
		Status:       models.RentStatusInProgress,
		TotalAmount:  decimal.RequireFromString(total),
		PaidAmount:   decimal.RequireFromString(paid),
	}
	rent.SyncPaymentState()
	require.NoError(t, db.Create(&rent).Error)
	return rent
}

func loadRent(t *testing.T, db *gorm.DB, id int) models.Rent {
	t.Helper()
	var rent models.Rent
	require.NoError(t, db.First(&rent, "rent_id = ?", id).Error)
	return rent
}
