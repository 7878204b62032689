package repository

import (
	"fmt"
	"time"

	"github.com/cepro/virtualmeter/telemetry"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Repository stores the register history of the simulated meters to the local file system (sqlite).
type Repository struct {
	db *gorm.DB
}

func New(path string) (*Repository, error) {

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&StoredReading{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{
		db: db,
	}, nil
}

// Record persists one snapshot of a device's registers in a single transaction.
func (r *Repository) Record(deviceID uint8, readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	stored := make([]StoredReading, 0, len(readings))
	for _, reading := range readings {
		reading.DeviceID = deviceID
		stored = append(stored, newStoredReading(reading))
	}

	result := r.db.Create(&stored)
	if result.Error != nil {
		return fmt.Errorf("store readings: %w", result.Error)
	}
	return nil
}

// GetReadings returns up to `limit` of the most recent readings of the given device, newest first.
func (r *Repository) GetReadings(deviceID uint8, limit int) ([]StoredReading, error) {
	var readings []StoredReading

	result := r.db.Where("device_id = ?", deviceID).Order("time desc, address asc").Limit(limit).Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// GetRegisterHistory returns the readings of one register of the given device since `since`, oldest first.
func (r *Repository) GetRegisterHistory(deviceID uint8, address int, since time.Time) ([]StoredReading, error) {
	var readings []StoredReading

	result := r.db.Where("device_id = ? AND address = ? AND time >= ?", deviceID, address, since).Order("time asc").Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// DeleteBefore removes all readings older than `t` and returns how many were deleted.
func (r *Repository) DeleteBefore(t time.Time) (int64, error) {
	result := r.db.Where("time < ?", t).Delete(&StoredReading{})
	return result.RowsAffected, result.Error
}

func (r *Repository) Count() (int64, error) {
	var count int64
	result := r.db.Model(&StoredReading{}).Count(&count)
	return count, result.Error
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
