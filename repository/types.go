package repository

import (
	"time"

	"github.com/cepro/virtualmeter/telemetry"
	"github.com/google/uuid"
)

// StoredReading represents a register reading that is persisted to the SQLite database. The decoded value is kept as
// display text since its Go type depends on the register's data type.
type StoredReading struct {
	ID          uuid.UUID `gorm:"primaryKey"`
	DeviceID    uint8     `gorm:"index:idx_device_time"`
	Time        time.Time `gorm:"index:idx_device_time"`
	Address     int
	DataType    string
	Description string
	Value       string
	Err         string
}

func newStoredReading(reading telemetry.Reading) StoredReading {
	stored := StoredReading{
		ID:          reading.ID,
		DeviceID:    reading.DeviceID,
		Time:        reading.Time,
		Address:     reading.Address,
		DataType:    reading.DataType,
		Description: reading.Description,
		Err:         reading.Err,
	}
	if reading.Err == "" {
		stored.Value = reading.Formatted()
	}
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	return stored
}
