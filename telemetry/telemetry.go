package telemetry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reading holds the decoded value of one register of a simulated meter at a point in time.
type Reading struct {
	ID          uuid.UUID
	DeviceID    uint8
	Time        time.Time
	Address     int
	DataType    string
	Description string
	Value       interface{} // float64, int64 or string depending on the data type; nil if the register could not be decoded
	Err         string      // why the register could not be decoded
}

// Formatted returns the reading's value, or the decode error, as display text.
func (r Reading) Formatted() string {
	if r.Err != "" {
		return "Error: " + r.Err
	}
	return fmt.Sprintf("%v", r.Value)
}
