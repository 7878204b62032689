package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cepro/virtualmeter/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func snapshot(t time.Time, voltage float64) []telemetry.Reading {
	return []telemetry.Reading{
		{ID: uuid.New(), Time: t, Address: 3000, DataType: "FLOAT32", Description: "Voltage", Value: voltage},
		{ID: uuid.New(), Time: t, Address: 3010, DataType: "INT16", Description: "Broken", Err: "read register 3010: address out of range"},
	}
}

func TestRecordAndGet(t *testing.T) {
	repo := newRepository(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(1, snapshot(start, 230)))
	require.NoError(t, repo.Record(1, snapshot(start.Add(time.Minute), 231.5)))
	require.NoError(t, repo.Record(2, snapshot(start, 100)))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	readings, err := repo.GetReadings(1, 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, uint8(1), readings[0].DeviceID)
	assert.Equal(t, "231.5", readings[0].Value)
	assert.Equal(t, 3000, readings[0].Address)
	assert.Equal(t, "", readings[1].Value)
	assert.Contains(t, readings[1].Err, "out of range")

	history, err := repo.GetRegisterHistory(1, 3000, start)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "230", history[0].Value)
	assert.Equal(t, "231.5", history[1].Value)
}

func TestRecordAssignsMissingIDs(t *testing.T) {
	repo := newRepository(t)

	readings := []telemetry.Reading{
		{Time: time.Now().UTC(), Address: 1, DataType: "INT16", Value: int64(1)},
		{Time: time.Now().UTC(), Address: 2, DataType: "INT16", Value: int64(2)},
	}
	require.NoError(t, repo.Record(3, readings))

	stored, err := repo.GetReadings(3, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEqual(t, uuid.Nil, stored[0].ID)
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
}

func TestRecordNothing(t *testing.T) {
	repo := newRepository(t)
	assert.NoError(t, repo.Record(1, nil))
}

func TestDeleteBefore(t *testing.T) {
	repo := newRepository(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(1, snapshot(start, 230)))
	require.NoError(t, repo.Record(1, snapshot(start.Add(time.Hour), 231)))

	deleted, err := repo.DeleteBefore(start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
