package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cepro/virtualmeter/generator"
	"github.com/cepro/virtualmeter/meter"
	"github.com/cepro/virtualmeter/registers"
	"github.com/cepro/virtualmeter/store"
	"github.com/cepro/virtualmeter/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice counts its cycles and optionally takes a fixed time to run each one.
type fakeDevice struct {
	id       uint8
	duration time.Duration

	lock   sync.Mutex
	cycles int
	order  *[]uint8
}

func (f *fakeDevice) ID() uint8 {
	return f.id
}

func (f *fakeDevice) GenerateCycle() meter.Cycle {
	time.Sleep(f.duration)
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cycles++
	if f.order != nil {
		*f.order = append(*f.order, f.id)
	}
	return meter.Cycle{Executed: true, Updated: 1, Generated: 1, Time: time.Now()}
}

func (f *fakeDevice) Snapshot() []telemetry.Reading {
	return []telemetry.Reading{{DeviceID: f.id, Address: 1, DataType: "INT16", Value: int64(f.id)}}
}

func (f *fakeDevice) count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.cycles
}

type memoryRecorder struct {
	lock     sync.Mutex
	readings map[uint8]int
}

func (m *memoryRecorder) Record(deviceID uint8, readings []telemetry.Reading) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.readings[deviceID] += len(readings)
	return nil
}

func (m *memoryRecorder) count(deviceID uint8) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.readings[deviceID]
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(nil, 0)
	assert.Error(t, err)

	_, err = New(nil, -time.Second)
	assert.Error(t, err)
}

func TestRunsDevicesInOrder(t *testing.T) {
	var order []uint8
	first := &fakeDevice{id: 1, order: &order}
	second := &fakeDevice{id: 2, order: &order}

	s, err := New([]Device{first, second}, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Ticks() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(time.Second))
	assert.False(t, s.Running())

	// both devices are only touched by the worker, which has now stopped
	require.GreaterOrEqual(t, len(order), 6)
	for i := 0; i+1 < len(order); i += 2 {
		assert.Equal(t, []uint8{1, 2}, order[i:i+2])
	}
	assert.Equal(t, first.count(), second.count())
}

func TestCadenceCompensatesForProcessingTime(t *testing.T) {
	// each tick spends 30ms of a 50ms interval working, so ticks should still be ~50ms apart
	device := &fakeDevice{id: 1, duration: 30 * time.Millisecond}
	s, err := New([]Device{device}, 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Ticks() >= 5 }, 2*time.Second, time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, s.Stop(time.Second))

	// without compensation 5 ticks would take at least 5 * 80ms
	assert.Less(t, elapsed, 380*time.Millisecond)
}

func TestOverrunDoesNotBuildBacklog(t *testing.T) {
	device := &fakeDevice{id: 1, duration: 40 * time.Millisecond}
	s, err := New([]Device{device}, 10*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop(time.Second))
	elapsed := time.Since(start)

	// ticks run back to back, so the count is bounded by the work time rather than by the interval
	maxCycles := int(elapsed/device.duration) + 1
	assert.LessOrEqual(t, device.count(), maxCycles)
	assert.GreaterOrEqual(t, device.count(), 3)
}

func TestStopInterruptsSleep(t *testing.T) {
	device := &fakeDevice{id: 1}
	s, err := New([]Device{device}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return device.count() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, device.count())
}

func TestStopTimesOutOnLongTick(t *testing.T) {
	device := &fakeDevice{id: 1, duration: 300 * time.Millisecond}
	s, err := New([]Device{device}, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, s.Stop(10*time.Millisecond), ErrStopTimeout)

	// the worker still finishes cooperatively
	assert.Eventually(t, func() bool { return device.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Stop(time.Second))
}

func TestContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	device := &fakeDevice{id: 1}
	s, err := New([]Device{device}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return device.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
	assert.NoError(t, s.Stop(time.Second))
}

func TestStartTwice(t *testing.T) {
	s, err := New([]Device{&fakeDevice{id: 1}}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(time.Second))
}

func TestRecorderReceivesSnapshots(t *testing.T) {
	recorder := &memoryRecorder{readings: make(map[uint8]int)}
	s, err := New([]Device{&fakeDevice{id: 1}, &fakeDevice{id: 2}}, 10*time.Millisecond,
		WithRecorder(recorder), WithVerbose(true))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return recorder.count(1) >= 2 && recorder.count(2) >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(time.Second))
}

func TestDrivesSimulators(t *testing.T) {
	table := registers.Table{
		{Address: 1000, DataType: registers.Float32, Description: "V", Generation: &registers.GenerationSpec{Type: "fixed", Params: []interface{}{42.0}}},
	}
	sim := meter.New(meter.Config{DeviceID: 1, UpdateInterval: 0}, table, generator.NewRegistry(), store.NewBlock(store.DefaultSize))

	s, err := New([]Device{sim}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return !sim.Stats().LastUpdate.IsZero() }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(time.Second))

	val, err := sim.ReadValue(1000, registers.Float32)
	require.NoError(t, err)
	assert.Equal(t, 42.0, val)
}
