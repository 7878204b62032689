package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cepro/virtualmeter/meter"
	"github.com/cepro/virtualmeter/telemetry"
)

var ErrStopTimeout = errors.New("scheduler did not stop in time")

// Device is a simulated meter driven by the scheduler.
type Device interface {
	ID() uint8
	GenerateCycle() meter.Cycle
	Snapshot() []telemetry.Reading
}

// Recorder receives the register snapshot of every device after each executed cycle.
type Recorder interface {
	Record(deviceID uint8, readings []telemetry.Reading) error
}

// Scheduler runs the generation cycle of every device at a shared cadence on a single background goroutine.
//
// The time spent generating is subtracted from the sleep before the next tick. If a tick takes longer than the
// interval an overrun is logged and the next tick starts straight away, missed ticks are not queued.
type Scheduler struct {
	devices  []Device
	interval time.Duration
	verbose  bool
	recorder Recorder
	logger   *slog.Logger

	running atomic.Bool
	ticks   atomic.Uint64
	lock    sync.Mutex    // guards stopCh and doneCh
	stopCh  chan struct{} // closed to interrupt the inter-tick sleep
	doneCh  chan struct{} // closed when the worker exits
}

type Option func(*Scheduler)

// WithVerbose logs every device's registers after each executed cycle.
func WithVerbose(verbose bool) Option {
	return func(s *Scheduler) {
		s.verbose = verbose
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func New(devices []Device, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("update interval must be positive, got %s", interval)
	}

	s := &Scheduler{
		devices:  devices,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background worker. It returns immediately; the worker runs until Stop is called or `ctx` is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx, s.stopCh, s.doneCh)

	return nil
}

// Stop asks the worker to finish and waits up to `timeout` for it to do so. An in-progress tick is never interrupted,
// it is allowed to complete.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.lock.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	if stopCh == nil {
		s.lock.Unlock()
		return nil
	}
	if s.running.Swap(false) {
		close(stopCh)
	}
	s.lock.Unlock()

	select {
	case <-doneCh:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the worker has been started and not yet asked to stop.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Ticks returns the number of ticks completed so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	s.logger.Info("Scheduler started", "interval", s.interval, "devices", len(s.devices))

	for s.running.Load() {
		start := time.Now()
		s.tick()
		s.ticks.Add(1)
		elapsed := time.Since(start)

		if elapsed >= s.interval {
			s.logger.Warn("Update took longer than the interval", "elapsed", elapsed, "interval", s.interval)
			if ctx.Err() != nil {
				s.running.Store(false)
			}
			continue
		}

		timer := time.NewTimer(s.interval - elapsed)
		select {
		case <-ctx.Done():
			s.running.Store(false)
		case <-stopCh:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// tick runs one generation cycle on every device, in order.
func (s *Scheduler) tick() {
	for _, device := range s.devices {
		cycle := device.GenerateCycle()
		if !cycle.Executed {
			continue
		}

		if !s.verbose && s.recorder == nil {
			continue
		}

		// the snapshot is taken after the cycle has released the device lock
		readings := device.Snapshot()

		if s.verbose {
			s.logReadings(device.ID(), readings)
		}

		if s.recorder != nil {
			err := s.recorder.Record(device.ID(), readings)
			if err != nil {
				s.logger.Error("Failed to record readings", "device_id", device.ID(), "error", err)
			}
		}
	}
}

func (s *Scheduler) logReadings(deviceID uint8, readings []telemetry.Reading) {
	logger := s.logger.With("device_id", deviceID)
	for _, reading := range readings {
		logger.Info("Register",
			"address", reading.Address,
			"data_type", reading.DataType,
			"value", reading.Formatted(),
			"description", reading.Description)
	}
}
