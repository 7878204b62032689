package meter

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cepro/virtualmeter/generator"
	"github.com/cepro/virtualmeter/registers"
	"github.com/cepro/virtualmeter/telemetry"
	"github.com/google/uuid"
)

// Store is the word addressable register block that a simulator writes its generated values into.
type Store interface {
	Get(address int, count int) ([]uint16, error)
	Set(address int, words []uint16) error
}

// Config holds the per-device settings of a simulator.
type Config struct {
	DeviceID       uint8         // the Modbus unit/slave id the device answers to
	UpdateInterval time.Duration // minimum time between two generation cycles, zero means every call generates
}

// Cycle describes the outcome of a call to GenerateCycle.
type Cycle struct {
	Executed  bool      // false if the call was skipped because the update interval had not yet elapsed
	Updated   int       // registers written successfully
	Generated int       // registers carrying a generation spec
	Time      time.Time // when the last executed cycle finished
}

// Stats summarises a simulator for reporting.
type Stats struct {
	DeviceID       uint8
	TotalRegisters int
	LastUpdate     time.Time
	UpdateInterval time.Duration
}

// Simulator emulates the registers of one energy meter. Values are synthesised from the register table on every
// generation cycle and written to the store.
//
// A single lock serialises generation cycles with reads so that multi-word values are never observed half written.
type Simulator struct {
	id         uint8
	interval   time.Duration
	table      registers.Table
	generators *generator.Registry
	codec      registers.Codec
	store      Store
	now        func() time.Time
	logger     *slog.Logger

	lock       sync.Mutex // guards the store, lastUpdate and lastCycle
	lastUpdate time.Time  // zero until the first cycle has run
	lastCycle  Cycle
}

type Option func(*Simulator)

// WithCodec overrides the default codec (big endian bytes, little endian word order).
func WithCodec(codec registers.Codec) Option {
	return func(s *Simulator) {
		s.codec = codec
	}
}

// WithClock overrides the clock used for the update interval.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func New(cfg Config, table registers.Table, generators *generator.Registry, store Store, opts ...Option) *Simulator {
	s := &Simulator{
		id:         cfg.DeviceID,
		interval:   cfg.UpdateInterval,
		table:      table,
		generators: generators,
		codec:      registers.NewCodec(registers.WordOrderLittle),
		store:      store,
		now:        time.Now,
		logger:     slog.Default().With("device_id", cfg.DeviceID),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.adviseTable()

	return s
}

// Load creates a simulator from the register table file at `path`. If the table cannot be loaded the problem is
// logged and the simulator runs with an empty table, contributing no registers.
func Load(cfg Config, path string, generators *generator.Registry, store Store, opts ...Option) *Simulator {
	table, err := registers.LoadTable(path)
	if err != nil {
		table = registers.Table{}
	}

	s := New(cfg, table, generators, store, opts...)
	if err != nil {
		s.logger.Error("Failed to load register table, device will have no registers", "file", path, "error", err)
	} else {
		s.logger.Info("Loaded register table", "file", filepath.Base(path), "registers", len(table))
	}
	return s
}

// adviseTable logs definitions that can never be written, and definitions whose registers overlap.
func (s *Simulator) adviseTable() {
	for _, def := range s.table {
		if !def.Supported() {
			s.logger.Warn("Register definition is not supported and will be skipped",
				"address", def.Address, "data_type", def.DataType, "description", def.Description)
		}
	}
	for _, overlap := range s.table.Overlaps() {
		s.logger.Warn("Register definitions overlap, the last one generated wins",
			"address", overlap.First.Address, "description", overlap.First.Description,
			"overlapping_address", overlap.Second.Address, "overlapping_description", overlap.Second.Description)
	}
}

func (s *Simulator) ID() uint8 {
	return s.id
}

// Len returns the number of register definitions in the simulator's table.
func (s *Simulator) Len() int {
	return len(s.table)
}

// GenerateCycle synthesises and writes a new value for every register that carries a generation spec.
//
// The first call always generates. Later calls are skipped, returning the previous cycle with Executed set to false,
// until the update interval has elapsed since the last cycle. Failures are logged per register and do not stop the
// remaining registers from being written.
func (s *Simulator) GenerateCycle() Cycle {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.lastUpdate.IsZero() && s.now().Sub(s.lastUpdate) < s.interval {
		skipped := s.lastCycle
		skipped.Executed = false
		return skipped
	}

	updated := 0
	generated := 0
	for _, def := range s.table {
		if def.Generation == nil {
			continue
		}
		generated++

		err := s.generateRegister(def)
		if err != nil {
			s.logger.Error("Failed to generate register", "address", def.Address, "description", def.Description, "error", err)
			continue
		}
		updated++
	}

	s.lastUpdate = s.now()
	s.lastCycle = Cycle{
		Executed:  true,
		Updated:   updated,
		Generated: generated,
		Time:      s.lastUpdate,
	}

	if updated > 0 {
		s.logger.Debug("Updated registers", "updated", updated, "total", len(s.table))
	}

	return s.lastCycle
}

// generateRegister runs the definition's generator and writes the encoded value. Must be called with the lock held.
func (s *Simulator) generateRegister(def registers.Definition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generate: panic: %v", r)
		}
	}()

	val, err := s.generators.Generate(def.Generation.Type, def.Generation.Params)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	words, err := s.codec.Encode(val, def.DataType)
	if err != nil {
		return err
	}

	err = s.store.Set(def.Address, words)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadValue decodes the register at `address` as the given data type.
func (s *Simulator) ReadValue(address int, dataType registers.DataType) (interface{}, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.readValue(address, dataType)
}

// readValue must be called with the lock held.
func (s *Simulator) readValue(address int, dataType registers.DataType) (interface{}, error) {
	if !dataType.Supported() {
		return nil, fmt.Errorf("read register %d: %w: '%s'", address, registers.ErrUnsupportedType, dataType)
	}

	words, err := s.store.Get(address, dataType.Words())
	if err != nil {
		return nil, fmt.Errorf("read register %d: %w", address, err)
	}

	val, err := s.codec.Decode(words, dataType)
	if err != nil {
		return nil, fmt.Errorf("read register %d: %w", address, err)
	}
	return val, nil
}

// ReadWords returns the raw contents of `count` registers starting at `address`.
func (s *Simulator) ReadWords(address int, count int) ([]uint16, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.store.Get(address, count)
}

// WriteWords overwrites registers, as requested by a Modbus client. The value is replaced again on the next cycle if
// the register has a generation spec.
func (s *Simulator) WriteWords(address int, words []uint16) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.store.Set(address, words)
}

// Snapshot decodes every register in the table. All registers are read under one lock acquisition, so the snapshot is
// consistent with a single cycle.
func (s *Simulator) Snapshot() []telemetry.Reading {
	s.lock.Lock()
	defer s.lock.Unlock()

	t := s.now()
	readings := make([]telemetry.Reading, 0, len(s.table))
	for _, def := range s.table {
		reading := telemetry.Reading{
			ID:          uuid.New(),
			DeviceID:    s.id,
			Time:        t,
			Address:     def.Address,
			DataType:    string(def.DataType),
			Description: def.Description,
		}

		val, err := s.readValue(def.Address, def.DataType)
		if err != nil {
			reading.Err = err.Error()
		} else {
			reading.Value = val
		}
		readings = append(readings, reading)
	}
	return readings
}

func (s *Simulator) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Stats{
		DeviceID:       s.id,
		TotalRegisters: len(s.table),
		LastUpdate:     s.lastUpdate,
		UpdateInterval: s.interval,
	}
}
