package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cepro/virtualmeter/config"
	"github.com/cepro/virtualmeter/generator"
	"github.com/cepro/virtualmeter/meter"
	"github.com/cepro/virtualmeter/registers"
	"github.com/cepro/virtualmeter/repository"
	"github.com/cepro/virtualmeter/scheduler"
	"github.com/cepro/virtualmeter/server"
	"github.com/cepro/virtualmeter/store"
)

// frontEnd is a Modbus server exposing the simulated devices.
type frontEnd interface {
	Start() error
	Stop() error
	Stats() server.Stats
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	err = run(cfg)
	if err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Exiting")
}

func run(cfg config.Config) error {
	simulators, err := newSimulators(cfg)
	if err != nil {
		return err
	}

	schedulerOpts := []scheduler.Option{scheduler.WithVerbose(cfg.Verbose)}
	if cfg.History.Path != "" {
		repo, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer repo.Close()
		schedulerOpts = append(schedulerOpts, scheduler.WithRecorder(repo))
	}

	schedDevices := make([]scheduler.Device, 0, len(simulators))
	serverDevices := make([]server.Device, 0, len(simulators))
	for _, sim := range simulators {
		schedDevices = append(schedDevices, sim)
		serverDevices = append(serverDevices, sim)
	}

	sched, err := scheduler.New(schedDevices, cfg.UpdateInterval(), schedulerOpts...)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	front, err := newFrontEnd(cfg, serverDevices)
	if err != nil {
		return err
	}

	logStartup(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = sched.Start(ctx)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	err = front.Start()
	if err != nil {
		sched.Stop(5 * time.Second)
		return err
	}

	// wait for a ctrl-c interrupt or a terminate before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	slog.Info("Stopping simulator...")

	err = front.Stop()
	if err != nil {
		slog.Error("Failed to stop modbus server", "error", err)
	}
	err = sched.Stop(5 * time.Second)
	if err != nil {
		slog.Error("Failed to stop scheduler", "error", err)
	}

	logStats(simulators, front.Stats(), sched.Ticks())

	return nil
}

// newSimulators creates the configured devices, with consecutive ids starting at the base id. A device whose table
// cannot be loaded runs without registers, but at least one device must have some.
func newSimulators(cfg config.Config) ([]*meter.Simulator, error) {
	wordOrder, err := registers.ParseWordOrder(cfg.WordOrder)
	if err != nil {
		return nil, err
	}
	codec := registers.NewCodec(wordOrder)
	generators := generator.NewRegistry()

	simulators := make([]*meter.Simulator, 0, cfg.Devices)
	total := 0
	for i := 0; i < cfg.Devices; i++ {
		id := uint8(cfg.BaseID() + i)

		// the scheduler paces the cycles, so the devices generate on every tick
		sim := meter.Load(
			meter.Config{DeviceID: id, UpdateInterval: 0},
			cfg.TablePath(i),
			generators,
			store.NewBlock(store.DefaultSize),
			meter.WithCodec(codec),
		)
		simulators = append(simulators, sim)
		total += sim.Len()
	}

	if total == 0 {
		return nil, fmt.Errorf("no device has any register definitions, check the tables in '%s'", cfg.TablesDir)
	}
	return simulators, nil
}

func openHistory(cfg config.HistoryConfig) (*repository.Repository, error) {
	repo, err := repository.New(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	if cfg.RetentionHours > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.RetentionHours) * time.Hour)
		deleted, err := repo.DeleteBefore(cutoff)
		if err != nil {
			slog.Error("Failed to prune history", "error", err)
		} else {
			slog.Info("Pruned history", "deleted", deleted, "before", cutoff.Format(time.RFC3339))
		}
	}

	slog.Info("Recording register history", "file", cfg.Path)
	return repo, nil
}

func newFrontEnd(cfg config.Config, devices []server.Device) (frontEnd, error) {
	if cfg.Protocol == config.ProtocolRTU {
		front, err := server.NewRTU(server.RTUConfig{Port: cfg.RTU.SerialPort, BaudRate: cfg.RTU.BaudRate}, devices)
		if err != nil {
			return nil, fmt.Errorf("create modbus RTU server: %w", err)
		}
		return front, nil
	}

	front, err := server.NewTCP(cfg.TCP.Host, cfg.TCP.Port, devices)
	if err != nil {
		return nil, fmt.Errorf("create modbus TCP server: %w", err)
	}
	return front, nil
}

func logStartup(cfg config.Config) {
	attrs := []any{
		"protocol", cfg.Protocol,
		"devices", cfg.Devices,
		"base_id", cfg.BaseID(),
		"update_interval", cfg.UpdateInterval(),
		"verbose", cfg.Verbose,
		"word_order", cfg.WordOrder,
	}
	if cfg.Protocol == config.ProtocolRTU {
		attrs = append(attrs, "serial_port", cfg.RTU.SerialPort, "baud_rate", cfg.RTU.BaudRate)
	} else {
		attrs = append(attrs, "host", cfg.TCP.Host, "port", cfg.TCP.Port)
	}
	slog.Info("Starting virtual power meter", attrs...)
}

func logStats(simulators []*meter.Simulator, serverStats server.Stats, ticks uint64) {
	for _, sim := range simulators {
		stats := sim.Stats()
		slog.Info("Device statistics",
			"device_id", stats.DeviceID,
			"registers", stats.TotalRegisters,
			"last_update", stats.LastUpdate.Format(time.RFC3339))
	}
	slog.Info("Server statistics",
		"protocol", serverStats.Protocol,
		"units", serverStats.Units,
		"reads", serverStats.Reads,
		"writes", serverStats.Writes,
		"errors", serverStats.Errors,
		"ticks", ticks)
}
