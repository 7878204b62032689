package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cepro/virtualmeter/registers"
	"github.com/joho/godotenv"
)

const (
	ProtocolTCP = "tcp"
	ProtocolRTU = "rtu"
)

// envPrefix is prepended to the name of every environment variable that overrides the configuration.
const envPrefix = "VPM_"

type TCPConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UnitID int    `json:"unitId"`
}

type RTUConfig struct {
	SerialPort string `json:"serialPort"`
	BaudRate   int    `json:"baudRate"`
	SlaveID    int    `json:"slaveId"`
}

type HistoryConfig struct {
	Path           string `json:"path"` // sqlite file, empty disables the history
	RetentionHours int    `json:"retentionHours"`
}

type Config struct {
	Protocol           string        `json:"protocol"`
	TCP                TCPConfig     `json:"tcp"`
	RTU                RTUConfig     `json:"rtu"`
	Devices            int           `json:"devices"`
	UpdateIntervalSecs int           `json:"updateIntervalSecs"`
	Verbose            bool          `json:"verbose"`
	TablesDir          string        `json:"tablesDir"`
	Tables             []string      `json:"tables"` // register table file of each device, relative to TablesDir
	WordOrder          string        `json:"wordOrder"`
	History            HistoryConfig `json:"history"`
}

func Default() Config {
	return Config{
		Protocol: ProtocolTCP,
		TCP: TCPConfig{
			Host:   "0.0.0.0",
			Port:   502,
			UnitID: 1,
		},
		RTU: RTUConfig{
			BaudRate: 9600,
			SlaveID:  1,
		},
		Devices:            1,
		UpdateIntervalSecs: 60,
		TablesDir:          "tables",
		Tables:             []string{"register_table_PM21XX.json", "register_table_generic.json"},
		WordOrder:          registers.WordOrderLittle.String(),
	}
}

// Read returns the defaults overlaid with the JSON config file at `path`.
func Read(path string) (Config, error) {
	config := Default()

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	err = json.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

// ApplyEnv loads the .env file at `envPath`, if there is one, and then overrides the configuration with any VPM_*
// environment variables that are set. Variables already present in the environment take precedence over the file.
func (c *Config) ApplyEnv(envPath string) error {
	if envPath != "" {
		err := godotenv.Load(envPath)
		if err == nil {
			slog.Info("Loaded environment file", "file", envPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	c.Protocol = envString("PROTOCOL", c.Protocol)
	c.TCP.Host = envString("HOST", c.TCP.Host)
	c.RTU.SerialPort = envString("SERIAL_PORT", c.RTU.SerialPort)
	c.TablesDir = envString("TABLES_DIR", c.TablesDir)
	c.WordOrder = envString("WORD_ORDER", c.WordOrder)
	c.History.Path = envString("HISTORY", c.History.Path)

	var err error
	ints := []struct {
		name string
		dest *int
	}{
		{"PORT", &c.TCP.Port},
		{"UNIT_ID", &c.TCP.UnitID},
		{"BAUDRATE", &c.RTU.BaudRate},
		{"SLAVE_ID", &c.RTU.SlaveID},
		{"DEVICES", &c.Devices},
		{"UPDATE_INTERVAL", &c.UpdateIntervalSecs},
		{"HISTORY_RETENTION_HOURS", &c.History.RetentionHours},
	}
	for _, v := range ints {
		*v.dest, err = envInt(v.name, *v.dest)
		if err != nil {
			return err
		}
	}

	c.Verbose, err = envBool("VERBOSE", c.Verbose)
	if err != nil {
		return err
	}

	return nil
}

func envString(name string, fallback string) string {
	val, ok := os.LookupEnv(envPrefix + name)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func envInt(name string, fallback int) (int, error) {
	val, ok := os.LookupEnv(envPrefix + name)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	return n, nil
}

func envBool(name string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(envPrefix + name)
	if !ok || val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	return b, nil
}

// Validate checks that the configuration describes a simulator that can be started.
func (c Config) Validate() error {
	switch c.Protocol {
	case ProtocolTCP:
		if c.TCP.Port <= 0 || c.TCP.Port > 65535 {
			return fmt.Errorf("invalid TCP port %d", c.TCP.Port)
		}
	case ProtocolRTU:
		if c.RTU.SerialPort == "" {
			return errors.New("modbus RTU requires a serial port")
		}
		if c.RTU.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.RTU.BaudRate)
		}
	default:
		return fmt.Errorf("unknown protocol '%s', expected %s or %s", c.Protocol, ProtocolTCP, ProtocolRTU)
	}

	if c.Devices != 1 && c.Devices != 2 {
		return fmt.Errorf("number of devices must be 1 or 2, got %d", c.Devices)
	}
	if len(c.Tables) < c.Devices {
		return fmt.Errorf("%d devices configured but only %d register tables", c.Devices, len(c.Tables))
	}

	// the last device answers to base id + devices - 1, which must still be a valid unit id
	base := c.BaseID()
	if base < 1 || base+c.Devices-1 > 247 {
		return fmt.Errorf("unit id %d out of range for %d devices", base, c.Devices)
	}

	if c.UpdateIntervalSecs <= 0 {
		return fmt.Errorf("update interval must be positive, got %d seconds", c.UpdateIntervalSecs)
	}

	_, err := registers.ParseWordOrder(c.WordOrder)
	if err != nil {
		return err
	}

	if c.History.RetentionHours < 0 {
		return fmt.Errorf("history retention must not be negative, got %d hours", c.History.RetentionHours)
	}

	return nil
}

// BaseID returns the id of the first device: the unit id for TCP, the slave id for RTU.
func (c Config) BaseID() int {
	if c.Protocol == ProtocolRTU {
		return c.RTU.SlaveID
	}
	return c.TCP.UnitID
}

func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSecs) * time.Second
}

// TablePath returns the path of the register table of the i'th device (zero based).
func (c Config) TablePath(i int) string {
	return filepath.Join(c.TablesDir, c.Tables[i])
}
