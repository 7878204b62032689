package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/cepro/virtualmeter/config"
)

// cliFlags holds the command line options. Every option has a short and a long name bound to the same variable.
type cliFlags struct {
	configPath string
	envPath    string

	verbose        bool
	protocol       string
	updateInterval int
	devices        int
	host           string
	port           int
	unitID         int
	serialPort     string
	baudRate       int
	slaveID        int
	tablesDir      string
	history        string
	wordOrder      string

	set map[string]bool // long names of the options given on the command line
}

// aliases maps short option names to their long names.
var aliases = map[string]string{
	"v": "verbose",
	"P": "protocol",
	"t": "update-interval",
	"d": "devices",
	"H": "host",
	"p": "port",
	"u": "unit-id",
	"s": "port-serial",
	"b": "baudrate",
	"i": "slave-id",
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	defaults := config.Default()
	f := &cliFlags{set: make(map[string]bool)}

	fs := flag.NewFlagSet("virtualmeter", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Virtual Power Meter: simulates energy meters and serves their registers over Modbus TCP or RTU.\n\nUsage:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.configPath, "config", "", "JSON configuration file")
	fs.StringVar(&f.envPath, "env", ".env", "environment file with VPM_* overrides")

	fs.BoolVar(&f.verbose, "v", false, "alias for -verbose")
	fs.BoolVar(&f.verbose, "verbose", false, "log every register after each update")
	fs.StringVar(&f.protocol, "P", defaults.Protocol, "alias for -protocol")
	fs.StringVar(&f.protocol, "protocol", defaults.Protocol, "modbus protocol, tcp or rtu")
	fs.IntVar(&f.updateInterval, "t", defaults.UpdateIntervalSecs, "alias for -update-interval")
	fs.IntVar(&f.updateInterval, "update-interval", defaults.UpdateIntervalSecs, "seconds between register updates")
	fs.IntVar(&f.devices, "d", defaults.Devices, "alias for -devices")
	fs.IntVar(&f.devices, "devices", defaults.Devices, "number of devices to simulate (1 or 2)")

	fs.StringVar(&f.host, "H", defaults.TCP.Host, "alias for -host")
	fs.StringVar(&f.host, "host", defaults.TCP.Host, "modbus TCP listen address")
	fs.IntVar(&f.port, "p", defaults.TCP.Port, "alias for -port")
	fs.IntVar(&f.port, "port", defaults.TCP.Port, "modbus TCP port")
	fs.IntVar(&f.unitID, "u", defaults.TCP.UnitID, "alias for -unit-id")
	fs.IntVar(&f.unitID, "unit-id", defaults.TCP.UnitID, "modbus TCP unit id of the first device")

	fs.StringVar(&f.serialPort, "s", "", "alias for -port-serial")
	fs.StringVar(&f.serialPort, "port-serial", "", "serial port for modbus RTU (e.g. /dev/ttyUSB0, COM5)")
	fs.IntVar(&f.baudRate, "b", defaults.RTU.BaudRate, "alias for -baudrate")
	fs.IntVar(&f.baudRate, "baudrate", defaults.RTU.BaudRate, "modbus RTU baud rate")
	fs.IntVar(&f.slaveID, "i", defaults.RTU.SlaveID, "alias for -slave-id")
	fs.IntVar(&f.slaveID, "slave-id", defaults.RTU.SlaveID, "modbus RTU slave id of the first device")

	fs.StringVar(&f.tablesDir, "tables", defaults.TablesDir, "directory holding the register tables")
	fs.StringVar(&f.history, "history", "", "sqlite file to record register history to, disabled when empty")
	fs.StringVar(&f.wordOrder, "word-order", defaults.WordOrder, "word order of multi-register values, little or big")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(fl *flag.Flag) {
		name := fl.Name
		if long, ok := aliases[name]; ok {
			name = long
		}
		f.set[name] = true
	})

	return f, nil
}

// loadConfig builds the configuration from the defaults, the config file, the environment and finally the options
// given on the command line, each overriding the last.
func (f *cliFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Read(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}

	err := cfg.ApplyEnv(f.envPath)
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]func(){
		"verbose":         func() { cfg.Verbose = f.verbose },
		"protocol":        func() { cfg.Protocol = f.protocol },
		"update-interval": func() { cfg.UpdateIntervalSecs = f.updateInterval },
		"devices":         func() { cfg.Devices = f.devices },
		"host":            func() { cfg.TCP.Host = f.host },
		"port":            func() { cfg.TCP.Port = f.port },
		"unit-id":         func() { cfg.TCP.UnitID = f.unitID },
		"port-serial":     func() { cfg.RTU.SerialPort = f.serialPort },
		"baudrate":        func() { cfg.RTU.BaudRate = f.baudRate },
		"slave-id":        func() { cfg.RTU.SlaveID = f.slaveID },
		"tables":          func() { cfg.TablesDir = f.tablesDir },
		"history":         func() { cfg.History.Path = f.history },
		"word-order":      func() { cfg.WordOrder = f.wordOrder },
	}
	for name, apply := range overrides {
		if f.set[name] {
			apply()
		}
	}

	err = cfg.Validate()
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
