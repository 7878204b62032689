// Probe reads the registers described by a register table from a running simulator (or a real meter) over Modbus
// TCP and prints the decoded values.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cepro/virtualmeter/modbus"
	"github.com/cepro/virtualmeter/registers"
	"github.com/cepro/virtualmeter/telemetry"
)

func main() {
	host := flag.String("host", "localhost:502", "modbus TCP address of the meter")
	unitID := flag.Int("unit-id", 1, "modbus unit id to query")
	tablePath := flag.String("table", "tables/register_table_PM21XX.json", "register table describing the registers to read")
	wordOrder := flag.String("word-order", "little", "word order of multi-register values, little or big")
	interval := flag.Duration("interval", 0, "repeat the read at this interval, zero reads once")
	count := flag.Int("count", 0, "number of reads when repeating, zero repeats forever")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *unitID < 0 || *unitID > 255 {
		slog.Error("Unit id out of range", "unit_id", *unitID)
		os.Exit(2)
	}

	order, err := registers.ParseWordOrder(*wordOrder)
	if err != nil {
		slog.Error("Invalid word order", "error", err)
		os.Exit(2)
	}

	table, err := registers.LoadTable(*tablePath)
	if err != nil {
		slog.Error("Failed to load register table", "file", *tablePath, "error", err)
		os.Exit(1)
	}

	client := modbus.NewClient(*host, uint8(*unitID), registers.NewCodec(order))
	defer client.Close()

	for i := 0; ; i++ {
		readings := client.ReadTable(table)
		printReadings(os.Stdout, readings)

		if *interval <= 0 || (*count > 0 && i+1 >= *count) {
			break
		}
		time.Sleep(*interval)
	}
}

func printReadings(w io.Writer, readings []telemetry.Reading) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if len(readings) > 0 {
		fmt.Fprintf(tw, "Device %d at %s\n", readings[0].DeviceID, readings[0].Time.Format(registers.DateTimeLayout))
	}
	fmt.Fprintln(tw, "ADDRESS\tTYPE\tDESCRIPTION\tVALUE")
	for _, reading := range readings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", reading.Address, reading.DataType, reading.Description, reading.Formatted())
	}
}
