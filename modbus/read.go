package modbus

import (
	"fmt"
	"sort"
	"time"

	"github.com/cepro/virtualmeter/registers"
	"github.com/cepro/virtualmeter/telemetry"
	"github.com/google/uuid"
	"github.com/simonvetter/modbus"
)

// maxBlockWords is the most registers a single Modbus read request may return.
const maxBlockWords = 125

// block is a contiguous run of registers read with one request.
type block struct {
	start uint16
	count uint16
	defs  []registers.Definition
}

// ReadWords reads `count` holding registers starting at `address`.
func (c *Client) ReadWords(address uint16, count uint16) ([]uint16, error) {
	return c.readWords(address, count, modbus.HOLDING_REGISTER)
}

// ReadInputWords reads `count` input registers starting at `address`.
func (c *Client) ReadInputWords(address uint16, count uint16) ([]uint16, error) {
	return c.readWords(address, count, modbus.INPUT_REGISTER)
}

func (c *Client) readWords(address uint16, count uint16, regType modbus.RegType) ([]uint16, error) {
	err := c.reconnectIfNeccesary()
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}

	words, err := c.subClient.ReadRegisters(address, count, regType)
	if err != nil {
		c.setShouldReconnect()
		return nil, fmt.Errorf("read registers %d-%d: %w", address, int(address)+int(count)-1, err)
	}
	return words, nil
}

// ReadValue reads and decodes the register at `address`.
func (c *Client) ReadValue(address uint16, dataType registers.DataType) (interface{}, error) {
	if !dataType.Supported() {
		return nil, fmt.Errorf("read register %d: %w: '%s'", address, registers.ErrUnsupportedType, dataType)
	}

	words, err := c.ReadWords(address, uint16(dataType.Words()))
	if err != nil {
		return nil, err
	}
	return c.codec.Decode(words, dataType)
}

// ReadTable reads every supported register of `table` from the device and decodes it. Neighbouring registers are
// fetched together in blocks. A block that fails to read marks each of its readings with the error rather than
// aborting the whole table.
func (c *Client) ReadTable(table registers.Table) []telemetry.Reading {
	t := time.Now()
	readings := make([]telemetry.Reading, 0, len(table))

	for _, b := range blocks(table) {
		words, readErr := c.ReadWords(b.start, b.count)

		for _, def := range b.defs {
			reading := telemetry.Reading{
				ID:          uuid.New(),
				DeviceID:    c.unitID,
				Time:        t,
				Address:     def.Address,
				DataType:    string(def.DataType),
				Description: def.Description,
			}

			if readErr != nil {
				reading.Err = readErr.Error()
				readings = append(readings, reading)
				continue
			}

			// grab the relevant words for this register from the block
			offset := def.Address - int(b.start)
			val, err := c.codec.Decode(words[offset:offset+def.DataType.Words()], def.DataType)
			if err != nil {
				reading.Err = err.Error()
			} else {
				reading.Value = val
			}
			readings = append(readings, reading)
		}
	}

	return readings
}

// blocks groups the supported definitions of `table`, in address order, into runs that can each be read with a
// single request. Unsupported definitions and those beyond the 16-bit address space are left out.
func blocks(table registers.Table) []block {
	sorted := make(registers.Table, 0, len(table))
	for _, def := range table {
		if def.Supported() && def.Address >= 0 && def.Address+def.DataType.Words() <= 1<<16 {
			sorted = append(sorted, def)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	var result []block
	for _, def := range sorted {
		end := def.Address + def.DataType.Words()
		if len(result) > 0 {
			last := &result[len(result)-1]
			lastEnd := int(last.start) + int(last.count)
			if def.Address <= lastEnd && end-int(last.start) <= maxBlockWords {
				if end > lastEnd {
					last.count = uint16(end - int(last.start))
				}
				last.defs = append(last.defs, def)
				continue
			}
		}
		result = append(result, block{
			start: uint16(def.Address),
			count: uint16(def.DataType.Words()),
			defs:  []registers.Definition{def},
		})
	}
	return result
}
