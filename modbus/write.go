package modbus

import (
	"fmt"

	"github.com/cepro/virtualmeter/registers"
)

// WriteWords writes the given words to consecutive holding registers starting at `address`.
func (c *Client) WriteWords(address uint16, words []uint16) error {

	err := c.reconnectIfNeccesary()
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	err = c.subClient.WriteRegisters(address, words)
	if err != nil {
		c.setShouldReconnect()
		return fmt.Errorf("write register %d: %w", address, err)
	}

	return nil
}

// WriteValue encodes `val` as the given data type and writes it to the register at `address`.
func (c *Client) WriteValue(address uint16, dataType registers.DataType, val interface{}) error {
	words, err := c.codec.Encode(val, dataType)
	if err != nil {
		return fmt.Errorf("encode register %d: %w", address, err)
	}
	return c.WriteWords(address, words)
}
