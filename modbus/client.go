package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/virtualmeter/registers"
	"github.com/simonvetter/modbus"
)

// Client provides an interface onto a Modbus TCP device, such as a running simulator.
// It hides the underlying open source modbus library and decodes registers with the simulator's codec.
type Client struct {
	host   string
	unitID uint8
	codec  registers.Codec

	subClient       *modbus.ModbusClient // the raw client of the underlying modbus library we are using
	shouldReconnect bool                 // when true, the subClient is 'dirty' and will be re-created next time a read or write call is made
	logger          *slog.Logger
}

func NewClient(host string, unitID uint8, codec registers.Codec) *Client {
	return &Client{
		host:            host,
		unitID:          unitID,
		codec:           codec,
		shouldReconnect: true,
		logger:          slog.Default().With("host", host, "unit_id", unitID),
	}
}

// createSubClient creates the open-source modbus library client with sensible defaults and connects to the host.
func (c *Client) createSubClient() error {
	subClient, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", c.host),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}

	err = subClient.Open()
	if err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}

	err = subClient.SetUnitId(c.unitID)
	if err != nil {
		subClient.Close()
		return fmt.Errorf("set unit id: %w", err)
	}

	c.subClient = subClient

	return nil
}

// setShouldReconnect is called when there has been an error with the modbus connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary will close the old connection and reconnect if there have been problems with the connection.
func (c *Client) reconnectIfNeccesary() error {
	if !c.shouldReconnect {
		return nil
	}

	// Ignore errors from Close() as we will continue with the reconnect anyway and start a new connection.
	if c.subClient != nil {
		c.subClient.Close()
	}

	err := c.createSubClient()
	if err != nil {
		return err
	}

	c.shouldReconnect = false

	c.logger.Debug("Connected modbus client")

	return nil
}

func (c *Client) Close() error {
	if c.subClient == nil {
		return nil
	}
	c.shouldReconnect = true
	return c.subClient.Close()
}
