package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/virtualmeter/store"
	"github.com/simonvetter/modbus"
)

// TCPServer serves the simulated devices over Modbus TCP, with each device answering to its own unit id.
type TCPServer struct {
	url     string
	units   *units
	timeout time.Duration
	server  *modbus.ModbusServer
	logger  *slog.Logger
}

func NewTCP(host string, port int, devices []Device) (*TCPServer, error) {
	u, err := newUnits(devices)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("tcp://%s:%d", host, port)
	return &TCPServer{
		url:     url,
		units:   u,
		timeout: 30 * time.Second,
		logger:  slog.Default().With("url", url),
	}, nil
}

// Start begins listening; requests are served on the library's own goroutines until Stop is called.
func (s *TCPServer) Start() error {
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        s.url,
		Timeout:    s.timeout,
		MaxClients: 10,
	}, &tcpHandler{units: s.units})
	if err != nil {
		return fmt.Errorf("create modbus server: %w", err)
	}

	err = server.Start()
	if err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	s.server = server

	s.logger.Info("Modbus TCP server listening", "units", s.units.stats("tcp").Units)
	return nil
}

func (s *TCPServer) Stop() error {
	if s.server == nil {
		return nil
	}
	err := s.server.Stop()
	s.server = nil
	if err != nil {
		return fmt.Errorf("stop modbus server: %w", err)
	}
	s.logger.Info("Modbus TCP server stopped")
	return nil
}

func (s *TCPServer) Stats() Stats {
	return s.units.stats("tcp")
}

// tcpHandler implements modbus.RequestHandler on top of the device word blocks.
type tcpHandler struct {
	units *units
}

func (h *tcpHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}
	bits, err := h.units.readBits(req.UnitId, int(req.Addr), int(req.Quantity))
	return bits, tcpException(err)
}

func (h *tcpHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	bits, err := h.units.readBits(req.UnitId, int(req.Addr), int(req.Quantity))
	return bits, tcpException(err)
}

func (h *tcpHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		err := h.units.write(req.UnitId, int(req.Addr), req.Args)
		if err != nil {
			return nil, tcpException(err)
		}
		return req.Args, nil
	}
	words, err := h.units.read(req.UnitId, int(req.Addr), int(req.Quantity))
	return words, tcpException(err)
}

func (h *tcpHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	words, err := h.units.read(req.UnitId, int(req.Addr), int(req.Quantity))
	return words, tcpException(err)
}

// tcpException maps device errors onto the Modbus exception the library will send back.
func tcpException(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownUnit):
		return modbus.ErrGWTargetFailedToRespond
	case errors.Is(err, store.ErrAddressRange):
		return modbus.ErrIllegalDataAddress
	default:
		return modbus.ErrServerDeviceFailure
	}
}
