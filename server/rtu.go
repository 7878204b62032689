package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/virtualmeter/store"
	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
)

// Modbus request quantity limits.
const (
	maxReadRegisters  = 125
	maxReadBits       = 2000
	maxWriteRegisters = 123
)

// RTUConfig describes the serial line; the frame format is always 8N1.
type RTUConfig struct {
	Port     string
	BaudRate int
}

// RTUServer serves the simulated devices over Modbus RTU, with each device answering to its own slave id.
type RTUServer struct {
	cfg    RTUConfig
	units  *units
	server *mbserver.Server
	logger *slog.Logger
}

func NewRTU(cfg RTUConfig, devices []Device) (*RTUServer, error) {
	if cfg.Port == "" {
		return nil, errors.New("modbus RTU requires a serial port")
	}

	u, err := newUnits(devices)
	if err != nil {
		return nil, err
	}

	return &RTUServer{
		cfg:    cfg,
		units:  u,
		logger: slog.Default().With("serial_port", cfg.Port),
	}, nil
}

func (s *RTUServer) Start() error {
	server := mbserver.NewServer()
	s.registerHandlers(server)

	err := server.ListenRTU(&serial.Config{
		Address:  s.cfg.Port,
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
	if err != nil {
		server.Close()
		return fmt.Errorf("open serial port: %w", err)
	}
	s.server = server

	s.logger.Info("Modbus RTU server listening", "baud_rate", s.cfg.BaudRate, "units", s.units.stats("rtu").Units)
	return nil
}

func (s *RTUServer) Stop() error {
	if s.server == nil {
		return nil
	}
	s.server.Close()
	s.server = nil
	s.logger.Info("Modbus RTU server stopped")
	return nil
}

func (s *RTUServer) Stats() Stats {
	return s.units.stats("rtu")
}

// registerHandlers replaces the library's handlers, which serve its own register arrays, with ones backed by the
// device blocks. Coil writes are left unregistered and so answered with an illegal function exception.
func (s *RTUServer) registerHandlers(server *mbserver.Server) {
	server.RegisterFunctionHandler(modbus.FuncCodeReadCoils, s.readBits)
	server.RegisterFunctionHandler(modbus.FuncCodeReadDiscreteInputs, s.readBits)
	server.RegisterFunctionHandler(modbus.FuncCodeReadHoldingRegisters, s.readRegisters)
	server.RegisterFunctionHandler(modbus.FuncCodeReadInputRegisters, s.readRegisters)
	server.RegisterFunctionHandler(modbus.FuncCodeWriteSingleRegister, s.writeSingleRegister)
	server.RegisterFunctionHandler(modbus.FuncCodeWriteMultipleRegisters, s.writeMultipleRegisters)
	server.RegisterFunctionHandler(modbus.FuncCodeWriteSingleCoil, nil)
	server.RegisterFunctionHandler(modbus.FuncCodeWriteMultipleCoils, nil)
}

func (s *RTUServer) readRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	unitID, register, numRegs, ok := parseRequest(frame)
	if !ok || numRegs < 1 || numRegs > maxReadRegisters {
		return []byte{}, &mbserver.IllegalDataValue
	}

	words, err := s.units.read(unitID, register, numRegs)
	if err != nil {
		return []byte{}, rtuException(err)
	}
	return append([]byte{byte(numRegs * 2)}, mbserver.Uint16ToBytes(words)...), &mbserver.Success
}

func (s *RTUServer) readBits(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	unitID, register, numBits, ok := parseRequest(frame)
	if !ok || numBits < 1 || numBits > maxReadBits {
		return []byte{}, &mbserver.IllegalDataValue
	}

	bits, err := s.units.readBits(unitID, register, numBits)
	if err != nil {
		return []byte{}, rtuException(err)
	}

	packed := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

func (s *RTUServer) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	unitID, register, value, ok := parseRequest(frame)
	if !ok {
		return []byte{}, &mbserver.IllegalDataValue
	}

	err := s.units.write(unitID, register, []uint16{uint16(value)})
	if err != nil {
		return []byte{}, rtuException(err)
	}
	return frame.GetData()[0:4], &mbserver.Success
}

func (s *RTUServer) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	unitID, register, numRegs, ok := parseRequest(frame)
	if !ok || numRegs < 1 || numRegs > maxWriteRegisters {
		return []byte{}, &mbserver.IllegalDataValue
	}

	data := frame.GetData()
	if len(data) < 5 || int(data[4]) != numRegs*2 || len(data) < 5+numRegs*2 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	words := mbserver.BytesToUint16(data[5 : 5+numRegs*2])
	err := s.units.write(unitID, register, words)
	if err != nil {
		return []byte{}, rtuException(err)
	}
	return data[0:4], &mbserver.Success
}

// parseRequest extracts the unit id and the two big endian words (address, then quantity or value) that begin
// every request handled here.
func parseRequest(frame mbserver.Framer) (unitID uint8, register int, second int, ok bool) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, 0, false
	}

	switch f := frame.(type) {
	case *mbserver.RTUFrame:
		unitID = f.Address
	case *mbserver.TCPFrame:
		unitID = f.Device
	default:
		return 0, 0, 0, false
	}

	register = int(binary.BigEndian.Uint16(data[0:2]))
	second = int(binary.BigEndian.Uint16(data[2:4]))
	return unitID, register, second, true
}

func rtuException(err error) *mbserver.Exception {
	switch {
	case errors.Is(err, ErrUnknownUnit):
		return &mbserver.GatewayTargetDeviceFailedtoRespond
	case errors.Is(err, store.ErrAddressRange):
		return &mbserver.IllegalDataAddress
	default:
		return &mbserver.SlaveDeviceFailure
	}
}
