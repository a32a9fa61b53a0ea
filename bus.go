package widowx

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

var (
	ErrNotOpen = errors.New("serial bus is not open")
	ErrTimeout = errors.New("timed out waiting for status packet")
)

// readPollInterval is the serial read timeout; the status deadline is
// enforced on top of it.
const readPollInterval = 5 * time.Millisecond

// Bus is the actuator line shared by all six servos of the arm.
type Bus interface {
	Ping(id int) error
	ReadPosition(id int) (int, error)
	WritePosition(id, position int) error
	SetTorque(id int, enable bool) error
	// ReadVoltage returns the supply voltage in decivolts.
	ReadVoltage(id int) (int, error)
	// WritePacket sends a prebuilt frame without waiting for a reply.
	WritePacket(packet []byte) error
	Close() error
}

// serialPort is the part of serial.Port the bus needs.
type serialPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// SerialBus talks Dynamixel protocol 1.0 over a serial port. Whole
// request/response transactions are serialized, so a read never interleaves
// with a frame still being written.
type SerialBus struct {
	mu       sync.Mutex
	port     serialPort
	portName string
	timeout  time.Duration
	debug    bool
	logger   logging.Logger
}

// NewSerialBus opens cfg.Port at cfg.Baudrate, 8N1.
func NewSerialBus(cfg *Config, logger logging.Logger) (*SerialBus, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", cfg.Port)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "failed to set read timeout on %s", cfg.Port)
	}

	logger.Infof("Opened WidowX bus on %s at %d baud", cfg.Port, cfg.Baudrate)
	return newSerialBus(port, cfg.Port, cfg.Timeout, cfg.Debug, logger), nil
}

func newSerialBus(port serialPort, portName string, timeout time.Duration, debug bool, logger logging.Logger) *SerialBus {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SerialBus{
		port:     port,
		portName: portName,
		timeout:  timeout,
		debug:    debug,
		logger:   logger,
	}
}

func openSerialBus(cfg *Config, logger logging.Logger) (Bus, error) {
	return NewSerialBus(cfg, logger)
}

// Close releases the serial port. Further calls fail with ErrNotOpen.
func (b *SerialBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}

func (b *SerialBus) Ping(id int) error {
	_, err := b.transfer(BuildPacket(byte(id), INST_PING, nil), true)
	return err
}

func (b *SerialBus) ReadPosition(id int) (int, error) {
	return b.readWord(id, ADDR_PRESENT_POSITION)
}

func (b *SerialBus) WritePosition(id, position int) error {
	params := []byte{ADDR_GOAL_POSITION, byte(position & 0xFF), byte((position >> 8) & 0xFF)}
	_, err := b.transfer(BuildPacket(byte(id), INST_WRITE, params), false)
	return err
}

func (b *SerialBus) SetTorque(id int, enable bool) error {
	value := byte(0)
	if enable {
		value = 1
	}
	_, err := b.transfer(BuildPacket(byte(id), INST_WRITE, []byte{ADDR_TORQUE_ENABLE, value}), false)
	return err
}

func (b *SerialBus) ReadVoltage(id int) (int, error) {
	status, err := b.transfer(BuildPacket(byte(id), INST_READ, []byte{ADDR_PRESENT_VOLTAGE, 1}), true)
	if err != nil {
		return 0, err
	}
	if len(status.Params) != 1 {
		return 0, errors.Wrapf(ErrBadPacket, "expected 1 byte of voltage from servo %d, got %d", id, len(status.Params))
	}
	return int(status.Params[0]), nil
}

func (b *SerialBus) WritePacket(packet []byte) error {
	_, err := b.transfer(packet, false)
	return err
}

func (b *SerialBus) readWord(id int, register byte) (int, error) {
	status, err := b.transfer(BuildPacket(byte(id), INST_READ, []byte{register, 2}), true)
	if err != nil {
		return 0, err
	}
	if len(status.Params) != 2 {
		return 0, errors.Wrapf(ErrBadPacket, "expected 2 bytes from servo %d register 0x%02X, got %d", id, register, len(status.Params))
	}
	// Little-endian decode (LSB first)
	return int(status.Params[0]) | int(status.Params[1])<<8, nil
}

// transfer writes packet and, when wantStatus is set, waits for the
// addressed servo's reply. The input voltage bit is left to the voltage gate.
func (b *SerialBus) transfer(packet []byte, wantStatus bool) (StatusPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		return StatusPacket{}, ErrNotOpen
	}
	if err := b.port.ResetInputBuffer(); err != nil {
		return StatusPacket{}, errors.Wrap(err, "failed to flush serial input")
	}
	if b.debug {
		b.logger.Debugf("tx %s: % X", b.portName, packet)
	}
	if _, err := b.port.Write(packet); err != nil {
		return StatusPacket{}, errors.Wrap(err, "failed to write to serial port")
	}
	if !wantStatus {
		return StatusPacket{}, nil
	}

	id := packet[2]
	status, err := b.readStatus()
	if err != nil {
		return StatusPacket{}, errors.Wrapf(err, "servo %d", id)
	}
	if status.ID != id {
		return StatusPacket{}, errors.Wrapf(ErrBadPacket, "reply from servo %d while waiting for %d", status.ID, id)
	}
	if servoErr := status.Error &^ ServoErrInputVoltage; servoErr != 0 {
		return StatusPacket{}, errors.Wrapf(servoErr, "servo %d", id)
	}
	return status, nil
}

func (b *SerialBus) readStatus() (StatusPacket, error) {
	deadline := time.Now().Add(b.timeout)
	raw := make([]byte, 0, 32)
	chunk := make([]byte, 32)
	for {
		n, err := b.port.Read(chunk)
		if err != nil {
			return StatusPacket{}, errors.Wrap(err, "failed to read response")
		}
		raw = append(raw, chunk[:n]...)

		if end, ok := statusPacketEnd(raw); ok && len(raw) >= end {
			if b.debug {
				b.logger.Debugf("rx %s: % X", b.portName, raw)
			}
			return ParseStatusPacket(raw)
		}
		if time.Now().After(deadline) {
			return StatusPacket{}, ErrTimeout
		}
	}
}
