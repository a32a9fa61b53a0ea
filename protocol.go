package widowx

import (
	"strings"

	"github.com/pkg/errors"
)

// Dynamixel protocol 1.0 constants for the AX/MX servos on the WidowX bus.
const (
	PKT_HEADER   = 0xFF
	BROADCAST_ID = 0xFE

	INST_PING       = 0x01
	INST_READ       = 0x02
	INST_WRITE      = 0x03
	INST_SYNC_WRITE = 0x83

	ADDR_TORQUE_ENABLE    = 0x18
	ADDR_GOAL_POSITION    = 0x1E
	ADDR_PRESENT_POSITION = 0x24
	ADDR_PRESENT_VOLTAGE  = 0x2A

	// header(2) + id + length + instruction/error + checksum
	packetOverhead = 6
)

var (
	ErrBadPacket = errors.New("malformed status packet")
	ErrChecksum  = errors.New("status packet checksum mismatch")
)

// ServoError is the error byte a servo reports in its status packet.
type ServoError byte

const (
	ServoErrInputVoltage ServoError = 1 << iota
	ServoErrAngleLimit
	ServoErrOverheating
	ServoErrRange
	ServoErrChecksum
	ServoErrOverload
	ServoErrInstruction
)

var servoErrorNames = []string{
	"input voltage",
	"angle limit",
	"overheating",
	"range",
	"checksum",
	"overload",
	"instruction",
}

func (e ServoError) Error() string {
	var names []string
	for i, name := range servoErrorNames {
		if e&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "servo error"
	}
	return "servo error: " + strings.Join(names, ", ")
}

// SyncTarget is one servo's slot in a sync write frame.
type SyncTarget struct {
	ID       int
	Position int
}

// StatusPacket is a decoded servo reply.
type StatusPacket struct {
	ID     byte
	Error  ServoError
	Params []byte
}

func checksum(body []byte) byte {
	sum := 0
	for _, b := range body {
		sum += int(b)
	}
	return byte(0xFF - sum%256)
}

// BuildPacket builds [0xFF, 0xFF, ID, LENGTH, INSTRUCTION, ...PARAMS, CHECKSUM].
func BuildPacket(id byte, instruction byte, params []byte) []byte {
	packet := make([]byte, 0, packetOverhead+len(params))
	packet = append(packet, PKT_HEADER, PKT_HEADER, id, byte(len(params)+2), instruction)
	packet = append(packet, params...)
	return append(packet, checksum(packet[2:]))
}

// BuildSyncWritePacket builds a broadcast sync write of 2-byte values starting
// at register, one slot per target in the given order.
func BuildSyncWritePacket(register byte, targets []SyncTarget) []byte {
	params := make([]byte, 0, 2+3*len(targets))
	params = append(params, register, 2)
	for _, t := range targets {
		params = append(params, byte(t.ID), byte(t.Position&0xFF), byte((t.Position>>8)&0xFF))
	}
	return BuildPacket(BROADCAST_ID, INST_SYNC_WRITE, params)
}

// findHeader returns the index of the first 0xFF 0xFF pair that is followed
// by a non-header byte, or -1.
func findHeader(raw []byte) int {
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == PKT_HEADER && raw[i+1] == PKT_HEADER && raw[i+2] != PKT_HEADER {
			return i
		}
	}
	return -1
}

// statusPacketEnd reports how many bytes of raw are needed to hold the first
// complete status packet, once the length byte has arrived.
func statusPacketEnd(raw []byte) (int, bool) {
	start := findHeader(raw)
	if start < 0 || start+3 >= len(raw) {
		return 0, false
	}
	return start + 4 + int(raw[start+3]), true
}

// ParseStatusPacket decodes the first status packet found in raw.
func ParseStatusPacket(raw []byte) (StatusPacket, error) {
	start := findHeader(raw)
	if start < 0 || start+3 >= len(raw) {
		return StatusPacket{}, errors.Wrapf(ErrBadPacket, "no header in % X", raw)
	}
	length := int(raw[start+3])
	if length < 2 {
		return StatusPacket{}, errors.Wrapf(ErrBadPacket, "length %d too short", length)
	}
	end := start + 4 + length
	if end > len(raw) {
		return StatusPacket{}, errors.Wrapf(ErrBadPacket, "truncated: need %d bytes, have %d", end, len(raw))
	}
	body := raw[start+2 : end-1]
	if want := checksum(body); raw[end-1] != want {
		return StatusPacket{}, errors.Wrapf(ErrChecksum, "got 0x%02X, want 0x%02X", raw[end-1], want)
	}
	params := make([]byte, length-2)
	copy(params, raw[start+5:end-1])
	return StatusPacket{
		ID:     raw[start+2],
		Error:  ServoError(raw[start+4]),
		Params: params,
	}, nil
}
