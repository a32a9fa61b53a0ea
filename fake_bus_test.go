package widowx

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

var errNoReply = errors.New("no reply")

// fakeBus is an in-memory servo line. Writes move the servo straight to its
// goal, so reads after a move see the commanded counts.
type fakeBus struct {
	mu sync.Mutex

	positions map[int]int
	voltages  []int // consumed one per read, the last one sticks
	silent    map[int]bool

	// readFailures[id] reads of id fail before one succeeds.
	readFailures map[int]int
	readCalls    map[int]int

	packets [][]byte
	writes  []fakeWrite
	torque  map[int]bool
	closed  bool

	// ids whose torque-off write fails
	torqueOffFails map[int]bool
}

type fakeWrite struct {
	ID       int
	Position int
}

func newFakeBus(positions Pose) *fakeBus {
	b := &fakeBus{
		positions:      make(map[int]int),
		silent:         make(map[int]bool),
		readFailures:   make(map[int]int),
		readCalls:      make(map[int]int),
		torque:         make(map[int]bool),
		torqueOffFails: make(map[int]bool),
		voltages:       []int{120},
	}
	for idx, position := range positions {
		b.positions[idx+1] = position
	}
	return b
}

func (b *fakeBus) Ping(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.silent[id] {
		return errNoReply
	}
	return nil
}

func (b *fakeBus) ReadPosition(id int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readCalls[id]++
	if b.readFailures[id] > 0 {
		b.readFailures[id]--
		return 0, errNoReply
	}
	return b.positions[id], nil
}

func (b *fakeBus) WritePosition(id, position int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, fakeWrite{ID: id, Position: position})
	b.positions[id] = position
	return nil
}

func (b *fakeBus) SetTorque(id int, enable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !enable && b.torqueOffFails[id] {
		return errNoReply
	}
	b.torque[id] = enable
	return nil
}

func (b *fakeBus) ReadVoltage(id int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.voltages) == 0 {
		return 0, errNoReply
	}
	v := b.voltages[0]
	if len(b.voltages) > 1 {
		b.voltages = b.voltages[1:]
	}
	return v, nil
}

func (b *fakeBus) WritePacket(packet []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = append(b.packets, append([]byte(nil), packet...))
	// sync write: FF FF FE LEN 83 REG 02 {id lo hi}... CHK
	if len(packet) > 7 && packet[4] == INST_SYNC_WRITE {
		slots := packet[7 : len(packet)-1]
		for i := 0; i+2 < len(slots); i += 3 {
			b.positions[int(slots[i])] = int(slots[i+1]) | int(slots[i+2])<<8
		}
	}
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) position(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[id]
}

func (b *fakeBus) packetCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// fakeClock advances only when the arm sleeps.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func testArmConfig() *Config {
	return &Config{
		Port:                "/dev/ttyUSB0",
		DefaultDurationMs:   100,
		VoltagePollInterval: time.Millisecond,
	}
}

func newTestArm(t *testing.T, bus *fakeBus) (*Arm, *fakeClock) {
	t.Helper()
	arm, err := NewArm(bus, testArmConfig(), logging.NewTestLogger(t))
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(0, 0)}
	arm.now = clock.now
	arm.sleep = clock.sleep
	return arm, clock
}
