package widowx

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

const (
	readRetries = 9
	mmPerCm     = 10
)

// ServoChannel is the state the arm keeps for one joint.
type ServoChannel struct {
	ID int

	// Last read raw count and its angle.
	Position int
	Angle    float64

	// Last commanded raw count and its angle.
	DesiredPosition int
	DesiredAngle    float64

	commanded bool
}

// Arm drives a WidowX over a Bus. An Arm is not safe for concurrent use;
// every call blocks until its bus traffic and any motion have finished.
type Arm struct {
	bus    Bus
	logger logging.Logger
	solver Solver

	channels [NumJoints]ServoChannel
	relaxed  bool

	poses               map[string]Pose
	defaultDuration     time.Duration
	minVoltage          float64
	voltagePollInterval time.Duration
	tick                time.Duration
	debug               bool

	// Cartesian setpoint integrated by MovePointWithSpeed.
	setpoint      EndEffectorPoint
	setpointValid bool

	now   func() time.Time
	sleep func(time.Duration)

	release func() error
}

// NewArm wraps an open bus. The caller keeps ownership of bus.
func NewArm(bus Bus, cfg *Config, logger logging.Logger) (*Arm, error) {
	if bus == nil {
		return nil, ErrNotOpen
	}
	if err := cfg.Validate("widowx"); err != nil {
		return nil, err
	}

	a := &Arm{
		bus:                 bus,
		logger:              logger,
		solver:              NewSolver(DefaultGeometry, DefaultJointLimits),
		relaxed:             true, // servos power up with torque off
		poses:               make(map[string]Pose, len(builtinPoses)+len(cfg.Poses)),
		defaultDuration:     cfg.DefaultDuration(),
		minVoltage:          *cfg.MinVoltage,
		voltagePollInterval: cfg.VoltagePollInterval,
		tick:                defaultTick,
		debug:               cfg.Debug,
		now:                 time.Now,
		sleep:               time.Sleep,
	}
	for idx, id := range cfg.ServoIDs {
		a.channels[idx].ID = id
	}
	for name, pose := range builtinPoses {
		a.poses[name] = pose
	}
	for name, pose := range cfg.Poses {
		a.poses[name] = pose
	}
	return a, nil
}

// Start performs the power-on sequence: ping every servo, wait for a safe
// supply voltage, fold into the rest pose and optionally relax.
func (a *Arm) Start(ctx context.Context, relax bool) error {
	if err := a.Ping(); err != nil {
		a.logger.Warnf("Not every servo answered: %v", err)
	}
	if err := a.WaitForSafeVoltage(ctx); err != nil {
		return err
	}
	if err := a.MoveToPose(ctx, a.poses["rest"], a.defaultDuration); err != nil {
		return errors.Wrap(err, "failed to move to rest pose")
	}
	if relax {
		return a.Relax()
	}
	return nil
}

// Close releases the bus when the arm was opened through a registry.
func (a *Arm) Close() error {
	if a.release == nil {
		return nil
	}
	release := a.release
	a.release = nil
	return release()
}

// Ping pings every channel and reports the ones that stay silent.
func (a *Arm) Ping() error {
	var err error
	for idx := range a.channels {
		id := a.channels[idx].ID
		if pingErr := a.bus.Ping(id); pingErr != nil {
			err = multierr.Append(err, errors.Wrapf(pingErr, "servo %d", id))
			continue
		}
		a.logger.Debugf("Servo %d responded to ping", id)
	}
	return err
}

// ChannelID returns the bus id of channel idx, or -1 for an unknown channel.
func (a *Arm) ChannelID(idx int) int {
	if !validChannel(idx) {
		return -1
	}
	return a.channels[idx].ID
}

// SetChannelID remaps channel idx to bus id. Unknown channels are ignored.
func (a *Arm) SetChannelID(idx, id int) {
	if !validChannel(idx) {
		return
	}
	a.channels[idx].ID = id
}

// Channel returns a copy of channel idx's state.
func (a *Arm) Channel(idx int) (ServoChannel, bool) {
	if !validChannel(idx) {
		return ServoChannel{}, false
	}
	return a.channels[idx], true
}

// ReadPosition refreshes channel idx from the bus. A failed read is retried
// up to nine times with a growing delay; if every attempt fails the last
// good count is kept so motion code never sees a bogus position.
func (a *Arm) ReadPosition(idx int) int {
	if !validChannel(idx) {
		return 0
	}
	ch := &a.channels[idx]

	position, err := a.bus.ReadPosition(ch.ID)
	for i := 1; err != nil && i <= readRetries; i++ {
		a.sleep(time.Duration(10*i) * time.Millisecond)
		position, err = a.bus.ReadPosition(ch.ID)
	}
	if err != nil {
		a.logger.Warnf("Failed to read servo %d after %d retries, keeping %d: %v", ch.ID, readRetries, ch.Position, err)
		position = ch.Position
	}

	ch.Position = position
	ch.Angle = PositionToAngle(idx, position)
	return position
}

// ReadAllPositions refreshes every channel.
func (a *Arm) ReadAllPositions() [NumJoints]int {
	return a.readPositions(NumJoints)
}

func (a *Arm) readPositions(count int) [NumJoints]int {
	for idx := 0; idx < count; idx++ {
		a.ReadPosition(idx)
	}
	return a.Positions()
}

// Positions returns the cached raw counts without touching the bus.
func (a *Arm) Positions() [NumJoints]int {
	var positions [NumJoints]int
	for idx, ch := range a.channels {
		positions[idx] = ch.Position
	}
	return positions
}

// Angles returns the cached joint angles without touching the bus.
func (a *Arm) Angles() JointAngles {
	var q JointAngles
	for idx, ch := range a.channels {
		q[idx] = ch.Angle
	}
	return q
}

// DesiredAngles returns the last commanded joint angles.
func (a *Arm) DesiredAngles() JointAngles {
	var q JointAngles
	for idx, ch := range a.channels {
		q[idx] = ch.DesiredAngle
	}
	return q
}

// CurrentPoint reads the first four joints and returns the gripper centre.
func (a *Arm) CurrentPoint() EndEffectorPoint {
	a.readPositions(4)
	return a.solver.Geometry.Forward(a.Angles())
}

// EndPose reads every joint and returns the gripper pose in millimetres.
func (a *Arm) EndPose() (spatialmath.Pose, error) {
	a.ReadAllPositions()
	q := a.Angles()
	ee := a.solver.Geometry.Forward(q)

	rot := a.solver.Geometry.ForwardRotation(q)
	orientation, err := spatialmath.NewRotationMatrix(mat.DenseCopyOf(rot).RawMatrix().Data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gripper rotation")
	}
	return spatialmath.NewPose(ee.Point.Mul(mmPerCm), orientation), nil
}

// IsRelaxed reports whether torque is off.
func (a *Arm) IsRelaxed() bool {
	return a.relaxed
}

// Relax turns torque off on every servo. The arm will fall under its own
// weight, so callers should park it first. Even a partly failed relax
// leaves the arm marked relaxed, so the next motion re-engages every servo.
func (a *Arm) Relax() error {
	err := a.setTorque(false)
	a.relaxed = true
	for idx := range a.channels {
		a.channels[idx].commanded = false
	}
	a.setpointValid = false
	return err
}

// Engage turns torque on without moving.
func (a *Arm) Engage() error {
	err := a.setTorque(true)
	if err == nil {
		a.relaxed = false
	}
	return err
}

func (a *Arm) setTorque(enable bool) error {
	var err error
	for _, ch := range a.channels {
		if torqueErr := a.bus.SetTorque(ch.ID, enable); torqueErr != nil {
			err = multierr.Append(err, errors.Wrapf(torqueErr, "failed to set torque for servo %d", ch.ID))
		}
		a.sleep(10 * time.Millisecond)
	}
	return err
}

func (a *Arm) ensureEngaged() error {
	if !a.relaxed {
		return nil
	}
	a.logger.Debug("Re-engaging torque before motion")
	return a.Engage()
}

// Voltage reads the supply voltage through channel 0's servo.
func (a *Arm) Voltage() (float64, error) {
	decivolts, err := a.bus.ReadVoltage(a.channels[0].ID)
	if err != nil {
		return 0, err
	}
	return float64(decivolts) / 10, nil
}

// WaitForSafeVoltage blocks while the supply is at or below the configured
// minimum, polling at the configured interval. Only ctx ends the wait early.
// A minimum of 0 disables the check.
func (a *Arm) WaitForSafeVoltage(ctx context.Context) error {
	if a.minVoltage <= 0 {
		a.logger.Debug("Voltage gate disabled")
		return nil
	}
	for {
		voltage, err := a.Voltage()
		switch {
		case err != nil:
			a.logger.Warnf("Failed to read supply voltage: %v", err)
		case voltage <= a.minVoltage:
			a.logger.Warnf("Supply voltage %.1fV at or below %.1fV, please charge battery", voltage, a.minVoltage)
		default:
			a.logger.Infof("Supply voltage %.1fV nominal", voltage)
			return nil
		}

		if !utils.SelectContextOrWait(ctx, a.voltagePollInterval) {
			return ctx.Err()
		}
	}
}

// syncWrite commands channels[i] to positions[i] in one broadcast frame.
func (a *Arm) syncWrite(channels, positions []int) error {
	targets := make([]SyncTarget, len(channels))
	for i, idx := range channels {
		targets[i] = SyncTarget{ID: a.channels[idx].ID, Position: positions[i]}
	}
	packet := BuildSyncWritePacket(ADDR_GOAL_POSITION, targets)
	if a.debug {
		a.logger.Debugf("sync write %v", targets)
	}
	if err := a.bus.WritePacket(packet); err != nil {
		return errors.Wrap(err, "sync write failed")
	}
	return nil
}

func (a *Arm) setDesired(idx, position int) {
	ch := &a.channels[idx]
	ch.DesiredPosition = position
	ch.DesiredAngle = PositionToAngle(idx, position)
	ch.commanded = true
}

func pointToCm(p r3.Vector) r3.Vector {
	return p.Mul(1.0 / mmPerCm)
}
