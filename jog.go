package widowx

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Workspace box for Cartesian jogging, in cm and radians.
const (
	jogXYLimit    = 43.0
	jogZMin       = -26.0
	jogZMax       = 52.0
	jogGammaLimit = 91 * math.Pi / 180
)

// Fixed-step jog increments and bounds, in raw counts.
const (
	wristPitchStep = 50
	wristPitchLow  = 1020
	wristPitchHigh = 3080
	wristRollStep  = 10
	gripStep       = 10
	gripOpen       = 512
	gripOpenBand   = 10
)

// jogBase is the count a jog increments from: the last commanded setpoint,
// or a fresh read when nothing has been commanded since power-up or relax.
func (a *Arm) jogBase(idx int) int {
	if ch := a.channels[idx]; ch.commanded {
		return ch.DesiredPosition
	}
	return a.ReadPosition(idx)
}

// MoveServoWithSpeed advances channel idx by countsPerSec over elapsed and
// commands the result directly, clamped to the servo's travel.
func (a *Arm) MoveServoWithSpeed(idx int, countsPerSec float64, elapsed time.Duration) error {
	if !validChannel(idx) {
		return nil
	}
	a.setpointValid = false

	base := a.jogBase(idx)
	target := int(math.Round(float64(base) + countsPerSec*elapsed.Seconds()))
	return a.writeChannel(idx, clampInt(target, 0, channelSpecs[idx].Family.MaxPosition()))
}

// MovePointWithSpeed advances the Cartesian setpoint by velocity (cm/s) and
// the pitch by gammaRate (rad/s) over elapsed, clamps them to the jog
// workspace and commands the first four joints directly. When the new
// setpoint has no solution the arm holds and the setpoint is kept.
func (a *Arm) MovePointWithSpeed(velocity r3.Vector, gammaRate float64, elapsed time.Duration) error {
	if !a.setpointValid {
		a.setpoint = a.CurrentPoint()
		a.setpointValid = true
	}

	dt := elapsed.Seconds()
	next := EndEffectorPoint{
		Point: r3.Vector{
			X: clamp(a.setpoint.Point.X+velocity.X*dt, -jogXYLimit, jogXYLimit),
			Y: clamp(a.setpoint.Point.Y+velocity.Y*dt, -jogXYLimit, jogXYLimit),
			Z: clamp(a.setpoint.Point.Z+velocity.Z*dt, jogZMin, jogZMax),
		},
		Gamma: clamp(a.setpoint.Gamma+gammaRate*dt, -jogGammaLimit, jogGammaLimit),
	}

	if err := a.ensureEngaged(); err != nil {
		return err
	}
	// the nearest-branch choice needs the elbow as it is now
	a.ReadPosition(2)
	q, err := a.solver.SolveGammaNearest(next.Point, next.Gamma, a.Angles())
	if err != nil {
		a.logger.Debugf("Jog target (%.2f, %.2f, %.2f) unreachable: %v", next.Point.X, next.Point.Y, next.Point.Z, err)
		return err
	}

	channels := []int{0, 1, 2, 3}
	goal := make([]int, len(channels))
	for i, idx := range channels {
		goal[i] = AngleToPosition(idx, q[idx])
	}
	if err := a.syncWrite(channels, goal); err != nil {
		return err
	}
	a.commitAngles(channels, goal, q)
	a.setpoint = next
	return nil
}

// MoveWrist steps the wrist pitch by 50 counts, counter-clockwise when ccw
// is set, staying inside 1020-3080.
func (a *Arm) MoveWrist(ccw bool) error {
	position := a.jogBase(3)
	if ccw {
		if position < wristPitchHigh {
			position += wristPitchStep
		}
	} else if position > wristPitchLow {
		position -= wristPitchStep
	}
	return a.jogChannel(3, position)
}

// TurnWrist steps the wrist roll by 10 counts, counter-clockwise when ccw is
// set.
func (a *Arm) TurnWrist(ccw bool) error {
	position := a.jogBase(4)
	if ccw {
		position += wristRollStep
	} else {
		position -= wristRollStep
	}
	return a.jogChannel(4, clampInt(position, 0, FamilyAX.MaxPosition()))
}

// MoveGrip closes the gripper by 10 counts, or steps it back toward the
// fully open count when closing is false.
func (a *Arm) MoveGrip(closing bool) error {
	position := a.jogBase(5)
	switch {
	case closing:
		position = clampInt(position-gripStep, 0, FamilyAX.MaxPosition())
	case position > gripOpen+gripOpenBand:
		position -= gripStep
	case position < gripOpen-gripOpenBand:
		position += gripStep
	default:
		position = gripOpen
	}
	return a.jogChannel(5, position)
}

func (a *Arm) jogChannel(idx, position int) error {
	a.setpointValid = false
	if err := a.writeChannel(idx, position); err != nil {
		return errors.Wrap(err, "jog failed")
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
