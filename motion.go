package widowx

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

const stepDelay = 3 * time.Millisecond

// MoveOptions tunes a Cartesian move. The zero value interpolates over the
// configured default duration.
type MoveOptions struct {
	// Duration bounds the whole command, including the time spent reading
	// the servos and solving.
	Duration time.Duration
	// Direct skips interpolation and sends the solution in a single frame,
	// for callers that stream setpoints at their own rate.
	Direct bool
}

// MoveToPose interpolates all six channels to pose over duration.
func (a *Arm) MoveToPose(ctx context.Context, pose Pose, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pose.Validate(); err != nil {
		return err
	}
	if duration <= 0 {
		duration = a.defaultDuration
	}
	if err := a.ensureEngaged(); err != nil {
		return err
	}
	a.setpointValid = false

	start := a.ReadAllPositions()
	channels := make([]int, NumJoints)
	for idx := range channels {
		channels[idx] = idx
	}
	traj, err := PlanTrajectory(channels, start[:], pose[:], duration)
	if err != nil {
		return err
	}
	if err := a.execute(traj); err != nil {
		return err
	}
	a.ReadAllPositions()
	return nil
}

// MoveToNamedPose looks name up among the built-in and configured poses.
func (a *Arm) MoveToNamedPose(ctx context.Context, name string, duration time.Duration) error {
	pose, ok := a.poses[name]
	if !ok {
		return errors.Errorf("unknown pose %q", name)
	}
	return a.MoveToPose(ctx, pose, duration)
}

// MoveToPoint moves the gripper centre to p (cm) keeping the wrist pitch
// servo where it is.
func (a *Arm) MoveToPoint(ctx context.Context, p r3.Vector, opts MoveOptions) error {
	return a.moveIK(ctx, VariantQ4Fixed, Target{Point: p}, opts)
}

// MoveToPointGamma moves the gripper centre to p (cm) pitched gamma below
// horizontal. Direct moves prefer the elbow branch the arm is already in.
func (a *Arm) MoveToPointGamma(ctx context.Context, p r3.Vector, gamma float64, opts MoveOptions) error {
	variant := VariantGamma
	if opts.Direct {
		variant = VariantGammaNearest
	}
	return a.moveIK(ctx, variant, Target{Point: p, Gamma: gamma}, opts)
}

// MoveToPointRotation moves to p with orientation rd given in the
// base-yaw frame; the wrist roll is solved too.
func (a *Arm) MoveToPointRotation(ctx context.Context, p r3.Vector, rd mat.Matrix, opts MoveOptions) error {
	return a.moveIK(ctx, VariantRd, Target{Point: p, Rotation: rd}, opts)
}

// MoveToPointBaseRotation moves to p with orientation rdBase given in the
// base frame.
func (a *Arm) MoveToPointBaseRotation(ctx context.Context, p r3.Vector, rdBase mat.Matrix, opts MoveOptions) error {
	return a.moveIK(ctx, VariantRdBase, Target{Point: p, Rotation: rdBase}, opts)
}

// MoveToSpatialPose moves the gripper to pose, whose point is in millimetres.
func (a *Arm) MoveToSpatialPose(ctx context.Context, pose spatialmath.Pose, opts MoveOptions) error {
	rm := pose.Orientation().RotationMatrix()
	rd := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rd.Set(r, c, rm.At(r, c))
		}
	}
	return a.MoveToPointBaseRotation(ctx, pointToCm(pose.Point()), rd, opts)
}

func (a *Arm) moveIK(ctx context.Context, variant IKVariant, target Target, opts MoveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = a.defaultDuration
	}

	started := a.now()
	if err := a.ensureEngaged(); err != nil {
		return err
	}
	a.ReadAllPositions()

	q, err := a.solver.Solve(variant, target, a.Angles())
	if err != nil {
		a.logger.Warnf("No %s IK solution for (%.2f, %.2f, %.2f): %v",
			variant, target.Point.X, target.Point.Y, target.Point.Z, err)
		return err
	}
	a.setpointValid = false

	active := variant.ActiveJoints()
	channels := make([]int, active)
	start := make([]int, active)
	goal := make([]int, active)
	for idx := 0; idx < active; idx++ {
		channels[idx] = idx
		start[idx] = a.channels[idx].Position
		goal[idx] = AngleToPosition(idx, q[idx])
	}

	remaining := duration - a.now().Sub(started)
	if opts.Direct || remaining <= 0 {
		if err := a.syncWrite(channels, goal); err != nil {
			return err
		}
		a.commitAngles(channels, goal, q)
		return nil
	}

	traj, err := PlanTrajectory(channels, start, goal, remaining)
	if err != nil {
		return err
	}
	if err := a.execute(traj); err != nil {
		return err
	}
	a.commitAngles(channels, goal, q)
	return nil
}

// commitAngles records a solved configuration as the commanded one.
func (a *Arm) commitAngles(channels, goal []int, q JointAngles) {
	for i, idx := range channels {
		a.setDesired(idx, goal[i])
		a.channels[idx].DesiredAngle = q[idx]
	}
}

// execute runs traj to completion: one sync frame per tick, then the exact
// goals and a short settle delay.
func (a *Arm) execute(traj Trajectory) error {
	start := a.now()
	for elapsed := time.Duration(0); elapsed < traj.Duration; elapsed = a.now().Sub(start) {
		if err := a.syncWrite(traj.Channels, traj.Sample(elapsed)); err != nil {
			return err
		}
		a.sleep(a.tick)
	}

	if err := a.syncWrite(traj.Channels, traj.Goals); err != nil {
		return err
	}
	for i, idx := range traj.Channels {
		a.setDesired(idx, traj.Goals[i])
	}
	a.sleep(settleDelay)
	return nil
}

// MoveServoToPosition walks channel idx to position one count at a time.
// The position is not range checked.
func (a *Arm) MoveServoToPosition(idx, position int) error {
	if !validChannel(idx) {
		return nil
	}
	if err := a.ensureEngaged(); err != nil {
		return err
	}
	a.setpointValid = false

	current := a.ReadPosition(idx)
	step := 1
	if current > position {
		step = -1
	}
	for current != position {
		current += step
		if err := a.bus.WritePosition(a.channels[idx].ID, current); err != nil {
			return errors.Wrapf(err, "failed to step servo %d", a.channels[idx].ID)
		}
		a.setDesired(idx, current)
		a.sleep(stepDelay)
	}
	return nil
}

// MoveServoToAngle walks channel idx to angle one count at a time.
func (a *Arm) MoveServoToAngle(idx int, angle float64) error {
	if !validChannel(idx) {
		return nil
	}
	return a.MoveServoToPosition(idx, AngleToPosition(idx, angle))
}

// SetServoPosition commands channel idx straight to position.
func (a *Arm) SetServoPosition(idx, position int) error {
	if !validChannel(idx) {
		return nil
	}
	a.setpointValid = false
	return a.writeChannel(idx, position)
}

// SetServoAngle commands channel idx straight to angle.
func (a *Arm) SetServoAngle(idx int, angle float64) error {
	if !validChannel(idx) {
		return nil
	}
	return a.SetServoPosition(idx, AngleToPosition(idx, angle))
}

func (a *Arm) writeChannel(idx, position int) error {
	if err := a.ensureEngaged(); err != nil {
		return err
	}
	if err := a.bus.WritePosition(a.channels[idx].ID, position); err != nil {
		return errors.Wrapf(err, "failed to command servo %d", a.channels[idx].ID)
	}
	a.setDesired(idx, position)
	return nil
}
