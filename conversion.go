package widowx

import (
	"math"
)

// NumJoints is the number of servo channels: base, shoulder, elbow,
// wrist pitch, wrist roll, gripper.
const NumJoints = 6

// ServoFamily identifies a servo's position encoding.
type ServoFamily int

const (
	// FamilyMX covers the MX-28/MX-64: 4096 counts over 360°.
	FamilyMX ServoFamily = iota
	// FamilyAX covers the AX-12: 1024 counts over 300°.
	FamilyAX
)

func (f ServoFamily) String() string {
	switch f {
	case FamilyMX:
		return "MX"
	case FamilyAX:
		return "AX"
	default:
		return "unknown"
	}
}

// MaxPosition is the largest raw count the family accepts.
func (f ServoFamily) MaxPosition() int {
	if f == FamilyAX {
		return 1023
	}
	return 4095
}

// radiansPerCount spreads the family's travel over MaxPosition steps.
func (f ServoFamily) radiansPerCount() float64 {
	if f == FamilyAX {
		return 300 * math.Pi / 180 / 1023
	}
	return 2 * math.Pi / 4095
}

func (f ServoFamily) center() float64 {
	return float64(f.MaxPosition()) / 2
}

// ChannelSpec describes how one channel maps counts to joint angle.
type ChannelSpec struct {
	Family ServoFamily
	// Inverted is set for a servo mounted mirrored, so positive counts
	// turn the joint the other way.
	Inverted bool
}

// channelSpecs is the WidowX wiring. The shoulder is the mirrored MX-64.
var channelSpecs = [NumJoints]ChannelSpec{
	{Family: FamilyMX},
	{Family: FamilyMX, Inverted: true},
	{Family: FamilyMX},
	{Family: FamilyMX},
	{Family: FamilyAX},
	{Family: FamilyAX},
}

// ChannelSpecFor returns the spec of channel idx.
func ChannelSpecFor(idx int) (ChannelSpec, bool) {
	if !validChannel(idx) {
		return ChannelSpec{}, false
	}
	return channelSpecs[idx], true
}

// Normalize converts a raw count to radians.
func (c ChannelSpec) Normalize(position int) float64 {
	angle := c.Family.radiansPerCount() * (float64(position) - c.Family.center())
	if c.Inverted {
		angle = -angle
	}
	return angle
}

// Denormalize converts radians to the nearest raw count. It does not clamp.
func (c ChannelSpec) Denormalize(angle float64) int {
	if c.Inverted {
		angle = -angle
	}
	return int(math.Round(angle/c.Family.radiansPerCount() + c.Family.center()))
}

// PositionToAngle converts a raw count on channel idx to radians. Unknown
// channels convert to 0.
func PositionToAngle(idx, position int) float64 {
	spec, ok := ChannelSpecFor(idx)
	if !ok {
		return 0
	}
	return spec.Normalize(position)
}

// AngleToPosition converts radians to a raw count on channel idx. Range
// checks are the caller's job.
func AngleToPosition(idx int, angle float64) int {
	spec, ok := ChannelSpecFor(idx)
	if !ok {
		return 0
	}
	return spec.Denormalize(angle)
}

func validChannel(idx int) bool {
	return idx >= 0 && idx < NumJoints
}
