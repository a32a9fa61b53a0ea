package widowx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionToAngle(t *testing.T) {
	tests := []struct {
		name     string
		idx      int
		position int
		expected float64
	}{
		{"base centre", 0, 2048, math.Pi / 4095},
		{"base zero count", 0, 0, -math.Pi},
		{"base full count", 0, 4095, math.Pi},
		{"shoulder is mirrored", 1, 0, math.Pi},
		{"wrist roll centre", 4, 512, 150 * math.Pi / 180 / 1023},
		{"gripper full count", 5, 1023, 150 * math.Pi / 180},
		{"unknown channel", 6, 1000, 0},
		{"negative channel", -1, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, PositionToAngle(tt.idx, tt.position), 1e-9)
		})
	}
}

func TestAngleToPositionRoundTrip(t *testing.T) {
	for idx := 0; idx < NumJoints; idx++ {
		spec, ok := ChannelSpecFor(idx)
		assert.True(t, ok)

		step := spec.Family.radiansPerCount()
		for position := 0; position <= spec.Family.MaxPosition(); position += 37 {
			angle := PositionToAngle(idx, position)
			assert.Equal(t, position, AngleToPosition(idx, angle), "channel %d position %d", idx, position)
		}
		for _, angle := range []float64{-1.2, -0.3, 0, 0.45, 1.1} {
			back := PositionToAngle(idx, AngleToPosition(idx, angle))
			assert.InDelta(t, angle, back, step/2+1e-12, "channel %d angle %.2f", idx, angle)
		}
	}

	assert.Equal(t, 0, AngleToPosition(NumJoints, 1))
}

func TestDenormalizeDoesNotClamp(t *testing.T) {
	assert.Greater(t, AngleToPosition(0, 4), FamilyMX.MaxPosition())
	assert.Less(t, AngleToPosition(4, -3), 0)
}

func TestServoFamily(t *testing.T) {
	assert.Equal(t, "MX", FamilyMX.String())
	assert.Equal(t, "AX", FamilyAX.String())
	assert.Equal(t, 4095, FamilyMX.MaxPosition())
	assert.Equal(t, 1023, FamilyAX.MaxPosition())

	spec, ok := ChannelSpecFor(1)
	assert.True(t, ok)
	assert.True(t, spec.Inverted)
	_, ok = ChannelSpecFor(NumJoints)
	assert.False(t, ok)
}
