package widowx

import (
	"fmt"
	"sort"
)

// Pose is a raw goal count for every channel, base first.
type Pose [NumJoints]int

var (
	// Rest folds the arm back over its base.
	Rest = Pose{2048, 1025, 3071, 2560, 512, 512}
	// Home is the bioloid controller's ready stance.
	Home = Pose{2048, 1571, 2880, 1925, 512, 512}
	// Center puts every joint at 0 rad, an upside-down L.
	Center = Pose{2048, 2048, 2048, 2048, 512, 512}
)

var builtinPoses = map[string]Pose{
	"rest":   Rest,
	"home":   Home,
	"center": Center,
}

// Validate checks every count against its channel's travel.
func (p Pose) Validate() error {
	for idx, position := range p {
		limit := channelSpecs[idx].Family.MaxPosition()
		if position < 0 || position > limit {
			return fmt.Errorf("channel %d position %d out of range 0-%d", idx, position, limit)
		}
	}
	return nil
}

// Angles converts the pose to joint angles.
func (p Pose) Angles() JointAngles {
	var q JointAngles
	for idx, position := range p {
		q[idx] = PositionToAngle(idx, position)
	}
	return q
}

// PoseByName looks up a built-in pose.
func PoseByName(name string) (Pose, bool) {
	pose, ok := builtinPoses[name]
	return pose, ok
}

// PoseNames lists the built-in poses and any in overrides, sorted.
func PoseNames(overrides map[string]Pose) []string {
	names := make([]string, 0, len(builtinPoses)+len(overrides))
	for name := range builtinPoses {
		names = append(names, name)
	}
	for name := range overrides {
		if _, ok := builtinPoses[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
