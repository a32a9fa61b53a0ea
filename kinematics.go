package widowx

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Geometry is the fixed link layout of the arm, in centimetres. The shoulder
// link L1 and its forward offset L2 fold into one effective link of length D
// at phase Alpha.
type Geometry struct {
	L0, L1, L2, L3, L4 float64

	D     float64
	Alpha float64

	sinAlpha, cosAlpha float64
}

// NewGeometry derives D and Alpha from the link lengths.
func NewGeometry(l0, l1, l2, l3, l4 float64) Geometry {
	alpha := math.Atan2(l1, l2)
	return Geometry{
		L0: l0, L1: l1, L2: l2, L3: l3, L4: l4,
		D:        math.Hypot(l1, l2),
		Alpha:    alpha,
		sinAlpha: math.Sin(alpha),
		cosAlpha: math.Cos(alpha),
	}
}

// DefaultGeometry is the WidowX: base height 9, shoulder 14 with a 5 offset,
// forearm 14, wrist to gripper centre 14.
var DefaultGeometry = NewGeometry(9, 14, 5, 14, 14)

// MaxReach is the distance from the shoulder at which the chain is fully
// stretched.
func (g Geometry) MaxReach() float64 {
	return g.D + g.L3 + g.L4
}

// Interval is a closed angular range in radians.
type Interval struct {
	Min, Max float64
}

func (i Interval) Contains(v float64) bool {
	return v >= i.Min && v <= i.Max
}

// JointLimits bounds the joints the solvers choose. Base, wrist roll and
// gripper are only bounded by servo travel.
type JointLimits struct {
	Shoulder   Interval
	Elbow      Interval
	WristPitch Interval
}

// limPi2 is a hair over π/2 so the exact right angle passes.
const limPi2 = 181 * math.Pi / 360

var DefaultJointLimits = JointLimits{
	Shoulder:   Interval{-limPi2, limPi2},
	Elbow:      Interval{-limPi2, 5 * math.Pi / 6},
	WristPitch: Interval{-11 * math.Pi / 18, limPi2},
}

// JointAngles holds q1..q6 in radians.
type JointAngles [NumJoints]float64

// EndEffectorPoint is the gripper centre and its pitch below horizontal.
type EndEffectorPoint struct {
	Point r3.Vector
	Gamma float64
}

// Forward computes the gripper centre from q1..q4.
func (g Geometry) Forward(q JointAngles) EndEffectorPoint {
	q1, q2, q3, q4 := q[0], q[1], q[2], q[3]

	reach := g.D*math.Cos(g.Alpha+q2) + g.L3*math.Cos(q2+q3) + g.L4*math.Cos(q2+q3+q4)
	height := g.D*math.Sin(g.Alpha+q2) + g.L3*math.Sin(q2+q3) + g.L4*math.Sin(q2+q3+q4)

	return EndEffectorPoint{
		Point: r3.Vector{
			X: math.Cos(q1) * reach,
			Y: math.Sin(q1) * reach,
			Z: g.L0 + height,
		},
		Gamma: -q2 - q3 - q4,
	}
}

// ForwardRotation is the gripper orientation in the base frame,
// Rz(q1)·Ry(gamma)·Rx(q5).
func (g Geometry) ForwardRotation(q JointAngles) *mat.Dense {
	gamma := -q[1] - q[2] - q[3]
	var r, out mat.Dense
	r.Mul(rotZ(q[0]), rotY(gamma))
	out.Mul(&r, rotX(q[4]))
	return &out
}

func rotZ(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotX(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// normalizeAngle wraps a into (-π, π].
func normalizeAngle(a float64) float64 {
	return math.Atan2(math.Sin(a), math.Cos(a))
}
