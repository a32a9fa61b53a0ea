package widowx

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrUnreachable is returned when no joint configuration within limits puts
// the gripper at the requested target.
var ErrUnreachable = errors.New("no inverse kinematics solution")

// IKVariant selects which constraints the solver holds fixed.
type IKVariant int

const (
	// VariantQ4Fixed keeps the wrist pitch at its current angle.
	VariantQ4Fixed IKVariant = iota
	// VariantGamma fixes the gripper pitch, trying the elbow branches in a
	// fixed order.
	VariantGamma
	// VariantGammaNearest fixes the gripper pitch and prefers the elbow
	// branch closest to the current elbow angle.
	VariantGammaNearest
	// VariantRd takes a rotation relative to the base-yaw frame and also
	// solves the wrist roll.
	VariantRd
	// VariantRdBase takes a rotation relative to the base frame.
	VariantRdBase
)

func (v IKVariant) String() string {
	switch v {
	case VariantQ4Fixed:
		return "q4-fixed"
	case VariantGamma:
		return "gamma"
	case VariantGammaNearest:
		return "gamma-nearest"
	case VariantRd:
		return "rd"
	case VariantRdBase:
		return "rd-base"
	default:
		return "unknown"
	}
}

// ActiveJoints is the number of leading channels a solution of this variant
// commands.
func (v IKVariant) ActiveJoints() int {
	switch v {
	case VariantQ4Fixed:
		return 3
	case VariantRd, VariantRdBase:
		return 5
	default:
		return 4
	}
}

// Target is a Cartesian goal. Gamma is read by the gamma variants and
// Rotation by the rotation variants.
type Target struct {
	Point    r3.Vector
	Gamma    float64
	Rotation mat.Matrix
}

// Solver solves the arm's inverse kinematics in closed form.
type Solver struct {
	Geometry Geometry
	Limits   JointLimits
}

func NewSolver(geometry Geometry, limits JointLimits) Solver {
	return Solver{Geometry: geometry, Limits: limits}
}

// Solve returns the joint angles reaching t. Joints the variant does not
// solve are copied from current. On failure the returned angles are zero and
// the error wraps ErrUnreachable.
func (s Solver) Solve(variant IKVariant, t Target, current JointAngles) (JointAngles, error) {
	switch variant {
	case VariantQ4Fixed:
		return s.SolveQ4Fixed(t.Point, current)
	case VariantGamma:
		return s.SolveGamma(t.Point, t.Gamma, current)
	case VariantGammaNearest:
		return s.SolveGammaNearest(t.Point, t.Gamma, current)
	case VariantRd:
		return s.SolveRd(t.Point, t.Rotation, current)
	case VariantRdBase:
		return s.SolveRdBase(t.Point, t.Rotation, current)
	default:
		return JointAngles{}, errors.Errorf("unknown ik variant %d", variant)
	}
}

type ikStage int

const (
	stageElbow ikStage = iota
	stageShoulder
	stageWristPitch
)

func (st ikStage) String() string {
	switch st {
	case stageElbow:
		return "elbow"
	case stageShoulder:
		return "shoulder"
	default:
		return "wrist pitch"
	}
}

type planarSolution struct {
	q2, q3, q4 float64
}

// candidateCheck validates one elbow angle, reporting the stage that
// rejected it.
type candidateCheck func(q3 float64) (planarSolution, ikStage, bool)

// selectBranch tries candidates[0], then switches to candidates[1] once when
// any stage rejects it. The alternate is validated from the elbow stage on.
func selectBranch(candidates [2]float64, check candidateCheck) (planarSolution, error) {
	branch := 0
	triedAlternate := false
	for {
		sol, stage, ok := check(candidates[branch])
		if ok {
			return sol, nil
		}
		if triedAlternate {
			return planarSolution{}, errors.Wrapf(ErrUnreachable, "%s limit rejects both elbow branches", stage)
		}
		branch, triedAlternate = 1, true
	}
}

// shoulderAngle solves X = A·c2 − B·s2, Z = A·s2 + B·c2 for q2.
func shoulderAngle(a, b, x, z float64) float64 {
	return math.Atan2(a*z-b*x, a*x+b*z)
}

func withPlanar(current JointAngles, q1 float64, sol planarSolution) JointAngles {
	q := current
	q[0], q[1], q[2], q[3] = q1, sol.q2, sol.q3, sol.q4
	return q
}

// SolveQ4Fixed reaches p holding the wrist pitch at current[3].
func (s Solver) SolveQ4Fixed(p r3.Vector, current JointAngles) (JointAngles, error) {
	g := s.Geometry
	x := math.Hypot(p.X, p.Y)
	z := p.Z - g.L0

	q4 := current[3]
	s4, c4 := math.Sincos(q4)

	// a·cos(q3) + b·sin(q3) = c
	a := g.L3*g.cosAlpha + g.L4*g.cosAlpha*c4 + g.L4*g.sinAlpha*s4
	b := g.L3*g.sinAlpha - g.L4*g.cosAlpha*s4 + g.L4*g.sinAlpha*c4
	c := (x*x + z*z - g.D*g.D - g.L3*g.L3 - g.L4*g.L4 - 2*g.L3*g.L4*c4) / (2 * g.D)

	cond := a*a + b*b - c*c
	if cond < 0 {
		return JointAngles{}, errors.Wrapf(ErrUnreachable, "point (%.2f, %.2f, %.2f) out of reach at wrist pitch %.3f", p.X, p.Y, p.Z, q4)
	}
	root := math.Sqrt(cond)
	candidates := [2]float64{
		normalizeAngle(2 * math.Atan2(b-root, a+c)),
		normalizeAngle(2 * math.Atan2(b+root, a+c)),
	}

	sol, err := selectBranch(candidates, func(q3 float64) (planarSolution, ikStage, bool) {
		if !s.Limits.Elbow.Contains(q3) {
			return planarSolution{}, stageElbow, false
		}
		s3, c3 := math.Sincos(q3)
		sa := g.D*g.cosAlpha + g.L3*c3 + g.L4*c3*c4 - g.L4*s3*s4
		sb := g.D*g.sinAlpha + g.L3*s3 + g.L4*s3*c4 + g.L4*c3*s4
		q2 := shoulderAngle(sa, sb, x, z)
		if !s.Limits.Shoulder.Contains(q2) {
			return planarSolution{}, stageShoulder, false
		}
		return planarSolution{q2: q2, q3: q3, q4: q4}, 0, true
	})
	if err != nil {
		return JointAngles{}, err
	}
	return withPlanar(current, math.Atan2(p.Y, p.X), sol), nil
}

// SolveGamma reaches p with the gripper pitched gamma below horizontal,
// trying the alpha+acos elbow branch first.
func (s Solver) SolveGamma(p r3.Vector, gamma float64, current JointAngles) (JointAngles, error) {
	return s.solveGamma(p, gamma, current, func(plus, minus float64) [2]float64 {
		return [2]float64{plus, minus}
	})
}

// SolveGammaNearest is SolveGamma but tries first the elbow branch closest
// to current[2], so continuous operator input does not flip the elbow.
func (s Solver) SolveGammaNearest(p r3.Vector, gamma float64, current JointAngles) (JointAngles, error) {
	prev := current[2]
	return s.solveGamma(p, gamma, current, func(plus, minus float64) [2]float64 {
		if math.Abs(normalizeAngle(plus-prev)) > math.Abs(normalizeAngle(minus-prev)) {
			return [2]float64{minus, plus}
		}
		return [2]float64{plus, minus}
	})
}

func (s Solver) solveGamma(
	p r3.Vector,
	gamma float64,
	current JointAngles,
	order func(plus, minus float64) [2]float64,
) (JointAngles, error) {
	g := s.Geometry
	sg, cg := math.Sincos(gamma)

	// wrist centre in the arm plane
	x := math.Hypot(p.X, p.Y) - g.L4*cg
	z := p.Z - g.L0 + g.L4*sg

	c := (x*x + z*z - g.D*g.D - g.L3*g.L3) / (2 * g.D * g.L3)
	if math.Abs(c) > 1 {
		return JointAngles{}, errors.Wrapf(ErrUnreachable, "point (%.2f, %.2f, %.2f) out of reach at pitch %.3f", p.X, p.Y, p.Z, gamma)
	}
	spread := math.Acos(c)
	candidates := order(normalizeAngle(g.Alpha+spread), normalizeAngle(g.Alpha-spread))

	sol, err := selectBranch(candidates, func(q3 float64) (planarSolution, ikStage, bool) {
		if !s.Limits.Elbow.Contains(q3) {
			return planarSolution{}, stageElbow, false
		}
		s3, c3 := math.Sincos(q3)
		q2 := shoulderAngle(g.D*g.cosAlpha+g.L3*c3, g.D*g.sinAlpha+g.L3*s3, x, z)
		if !s.Limits.Shoulder.Contains(q2) {
			return planarSolution{}, stageShoulder, false
		}
		q4 := -gamma - q2 - q3
		if !s.Limits.WristPitch.Contains(q4) {
			return planarSolution{}, stageWristPitch, false
		}
		return planarSolution{q2: q2, q3: q3, q4: q4}, 0, true
	})
	if err != nil {
		return JointAngles{}, err
	}
	return withPlanar(current, math.Atan2(p.Y, p.X), sol), nil
}

// SolveRd reaches p with gripper orientation rd expressed in the frame
// rotated by the base yaw. The pitch comes from rd and the wrist roll from
// what remains once that pitch is removed.
func (s Solver) SolveRd(p r3.Vector, rd mat.Matrix, current JointAngles) (JointAngles, error) {
	if err := checkRotation(rd); err != nil {
		return JointAngles{}, err
	}
	gamma := math.Atan2(-rd.At(2, 0), rd.At(0, 0))

	q, err := s.SolveGamma(p, gamma, current)
	if err != nil {
		return JointAngles{}, err
	}

	var roll mat.Dense
	roll.Mul(rotY(gamma).T(), rd)
	q[4] = math.Atan2(roll.At(2, 1), roll.At(1, 1))
	return q, nil
}

// SolveRdBase is SolveRd for an orientation expressed in the base frame.
func (s Solver) SolveRdBase(p r3.Vector, rdBase mat.Matrix, current JointAngles) (JointAngles, error) {
	if err := checkRotation(rdBase); err != nil {
		return JointAngles{}, err
	}
	var rd mat.Dense
	rd.Mul(rotZ(math.Atan2(p.Y, p.X)).T(), rdBase)
	return s.SolveRd(p, &rd, current)
}

func checkRotation(m mat.Matrix) error {
	if m == nil {
		return errors.New("rotation is required")
	}
	if r, c := m.Dims(); r != 3 || c != 3 {
		return errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	return nil
}
