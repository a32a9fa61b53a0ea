package widowx

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var ikFixtures = []JointAngles{
	{0, 0, 0, 0},
	{0.3, 0.2, 0.5, -0.4},
	{-1, -0.3, 1.2, 0.3},
	{0.5, 0.4, -0.6, 0.2},
	{2.0, 0.1, 0.9, 0.5},
}

func assertSameAngles(t *testing.T, expected, actual JointAngles, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		assert.InDelta(t, expected[i], actual[i], 1e-6, "joint %d", i)
	}
}

func assertReaches(t *testing.T, s Solver, q JointAngles, want EndEffectorPoint) {
	t.Helper()
	got := s.Geometry.Forward(q)
	assert.InDelta(t, want.Point.X, got.Point.X, 1e-6)
	assert.InDelta(t, want.Point.Y, got.Point.Y, 1e-6)
	assert.InDelta(t, want.Point.Z, got.Point.Z, 1e-6)
	assert.InDelta(t, want.Gamma, got.Gamma, 1e-6)
}

func assertWithinLimits(t *testing.T, limits JointLimits, q JointAngles) {
	t.Helper()
	assert.True(t, limits.Shoulder.Contains(q[1]), "shoulder %.4f", q[1])
	assert.True(t, limits.Elbow.Contains(q[2]), "elbow %.4f", q[2])
	assert.True(t, limits.WristPitch.Contains(q[3]), "wrist pitch %.4f", q[3])
}

func TestSolveQ4Fixed(t *testing.T) {
	s := NewSolver(DefaultGeometry, DefaultJointLimits)

	t.Run("point above the base", func(t *testing.T) {
		q, err := s.SolveQ4Fixed(r3.Vector{X: 10, Y: 0, Z: 30}, JointAngles{})
		require.NoError(t, err)
		assert.InDelta(t, 0, q[0], 1e-12)
		assert.InDelta(t, 1.5012189, q[1], 1e-6)
		assert.InDelta(t, -0.9342236, q[2], 1e-6)
		assert.Equal(t, 0.0, q[3])

		ee := s.Geometry.Forward(q)
		assert.InDelta(t, 10, ee.Point.X, 1e-6)
		assert.InDelta(t, 30, ee.Point.Z, 1e-6)
	})

	t.Run("keeps wrist pitch, roll and grip", func(t *testing.T) {
		for _, want := range []JointAngles{ikFixtures[1], ikFixtures[3], ikFixtures[4]} {
			current := want
			current[4], current[5] = 0.7, -0.2
			q, err := s.SolveQ4Fixed(s.Geometry.Forward(want).Point, current)
			require.NoError(t, err)
			assertSameAngles(t, want, q, 4)
			assert.Equal(t, 0.7, q[4])
			assert.Equal(t, -0.2, q[5])
		}
	})

	t.Run("out of reach", func(t *testing.T) {
		q, err := s.SolveQ4Fixed(r3.Vector{X: 1000}, JointAngles{})
		assert.True(t, errors.Is(err, ErrUnreachable))
		assert.Equal(t, JointAngles{}, q)
	})
}

func TestSolveGamma(t *testing.T) {
	s := NewSolver(DefaultGeometry, DefaultJointLimits)

	t.Run("default branch order", func(t *testing.T) {
		for _, want := range ikFixtures {
			ee := s.Geometry.Forward(want)
			q, err := s.SolveGamma(ee.Point, ee.Gamma, JointAngles{})
			require.NoError(t, err)
			assertReaches(t, s, q, ee)
			assertWithinLimits(t, s.Limits, q)
		}

		ee := s.Geometry.Forward(ikFixtures[3])
		q, err := s.SolveGamma(ee.Point, ee.Gamma, JointAngles{})
		require.NoError(t, err)
		assertSameAngles(t, ikFixtures[3], q, 4)
	})

	t.Run("nearest branch recovers the current configuration", func(t *testing.T) {
		for _, want := range ikFixtures {
			ee := s.Geometry.Forward(want)
			q, err := s.SolveGammaNearest(ee.Point, ee.Gamma, want)
			require.NoError(t, err)
			assertSameAngles(t, want, q, 4)
		}
	})

	t.Run("zero pose flips to the other branch by default", func(t *testing.T) {
		ee := s.Geometry.Forward(JointAngles{})
		q, err := s.SolveGamma(ee.Point, ee.Gamma, JointAngles{})
		require.NoError(t, err)
		assert.InDelta(t, 2.4555448, q[2], 1e-6)
	})

	t.Run("out of reach", func(t *testing.T) {
		for _, variant := range []IKVariant{VariantGamma, VariantGammaNearest} {
			q, err := s.Solve(variant, Target{Point: r3.Vector{X: 1000}}, JointAngles{})
			assert.True(t, errors.Is(err, ErrUnreachable), variant.String())
			assert.Equal(t, JointAngles{}, q)
		}
	})

	t.Run("beyond full stretch", func(t *testing.T) {
		reach := s.Geometry.MaxReach() + 0.5
		_, err := s.SolveGamma(r3.Vector{X: reach, Z: s.Geometry.L0}, 0, JointAngles{})
		assert.True(t, errors.Is(err, ErrUnreachable))
	})

	t.Run("solutions respect joint limits", func(t *testing.T) {
		for x := -30.0; x <= 30; x += 7.5 {
			for z := -10.0; z <= 45; z += 5 {
				for _, gamma := range []float64{-0.8, 0, 0.6, math.Pi / 2} {
					p := r3.Vector{X: x, Y: 4, Z: z}
					q, err := s.SolveGamma(p, gamma, JointAngles{})
					if err != nil {
						assert.True(t, errors.Is(err, ErrUnreachable))
						continue
					}
					assertWithinLimits(t, s.Limits, q)
					assertReaches(t, s, q, EndEffectorPoint{Point: p, Gamma: gamma})
				}
			}
		}
	})
}

func TestEveryVariantRespectsLimits(t *testing.T) {
	s := NewSolver(DefaultGeometry, DefaultJointLimits)
	const roll = 0.3

	type attempt struct {
		target  Target
		current JointAngles
		want    EndEffectorPoint
		// rotation variants also fix the wrist roll
		roll bool
	}

	tests := []struct {
		variant  IKVariant
		attempts func(p r3.Vector, gamma float64) []attempt
	}{
		{VariantQ4Fixed, func(p r3.Vector, gamma float64) []attempt {
			// gamma doubles as the held wrist pitch; only the point is checked
			return []attempt{{target: Target{Point: p}, current: JointAngles{3: gamma}}}
		}},
		{VariantGammaNearest, func(p r3.Vector, gamma float64) []attempt {
			want := EndEffectorPoint{Point: p, Gamma: gamma}
			return []attempt{
				{target: Target{Point: p, Gamma: gamma}, current: JointAngles{2: 0.8}, want: want},
				{target: Target{Point: p, Gamma: gamma}, current: JointAngles{2: -0.8}, want: want},
			}
		}},
		{VariantRd, func(p r3.Vector, gamma float64) []attempt {
			var rd mat.Dense
			rd.Mul(rotY(gamma), rotX(roll))
			return []attempt{{target: Target{Point: p, Rotation: &rd}, want: EndEffectorPoint{Point: p, Gamma: gamma}, roll: true}}
		}},
		{VariantRdBase, func(p r3.Vector, gamma float64) []attempt {
			var pitched, rd mat.Dense
			pitched.Mul(rotY(gamma), rotX(roll))
			rd.Mul(rotZ(math.Atan2(p.Y, p.X)), &pitched)
			return []attempt{{target: Target{Point: p, Rotation: &rd}, want: EndEffectorPoint{Point: p, Gamma: gamma}, roll: true}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.variant.String(), func(t *testing.T) {
			solved := 0
			for x := -30.0; x <= 30; x += 7.5 {
				for z := -10.0; z <= 45; z += 5 {
					for _, gamma := range []float64{-0.8, -0.5, 0, 0.4, 0.6, math.Pi / 2} {
						p := r3.Vector{X: x, Y: 4, Z: z}
						for _, try := range tt.attempts(p, gamma) {
							q, err := s.Solve(tt.variant, try.target, try.current)
							if err != nil {
								assert.True(t, errors.Is(err, ErrUnreachable), "%v: %v", p, err)
								continue
							}
							solved++
							assertWithinLimits(t, s.Limits, q)

							if tt.variant == VariantQ4Fixed {
								assert.Equal(t, try.current[3], q[3])
								got := s.Geometry.Forward(q).Point
								assert.InDelta(t, p.X, got.X, 1e-6)
								assert.InDelta(t, p.Y, got.Y, 1e-6)
								assert.InDelta(t, p.Z, got.Z, 1e-6)
								continue
							}
							assertReaches(t, s, q, try.want)
							if try.roll {
								assert.InDelta(t, roll, q[4], 1e-9)
							}
						}
					}
				}
			}
			assert.Positive(t, solved)

			reach := s.Geometry.MaxReach() + 0.5
			beyond := r3.Vector{X: reach, Z: s.Geometry.L0}
			for _, try := range tt.attempts(beyond, 0) {
				_, err := s.Solve(tt.variant, try.target, try.current)
				assert.True(t, errors.Is(err, ErrUnreachable))
			}
		})
	}
}

func TestSelectBranch(t *testing.T) {
	t.Run("falls back to the alternate", func(t *testing.T) {
		var tried []float64
		sol, err := selectBranch([2]float64{1, 2}, func(q3 float64) (planarSolution, ikStage, bool) {
			tried = append(tried, q3)
			if q3 == 1 {
				return planarSolution{}, stageWristPitch, false
			}
			return planarSolution{q3: q3}, 0, true
		})
		require.NoError(t, err)
		assert.Equal(t, 2.0, sol.q3)
		assert.Equal(t, []float64{1, 2}, tried)
	})

	t.Run("reports the last rejecting stage", func(t *testing.T) {
		_, err := selectBranch([2]float64{1, 2}, func(q3 float64) (planarSolution, ikStage, bool) {
			if q3 == 1 {
				return planarSolution{}, stageElbow, false
			}
			return planarSolution{}, stageShoulder, false
		})
		assert.True(t, errors.Is(err, ErrUnreachable))
		assert.Contains(t, err.Error(), "shoulder")
	})
}

func TestSolveRd(t *testing.T) {
	s := NewSolver(DefaultGeometry, DefaultJointLimits)

	t.Run("base-yaw frame", func(t *testing.T) {
		want := ikFixtures[1]
		want[4] = 0.35
		ee := s.Geometry.Forward(want)

		var rd mat.Dense
		rd.Mul(rotY(ee.Gamma), rotX(want[4]))

		q, err := s.SolveRd(ee.Point, &rd, JointAngles{5: 0.9})
		require.NoError(t, err)
		assertReaches(t, s, q, ee)
		assert.InDelta(t, 0.35, q[4], 1e-9)
		assert.Equal(t, 0.9, q[5])
	})

	t.Run("base frame", func(t *testing.T) {
		want := ikFixtures[3]
		want[4] = -1.1
		ee := s.Geometry.Forward(want)

		q, err := s.Solve(VariantRdBase, Target{Point: ee.Point, Rotation: s.Geometry.ForwardRotation(want)}, JointAngles{})
		require.NoError(t, err)
		assertSameAngles(t, want, q, 5)
	})

	t.Run("bad rotation", func(t *testing.T) {
		_, err := s.SolveRd(r3.Vector{X: 20, Z: 20}, nil, JointAngles{})
		assert.Error(t, err)
		_, err = s.SolveRdBase(r3.Vector{X: 20, Z: 20}, mat.NewDense(2, 2, nil), JointAngles{})
		assert.Error(t, err)
	})

	t.Run("out of reach", func(t *testing.T) {
		for _, variant := range []IKVariant{VariantRd, VariantRdBase} {
			_, err := s.Solve(variant, Target{Point: r3.Vector{X: 1000}, Rotation: eye3()}, JointAngles{})
			assert.True(t, errors.Is(err, ErrUnreachable), variant.String())
		}
	})
}

func TestIKVariant(t *testing.T) {
	assert.Equal(t, 3, VariantQ4Fixed.ActiveJoints())
	assert.Equal(t, 4, VariantGamma.ActiveJoints())
	assert.Equal(t, 4, VariantGammaNearest.ActiveJoints())
	assert.Equal(t, 5, VariantRd.ActiveJoints())
	assert.Equal(t, 5, VariantRdBase.ActiveJoints())

	_, err := NewSolver(DefaultGeometry, DefaultJointLimits).Solve(IKVariant(42), Target{}, JointAngles{})
	assert.Error(t, err)
}
