package widowx

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultTick = 10 * time.Millisecond
	settleDelay = 3 * time.Millisecond
)

// Cubic is p(t) = W0 + W1·t + W2·t² + W3·t³ with t in milliseconds.
type Cubic struct {
	W0, W1, W2, W3 float64
}

// PlanCubic fits a cubic from p0 to p1 over durationMs milliseconds with
// zero velocity at both ends.
func PlanCubic(p0, p1, durationMs float64) Cubic {
	t := durationMs
	t2, t3 := t*t, t*t*t
	mInv := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 0, 1, 0,
		-3 / t2, 3 / t2, -2 / t, -1 / t,
		2 / t3, -2 / t3, 1 / t2, 1 / t2,
	})

	var w mat.VecDense
	w.MulVec(mInv, mat.NewVecDense(4, []float64{p0, p1, 0, 0}))
	return Cubic{W0: w.AtVec(0), W1: w.AtVec(1), W2: w.AtVec(2), W3: w.AtVec(3)}
}

func (c Cubic) At(t float64) float64 {
	return c.W0 + c.W1*t + c.W2*t*t + c.W3*t*t*t
}

func (c Cubic) Velocity(t float64) float64 {
	return c.W1 + 2*c.W2*t + 3*c.W3*t*t
}

// Trajectory moves a set of channels from their start to their goal counts.
type Trajectory struct {
	Channels []int
	Goals    []int
	Segments []Cubic
	Duration time.Duration
}

// PlanTrajectory builds one cubic per channel.
func PlanTrajectory(channels, start, goal []int, duration time.Duration) (Trajectory, error) {
	if len(start) != len(channels) || len(goal) != len(channels) {
		return Trajectory{}, errors.Errorf("expected %d start and goal positions, got %d and %d", len(channels), len(start), len(goal))
	}
	if duration <= 0 {
		return Trajectory{}, errors.Errorf("trajectory duration must be positive, got %v", duration)
	}

	ms := float64(duration) / float64(time.Millisecond)
	segments := make([]Cubic, len(channels))
	for i := range channels {
		segments[i] = PlanCubic(float64(start[i]), float64(goal[i]), ms)
	}
	return Trajectory{
		Channels: append([]int(nil), channels...),
		Goals:    append([]int(nil), goal...),
		Segments: segments,
		Duration: duration,
	}, nil
}

// Sample evaluates every segment at elapsed, rounded to counts.
func (t Trajectory) Sample(elapsed time.Duration) []int {
	ms := float64(elapsed) / float64(time.Millisecond)
	positions := make([]int, len(t.Segments))
	for i, seg := range t.Segments {
		positions[i] = int(math.Round(seg.At(ms)))
	}
	return positions
}
