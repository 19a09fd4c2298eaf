package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// trajectoryCapacity bounds the retained Ψ points.
const trajectoryCapacity = 50

// recurrenceRadius is the Ψ-space distance under which two points count as a
// recurrence.
const recurrenceRadius = 0.2

// Integrity labels derived from the recurrence structure.
const (
	IntegrityFragmented = "fragmented"
	IntegrityLiving     = "living"
	IntegrityRigid      = "rigid"
)

// Trajectory is the bounded Ψ-space path of the dialogue. Single writer.
type Trajectory struct {
	points []Psi
	speeds []float64
}

// Append adds one Ψ point and updates the derived series. Points beyond the
// capacity fall off the front; the speed series keeps pace.
func (t *Trajectory) Append(p Psi) {
	if n := len(t.points); n > 0 {
		t.speeds = append(t.speeds, psiDistance(t.points[n-1], p))
	}
	t.points = append(t.points, p)

	if len(t.points) > trajectoryCapacity {
		t.points = t.points[len(t.points)-trajectoryCapacity:]
	}
	if len(t.speeds) > trajectoryCapacity-1 {
		t.speeds = t.speeds[len(t.speeds)-(trajectoryCapacity-1):]
	}
}

// Len returns the number of retained points.
func (t *Trajectory) Len() int { return len(t.points) }

// Speed returns the norm of the latest first difference, or 0.
func (t *Trajectory) Speed() float64 {
	if len(t.speeds) == 0 {
		return 0
	}
	return t.speeds[len(t.speeds)-1]
}

// Acceleration returns the norm of the latest second difference, or 0.
func (t *Trajectory) Acceleration() float64 {
	n := len(t.points)
	if n < 3 {
		return 0
	}
	a, b, c := t.points[n-3], t.points[n-2], t.points[n-1]
	dx := c.Semantic - 2*b.Semantic + a.Semantic
	dy := c.Temporal - 2*b.Temporal + a.Temporal
	dz := c.Affective - 2*b.Affective + a.Affective
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Curvature returns the local curvature κ = ‖a⊥‖/‖v‖² at the latest point,
// or 0 when the trajectory is too short or stationary.
func (t *Trajectory) Curvature() float64 {
	n := len(t.points)
	if n < 3 {
		return 0
	}
	p0, p1, p2 := t.points[n-3], t.points[n-2], t.points[n-1]
	v := [3]float64{p2.Semantic - p1.Semantic, p2.Temporal - p1.Temporal, p2.Affective - p1.Affective}
	vPrev := [3]float64{p1.Semantic - p0.Semantic, p1.Temporal - p0.Temporal, p1.Affective - p0.Affective}
	a := [3]float64{v[0] - vPrev[0], v[1] - vPrev[1], v[2] - vPrev[2]}

	vnorm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if vnorm < 1e-10 {
		return 0
	}
	proj := (a[0]*v[0] + a[1]*v[1] + a[2]*v[2]) / (vnorm * vnorm)
	var perpSq float64
	for i := range a {
		p := a[i] - proj*v[i]
		perpSq += p * p
	}
	return math.Sqrt(perpSq) / (vnorm * vnorm)
}

// PathLength is the total distance travelled through Ψ space.
func (t *Trajectory) PathLength() float64 {
	var sum float64
	for _, s := range t.speeds {
		sum += s
	}
	return sum
}

// Displacement is the straight-line distance from first to last point.
func (t *Trajectory) Displacement() float64 {
	if len(t.points) < 2 {
		return 0
	}
	return psiDistance(t.points[0], t.points[len(t.points)-1])
}

// Tortuosity is path length over displacement; a wandering dialogue scores
// high, a directed one near 1.
func (t *Trajectory) Tortuosity() float64 {
	d := t.Displacement()
	if d < 1e-10 {
		return 0
	}
	return t.PathLength() / d
}

// RecurrenceRate is the fraction of point pairs closer than the recurrence
// radius. Near 0 the dialogue never revisits a state; near 1 it never leaves
// one.
func (t *Trajectory) RecurrenceRate() float64 {
	n := len(t.points)
	if n < 2 {
		return 0
	}
	var close, total int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total++
			if psiDistance(t.points[i], t.points[j]) < recurrenceRadius {
				close++
			}
		}
	}
	return float64(close) / float64(total)
}

// SpeedAutocorrelation is the lag-1 autocorrelation of the speed series, or
// 0 when undefined.
func (t *Trajectory) SpeedAutocorrelation() float64 {
	return lag1Autocorrelation(t.speeds)
}

// IntegrityState is the recurrence-based health reading of the dialogue.
type IntegrityState struct {
	RecurrenceRate  float64 `json:"recurrence_rate"`
	Autocorrelation float64 `json:"autocorrelation"`
	Score           float64 `json:"integrity_score"`
	Label           string  `json:"integrity_label"`
}

// Integrity scores the trajectory's recurrence structure: a living dialogue
// revisits states without getting stuck in them.
func (t *Trajectory) Integrity() IntegrityState {
	rr := t.RecurrenceRate()
	s := IntegrityState{
		RecurrenceRate:  rr,
		Autocorrelation: t.SpeedAutocorrelation(),
		Score:           1 - 2*math.Abs(rr-0.5),
	}
	switch {
	case rr < 0.25:
		s.Label = IntegrityFragmented
	case rr > 0.75:
		s.Label = IntegrityRigid
	default:
		s.Label = IntegrityLiving
	}
	return s
}

func psiDistance(a, b Psi) float64 {
	dx := a.Semantic - b.Semantic
	dy := a.Temporal - b.Temporal
	dz := a.Affective - b.Affective
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// lag1Autocorrelation returns the lag-1 autocorrelation of xs, 0 when the
// series is too short or has no variance, and never NaN.
func lag1Autocorrelation(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	var num, den float64
	for i, x := range xs {
		d := x - mean
		den += d * d
		if i > 0 {
			num += d * (xs[i-1] - mean)
		}
	}
	if den < 1e-12 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
