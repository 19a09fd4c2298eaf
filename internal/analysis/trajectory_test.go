package analysis

import (
	"math"
	"testing"
)

func TestTrajectoryCapacity(t *testing.T) {
	t.Parallel()

	var traj Trajectory
	for i := 0; i < trajectoryCapacity+25; i++ {
		traj.Append(Psi{Semantic: float64(i) * 0.01})
	}
	if got := traj.Len(); got != trajectoryCapacity {
		t.Fatalf("retained %d points, want %d", got, trajectoryCapacity)
	}
}

func TestTrajectorySpeed(t *testing.T) {
	t.Parallel()

	var traj Trajectory
	if got := traj.Speed(); got != 0 {
		t.Errorf("empty trajectory speed %f", got)
	}

	traj.Append(Psi{})
	traj.Append(Psi{Semantic: 0.3, Temporal: 0.4})
	if got := traj.Speed(); !almostEqual(got, 0.5, 1e-12) {
		t.Errorf("speed %f, want 0.5", got)
	}
}

func TestTrajectoryStraightLine(t *testing.T) {
	t.Parallel()

	var traj Trajectory
	for i := 0; i < 10; i++ {
		traj.Append(Psi{Semantic: float64(i) * 0.1})
	}

	if got := traj.Curvature(); !almostEqual(got, 0, 1e-12) {
		t.Errorf("straight-line curvature %f", got)
	}
	if got := traj.Acceleration(); !almostEqual(got, 0, 1e-12) {
		t.Errorf("uniform-motion acceleration %f", got)
	}
	if got := traj.Tortuosity(); !almostEqual(got, 1, 1e-9) {
		t.Errorf("straight-line tortuosity %f, want 1", got)
	}
}

func TestTrajectoryBentPath(t *testing.T) {
	t.Parallel()

	var traj Trajectory
	traj.Append(Psi{})
	traj.Append(Psi{Semantic: 0.5})
	traj.Append(Psi{Semantic: 0.5, Temporal: 0.5})

	if got := traj.Curvature(); got <= 0 {
		t.Errorf("right-angle curvature %f", got)
	}
	if got := traj.Tortuosity(); got <= 1 {
		t.Errorf("bent-path tortuosity %f", got)
	}
}

func TestTrajectoryStationary(t *testing.T) {
	t.Parallel()

	var traj Trajectory
	for i := 0; i < 5; i++ {
		traj.Append(Psi{Semantic: 0.2})
	}
	if got := traj.Curvature(); got != 0 {
		t.Errorf("stationary curvature %f", got)
	}
	if got := traj.Tortuosity(); got != 0 {
		t.Errorf("zero-displacement tortuosity %f", got)
	}
}

func TestIntegrityLabels(t *testing.T) {
	t.Parallel()

	// Tight cluster: every pair recurs, the dialogue never leaves one state.
	var rigid Trajectory
	for i := 0; i < 8; i++ {
		rigid.Append(Psi{Semantic: 0.001 * float64(i)})
	}
	if got := rigid.Integrity(); got.Label != IntegrityRigid {
		t.Errorf("clustered trajectory = %+v", got)
	}

	// Widely spaced points: no pair recurs.
	var frag Trajectory
	for i := 0; i < 8; i++ {
		frag.Append(Psi{Semantic: float64(i)})
	}
	if got := frag.Integrity(); got.Label != IntegrityFragmented {
		t.Errorf("scattered trajectory = %+v", got)
	}
	if got := frag.Integrity(); !almostEqual(got.Score, 1-2*math.Abs(got.RecurrenceRate-0.5), 1e-12) {
		t.Errorf("score formula broken: %+v", got)
	}
}

func TestIntegrityLiving(t *testing.T) {
	t.Parallel()

	// Half the pairs close, half far: the balanced middle regime.
	var traj Trajectory
	points := []Psi{
		{Semantic: 0}, {Semantic: 0.05}, {Semantic: 0.1},
		{Semantic: 2.0}, {Semantic: 2.05}, {Semantic: 2.1},
	}
	for _, p := range points {
		traj.Append(p)
	}
	got := traj.Integrity()
	if got.Label != IntegrityLiving {
		t.Errorf("balanced trajectory = %+v", got)
	}
	if got.Score < 0.5 {
		t.Errorf("living score %f", got.Score)
	}
}

func TestLag1Autocorrelation(t *testing.T) {
	t.Parallel()

	if got := lag1Autocorrelation([]float64{1, 2}); got != 0 {
		t.Errorf("short series: %f", got)
	}
	if got := lag1Autocorrelation([]float64{3, 3, 3, 3}); got != 0 {
		t.Errorf("constant series: %f", got)
	}

	// A strict alternation is maximally anticorrelated at lag 1.
	if got := lag1Autocorrelation([]float64{1, -1, 1, -1, 1, -1, 1, -1}); got >= -0.5 {
		t.Errorf("alternating series: %f", got)
	}

	// A slow ramp is positively correlated.
	ramp := make([]float64, 20)
	for i := range ramp {
		ramp[i] = float64(i)
	}
	if got := lag1Autocorrelation(ramp); got <= 0.5 {
		t.Errorf("ramp series: %f", got)
	}
}
