package analysis

import (
	"math/rand"
	"testing"
)

func TestKMeansDeterministic(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(6))
	points := make([][]float64, 20)
	for i := range points {
		points[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}

	a := kMeans(points, 4, 99)
	b := kMeans(points, 4, 99)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at point %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestKMeansSeparatedClusters(t *testing.T) {
	t.Parallel()

	// Two tight clouds far apart must land in different clusters.
	points := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1},
		{50, 50}, {50.1, 50}, {50, 50.1}, {50.1, 50.1},
	}
	labels := kMeans(points, 2, 3)

	for i := 1; i < 4; i++ {
		if labels[i] != labels[0] {
			t.Fatalf("first cloud split: %v", labels)
		}
	}
	for i := 5; i < 8; i++ {
		if labels[i] != labels[4] {
			t.Fatalf("second cloud split: %v", labels)
		}
	}
	if labels[0] == labels[4] {
		t.Fatalf("clouds merged: %v", labels)
	}
}

func TestKMeansMorePointsThanClusters(t *testing.T) {
	t.Parallel()

	points := [][]float64{{1}, {2}, {3}}
	labels := kMeans(points, 5, 1)
	for i, l := range labels {
		if l != i%5 {
			t.Fatalf("degenerate labels = %v", labels)
		}
	}
}

func TestKMeansLabelsInRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(8))
	points := make([][]float64, 30)
	for i := range points {
		points[i] = []float64{rng.NormFloat64() * 5, rng.NormFloat64() * 5}
	}
	labels := kMeans(points, 6, 12)
	if len(labels) != len(points) {
		t.Fatalf("got %d labels for %d points", len(labels), len(points))
	}
	for i, l := range labels {
		if l < 0 || l >= 6 {
			t.Fatalf("point %d labelled %d", i, l)
		}
	}
}
