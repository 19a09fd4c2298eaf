package analysis

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	kmeansRestarts = 10
	kmeansMaxIters = 100
)

// kMeans clusters points into k groups and returns the per-point labels. It
// runs kmeansRestarts seeded restarts and keeps the assignment with the
// lowest inertia, so identical inputs and seed always label identically.
func kMeans(points [][]float64, k int, seed int64) []int {
	n := len(points)
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i % k
		}
		return labels
	}

	rng := rand.New(rand.NewSource(seed))

	best := make([]int, n)
	bestInertia := math.Inf(1)
	for run := 0; run < kmeansRestarts; run++ {
		labels, inertia := kMeansOnce(points, k, rng)
		if inertia < bestInertia {
			bestInertia = inertia
			copy(best, labels)
		}
	}
	return best
}

// kMeansOnce runs one Lloyd iteration cycle from a random initialisation.
func kMeansOnce(points [][]float64, k int, rng *rand.Rand) (labels []int, inertia float64) {
	n := len(points)

	// Forgy init: k distinct points as starting centroids.
	perm := rng.Perm(n)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), points[perm[i]]...)
	}

	labels = make([]int, n)
	counts := make([]int, k)
	for iter := 0; iter < kmeansMaxIters; iter++ {
		changed := false
		for i, p := range points {
			l := nearestCentroid(p, centroids)
			if l != labels[i] {
				labels[i] = l
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		for c := range centroids {
			for d := range centroids[c] {
				centroids[c][d] = 0
			}
			counts[c] = 0
		}
		for i, p := range points {
			floats.Add(centroids[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster from a random point.
				copy(centroids[c], points[rng.Intn(n)])
				continue
			}
			floats.Scale(1/float64(counts[c]), centroids[c])
		}
	}

	for i, p := range points {
		labels[i] = nearestCentroid(p, centroids)
		inertia += squaredDistance(p, centroids[labels[i]])
	}
	return labels, inertia
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, cent := range centroids {
		if d := squaredDistance(p, cent); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
