// Package analysis computes the streaming and offline dialogue metrics:
// semantic velocity and curvature over the embedding sequence, a DFA scaling
// exponent, an entropy-shift measure between dialogue halves, the affective
// substrate, basin classification, and the Ψ-space trajectory.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric defaults used when too few embeddings exist.
const (
	defaultDeltaKappa   = 0.0
	defaultEntropyShift = 0.0
	defaultAlpha        = 0.5
)

// dfaMinScale is the smallest DFA box size.
const dfaMinScale = 4

// dfaNumScales is the number of log-spaced scales fitted.
const dfaNumScales = 16

// WindowMetrics is one (Δκ, ΔH, α) triple computed over an embedding window.
type WindowMetrics struct {
	DeltaKappa   float64
	EntropyShift float64
	Alpha        float64
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either has zero norm.
func cosineSimilarity(a, b []float64) (sim float64, ok bool) {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na < 1e-12 || nb < 1e-12 {
		return 0, false
	}
	return floats.Dot(a, b) / (na * nb), true
}

// VelocitySeries returns the per-step semantic velocity 1 − cos(e_{i−1}, e_i).
// A zero-norm pair yields velocity 1.
func VelocitySeries(embeddings [][]float64) []float64 {
	if len(embeddings) < 2 {
		return nil
	}
	out := make([]float64, 0, len(embeddings)-1)
	for i := 1; i < len(embeddings); i++ {
		sim, ok := cosineSimilarity(embeddings[i-1], embeddings[i])
		if !ok {
			out = append(out, 1.0)
			continue
		}
		out = append(out, 1-sim)
	}
	return out
}

// MeanCurvature computes the mean local Frenet-Serret curvature of the
// embedding sequence: v_i = e_{i+1}−e_i, a_i = v_{i+1}−v_i, and
// κ_i = ‖a_i^⊥‖/‖v_i‖² with a_i^⊥ the component of a_i perpendicular to v_i.
// Steps with near-zero velocity contribute 0. Fewer than four embeddings
// yield the default 0.
func MeanCurvature(embeddings [][]float64) float64 {
	series := curvatureSeries(embeddings)
	if len(series) == 0 {
		return defaultDeltaKappa
	}
	return stat.Mean(series, nil)
}

// curvatureSeries returns the per-step κ_i values, with zero-velocity steps
// contributing 0. Fewer than four embeddings yield nil.
func curvatureSeries(embeddings [][]float64) []float64 {
	n := len(embeddings)
	if n < 4 {
		return nil
	}

	dim := len(embeddings[0])
	vel := make([][]float64, n-1)
	for i := 0; i < n-1; i++ {
		v := make([]float64, dim)
		floats.SubTo(v, embeddings[i+1], embeddings[i])
		vel[i] = v
	}

	out := make([]float64, n-2)
	perp := make([]float64, dim)
	for i := 0; i < n-2; i++ {
		vnorm := floats.Norm(vel[i], 2)
		if vnorm < 1e-10 {
			continue
		}
		// a_i minus its projection onto the unit velocity.
		floats.SubTo(perp, vel[i+1], vel[i])
		proj := floats.Dot(perp, vel[i]) / (vnorm * vnorm)
		floats.AddScaled(perp, -proj, vel[i])
		out[i] = floats.Norm(perp, 2) / (vnorm * vnorm)
	}
	return out
}

// DFAAlpha computes the detrended-fluctuation-analysis scaling exponent of
// signal. Signals shorter than 8 samples, and fits with fewer than two valid
// scales, return the neutral default 0.5.
func DFAAlpha(signal []float64) float64 {
	alpha, _ := dfaFit(signal)
	return alpha
}

// DFAFit returns the scaling exponent together with the R² of the
// log-log regression behind it.
func DFAFit(signal []float64) (alpha, r2 float64) {
	return dfaFit(signal)
}

func dfaFit(signal []float64) (alpha, r2 float64) {
	logS, logF := dfaPoints(signal)
	if len(logS) < 2 {
		return defaultAlpha, 0
	}
	intercept, slope := stat.LinearRegression(logS, logF, nil, false)
	return slope, stat.RSquared(logS, logF, nil, intercept, slope)
}

// dfaPoints returns the (log10 s, log10 F(s)) pairs the scaling exponent is
// fitted on. Too-short signals yield empty slices.
func dfaPoints(signal []float64) (logS, logF []float64) {
	n := len(signal)
	if n < 8 {
		return nil, nil
	}

	mean := stat.Mean(signal, nil)
	y := make([]float64, n)
	var cum float64
	for i, v := range signal {
		cum += v - mean
		y[i] = cum
	}

	maxScale := int(math.Max(float64(dfaMinScale+1),
		math.Min(float64(n)*0.25, float64(n/2))))
	scales := logSpacedScales(dfaMinScale, maxScale, dfaNumScales)

	for _, s := range scales {
		f := dfaFluctuation(y, s)
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		logS = append(logS, math.Log10(float64(s)))
		logF = append(logF, math.Log10(f))
	}
	return logS, logF
}

// dfaFluctuation is the RMS detrended fluctuation at box size s, averaged
// over the non-overlapping segments.
func dfaFluctuation(y []float64, s int) float64 {
	nseg := len(y) / s
	if nseg < 1 {
		return 0
	}
	xs := make([]float64, s)
	for i := range xs {
		xs[i] = float64(i)
	}

	var total float64
	for seg := 0; seg < nseg; seg++ {
		window := y[seg*s : (seg+1)*s]
		intercept, slope := stat.LinearRegression(xs, window, nil, false)
		var ss float64
		for i, v := range window {
			r := v - (intercept + slope*xs[i])
			ss += r * r
		}
		total += math.Sqrt(ss / float64(s))
	}
	return total / float64(nseg)
}

// logSpacedScales returns up to count unique integer scales log-spaced on
// [min, max].
func logSpacedScales(min, max, count int) []int {
	if max <= min {
		return []int{min}
	}
	lo := math.Log10(float64(min))
	hi := math.Log10(float64(max))

	seen := make(map[int]bool, count)
	var out []int
	for i := 0; i < count; i++ {
		frac := 0.0
		if count > 1 {
			frac = float64(i) / float64(count-1)
		}
		s := int(math.Round(math.Pow(10, lo+frac*(hi-lo))))
		if s < min {
			s = min
		}
		if s > max {
			s = max
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// EntropyShift clusters the pre/post halves of the embedding sequence jointly
// with seeded k-means and returns the Jensen-Shannon divergence between the
// two halves' cluster-frequency distributions, in bits. Either half having
// fewer than two members yields 0.
func EntropyShift(embeddings [][]float64, seed int64) float64 {
	mid := len(embeddings) / 2
	return entropyShiftSplit(embeddings[:mid], embeddings[mid:], seed)
}

func entropyShiftSplit(pre, post [][]float64, seed int64) float64 {
	if len(pre) < 2 || len(post) < 2 {
		return defaultEntropyShift
	}

	all := make([][]float64, 0, len(pre)+len(post))
	all = append(all, pre...)
	all = append(all, post...)

	k := len(all)
	if k > 8 {
		k = 8
	}
	labels := clusterCanonical(all, k, seed)

	p := clusterFrequencies(labels[:len(pre)], k)
	q := clusterFrequencies(labels[len(pre):], k)
	return jensenShannon(p, q)
}

// clusterCanonical clusters points in a sorted canonical order so the labels
// depend only on the multiset of points, never on their arrival order.
// Swapping the pre/post halves therefore swaps p and q exactly, keeping the
// divergence symmetric.
func clusterCanonical(points [][]float64, k int, seed int64) []int {
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lessVector(points[order[a]], points[order[b]])
	})

	sorted := make([][]float64, len(points))
	for rank, idx := range order {
		sorted[rank] = points[idx]
	}
	sortedLabels := kMeans(sorted, k, seed)

	labels := make([]int, len(points))
	for rank, idx := range order {
		labels[idx] = sortedLabels[rank]
	}
	return labels
}

func lessVector(a, b []float64) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func clusterFrequencies(labels []int, k int) []float64 {
	freq := make([]float64, k)
	for _, l := range labels {
		freq[l]++
	}
	total := float64(len(labels))
	for i := range freq {
		freq[i] /= total
	}
	return freq
}

// jensenShannon is the JS divergence in bits with an ε floor against log(0).
func jensenShannon(p, q []float64) float64 {
	const eps = 1e-12
	var js float64
	for i := range p {
		pi := math.Max(p[i], eps)
		qi := math.Max(q[i], eps)
		m := 0.5 * (pi + qi)
		js += 0.5*pi*math.Log2(pi/m) + 0.5*qi*math.Log2(qi/m)
	}
	if js < 0 {
		js = 0
	}
	return js
}

// ComputeWindowMetrics evaluates the (Δκ, ΔH, α) triple over one embedding
// window. Alpha is fitted on the window's velocity series.
func ComputeWindowMetrics(embeddings [][]float64, seed int64) WindowMetrics {
	return WindowMetrics{
		DeltaKappa:   MeanCurvature(embeddings),
		EntropyShift: EntropyShift(embeddings, seed),
		Alpha:        DFAAlpha(VelocitySeries(embeddings)),
	}
}
