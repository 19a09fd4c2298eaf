package analysis

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Bootstrap and null-model sizes.
const (
	bootstrapResamples = 300
	nullPermutations   = 200
)

// Threshold flags on the whole-session metrics.
const (
	deltaKappaThreshold   = 0.35
	alphaBandLow          = 0.70
	alphaBandHigh         = 0.90
	entropyShiftThreshold = 0.12
)

// Interval is a 2.5/97.5 percentile bootstrap confidence interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ConfidenceReport carries the uncertainty quantification for the three
// headline metrics.
type ConfidenceReport struct {
	DeltaKappaCI     Interval `json:"delta_kappa_ci"`
	DeltaKappaNullP  float64  `json:"delta_kappa_null_p"`
	AlphaCI          Interval `json:"alpha_ci"`
	AlphaR2          float64  `json:"alpha_r2"`
	EntropyShiftCI   Interval `json:"entropy_shift_ci"`
	EntropyStability float64  `json:"entropy_stability"`

	DeltaKappaSignificant bool `json:"delta_kappa_significant"`
	AlphaInBand           bool `json:"alpha_in_band"`
	EntropyShiftElevated  bool `json:"entropy_shift_elevated"`
}

// Summary is the whole-session analysis artifact.
type Summary struct {
	Turns int `json:"turns"`

	DeltaKappa   float64 `json:"delta_kappa"`
	EntropyShift float64 `json:"entropy_shift"`
	Alpha        float64 `json:"alpha"`

	VelocityMean  float64 `json:"velocity_mean"`
	VelocityMax   float64 `json:"velocity_max"`
	VelocityFinal float64 `json:"velocity_final"`

	PathLength   float64 `json:"path_length"`
	Displacement float64 `json:"displacement"`
	Tortuosity   float64 `json:"tortuosity"`

	Integrity             IntegrityState `json:"integrity"`
	TransformationDensity float64        `json:"transformation_density"`

	BasinDistribution map[string]float64 `json:"basin_distribution"`
	DominantBasin     string             `json:"dominant_basin"`
	DominantBasinPct  float64            `json:"dominant_basin_pct"`
	Transitions       int                `json:"transitions"`

	VoiceDistinctiveness  float64            `json:"voice_distinctiveness"`
	CoherenceDistribution map[string]float64 `json:"coherence_distribution"`
	InquiryMimicryRatio   float64            `json:"inquiry_mimicry_ratio"`

	Affect              AffectState   `json:"affect"`
	AgentAffects        []AgentAffect `json:"agent_affects"`
	AffectiveDivergence float64       `json:"affective_divergence"`

	Confidence *ConfidenceReport `json:"confidence,omitempty"`
}

// Summarize computes the whole-session summary. When withCI is set the
// bootstrap confidence report is attached.
func (a *Analyzer) Summarize(withCI bool) *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	vel := VelocitySeries(a.embeddings)

	s := &Summary{
		Turns:                 a.turns,
		DeltaKappa:            MeanCurvature(a.embeddings),
		EntropyShift:          EntropyShift(a.embeddings, a.seed),
		Alpha:                 DFAAlpha(vel),
		Integrity:             a.traj.Integrity(),
		BasinDistribution:     a.history.Distribution(),
		Transitions:           a.history.Transitions(),
		VoiceDistinctiveness:  a.voiceDistinctivenessLocked(),
		PathLength:            a.traj.PathLength(),
		Displacement:          a.traj.Displacement(),
		Tortuosity:            a.traj.Tortuosity(),
		Affect:                a.affect.state(),
		AgentAffects:          a.affect.agentAffects(),
		AffectiveDivergence:   a.affect.affectiveDivergence(),
		CoherenceDistribution: make(map[string]float64),
	}
	sort.Slice(s.AgentAffects, func(i, j int) bool {
		return s.AgentAffects[i].AgentID < s.AgentAffects[j].AgentID
	})

	if len(vel) > 0 {
		s.VelocityMean = stat.Mean(vel, nil)
		for _, v := range vel {
			if v > s.VelocityMax {
				s.VelocityMax = v
			}
		}
		s.VelocityFinal = vel[len(vel)-1]
	}

	if a.turns > 0 {
		s.TransformationDensity = float64(a.history.Transitions()) / float64(a.turns)
		total := 0
		for _, c := range a.coherence {
			total += c
		}
		for pattern, c := range a.coherence {
			s.CoherenceDistribution[pattern] = float64(c) / float64(total)
		}
	}

	for basin, frac := range s.BasinDistribution {
		if frac > s.DominantBasinPct {
			s.DominantBasin = basin
			s.DominantBasinPct = frac
		}
	}

	inquiry := s.BasinDistribution[BasinCollaborativeInquiry]
	mimicry := s.BasinDistribution[BasinCognitiveMimicry]
	if inquiry+mimicry > 0 {
		s.InquiryMimicryRatio = inquiry / (inquiry + mimicry)
	} else {
		s.InquiryMimicryRatio = 0.5
	}

	if withCI {
		s.Confidence = a.confidenceLocked(s, vel)
	}
	return s
}

// confidenceLocked runs the bootstrap and null-model machinery. Called with
// a.mu held.
func (a *Analyzer) confidenceLocked(s *Summary, vel []float64) *ConfidenceReport {
	rng := rand.New(rand.NewSource(a.seed))
	r := &ConfidenceReport{
		DeltaKappaSignificant: s.DeltaKappa >= deltaKappaThreshold,
		AlphaInBand:           s.Alpha >= alphaBandLow && s.Alpha <= alphaBandHigh,
		EntropyShiftElevated:  s.EntropyShift >= entropyShiftThreshold,
	}

	// Δκ: bootstrap the per-step curvature samples, plus a shuffled-order
	// null for a one-sided p-value.
	if kappas := curvatureSeries(a.embeddings); len(kappas) >= 2 {
		r.DeltaKappaCI = bootstrapMeanCI(kappas, rng)
		r.DeltaKappaNullP = a.shuffleNullP(s.DeltaKappa, rng)
	}

	// α: bootstrap the fitted log-log points; R² from the full fit.
	_, r.AlphaR2 = DFAFit(vel)
	if logS, logF := dfaPoints(vel); len(logS) >= 2 {
		r.AlphaCI = bootstrapSlopeCI(logS, logF, rng)
	}

	// ΔH: refit the divergence on within-half label resamples.
	if ci, stability, ok := a.entropyBootstrapLocked(rng); ok {
		r.EntropyShiftCI = ci
		r.EntropyStability = stability
	}
	return r
}

// shuffleNullP permutes the embedding order and reports the fraction of null
// mean curvatures at or above the observed one.
func (a *Analyzer) shuffleNullP(observed float64, rng *rand.Rand) float64 {
	n := len(a.embeddings)
	if n < 4 {
		return 1
	}
	shuffled := make([][]float64, n)
	var atLeast int
	for p := 0; p < nullPermutations; p++ {
		perm := rng.Perm(n)
		for i, j := range perm {
			shuffled[i] = a.embeddings[j]
		}
		if MeanCurvature(shuffled) >= observed {
			atLeast++
		}
	}
	return float64(atLeast) / float64(nullPermutations)
}

// entropyBootstrapLocked clusters once, then resamples labels within each
// half to bound the divergence estimate. Stability is 1 − std/mean of the
// bootstrap distribution.
func (a *Analyzer) entropyBootstrapLocked(rng *rand.Rand) (Interval, float64, bool) {
	mid := len(a.embeddings) / 2
	pre, post := a.embeddings[:mid], a.embeddings[mid:]
	if len(pre) < 2 || len(post) < 2 {
		return Interval{}, 0, false
	}

	all := make([][]float64, 0, len(a.embeddings))
	all = append(all, pre...)
	all = append(all, post...)
	k := len(all)
	if k > 8 {
		k = 8
	}
	labels := kMeans(all, k, a.seed)
	preLabels := labels[:len(pre)]
	postLabels := labels[len(pre):]

	samples := make([]float64, bootstrapResamples)
	rp := make([]int, len(preLabels))
	rq := make([]int, len(postLabels))
	for b := range samples {
		for i := range rp {
			rp[i] = preLabels[rng.Intn(len(preLabels))]
		}
		for i := range rq {
			rq[i] = postLabels[rng.Intn(len(postLabels))]
		}
		samples[b] = jensenShannon(clusterFrequencies(rp, k), clusterFrequencies(rq, k))
	}

	mean := stat.Mean(samples, nil)
	std := math.Sqrt(stat.PopVariance(samples, nil))
	stability := 0.0
	if mean > 1e-12 {
		stability = 1 - std/mean
	}
	return percentileInterval(samples), stability, true
}

// bootstrapMeanCI resamples xs with replacement and bounds the mean.
func bootstrapMeanCI(xs []float64, rng *rand.Rand) Interval {
	samples := make([]float64, bootstrapResamples)
	resampled := make([]float64, len(xs))
	for b := range samples {
		for i := range resampled {
			resampled[i] = xs[rng.Intn(len(xs))]
		}
		samples[b] = stat.Mean(resampled, nil)
	}
	return percentileInterval(samples)
}

// bootstrapSlopeCI resamples the regression points and bounds the slope.
func bootstrapSlopeCI(xs, ys []float64, rng *rand.Rand) Interval {
	samples := make([]float64, 0, bootstrapResamples)
	rx := make([]float64, len(xs))
	ry := make([]float64, len(ys))
	for b := 0; b < bootstrapResamples; b++ {
		for i := range rx {
			j := rng.Intn(len(xs))
			rx[i], ry[i] = xs[j], ys[j]
		}
		if !hasSpread(rx) {
			continue
		}
		_, slope := stat.LinearRegression(rx, ry, nil, false)
		if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
			samples = append(samples, slope)
		}
	}
	if len(samples) < 2 {
		return Interval{}
	}
	return percentileInterval(samples)
}

func hasSpread(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return true
		}
	}
	return false
}

// percentileInterval is the empirical 2.5/97.5 percentile interval.
func percentileInterval(samples []float64) Interval {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return Interval{
		Low:  stat.Quantile(0.025, stat.Empirical, sorted, nil),
		High: stat.Quantile(0.975, stat.Empirical, sorted, nil),
	}
}
