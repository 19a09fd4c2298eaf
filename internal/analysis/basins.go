package analysis

import "math"

// Canonical basin labels.
const (
	BasinDeepResonance          = "Deep Resonance"
	BasinCollaborativeInquiry   = "Collaborative Inquiry"
	BasinCognitiveMimicry       = "Cognitive Mimicry"
	BasinReflexivePerformance   = "Reflexive Performance"
	BasinSycophanticConvergence = "Sycophantic Convergence"
	BasinCreativeDilation       = "Creative Dilation"
	BasinGenerativeConflict     = "Generative Conflict"
	BasinDissociation           = "Dissociation"
	BasinTransitional           = "Transitional"
)

// Hysteresis parameters.
const (
	entryPenalty     = 0.7
	settledBonus     = 1.1
	settledResidence = 5
)

// basinHistoryMax bounds the retained classification history.
const basinHistoryMax = 100

// Coherence pattern labels derived from the velocity autocorrelation.
const (
	CoherenceBreathing    = "breathing"
	CoherenceLocked       = "locked"
	CoherenceFragmented   = "fragmented"
	CoherenceTransitional = "transitional"
)

// Psi is the three-component dialogue state vector.
type Psi struct {
	Semantic  float64 `json:"psi_semantic"`
	Temporal  float64 `json:"psi_temporal"`
	Affective float64 `json:"psi_affective"`
}

// DialogueContext carries the auxiliary signals the basin rules consult.
type DialogueContext struct {
	HedgingDensity       float64 `json:"hedging_density"`
	TurnLengthVariance   float64 `json:"turn_length_variance"`
	DeltaKappaVariance   float64 `json:"delta_kappa_variance"`
	VoiceDistinctiveness float64 `json:"voice_distinctiveness"`
	CoherencePattern     string  `json:"coherence_pattern"`
}

// BasinPoint is one recorded classification.
type BasinPoint struct {
	Turn       int     `json:"turn"`
	Basin      string  `json:"basin"`
	Confidence float64 `json:"confidence"`
}

// BasinHistory is the bounded record of classifications. Single writer.
type BasinHistory struct {
	points      []BasinPoint
	transitions int
}

// Append records one classification, counting a transition when the label
// differs from the previous one. History beyond basinHistoryMax entries is
// dropped from the front.
func (h *BasinHistory) Append(p BasinPoint) {
	if n := len(h.points); n > 0 && h.points[n-1].Basin != p.Basin {
		h.transitions++
	}
	h.points = append(h.points, p)
	if len(h.points) > basinHistoryMax {
		h.points = h.points[len(h.points)-basinHistoryMax:]
	}
}

// Points returns a copy of the recorded history.
func (h *BasinHistory) Points() []BasinPoint {
	return append([]BasinPoint(nil), h.points...)
}

// Transitions returns the number of label changes observed.
func (h *BasinHistory) Transitions() int { return h.transitions }

// Distribution returns the fraction of recorded points per label.
func (h *BasinHistory) Distribution() map[string]float64 {
	if len(h.points) == 0 {
		return map[string]float64{}
	}
	dist := make(map[string]float64)
	for _, p := range h.points {
		dist[p.Basin]++
	}
	total := float64(len(h.points))
	for k := range dist {
		dist[k] /= total
	}
	return dist
}

// BasinDetector classifies the dialogue state and applies hysteresis so the
// label does not flap turn to turn. Single writer.
type BasinDetector struct {
	current   string
	residence int
}

// Classify returns the basin label and confidence for the given state. The
// rules are ordered; the first match wins.
func (d *BasinDetector) Classify(psi Psi, metrics WindowMetrics, ctx DialogueContext) (string, float64) {
	label, conf := classifyRaw(psi, metrics, ctx)

	if d.current == "" || label != d.current {
		// Entering a basin, including the very first classification,
		// discounts the confidence.
		conf *= entryPenalty
		d.current = label
		d.residence = 1
	} else {
		d.residence++
		if d.residence >= settledResidence {
			conf = math.Min(1.0, conf*settledBonus)
		}
	}
	return label, conf
}

func classifyRaw(psi Psi, m WindowMetrics, ctx DialogueContext) (string, float64) {
	ps, pa, pt := psi.Semantic, psi.Affective, psi.Temporal
	dk := m.DeltaKappa
	vd := ctx.VoiceDistinctiveness

	switch {
	case ps > 0.4 && pa > 0.4 && vd > 0.3:
		return BasinDeepResonance, min3(ps, pa, vd)
	case math.Abs(ps) < 0.2 && math.Abs(pa) < 0.2:
		return BasinDissociation, 1 - math.Max(math.Abs(ps), math.Abs(pa))
	case math.Abs(ps) > 0.3 && dk > 0.35 && pa > 0.3:
		return BasinGenerativeConflict, min3(math.Abs(ps), dk, pa)
	case dk > 0.35 && pa > 0.3:
		return BasinCreativeDilation, math.Min(dk, pa)
	case ps > 0.3 && dk < 0.35 && pa < 0.2 && vd < 0.3:
		return BasinSycophanticConvergence, math.Min(ps, 1-vd)
	case math.Abs(ps) > 0.3 && pa < 0.2:
		return classifyLowAffect(ps, ctx)
	}

	// Dominant-axis fallback.
	axes := [3]float64{math.Abs(ps), math.Abs(pa), math.Abs(pt - 0.5)}
	best, bestVal := 0, axes[0]
	for i, v := range axes {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	switch {
	case best == 0 && dk > 0.35:
		return BasinCreativeDilation, bestVal
	case best == 1:
		if dk > 0.35 {
			return BasinGenerativeConflict, bestVal
		}
		return BasinCognitiveMimicry, bestVal
	default:
		return BasinTransitional, 0.3
	}
}

// classifyLowAffect scores the three low-affect candidates by fixed bonuses.
func classifyLowAffect(ps float64, ctx DialogueContext) (string, float64) {
	h := ctx.HedgingDensity
	vd := ctx.VoiceDistinctiveness
	dkv := ctx.DeltaKappaVariance
	co := ctx.CoherencePattern

	var inquiry, mimicry, performance float64
	if h > 0.02 {
		inquiry += 0.3
	}
	if vd > 0.3 {
		inquiry += 0.3
	}
	if dkv > 0.01 {
		inquiry += 0.2
	}
	if co == CoherenceBreathing {
		inquiry += 0.2
	}

	if h < 0.01 {
		mimicry += 0.3
	}
	if vd < 0.2 {
		mimicry += 0.3
	}
	if dkv < 0.005 {
		mimicry += 0.2
	}
	if co == CoherenceLocked || co == CoherenceTransitional {
		mimicry += 0.2
	}

	if h >= 0.01 && h <= 0.03 {
		performance += 0.3
	}
	if dkv >= 0.005 && dkv <= 0.015 {
		performance += 0.3
	}
	if co == CoherenceTransitional {
		performance += 0.2
	}
	if vd >= 0.2 && vd <= 0.4 {
		performance += 0.2
	}

	label := BasinCollaborativeInquiry
	first, second := inquiry, math.Max(mimicry, performance)
	if mimicry > first {
		label, second = BasinCognitiveMimicry, math.Max(inquiry, performance)
		first = mimicry
	}
	if performance > first {
		label, second = BasinReflexivePerformance, math.Max(inquiry, mimicry)
		first = performance
	}

	abs := math.Abs(ps)
	if first-second < 0.1 {
		return label, abs * 0.5
	}
	return label, abs * (0.5 + first*0.5)
}

func min3(a, b, c float64) float64 {
	return math.Min(a, math.Min(b, c))
}
