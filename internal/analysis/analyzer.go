package analysis

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// analysisWindow is the rolling window size for the per-turn metric triple.
const analysisWindow = 5

// Reference centers and scales standardizing (Δκ, ΔH, α) for ψ_semantic.
var (
	psiCenters = [3]float64{0.15, 0.15, 0.8}
	psiScales  = [3]float64{0.15, 0.15, 0.3}
)

// TurnState is the analyzer's reading of the dialogue after one turn.
type TurnState struct {
	Turn                 int             `json:"turn"`
	Psi                  Psi             `json:"psi"`
	PsiSemantic          float64         `json:"psi_semantic"`
	PsiTemporal          float64         `json:"psi_temporal"`
	PsiAffective         float64         `json:"psi_affective"`
	DeltaKappa           float64         `json:"delta_kappa"`
	EntropyShift         float64         `json:"entropy_shift"`
	Alpha                float64         `json:"alpha"`
	Basin                string          `json:"basin"`
	BasinConfidence      float64         `json:"basin_confidence"`
	IntegrityScore       float64         `json:"integrity_score"`
	IntegrityLabel       string          `json:"integrity_label"`
	VoiceDistinctiveness float64         `json:"voice_distinctiveness"`
	CoherencePattern     string          `json:"coherence_pattern"`
	VelocityMagnitude    *float64        `json:"velocity_magnitude,omitempty"`
	Context              DialogueContext `json:"context"`
}

// Analyzer folds turns into the streaming dialogue state. The generation
// loop is the single writer; snapshot accessors take the same lock.
type Analyzer struct {
	seed int64

	mu         sync.Mutex
	turns      int
	embeddings [][]float64
	windows    []WindowMetrics
	affect     *affectTracker
	detector   BasinDetector
	history    BasinHistory
	traj       Trajectory

	agentCentroid map[string][]float64
	agentEmbCount map[string]int
	agentWords    map[string][]int
	coherence     map[string]int
	last          TurnState
}

// NewAnalyzer creates an analyzer whose clustering draws are derived from
// seed, so identical transcripts analyze identically.
func NewAnalyzer(seed int64) *Analyzer {
	return &Analyzer{
		seed:          seed,
		affect:        newAffectTracker(),
		agentCentroid: make(map[string][]float64),
		agentEmbCount: make(map[string]int),
		agentWords:    make(map[string][]int),
		coherence:     make(map[string]int),
	}
}

// ProcessTurn folds one turn into the state and returns the updated reading.
// A nil embedding still updates the affective substrate; the geometric
// metrics simply skip the turn.
func (a *Analyzer) ProcessTurn(agentID, content string, embedding []float64) TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.turns++
	a.affect.observe(agentID, content)
	a.agentWords[agentID] = append(a.agentWords[agentID], wordCount(content))

	if embedding != nil {
		a.embeddings = append(a.embeddings, embedding)
		a.foldCentroid(agentID, embedding)
	}

	if len(a.embeddings) >= analysisWindow {
		window := a.embeddings[len(a.embeddings)-analysisWindow:]
		a.windows = append(a.windows, ComputeWindowMetrics(window, a.seed))
	}

	current := WindowMetrics{
		DeltaKappa:   defaultDeltaKappa,
		EntropyShift: defaultEntropyShift,
		Alpha:        defaultAlpha,
	}
	if len(a.embeddings) >= 4 {
		current = ComputeWindowMetrics(a.embeddings, a.seed)
	}

	affect := a.affect.state()
	psi := Psi{
		Semantic:  psiSemantic(current),
		Temporal:  a.psiTemporalLocked(),
		Affective: affect.PsiAffective,
	}

	ctx := a.dialogueContextLocked()
	basin, conf := a.detector.Classify(psi, current, ctx)
	a.history.Append(BasinPoint{Turn: a.turns, Basin: basin, Confidence: conf})

	a.traj.Append(psi)
	integrity := a.traj.Integrity()
	a.coherence[ctx.CoherencePattern]++

	state := TurnState{
		Turn:                 a.turns,
		Psi:                  psi,
		PsiSemantic:          psi.Semantic,
		PsiTemporal:          psi.Temporal,
		PsiAffective:         psi.Affective,
		DeltaKappa:           current.DeltaKappa,
		EntropyShift:         current.EntropyShift,
		Alpha:                current.Alpha,
		Basin:                basin,
		BasinConfidence:      conf,
		IntegrityScore:       integrity.Score,
		IntegrityLabel:       integrity.Label,
		VoiceDistinctiveness: ctx.VoiceDistinctiveness,
		CoherencePattern:     ctx.CoherencePattern,
		Context:              ctx,
	}
	if vel := VelocitySeries(a.embeddings); len(vel) > 0 {
		v := vel[len(vel)-1]
		state.VelocityMagnitude = &v
	}
	a.last = state
	return state
}

// Last returns the most recent turn state.
func (a *Analyzer) Last() TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// History returns a copy of the basin history.
func (a *Analyzer) History() []BasinPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Points()
}

// foldCentroid maintains the running mean embedding per agent. Called with
// a.mu held.
func (a *Analyzer) foldCentroid(agentID string, embedding []float64) {
	c := a.agentCentroid[agentID]
	if c == nil {
		a.agentCentroid[agentID] = append([]float64(nil), embedding...)
		a.agentEmbCount[agentID] = 1
		return
	}
	n := float64(a.agentEmbCount[agentID])
	for i := range c {
		c[i] = (c[i]*n + embedding[i]) / (n + 1)
	}
	a.agentEmbCount[agentID]++
}

// psiSemantic standardizes the metric triple against the reference regime
// and squashes the equal-weight combination.
func psiSemantic(m WindowMetrics) float64 {
	z := [3]float64{
		(m.DeltaKappa - psiCenters[0]) / psiScales[0],
		(m.EntropyShift - psiCenters[1]) / psiScales[1],
		(m.Alpha - psiCenters[2]) / psiScales[2],
	}
	w := 1 / math.Sqrt(3)
	return math.Tanh(w * (z[0] + z[1] + z[2]))
}

// psiTemporalLocked is 1/(1+cv) over the Δκ trail, 0.5 until three window
// readings exist. Called with a.mu held.
func (a *Analyzer) psiTemporalLocked() float64 {
	if len(a.windows) < 3 {
		return 0.5
	}
	trail := a.deltaKappaTrailLocked()
	mean := stat.Mean(trail, nil)
	if math.Abs(mean) < 1e-12 {
		return 0.5
	}
	cv := math.Sqrt(stat.PopVariance(trail, nil)) / math.Abs(mean)
	return 1 / (1 + cv)
}

func (a *Analyzer) deltaKappaTrailLocked() []float64 {
	trail := make([]float64, len(a.windows))
	for i, w := range a.windows {
		trail[i] = w.DeltaKappa
	}
	return trail
}

// dialogueContextLocked assembles the auxiliary signals for basin
// classification. Called with a.mu held.
func (a *Analyzer) dialogueContextLocked() DialogueContext {
	ctx := DialogueContext{
		HedgingDensity:       a.affect.hedgingDensity(),
		VoiceDistinctiveness: a.voiceDistinctivenessLocked(),
		CoherencePattern:     a.coherencePatternLocked(),
	}

	if len(a.agentWords) >= 2 {
		means := make([]float64, 0, len(a.agentWords))
		for _, counts := range a.agentWords {
			var sum float64
			for _, c := range counts {
				sum += float64(c)
			}
			means = append(means, sum/float64(len(counts)))
		}
		ctx.TurnLengthVariance = stat.PopVariance(means, nil)
	}

	if trail := a.deltaKappaTrailLocked(); len(trail) >= 2 {
		ctx.DeltaKappaVariance = stat.PopVariance(trail, nil)
	}
	return ctx
}

// voiceDistinctivenessLocked is the mean pairwise cosine distance between
// per-agent centroid embeddings. Called with a.mu held.
func (a *Analyzer) voiceDistinctivenessLocked() float64 {
	if len(a.agentCentroid) < 2 {
		return 0
	}
	centroids := make([][]float64, 0, len(a.agentCentroid))
	for _, c := range a.agentCentroid {
		centroids = append(centroids, c)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(centroids); i++ {
		for j := i + 1; j < len(centroids); j++ {
			sum += cosineDistance(centroids[i], centroids[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// cosineDistance is 1 − cos with a small norm guard.
func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)+1e-10)
}

// coherencePatternLocked labels the dialogue's rhythm from the lag-1
// autocorrelation of the semantic velocity. Called with a.mu held.
func (a *Analyzer) coherencePatternLocked() string {
	vel := VelocitySeries(a.embeddings)
	if len(a.embeddings) < 6 || len(vel) < 5 {
		return CoherenceTransitional
	}

	r := lag1Autocorrelation(vel)
	variance := stat.PopVariance(vel, nil)
	if math.IsNaN(r) || math.IsNaN(variance) {
		return CoherenceTransitional
	}
	switch {
	case r <= -0.2:
		return CoherenceBreathing
	case r >= 0.3:
		return CoherenceLocked
	case variance > 0.1:
		return CoherenceFragmented
	default:
		return CoherenceTransitional
	}
}
