package analysis

import (
	"math"
	"regexp"
	"strings"

	"github.com/jonreiter/govader"
	"gonum.org/v1/gonum/stat"
)

// Reference ceilings normalizing each affective component to [0,1].
var affectCeilings = [4]float64{0.5, 0.1, 0.05, 0.01}

// Component weights for the raw affective score.
var affectWeights = [4]float64{0.3, 0.3, 0.3, 0.1}

var hedgingPatterns = compileLexicon(
	`\b(i think|i guess|i suppose|maybe|perhaps|possibly|probably|might|could be|seems like|sort of|kind of|i'm not sure|i wonder|i feel like|it appears|it seems|arguably|presumably|apparently|seemingly)\b`,
)

var vulnerabilityPatterns = compileLexicon(
	`\b(i feel|i'm feeling|i felt)\b`,
	`\b(i'm (scared|worried|afraid|anxious|nervous|uncertain|confused|overwhelmed))\b`,
	`\b((my|i) (fear|worry|concern|anxiety|doubt))\b`,
	`\b(honestly|to be honest|truthfully|frankly)\b`,
	`\b(i don't know|i'm struggling|i'm not sure|i'm uncertain)\b`,
	`\b(afraid|angry|anxious|confused|disappointed|excited|frustrated|grateful|happy|hopeful|lonely|sad|scared|surprised|uncertain|worried)\b`,
)

var confidencePatterns = compileLexicon(
	`\b(definitely|certainly|absolutely|clearly|obviously|undoubtedly|i'm certain|i'm sure|i know|without doubt|no question|always|never|must|will)\b`,
)

func compileLexicon(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	var n int
	for _, re := range patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// AffectState is the per-session affective decomposition behind ψ_affective.
type AffectState struct {
	SentimentVariance  float64 `json:"sentiment_variance"`
	HedgingDensity     float64 `json:"hedging_density"`
	VulnerabilityScore float64 `json:"vulnerability_score"`
	ConfidenceVariance float64 `json:"confidence_variance"`
	PsiAffective       float64 `json:"psi_affective"`
}

// affectTracker accumulates per-turn lexicon counts and sentiment scores.
// Single writer.
type affectTracker struct {
	sentiment *govader.SentimentIntensityAnalyzer

	scores      []float64 // per-turn VADER compound
	confDensity []float64 // per-turn confidence matches / words
	hedgeCounts []int
	vulnCounts  []int
	turnWords   []int
	totalWords  int
	totalHedges int
	totalVulns  int
	agentScores map[string][]float64
	agentHedges map[string]int
	agentWords  map[string]int
}

func newAffectTracker() *affectTracker {
	return &affectTracker{
		sentiment:   govader.NewSentimentIntensityAnalyzer(),
		agentScores: make(map[string][]float64),
		agentHedges: make(map[string]int),
		agentWords:  make(map[string]int),
	}
}

// observe folds one turn into the tracker.
func (t *affectTracker) observe(agentID, text string) {
	words := wordCount(text)
	hedges := countMatches(hedgingPatterns, text)
	vulns := countMatches(vulnerabilityPatterns, text)
	confs := countMatches(confidencePatterns, text)
	compound := t.sentiment.PolarityScores(text).Compound

	t.scores = append(t.scores, compound)
	t.hedgeCounts = append(t.hedgeCounts, hedges)
	t.vulnCounts = append(t.vulnCounts, vulns)
	t.turnWords = append(t.turnWords, words)
	t.totalWords += words
	t.totalHedges += hedges
	t.totalVulns += vulns
	if words > 0 {
		t.confDensity = append(t.confDensity, float64(confs)/float64(words))
	} else {
		t.confDensity = append(t.confDensity, 0)
	}

	t.agentScores[agentID] = append(t.agentScores[agentID], compound)
	t.agentHedges[agentID] += hedges
	t.agentWords[agentID] += words
}

// hedgingDensity is total hedging matches over total words.
func (t *affectTracker) hedgingDensity() float64 {
	if t.totalWords == 0 {
		return 0
	}
	return float64(t.totalHedges) / float64(t.totalWords)
}

func (t *affectTracker) vulnerabilityScore() float64 {
	if t.totalWords == 0 {
		return 0
	}
	return float64(t.totalVulns) / float64(t.totalWords)
}

// state computes the combined affective score. Each component is scaled by
// its reference ceiling and clipped before weighting; the weighted raw score
// is then centred and squashed into [−1, 1].
func (t *affectTracker) state() AffectState {
	s := AffectState{
		HedgingDensity:     t.hedgingDensity(),
		VulnerabilityScore: t.vulnerabilityScore(),
	}
	if len(t.scores) > 1 {
		s.SentimentVariance = stat.PopVariance(t.scores, nil)
	}
	if len(t.confDensity) > 1 {
		s.ConfidenceVariance = stat.PopVariance(t.confDensity, nil)
	}

	components := [4]float64{
		s.SentimentVariance,
		s.HedgingDensity,
		s.VulnerabilityScore,
		s.ConfidenceVariance,
	}
	var raw float64
	for i, c := range components {
		norm := c / affectCeilings[i]
		if norm > 1 {
			norm = 1
		}
		raw += affectWeights[i] * norm
	}
	s.PsiAffective = math.Tanh(2 * (raw - 0.5))
	return s
}

// AgentAffect summarizes one agent's affective signature.
type AgentAffect struct {
	AgentID        string  `json:"agent_id"`
	MeanSentiment  float64 `json:"mean_sentiment"`
	HedgingDensity float64 `json:"hedging_density"`
	Turns          int     `json:"turns"`
}

// agentAffects returns per-agent affect summaries, sorted by nothing in
// particular; callers sort.
func (t *affectTracker) agentAffects() []AgentAffect {
	out := make([]AgentAffect, 0, len(t.agentScores))
	for id, scores := range t.agentScores {
		a := AgentAffect{AgentID: id, Turns: len(scores)}
		a.MeanSentiment = stat.Mean(scores, nil)
		if w := t.agentWords[id]; w > 0 {
			a.HedgingDensity = float64(t.agentHedges[id]) / float64(w)
		}
		out = append(out, a)
	}
	return out
}

// affectiveDivergence measures how differently the agents feel: the mean of
// squashed coefficients of variation of per-agent sentiment and hedging.
// Fewer than two agents yield 0.
func (t *affectTracker) affectiveDivergence() float64 {
	agents := t.agentAffects()
	if len(agents) < 2 {
		return 0
	}
	sents := make([]float64, len(agents))
	hedges := make([]float64, len(agents))
	for i, a := range agents {
		sents[i] = a.MeanSentiment
		hedges[i] = a.HedgingDensity
	}
	return (math.Tanh(coefficientOfVariation(sents)) +
		math.Tanh(coefficientOfVariation(hedges))) / 2
}

// coefficientOfVariation is std/|mean|, 0 when the mean vanishes.
func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	if math.Abs(mean) < 1e-12 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(xs, nil)) / math.Abs(mean)
}
