package analysis

import (
	"math"
	"testing"
)

func TestCountMatchesHedging(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want int
	}{
		{"I think this is right, but maybe not.", 2},
		{"Perhaps it seems like a stretch.", 2},
		{"The measurement is exact.", 0},
		{"I THINK so. i think so too.", 2},
	}
	for _, tc := range cases {
		if got := countMatches(hedgingPatterns, tc.text); got != tc.want {
			t.Errorf("countMatches(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCountMatchesVulnerability(t *testing.T) {
	t.Parallel()

	if got := countMatches(vulnerabilityPatterns, "Honestly, I'm worried this misses the point."); got < 2 {
		t.Errorf("vulnerable text matched %d times", got)
	}
	if got := countMatches(vulnerabilityPatterns, "The derivative is bounded above."); got != 0 {
		t.Errorf("neutral text matched %d times", got)
	}
}

func TestHedgingDensity(t *testing.T) {
	t.Parallel()

	tr := newAffectTracker()
	tr.observe("a", "I think maybe we should wait.") // 2 hedges, 6 words
	if got := tr.hedgingDensity(); !almostEqual(got, 2.0/6.0, 1e-12) {
		t.Errorf("hedging density %f, want %f", got, 2.0/6.0)
	}
}

func TestAffectStateBounds(t *testing.T) {
	t.Parallel()

	tr := newAffectTracker()
	texts := []string{
		"I think this is wonderful, honestly the best outcome.",
		"This is terrible and I'm worried we failed completely.",
		"Definitely the right call, no question about it.",
		"Maybe, perhaps, I'm not sure at all.",
	}
	for i, text := range texts {
		tr.observe([]string{"a", "b"}[i%2], text)
	}

	s := tr.state()
	if s.PsiAffective < -1 || s.PsiAffective > 1 {
		t.Errorf("psi affective %f outside [-1, 1]", s.PsiAffective)
	}
	if s.SentimentVariance <= 0 {
		t.Errorf("mixed-sentiment variance %f", s.SentimentVariance)
	}
	if s.HedgingDensity <= 0 {
		t.Errorf("hedging density %f", s.HedgingDensity)
	}
}

func TestAffectStatePopulationVariance(t *testing.T) {
	t.Parallel()

	// Variances divide by n, not n-1.
	tr := newAffectTracker()
	tr.scores = []float64{0, 1}
	tr.confDensity = []float64{0, 0.5}

	s := tr.state()
	if !almostEqual(s.SentimentVariance, 0.25, 1e-12) {
		t.Errorf("sentiment variance %f, want 0.25", s.SentimentVariance)
	}
	if !almostEqual(s.ConfidenceVariance, 0.0625, 1e-12) {
		t.Errorf("confidence variance %f, want 0.0625", s.ConfidenceVariance)
	}
}

func TestAffectStateEmpty(t *testing.T) {
	t.Parallel()

	s := newAffectTracker().state()
	if s.SentimentVariance != 0 || s.HedgingDensity != 0 {
		t.Errorf("empty tracker state = %+v", s)
	}
	// Zero components sit at the floor of the squashed scale.
	if !almostEqual(s.PsiAffective, math.Tanh(-1), 1e-12) {
		t.Errorf("empty psi affective %f", s.PsiAffective)
	}
}

func TestAffectiveDivergence(t *testing.T) {
	t.Parallel()

	tr := newAffectTracker()
	tr.observe("solo", "a single voice talking to itself")
	if got := tr.affectiveDivergence(); got != 0 {
		t.Errorf("single agent divergence %f", got)
	}

	tr.observe("other", "I'm worried and honestly quite sad about this, maybe I think it fails")
	div := tr.affectiveDivergence()
	if div < 0 || div > 1 {
		t.Errorf("divergence %f outside [0, 1]", div)
	}
}

func TestAgentAffects(t *testing.T) {
	t.Parallel()

	tr := newAffectTracker()
	tr.observe("a", "I think maybe this works.")
	tr.observe("a", "Perhaps it does.")
	tr.observe("b", "It certainly works.")

	agents := tr.agentAffects()
	if len(agents) != 2 {
		t.Fatalf("got %d agents", len(agents))
	}
	byID := make(map[string]AgentAffect, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	if byID["a"].Turns != 2 || byID["b"].Turns != 1 {
		t.Errorf("turn counts = %+v", byID)
	}
	if byID["a"].HedgingDensity <= byID["b"].HedgingDensity {
		t.Errorf("hedging ordering: %+v", byID)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	t.Parallel()

	if got := coefficientOfVariation([]float64{5, 5, 5}); got != 0 {
		t.Errorf("constant series cv %f", got)
	}
	if got := coefficientOfVariation([]float64{1, -1}); got != 0 {
		t.Errorf("zero-mean series cv %f", got)
	}
	if got := coefficientOfVariation([]float64{1}); got != 0 {
		t.Errorf("single sample cv %f", got)
	}
	if got := coefficientOfVariation([]float64{1, 3}); got <= 0 {
		t.Errorf("spread series cv %f", got)
	}
}
