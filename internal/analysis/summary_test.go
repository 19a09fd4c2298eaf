package analysis

import (
	"fmt"
	"math/rand"
	"testing"
)

func seededAnalyzer(t *testing.T, turns int) *Analyzer {
	t.Helper()
	a := NewAnalyzer(42)
	rng := rand.New(rand.NewSource(13))
	agents := []string{"ada", "ben", "cyr"}
	for turn := 0; turn < turns; turn++ {
		content := fmt.Sprintf("I think utterance %d moves the question somewhere new, perhaps.", turn)
		a.ProcessTurn(agents[turn%len(agents)], content, randomEmbedding(rng, 6))
	}
	return a
}

func TestSummarizeBasics(t *testing.T) {
	t.Parallel()

	a := seededAnalyzer(t, 15)
	s := a.Summarize(false)

	if s.Turns != 15 {
		t.Fatalf("turns = %d", s.Turns)
	}
	if s.Confidence != nil {
		t.Fatal("confidence attached without request")
	}
	if s.VelocityMean <= 0 || s.VelocityMax < s.VelocityMean {
		t.Fatalf("velocity stats: mean %f max %f", s.VelocityMean, s.VelocityMax)
	}
	if s.PathLength < s.Displacement {
		t.Fatalf("path %f shorter than displacement %f", s.PathLength, s.Displacement)
	}

	var total float64
	for _, f := range s.BasinDistribution {
		total += f
	}
	if !almostEqual(total, 1, 1e-9) {
		t.Fatalf("basin distribution sums to %f", total)
	}
	if s.DominantBasin == "" || s.BasinDistribution[s.DominantBasin] != s.DominantBasinPct {
		t.Fatalf("dominant basin %q at %f", s.DominantBasin, s.DominantBasinPct)
	}

	wantDensity := float64(s.Transitions) / 15
	if !almostEqual(s.TransformationDensity, wantDensity, 1e-12) {
		t.Fatalf("transformation density %f, want %f", s.TransformationDensity, wantDensity)
	}

	if len(s.AgentAffects) != 3 {
		t.Fatalf("agent affects = %+v", s.AgentAffects)
	}
	for i := 1; i < len(s.AgentAffects); i++ {
		if s.AgentAffects[i-1].AgentID > s.AgentAffects[i].AgentID {
			t.Fatalf("agent affects unsorted: %+v", s.AgentAffects)
		}
	}
}

func TestSummarizeRatioDefault(t *testing.T) {
	t.Parallel()

	// No inquiry or mimicry classifications at all: the ratio is undefined
	// and reported as the neutral midpoint.
	a := NewAnalyzer(1)
	s := a.Summarize(false)
	if s.InquiryMimicryRatio != 0.5 {
		t.Fatalf("empty ratio = %f", s.InquiryMimicryRatio)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := NewAnalyzer(1).Summarize(true)
	if s.Turns != 0 {
		t.Fatalf("turns = %d", s.Turns)
	}
	if s.Alpha != 0.5 {
		t.Fatalf("alpha = %f", s.Alpha)
	}
	if s.TransformationDensity != 0 {
		t.Fatalf("density = %f", s.TransformationDensity)
	}
	if s.Confidence == nil {
		t.Fatal("confidence report missing")
	}
}

func TestSummarizeConfidence(t *testing.T) {
	t.Parallel()

	a := seededAnalyzer(t, 20)
	s := a.Summarize(true)
	c := s.Confidence
	if c == nil {
		t.Fatal("confidence report missing")
	}

	for name, iv := range map[string]Interval{
		"delta_kappa": c.DeltaKappaCI,
		"alpha":       c.AlphaCI,
		"entropy":     c.EntropyShiftCI,
	} {
		if iv.Low > iv.High {
			t.Errorf("%s interval inverted: %+v", name, iv)
		}
	}

	if c.DeltaKappaNullP < 0 || c.DeltaKappaNullP > 1 {
		t.Errorf("null p = %f", c.DeltaKappaNullP)
	}
	if c.AlphaR2 < 0 || c.AlphaR2 > 1 {
		t.Errorf("alpha R² = %f", c.AlphaR2)
	}
	if c.EntropyStability > 1 {
		t.Errorf("entropy stability = %f", c.EntropyStability)
	}

	if got := c.DeltaKappaSignificant; got != (s.DeltaKappa >= deltaKappaThreshold) {
		t.Errorf("delta kappa flag %v for %f", got, s.DeltaKappa)
	}
	if got := c.AlphaInBand; got != (s.Alpha >= alphaBandLow && s.Alpha <= alphaBandHigh) {
		t.Errorf("alpha flag %v for %f", got, s.Alpha)
	}
	if got := c.EntropyShiftElevated; got != (s.EntropyShift >= entropyShiftThreshold) {
		t.Errorf("entropy flag %v for %f", got, s.EntropyShift)
	}
}

func TestSummarizeDeterministic(t *testing.T) {
	t.Parallel()

	first := seededAnalyzer(t, 16).Summarize(true)
	second := seededAnalyzer(t, 16).Summarize(true)

	if first.DeltaKappa != second.DeltaKappa ||
		first.EntropyShift != second.EntropyShift ||
		first.Alpha != second.Alpha {
		t.Fatalf("headline metrics diverged: %+v vs %+v", first, second)
	}
	if *first.Confidence != *second.Confidence {
		t.Fatalf("confidence diverged:\n%+v\n%+v", first.Confidence, second.Confidence)
	}
}
