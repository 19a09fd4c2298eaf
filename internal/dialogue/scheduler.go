package dialogue

import (
	"math/rand"
	"regexp"
	"strings"
)

// HumanID is the roster slot reserved for the human participant.
const HumanID = "human"

// explicitMentionRE extracts @name tokens from an utterance.
var explicitMentionRE = regexp.MustCompile(`@(\w+)`)

// Scheduler chooses the next speaker from a fixed roster. All randomness
// flows from one seeded stream, so two schedulers constructed with the same
// roster, seed, and cooldown produce identical sequences for identical
// inputs. Not safe for concurrent use; the session controller serializes
// access.
type Scheduler struct {
	roster       []string
	counts       map[string]int
	recent       []string
	cooldown     int
	humanAliases []string
	rng          *rand.Rand
}

// NewScheduler creates a scheduler over the ordered roster. When
// includeHuman is set the human slot joins the roster and responds to the
// aliases "human", "you", and humanHandle (the operator's display handle,
// may be empty).
func NewScheduler(roster []string, seed int64, cooldown int, includeHuman bool, humanHandle string) *Scheduler {
	s := &Scheduler{
		roster:   append([]string(nil), roster...),
		counts:   make(map[string]int, len(roster)+1),
		cooldown: cooldown,
		rng:      rand.New(rand.NewSource(seed)),
	}
	if includeHuman {
		s.roster = append(s.roster, HumanID)
		s.humanAliases = []string{HumanID, "you"}
		if h := strings.ToLower(strings.TrimSpace(humanHandle)); h != "" && h != HumanID && h != "you" {
			s.humanAliases = append(s.humanAliases, h)
		}
	}
	for _, id := range s.roster {
		s.counts[id] = 0
	}
	return s
}

// Roster returns the roster including the human slot, in order.
func (s *Scheduler) Roster() []string {
	return append([]string(nil), s.roster...)
}

// Counts returns a copy of the per-agent turn counts.
func (s *Scheduler) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// SelectNext picks the next speaker. A force naming a roster member bypasses
// every rule; an invalid force is ignored. Otherwise mentions in lastContent
// take priority, then a weighted least-spoken draw over the non-cooled-down
// roster.
func (s *Scheduler) SelectNext(lastContent, force string) string {
	if force != "" && s.inRoster(force) {
		s.record(force)
		return force
	}

	eligible := s.eligible()

	if mentioned := s.detectMentions(lastContent); len(mentioned) > 0 {
		for _, id := range mentioned {
			if contains(eligible, id) {
				s.record(id)
				return id
			}
		}
	}

	id := s.weightedPick(eligible)
	s.record(id)
	return id
}

// Record replays a known selection into the scheduler's state without
// consuming randomness. Used when resuming from a checkpoint and for human
// turns submitted outside a scheduling decision.
func (s *Scheduler) Record(agentID string) {
	if s.inRoster(agentID) {
		s.record(agentID)
	}
}

// eligible returns the roster minus the agents still in cooldown. An empty
// result falls back to the whole roster.
func (s *Scheduler) eligible() []string {
	k := s.cooldown
	if k == 0 && len(s.roster) > 1 {
		// Even without a cooldown window, never hand the floor straight
		// back to the previous speaker.
		k = 1
	}
	if k > len(s.recent) {
		k = len(s.recent)
	}
	cooled := s.recent[len(s.recent)-k:]

	var out []string
	for _, id := range s.roster {
		if !contains(cooled, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		out = append(out, s.roster...)
	}
	return out
}

// detectMentions returns the ordered union of explicit @name tokens and
// bare-name mentions found in text.
func (s *Scheduler) detectMentions(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var out []string
	add := func(id string) {
		if !contains(out, id) {
			out = append(out, id)
		}
	}

	// Explicit @mentions first.
	for _, m := range explicitMentionRE.FindAllStringSubmatch(lower, -1) {
		token := m[1]
		if s.isHumanAlias(token) {
			add(HumanID)
			continue
		}
		for _, id := range s.roster {
			if strings.ToLower(id) == token {
				add(id)
			}
		}
	}

	// Then bare names. The substring test deliberately mirrors the original
	// detector and can over-match (an id like "orin" matches inside an
	// unrelated word).
	for _, alias := range s.humanAliases {
		if strings.Contains(lower, alias) {
			add(HumanID)
			break
		}
	}
	for _, id := range s.roster {
		if id == HumanID {
			continue
		}
		idLower := strings.ToLower(id)
		first := strings.SplitN(idLower, "-", 2)[0]
		if strings.Contains(lower, idLower) || strings.Contains(lower, first) {
			add(id)
		}
	}
	return out
}

// weightedPick samples one agent from eligible proportional to
// max(count)+1 − count + 1, favouring the least-spoken voices.
func (s *Scheduler) weightedPick(eligible []string) string {
	if len(eligible) == 1 {
		return eligible[0]
	}

	maxCount := 0
	for _, id := range s.roster {
		if c := s.counts[id]; c > maxCount {
			maxCount = c
		}
	}
	maxTurns := maxCount + 1

	weights := make([]float64, len(eligible))
	var total float64
	for i, id := range eligible {
		w := float64(maxTurns - s.counts[id] + 1)
		weights[i] = w
		total += w
	}

	r := s.rng.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return eligible[i]
		}
	}
	return eligible[len(eligible)-1]
}

func (s *Scheduler) record(id string) {
	s.counts[id]++
	s.recent = append(s.recent, id)
	// Bound the ring; only the last cooldown window is ever consulted.
	if max := s.cooldown + 2; len(s.recent) > max && max > 0 {
		s.recent = s.recent[len(s.recent)-max:]
	}
}

func (s *Scheduler) inRoster(id string) bool {
	return contains(s.roster, id)
}

func (s *Scheduler) isHumanAlias(token string) bool {
	for _, a := range s.humanAliases {
		if a == token {
			return true
		}
	}
	return false
}

func contains(list []string, id string) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
