package persona

import (
	"fmt"
	"strings"
)

// Participant identifies one member of the circle for prompt composition.
type Participant struct {
	ID    string
	Name  string
	Human bool
}

// dialecticalNorms is appended to every system prompt. The circle is meant
// to produce disagreement, not consensus theatre.
const dialecticalNorms = `DIALECTICAL NORMS:
- Declare disagreement plainly when you disagree.
- Ask questions that could refute a claim, not only extend it.
- Name tensions between perspectives when you notice them.
- Acknowledge uncertainty instead of papering over it.`

// SystemPrompt composes the full system message for the persona with the
// given ID. Layering order: epistemic lens, voice guidance, persona prompt
// additions, personality description, signature phrases, the circle block
// naming the other participants, and the dialectical norms.
func (s *Store) SystemPrompt(id string, others []Participant) (string, error) {
	p, err := s.Persona(id)
	if err != nil {
		return "", err
	}

	var tpl *Template
	if p.Template != "" {
		if tpl, err = s.Template(p.Template); err != nil {
			return "", err
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "You are %s. %s\n", p.Name, p.Description)
	if p.Character != "" {
		b.WriteString(p.Character)
		b.WriteString("\n")
	}

	if tpl != nil {
		if tpl.EpistemicLens != "" {
			b.WriteString("\n")
			b.WriteString(tpl.EpistemicLens)
			b.WriteString("\n")
		}
		writeVoiceGuidance(&b, tpl.VoiceGuidance)
	}

	if p.PromptAdditions != "" {
		b.WriteString("\n")
		b.WriteString(p.PromptAdditions)
		b.WriteString("\n")
	}

	personality := p.EffectivePersonality(tpl)
	if desc := personality.PromptDescription(); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}

	if len(p.SignaturePhrases) > 0 {
		b.WriteString("\nPhrases that sound like you (use sparingly): ")
		b.WriteString(strings.Join(p.SignaturePhrases, "; "))
		b.WriteString("\n")
	}

	writeCircleBlock(&b, p, others)

	b.WriteString("\n")
	b.WriteString(dialecticalNorms)

	return b.String(), nil
}

func writeVoiceGuidance(b *strings.Builder, vg VoiceGuidance) {
	if vg.Style == "" && vg.Register == "" && len(vg.Patterns) == 0 && len(vg.Avoid) == 0 {
		return
	}
	b.WriteString("\nVOICE:\n")
	if vg.Style != "" {
		fmt.Fprintf(b, "- Style: %s\n", vg.Style)
	}
	if vg.Register != "" {
		fmt.Fprintf(b, "- Register: %s\n", vg.Register)
	}
	for _, pat := range vg.Patterns {
		fmt.Fprintf(b, "- Pattern: %s\n", pat)
	}
	for _, av := range vg.Avoid {
		fmt.Fprintf(b, "- Avoid: %s\n", av)
	}
}

func writeCircleBlock(b *strings.Builder, self *Persona, others []Participant) {
	b.WriteString("\nTHE CIRCLE:\nThe other voices in this conversation:\n")
	for _, o := range others {
		if o.ID == self.ID {
			continue
		}
		if o.Human {
			fmt.Fprintf(b, "- %s (the human participant, @%s)\n", o.Name, o.ID)
		} else {
			fmt.Fprintf(b, "- %s (@%s)\n", o.Name, o.ID)
		}
	}
	b.WriteString("\nADDRESSING OTHERS:\n")
	b.WriteString("- Use @Name to address another voice directly.\n")
	fmt.Fprintf(b, "- Never address @%s; that is you.\n", self.ID)
	b.WriteString("\nCRITICAL RULES:\n")
	b.WriteString("- Never prefix your reply with your own name.\n")
	b.WriteString("- Respond in 2-3 sentences.\n")
	b.WriteString("- Build on what was said; do not summarize it.\n")
}
