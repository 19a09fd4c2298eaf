package dialogue

import "testing"

func TestBleedStrip(t *testing.T) {
	t.Parallel()

	b := NewBleedStripper("Thera")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "I think the premise is wrong.", "I think the premise is wrong."},
		{"colon prefix", "Thera: I think the premise is wrong.", "I think the premise is wrong."},
		{"comma prefix", "Thera, we should slow down.", "we should slow down."},
		{"period prefix", "Thera. Consider the source.", "Consider the source."},
		{"as name i", "As Thera I believe the frame is too narrow.", "I believe the frame is too narrow."},
		{"as name comma", "As Thera, the frame is too narrow.", "the frame is too narrow."},
		{"as name bare", "As Thera the frame is too narrow.", "the frame is too narrow."},
		{"name here", "Thera here. The point stands.", "The point stands."},
		{"would respond", "I would respond: the point stands.", "the point stands."},
		{"case insensitive", "THERA: shouting does not help.", "shouting does not help."},
		{"leading space", "  Thera: trimmed.", "trimmed."},
		{"mid-text untouched", "I agree with Thera: the point stands.", "I agree with Thera: the point stands."},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := b.Strip(tc.in); got != tc.want {
				t.Errorf("Strip(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBleedStripIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBleedStripper("Orin")
	inputs := []string{
		"Orin: as I said before, Orin agrees.",
		"As Orin I hold the line.",
		"Orin here, with a question.",
		"plain text with no prefix",
	}
	for _, in := range inputs {
		once := b.Strip(in)
		twice := b.Strip(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestBleedStripSpecialCharName(t *testing.T) {
	t.Parallel()

	// Regex metacharacters in the display name must be treated literally.
	b := NewBleedStripper("R2.D2")
	if got := b.Strip("R2.D2: beep."); got != "beep." {
		t.Fatalf("got %q", got)
	}
	if got := b.Strip("R2xD2: beep."); got != "R2xD2: beep." {
		t.Fatalf("dot matched as wildcard: %q", got)
	}
}
