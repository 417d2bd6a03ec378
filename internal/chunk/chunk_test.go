package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []string
	}{
		{"empty", "", 4096, nil},
		{"whitespace_only", "   \n\t", 4096, nil},
		{"single_sentence", "Hello there.", 4096, []string{"Hello there."}},
		{"two_sentences_fit", "Hello there. How are you?", 4096, []string{"Hello there. How are you?"}},
		{"split_at_boundary", "One. Two. Three.", 9, []string{"One. Two.", "Three."}},
		{"exact_fit", "Aa. Bb.", 7, []string{"Aa. Bb."}},
		{"one_over", "Aa. Bb.", 6, []string{"Aa.", "Bb."}},
		{"oversized_sentence_alone", "Short. This sentence is far too long. End.", 10, []string{"Short.", "This sentence is far too long.", "End."}},
		{"oversized_first_sentence", "This sentence is far too long. Ok.", 10, []string{"This sentence is far too long.", "Ok."}},
		{"newlines_are_boundaries", "First!\nSecond?\n\nThird.", 8, []string{"First!", "Second?", "Third."}},
		{"no_terminal_punctuation", "just some words without an end", 4096, []string{"just some words without an end"}},
		{"default_on_zero", "Hi.", 0, []string{"Hi."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.maxLength)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%q, %d) = %q, want %q", tt.text, tt.maxLength, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitBounds(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%37))
		switch i % 3 {
		case 0:
			b.WriteString(". ")
		case 1:
			b.WriteString("! ")
		default:
			b.WriteString("? ")
		}
	}
	text := b.String()

	for _, max := range []int{20, 64, 100, 4096} {
		chunks := Split(text, max)
		for i, c := range chunks {
			if n := utf8.RuneCountInString(c); n > max && len(Sentences(c)) != 1 {
				t.Errorf("max=%d chunk[%d] has %d runes and %d sentences", max, i, n, len(Sentences(c)))
			}
			if c != strings.TrimSpace(c) || c == "" {
				t.Errorf("max=%d chunk[%d] = %q is not trimmed/non-empty", max, i, c)
			}
		}

		joined := strings.Join(chunks, " ")
		if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
			t.Errorf("max=%d: chunks do not reconstruct the input", max)
		}
	}
}

func TestSplitCountsRunes(t *testing.T) {
	// 5 runes, 9 bytes per sentence.
	text := "Прив. Прив."
	got := Split(text, 11)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1 (rune-based length): %q", len(got), got)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "A b c. D e f! G h i? J k l."
	a := Split(text, 12)
	b := Split(text, 12)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Errorf("Split not deterministic: %q vs %q", a, b)
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("  Hello there.   How are you? Fine  ")
	want := []string{"Hello there.", "How are you?", "Fine"}
	if len(got) != len(want) {
		t.Fatalf("Sentences = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
