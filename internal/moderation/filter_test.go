package moderation

import (
	"strings"
	"testing"
	"time"
)

// Test: The built-in blocklist is non-empty and loads into both buckets
func TestNewFilter_DefaultBlocklist(t *testing.T) {
	f := NewFilter()
	if len(f.words) == 0 || len(f.phrases) == 0 {
		t.Fatalf("default blocklist loaded %d words and %d phrases", len(f.words), len(f.phrases))
	}

	// One term from each blocklist category.
	for _, text := range []string{
		"nigger",
		"you should kill yourself",
		"dm me for child porn",
		"heil hitler everyone",
		"claim your free bitcoin now",
	} {
		if res := f.Check(text); !res.Blocked {
			t.Errorf("Check(%q) not blocked", text)
		}
	}
}

// Test: Single-word terms match whole tokens only
func TestCheck_KeywordTokens(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		comment string
		blocked bool
		term    string
	}{
		{"bare term", "badword", true, "badword"},
		{"mid comment", "that play was badword honestly", true, "badword"},
		{"upper case", "BADWORD", true, "badword"},
		{"ransom case", "BaDwOrD", true, "badword"},
		{"next to punctuation", "wow, badword!", true, "badword"},
		{"clean comment", "what a goal", false, ""},
		{"term as prefix", "badwording around is fine", false, ""},
		{"term as suffix", "mybadword", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.comment)
			if res.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.comment, res.Blocked, tt.blocked)
			}
			if !tt.blocked {
				return
			}
			if res.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.comment, res.Term, tt.term)
			}
			if res.Reason != "blocked_keyword" {
				t.Errorf("Check(%q).Reason = %q, want blocked_keyword", tt.comment, res.Reason)
			}
		})
	}
}

// Test: Phrase terms match consecutive token runs, not scattered words
func TestCheck_PhraseRuns(t *testing.T) {
	f := NewFilterWithTerms([]string{"kill yourself", "go die"})

	tests := []struct {
		name    string
		comment string
		blocked bool
		term    string
	}{
		{"bare phrase", "kill yourself", true, "kill yourself"},
		{"mid comment", "just kill yourself already", true, "kill yourself"},
		{"upper case", "KILL YOURSELF", true, "kill yourself"},
		{"second phrase", "go die somewhere", true, "go die"},
		{"inflected word", "kill yourselves", false, ""},
		{"tokens split apart", "kill time and enjoy yourself", false, ""},
		{"clean comment", "great save by the keeper", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.comment)
			if res.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.comment, res.Blocked, tt.blocked)
			}
			if tt.blocked && res.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.comment, res.Term, tt.term)
			}
		})
	}
}

// Test: Leetspeak substitutions normalize back onto the blocklist
func TestCheck_Leetspeak(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	for _, comment := range []string{
		"b@dw0rd",
		"b@dword",
		"off3n$ive",
		"offens1ve",
		"offens!ve",
		"0ff3n$!v3",
	} {
		if res := f.Check(comment); !res.Blocked {
			t.Errorf("Check(%q) not blocked", comment)
		}
	}
}

// Test: Ordinary room comments pass the default filter untouched
func TestCheck_CleanComments(t *testing.T) {
	f := NewFilter()

	for _, comment := range []string{
		"what a goal!",
		"the keeper had no chance there",
		"ref got that one right for once",
		"who do you have winning this?",
		"that was a world class assist",
		"I need to assess the replay first",
		"the grape halftime snacks were great",
		"extra time incoming",
		"",
	} {
		if res := f.Check(comment); res.Blocked {
			t.Errorf("Check(%q) blocked (reason=%q term=%q), want clean", comment, res.Reason, res.Term)
		}
	}
}

// Test: Empty and whitespace-only terms are dropped at construction
func TestNewFilterWithTerms_DiscardsBlanks(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "   ", "valid", " spaced phrase "})

	if _, ok := f.words["valid"]; !ok {
		t.Error("expected 'valid' in the word set")
	}
	if len(f.words) != 1 {
		t.Errorf("word set size = %d, want 1", len(f.words))
	}
	if len(f.phrases) != 1 || f.phrases[0] != "spaced phrase" {
		t.Errorf("phrases = %v, want [spaced phrase]", f.phrases)
	}
}

// ============================================================
// Tokenizer internals
// ============================================================

func TestNormalizeLeet(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"h3ll0", "hello"},
		{"@ss", "ass"},
		{"$h!t", "shit"},
		{"n0", "no"},
		{"ch@ng3", "change"},
	}
	for _, tt := range tests {
		if got := normalizeLeet(tt.in); got != tt.want {
			t.Errorf("normalizeLeet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenizePlain(t *testing.T) {
	tests := []struct {
		in   string
		want string // space-joined expectation, "" for no tokens
	}{
		{"nice goal", "nice goal"},
		{"nice, goal!", "nice goal"},
		{"  spaced  out  ", "spaced out"},
		{"one", "one"},
		{"", ""},
		{"off---side", "off side"},
	}
	for _, tt := range tests {
		if got := strings.Join(tokenizePlain(tt.in), " "); got != tt.want {
			t.Errorf("tokenizePlain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenizeLeet_KeepsSymbols(t *testing.T) {
	got := tokenizeLeet("hello $h!t bye")
	if len(got) != 3 || got[1] != "$h!t" {
		t.Fatalf("tokenizeLeet kept %v, want the symbol token intact", got)
	}
}

// ============================================================
// Latency
// ============================================================

// Check runs on the dispatch path of every COMMENT, so it has to stay well
// under a tenth of a millisecond.
func TestCheck_Latency(t *testing.T) {
	f := NewFilter()
	comment := "hey everyone, what a match so far, that counter attack in the second half was something else"

	const iterations = 1000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		f.Check(comment)
	}
	avgNs := time.Since(start).Nanoseconds() / iterations

	t.Logf("average Check latency: %.2f µs", float64(avgNs)/1000.0)

	maxNs := int64(100_000)
	if raceDetectorEnabled {
		maxNs = 1_000_000 // the race detector slows this far past the budget
	}
	if avgNs > maxNs {
		t.Errorf("Check latency %d ns exceeds %d ns", avgNs, maxNs)
	}
}

func BenchmarkCheck_Clean(b *testing.B) {
	f := NewFilter()
	comment := "hey everyone, what a match so far, that counter attack in the second half was something else"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(comment)
	}
}

func BenchmarkCheck_Blocked(b *testing.B) {
	f := NewFilter()
	comment := "this comment contains a nigger slur and gets rejected"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(comment)
	}
}

func BenchmarkCheck_LongComment(b *testing.B) {
	f := NewFilter()
	comment := strings.Repeat("a perfectly ordinary match comment with nothing to flag. ", 40)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(comment)
	}
}
