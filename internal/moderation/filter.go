// Package moderation provides content filtering for room comments. It
// screens text for prohibited terms and spam patterns before comments are
// delivered to recipients.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check.
type FilterResult struct {
	Blocked bool   // whether the text should be rejected
	Reason  string // blocked_keyword | spam_pattern
	Term    string // the matched blocklist term or spam check name
}

// Filter screens text against a keyword blocklist and the spam pattern
// checks. It is immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{} // single-word terms
	phrases []string            // multi-word terms, matched as token runs
}

// NewFilter returns a filter loaded with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms builds a filter from an explicit term list. Terms
// containing whitespace are treated as phrases; empty and whitespace-only
// entries are dropped. Matching is case-insensitive.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns a blocking result on the first match.
// Keyword matching is token-based, so blocked words inside longer words do
// not trigger ("grape" is fine with "rape" on the list). A second pass
// normalizes common leetspeak substitutions so "b@dw0rd" is caught when
// "badword" is listed. Spam patterns run last.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)
	tokens := tokenizePlain(lower)

	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	for _, tok := range tokenizeLeet(lower) {
		norm := normalizeLeet(tok)
		if _, ok := f.words[norm]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: norm}
		}
	}

	for _, phrase := range f.phrases {
		if containsRun(tokens, strings.Fields(phrase)) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: phrase}
		}
	}

	return f.checkSpamPatterns(text)
}

// containsRun reports whether needle appears as a consecutive run in
// haystack.
func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, want := range needle {
			if haystack[i+j] != want {
				continue outer
			}
		}
		return true
	}
	return false
}

// tokenizePlain splits text into alphanumeric tokens, discarding
// punctuation. "hello, world!" becomes ["hello" "world"].
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping symbol substitutions
// like "@" and "$" inside tokens for normalizeLeet to resolve.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}

// leetMap holds the common single-character substitutions normalized
// before the second blocklist pass.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet replaces leetspeak substitutions with their letters.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		b.WriteRune(r)
	}
	return b.String()
}

// defaultBlocklist is the built-in term list: slurs, self-harm baiting,
// sexual exploitation, violent threats, and common scam bait. Operators
// extend it via NewFilterWithTerms.
var defaultBlocklist = []string{
	// Slurs.
	"nigger",
	"nigga",
	"faggot",
	"tranny",
	"kike",
	"spic",
	"chink",
	// Self-harm baiting.
	"kill yourself",
	"kys",
	"go die",
	"neck yourself",
	// Sexual exploitation.
	"child porn",
	"cp trade",
	"send nudes",
	"underage sex",
	// Hate and threats.
	"heil hitler",
	"gas the",
	"bomb threat",
	"shoot up",
	"rape you",
	// Scam bait.
	"free bitcoin",
	"free robux",
	"crypto giveaway",
	"onlyfans promo",
}
