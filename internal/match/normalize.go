// Package match implements the stateless fuzzy lyric matcher: transcript
// buffer preprocessing, bigram string similarity, the single-song line
// matcher with its end-of-line advance trigger, and the multi-song ranking
// used for automatic song switching.
//
// Everything in this package is a pure function of its inputs; all session
// state (buffers, debounce counters, cooldowns) lives in the session package.
package match

import (
	"regexp"
	"strings"
)

// fillers is the word-level filler set removed from transcript buffers
// before matching. Spoken hesitations carry no lyric signal and inflate
// the buffer window.
var fillers = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true,
	"oh": true, "ohh": true, "ah": true, "ahh": true,
	"hmm": true, "hm": true, "mhm": true, "mm": true,
	"er": true, "erm": true,
}

var nonLyricChars = regexp.MustCompile(`[^a-z0-9' ]+`)

// Normalize lowercases s, strips punctuation except apostrophes in
// contractions, and collapses whitespace. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonLyricChars.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	out := words[:0]
	for _, w := range words {
		// Apostrophes survive the character filter only to preserve
		// contractions ("don't"); bare or edge apostrophes are noise.
		w = strings.Trim(w, "'")
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// CleanBuffer produces the matcher-ready form of a raw rolling buffer:
// normalised, fillers removed, consecutive duplicate words collapsed, and
// trimmed to the most recent windowWords words.
func CleanBuffer(raw string, windowWords int) string {
	words := strings.Fields(Normalize(raw))

	kept := words[:0]
	prev := ""
	for _, w := range words {
		if fillers[w] {
			continue
		}
		if w == prev {
			continue
		}
		kept = append(kept, w)
		prev = w
	}

	if windowWords > 0 && len(kept) > windowWords {
		kept = kept[len(kept)-windowWords:]
	}
	return strings.Join(kept, " ")
}

// LastWords returns the trailing n words of s (which must already be
// whitespace-normalised). Returns s unchanged when it has n words or fewer.
func LastWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[len(words)-n:], " ")
}

// WordCount counts whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
