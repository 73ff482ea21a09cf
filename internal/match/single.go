package match

import "strings"

// Advance reasons reported on a match result.
const (
	// ReasonJump means the best-scoring line is past the current line.
	ReasonJump = "jump"

	// ReasonEndWords means the buffer reached the tail of the current line
	// (or of the current slide, under the bigram safeguard).
	ReasonEndWords = "end-words"
)

// Defaults for [Config].
const (
	DefaultLookAhead = 3

	// bufferTailWords is how many trailing buffer words feed the
	// end-of-buffer comparison that captures line transitions.
	bufferTailWords = 6

	// tailBoost favours the buffer tail landing on a line past the current
	// one; the tail is where freshly sung words accumulate.
	tailBoost = 1.2

	// endTriggerRatio scales the accept threshold down for the end-words
	// trigger, which compares against a much shorter target.
	endTriggerRatio = 0.5
)

// Config holds the matcher thresholds and windows. Construct via
// [NewConfig] so values are clamped to valid ranges.
type Config struct {
	// Threshold is the accept floor for line similarity, in [0, 1].
	Threshold float64

	// MinBufferWords is the minimum buffer word count before matching.
	MinBufferWords int

	// BufferWindowWords is the recent-word window kept for matching.
	BufferWindowWords int

	// LookAhead is how many lines from the current line are candidates
	// (the current line plus LookAhead-1 subsequent lines).
	LookAhead int

	// UseBigramEndOfSlide enables the repeating-phrase safeguard.
	UseBigramEndOfSlide bool

	// Debug enables per-candidate score logging by callers.
	Debug bool
}

// NewConfig returns a Config with defaults applied and every field clamped
// into its valid range.
func NewConfig(threshold float64, minBufferWords, bufferWindowWords int, useBigram bool) Config {
	cfg := Config{
		Threshold:           threshold,
		MinBufferWords:      minBufferWords,
		BufferWindowWords:   bufferWindowWords,
		LookAhead:           DefaultLookAhead,
		UseBigramEndOfSlide: useBigram,
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.70
	}
	if cfg.MinBufferWords < 1 {
		cfg.MinBufferWords = 3
	}
	if cfg.BufferWindowWords < 1 {
		cfg.BufferWindowWords = 15
	}
	return cfg
}

// Result is the outcome of matching a cleaned buffer against a song context.
type Result struct {
	// MatchFound reports whether the result is accepted: either the best
	// line's confidence reached the threshold or the end-words trigger
	// fired.
	MatchFound bool

	// LineIndex is the best-scoring candidate line.
	LineIndex int

	// Confidence is the best candidate's similarity score.
	Confidence float64

	// IsLineEnd signals an advance: the follower should move to
	// NextLineIndex (subject to the session's debounce and forward-only
	// policies).
	IsLineEnd bool

	// NextLineIndex is the line to advance to when IsLineEnd is set.
	NextLineIndex int

	// AdvanceReason is ReasonJump or ReasonEndWords when IsLineEnd is set.
	AdvanceReason string

	// EndTriggerScore is the end-words comparison score when the trigger
	// fired.
	EndTriggerScore float64
}

// FindBestMatch matches a cleaned buffer against the song context. The
// buffer is compared to the current line and up to LookAhead-1 subsequent
// lines, taking for each candidate the better of a full-buffer similarity
// and a buffer-tail similarity (the tail comparison is boosted for
// non-current lines to capture transitions). Ties keep the earliest
// candidate so a line repeated verbatim on the next slide never causes a
// spurious jump.
func FindBestMatch(buffer string, ctx Context, cfg Config) Result {
	if len(ctx.Lines) == 0 || WordCount(buffer) < cfg.MinBufferWords {
		return Result{}
	}

	lookAhead := cfg.LookAhead
	if lookAhead < 1 {
		lookAhead = DefaultLookAhead
	}
	last := ctx.CurrentLine + lookAhead - 1
	if last >= len(ctx.Lines) {
		last = len(ctx.Lines) - 1
	}

	tail := LastWords(buffer, bufferTailWords)

	best := Result{LineIndex: ctx.CurrentLine}
	for i := ctx.CurrentLine; i <= last; i++ {
		line := ctx.Lines[i]

		score := Similarity(buffer, line)
		tailScore := Similarity(tail, line)
		if i != ctx.CurrentLine {
			tailScore *= tailBoost
			if tailScore > 1 {
				tailScore = 1
			}
		}
		if tailScore > score {
			score = tailScore
		}

		if score > best.Confidence {
			best.Confidence = score
			best.LineIndex = i
		}
	}

	if best.Confidence >= cfg.Threshold {
		best.MatchFound = true
	}

	if best.MatchFound && best.LineIndex > ctx.CurrentLine {
		best.IsLineEnd = true
		best.NextLineIndex = best.LineIndex
		best.AdvanceReason = ReasonJump
		return best
	}

	// Best line is the current line: test the end-words trigger. The
	// trigger may accept a result whose line confidence is below the
	// threshold; reaching the tail of the line is its own evidence.
	if best.LineIndex == ctx.CurrentLine && ctx.CurrentLine+1 < len(ctx.Lines) {
		if score, ok := endTrigger(buffer, ctx, cfg); ok {
			best.MatchFound = true
			best.IsLineEnd = true
			best.NextLineIndex = ctx.CurrentLine + 1
			best.AdvanceReason = ReasonEndWords
			best.EndTriggerScore = score
		}
	}

	return best
}

// endTrigger compares the buffer tail against the end-trigger target (the
// last ~40% of the current line, or of the slide's last two lines combined
// under the bigram safeguard). The buffer must contain at least as many
// words as the target: under the bigram safeguard that requirement is what
// forces words from the second-to-last line into the buffer before a
// boundary advance fires.
func endTrigger(buffer string, ctx Context, cfg Config) (float64, bool) {
	target := ctx.endTriggerTarget()
	if len(target) == 0 {
		return 0, false
	}

	bufWords := strings.Fields(buffer)
	if len(bufWords) < len(target) {
		return 0, false
	}

	bufTail := strings.Join(bufWords[len(bufWords)-len(target):], " ")
	score := Similarity(bufTail, strings.Join(target, " "))
	if score > cfg.Threshold*endTriggerRatio {
		return score, true
	}
	return 0, false
}
