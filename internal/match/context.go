package match

import (
	"math"
	"strings"

	"github.com/setcue/setcue/internal/setlist"
)

// Context is the matcher's view of the song currently in focus: its
// normalised lines, the current line index, and, when the current line ends
// its slide, the end-of-slide bigram target.
//
// A Context is immutable; the session rebuilds it whenever the current line
// or song changes.
type Context struct {
	// Song is the compiled song in focus.
	Song *setlist.Song

	// Lines are the song's lines, pre-normalised for matching.
	Lines []string

	// CurrentLine is the index of the line the display is on.
	// Invariant: 0 <= CurrentLine < len(Lines).
	CurrentLine int

	// EndOfSlideTarget is the normalised concatenation of the last two lines
	// of the current slide, set only when the bigram safeguard applies: the
	// safeguard is enabled, the current line is the last line of its slide,
	// and the slide has at least two lines. Empty otherwise.
	EndOfSlideTarget string
}

// NewContext builds a Context for song at lineIndex. useBigramEndOfSlide
// enables the end-of-slide bigram target. lineIndex is clamped into the
// song's line range.
func NewContext(song *setlist.Song, lineIndex int, useBigramEndOfSlide bool) Context {
	if lineIndex < 0 {
		lineIndex = 0
	}
	if lineIndex >= len(song.Lines) && len(song.Lines) > 0 {
		lineIndex = len(song.Lines) - 1
	}

	ctx := Context{
		Song:        song,
		Lines:       make([]string, len(song.Lines)),
		CurrentLine: lineIndex,
	}
	for i, l := range song.Lines {
		ctx.Lines[i] = Normalize(l)
	}

	if useBigramEndOfSlide && len(song.Lines) > 0 && lineIndex < len(song.LineToSlide) {
		slide := song.Slides[song.LineToSlide[lineIndex]]
		if lineIndex == slide.EndLine && len(slide.Lines) >= 2 {
			tail := slide.Lines[len(slide.Lines)-2:]
			ctx.EndOfSlideTarget = Normalize(strings.Join(tail, " "))
		}
	}

	return ctx
}

// endTriggerTarget returns the word sequence the end-words advance trigger
// compares against: the last ~40% of the end-of-slide bigram target when
// set, otherwise the last ~40% of the current line. Returns nil when the
// context has no lines.
func (c *Context) endTriggerTarget() []string {
	source := ""
	if c.EndOfSlideTarget != "" {
		source = c.EndOfSlideTarget
	} else if c.CurrentLine < len(c.Lines) {
		source = c.Lines[c.CurrentLine]
	}
	words := strings.Fields(source)
	if len(words) == 0 {
		return nil
	}
	n := int(math.Round(float64(len(words)) * 0.4))
	if n < 1 {
		n = 1
	}
	return words[len(words)-n:]
}
