package setlist

import (
	"slices"
	"strings"
)

// SlideConfig controls how raw lyrics text is segmented into slides.
type SlideConfig struct {
	// LinesPerSlide is the greedy fill limit per slide. Values below 1 are
	// treated as 1.
	LinesPerSlide int

	// RespectStanzaBreaks forces a slide break after the non-empty line
	// preceding each blank line in the original text.
	RespectStanzaBreaks bool

	// BreakAfterLines lists additional line indices (into the compiled,
	// blank-stripped line list) after which a slide break is forced. It is
	// unioned with stanza breaks.
	BreakAfterLines []int
}

// Compile transforms raw lyrics text into the compiled (lines, slides,
// line→slide) form. It normalises line endings, trims each line, and drops
// empty lines; blank lines only survive as stanza break points when
// cfg.RespectStanzaBreaks is set.
//
// Compile is deterministic: the same text and config always produce the same
// result. The returned slides partition the line list with no gaps or
// overlaps.
func Compile(id, title, artist, lyrics string, cfg SlideConfig) *Song {
	linesPerSlide := cfg.LinesPerSlide
	if linesPerSlide < 1 {
		linesPerSlide = 1
	}

	raw := strings.Split(strings.ReplaceAll(lyrics, "\r\n", "\n"), "\n")

	var lines []string
	breaks := make(map[int]bool)
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l == "" {
			// A blank line marks the end of a stanza: break after the
			// preceding non-empty line.
			if cfg.RespectStanzaBreaks && len(lines) > 0 {
				breaks[len(lines)-1] = true
			}
			continue
		}
		lines = append(lines, l)
	}

	for _, idx := range cfg.BreakAfterLines {
		if idx >= 0 && idx < len(lines) {
			breaks[idx] = true
		}
	}

	song := &Song{
		ID:          id,
		Title:       title,
		Artist:      artist,
		Lines:       lines,
		LineToSlide: make([]int, len(lines)),
	}

	start := 0
	for i := range lines {
		song.LineToSlide[i] = len(song.Slides)
		filled := i - start + 1
		if filled >= linesPerSlide || breaks[i] || i == len(lines)-1 {
			song.Slides = append(song.Slides, makeSlide(lines, start, i))
			start = i + 1
		}
	}

	return song
}

// CompileLines builds a song directly from pre-split lines with one line per
// slide. Used for songs without an explicit slide config.
func CompileLines(id, title, artist string, lines []string) *Song {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			kept = append(kept, l)
		}
	}
	song := &Song{
		ID:          id,
		Title:       title,
		Artist:      artist,
		Lines:       kept,
		LineToSlide: make([]int, len(kept)),
	}
	for i := range kept {
		song.LineToSlide[i] = i
		song.Slides = append(song.Slides, makeSlide(kept, i, i))
	}
	return song
}

func makeSlide(lines []string, start, end int) Slide {
	slide := Slide{
		StartLine: start,
		EndLine:   end,
		Lines:     slices.Clone(lines[start : end+1]),
	}
	slide.Text = strings.Join(slide.Lines, "\n")
	return slide
}
