// Package setlist holds the compiled event/setlist data model consumed by
// the follow pipeline: songs as ordered non-empty lyric lines, slides as
// contiguous line ranges, and the line→slide mapping, plus the Loader
// contract for the external event store.
package setlist

import "fmt"

// Slide is one screen of displayed lyrics: a contiguous range of lines
// within a song.
type Slide struct {
	// StartLine and EndLine are inclusive indices into the song's Lines.
	StartLine int
	EndLine   int

	// Lines are the lines of this slide, in order.
	Lines []string

	// Text is the composed display text (lines joined with newlines).
	Text string
}

// Song is a compiled song: the ordered non-empty lyric lines, the ordered
// slides partitioning them, and the line→slide mapping. Songs are immutable
// after compilation and freely shared across sessions.
type Song struct {
	ID     string
	Title  string
	Artist string

	Lines []string

	// Slides partition Lines with no gaps or overlaps.
	Slides []Slide

	// LineToSlide maps each line index to the index of the slide that
	// contains it. len(LineToSlide) == len(Lines).
	LineToSlide []int
}

// SlideForLine returns the slide index containing lineIndex.
func (s *Song) SlideForLine(lineIndex int) (int, error) {
	if lineIndex < 0 || lineIndex >= len(s.LineToSlide) {
		return 0, fmt.Errorf("setlist: line index %d out of range [0, %d)", lineIndex, len(s.LineToSlide))
	}
	return s.LineToSlide[lineIndex], nil
}

// FirstLineOfSlide returns the first line index of slideIndex.
func (s *Song) FirstLineOfSlide(slideIndex int) (int, error) {
	if slideIndex < 0 || slideIndex >= len(s.Slides) {
		return 0, fmt.Errorf("setlist: slide index %d out of range [0, %d)", slideIndex, len(s.Slides))
	}
	return s.Slides[slideIndex].StartLine, nil
}

// Event is the immutable snapshot a session holds: event metadata plus the
// compiled setlist. Loaded once at session start and shared read-only across
// sessions of the same event.
type Event struct {
	ID    string
	Name  string
	Songs []*Song
}

// SongByID returns the index of the song with the given id, or -1.
func (e *Event) SongByID(id string) int {
	for i, s := range e.Songs {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Settings are the operator-adjustable event display settings. They live on
// the event snapshot so every session bound to the event sees the same
// values; they are not persisted.
type Settings struct {
	ProjectorFont  string
	BibleMode      bool
	BibleVersionID string
	BibleFollow    bool
}
