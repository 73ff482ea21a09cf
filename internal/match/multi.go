package match

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/setcue/setcue/internal/setlist"
)

const (
	// SwitchMargin is how far another song's best-line confidence must
	// exceed the current song's before it becomes a switch candidate.
	SwitchMargin = 0.15

	// initialWordPenalty halves the score of a candidate line the buffer
	// does not open; mid-phrase substring matches should not pull the
	// follower into another song.
	initialWordPenalty = 0.5

	// titleBoostConfidence is the floor confidence granted when the buffer
	// closely matches a song's title; singing the title is the strongest
	// cue a song has started regardless of first-line similarity.
	titleBoostConfidence = 0.75

	// titleMatchThreshold is the similarity the buffer must reach against a
	// normalised song title for the boost to apply. Either bigram or
	// Jaro-Winkler similarity qualifying is enough; titles are short, and
	// the two metrics fail differently on short strings.
	titleMatchThreshold = 0.80
)

// SuggestedSwitch identifies the song the matcher believes the singers have
// moved to.
type SuggestedSwitch struct {
	SongID           string
	SongIndex        int
	MatchedLineIndex int
	MatchedLine      string
	Confidence       float64
	SongTitle        string
}

// MultiResult pairs the current-song match with an optional cross-song
// switch candidate.
type MultiResult struct {
	Current Result

	// Suggested is non-nil when another song outscored the current song by
	// at least [SwitchMargin].
	Suggested *SuggestedSwitch
}

// FindBestMatchAcrossAllSongs matches the buffer against the current song's
// context and independently scans every other song in the setlist for its
// best-scoring line. Other-song lines score with the full-buffer similarity,
// subject to the initial-word penalty; a close title match lifts a song to
// at least [titleBoostConfidence] on its first line.
func FindBestMatchAcrossAllSongs(buffer string, songs []*setlist.Song, currentSong int, ctx Context, cfg Config) MultiResult {
	out := MultiResult{Current: FindBestMatch(buffer, ctx, cfg)}

	if WordCount(buffer) < cfg.MinBufferWords {
		return out
	}

	var best *SuggestedSwitch
	for i, song := range songs {
		if i == currentSong || len(song.Lines) == 0 {
			continue
		}

		lineIdx, score := bestLineInSong(buffer, song)

		if titleMatches(buffer, song.Title) {
			lineIdx = 0
			if score < titleBoostConfidence {
				score = titleBoostConfidence
			}
		}

		if best == nil || score > best.Confidence {
			best = &SuggestedSwitch{
				SongID:           song.ID,
				SongIndex:        i,
				MatchedLineIndex: lineIdx,
				MatchedLine:      song.Lines[lineIdx],
				Confidence:       score,
				SongTitle:        song.Title,
			}
		}
	}

	if best != nil && best.Confidence > out.Current.Confidence+SwitchMargin {
		out.Suggested = best
	}
	return out
}

// bestLineInSong returns the best-scoring line of song against the buffer,
// applying the initial-word penalty per line.
func bestLineInSong(buffer string, song *setlist.Song) (int, float64) {
	bufWords := strings.Fields(buffer)

	bestIdx, bestScore := 0, 0.0
	for i, raw := range song.Lines {
		line := Normalize(raw)
		score := Similarity(buffer, line)

		if len(bufWords) > 0 {
			lineWords := strings.Fields(line)
			if len(lineWords) == 0 || bufWords[0] != lineWords[0] {
				score *= initialWordPenalty
			}
		}

		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx, bestScore
}

// titleMatches reports whether the buffer is a close match to the song
// title under either similarity metric.
func titleMatches(buffer, title string) bool {
	t := Normalize(title)
	if t == "" {
		return false
	}
	if Similarity(buffer, t) >= titleMatchThreshold {
		return true
	}
	return matchr.JaroWinkler(buffer, t, false) >= titleMatchThreshold
}
