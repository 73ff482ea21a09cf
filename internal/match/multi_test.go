package match

import (
	"testing"

	"github.com/setcue/setcue/internal/setlist"
)

func worshipSetlist() []*setlist.Song {
	holyForever := setlist.CompileLines("hf", "Holy Forever", "", []string{
		"A thousand generations falling down in worship",
		"To sing the song of ages to the lamb",
	})
	worthy := setlist.CompileLines("wo", "Worthy", "", []string{
		"Worthy is your name",
		"Forever we will sing",
	})
	return []*setlist.Song{holyForever, worthy}
}

func TestFindAcrossSongs_InitialWordPenaltyBlocksMidPhrase(t *testing.T) {
	songs := worshipSetlist()
	cfg := NewConfig(0.70, 2, 15, false)
	ctx := NewContext(songs[0], 0, false)

	// "your name" is a mid-phrase fragment of the other song's first line.
	// Without the initial-word penalty it would score high enough to
	// auto-switch away from Holy Forever.
	r := FindBestMatchAcrossAllSongs("your name", songs, 0, ctx, cfg)
	if r.Suggested != nil && r.Suggested.Confidence >= 0.50 {
		t.Errorf("mid-phrase fragment scored %v, want < 0.50", r.Suggested.Confidence)
	}
}

func TestFindAcrossSongs_TitleBoost(t *testing.T) {
	songs := worshipSetlist()
	cfg := NewConfig(0.70, 2, 15, false)
	ctx := NewContext(songs[1], 0, false)

	r := FindBestMatchAcrossAllSongs("holy forever", songs, 1, ctx, cfg)
	if r.Suggested == nil {
		t.Fatal("Suggested = nil, want a switch to Holy Forever")
	}
	if r.Suggested.SongIndex != 0 {
		t.Errorf("SongIndex = %d, want 0", r.Suggested.SongIndex)
	}
	if r.Suggested.SongID != "hf" {
		t.Errorf("SongID = %q, want %q", r.Suggested.SongID, "hf")
	}
	if r.Suggested.MatchedLineIndex != 0 {
		t.Errorf("MatchedLineIndex = %d, want 0", r.Suggested.MatchedLineIndex)
	}
	if r.Suggested.Confidence < titleBoostConfidence {
		t.Errorf("Confidence = %v, want >= %v", r.Suggested.Confidence, titleBoostConfidence)
	}
}

func TestFindAcrossSongs_MarginKeepsCurrentSong(t *testing.T) {
	// Two songs sharing an identical line. Singing it matches the current
	// song perfectly, so the other song can never clear the margin.
	a := setlist.CompileLines("a", "First", "", []string{
		"Amazing grace how sweet the sound",
	})
	b := setlist.CompileLines("b", "Second", "", []string{
		"Amazing grace how sweet the sound",
	})
	songs := []*setlist.Song{a, b}
	cfg := NewConfig(0.70, 3, 15, false)
	ctx := NewContext(a, 0, false)

	r := FindBestMatchAcrossAllSongs("amazing grace how sweet the sound", songs, 0, ctx, cfg)
	if !r.Current.MatchFound {
		t.Fatal("current song did not match")
	}
	if r.Suggested != nil {
		t.Errorf("Suggested = %+v, want nil (within switch margin)", r.Suggested)
	}
}

func TestFindAcrossSongs_ShortBufferSkipsScan(t *testing.T) {
	songs := worshipSetlist()
	cfg := NewConfig(0.70, 3, 15, false)
	ctx := NewContext(songs[0], 0, false)

	r := FindBestMatchAcrossAllSongs("worthy is", songs, 0, ctx, cfg)
	if r.Suggested != nil {
		t.Error("Suggested set for a buffer below the minimum word count")
	}
}

func TestFindAcrossSongs_ClearLineWins(t *testing.T) {
	songs := worshipSetlist()
	cfg := NewConfig(0.70, 3, 15, false)
	ctx := NewContext(songs[0], 0, false)

	// The full opening line of the other song, sung from its first word, must
	// clear both the penalty and the margin.
	r := FindBestMatchAcrossAllSongs("worthy is your name", songs, 0, ctx, cfg)
	if r.Suggested == nil {
		t.Fatal("Suggested = nil, want a switch to Worthy")
	}
	if r.Suggested.SongIndex != 1 {
		t.Errorf("SongIndex = %d, want 1", r.Suggested.SongIndex)
	}
	if r.Suggested.MatchedLineIndex != 0 {
		t.Errorf("MatchedLineIndex = %d, want 0", r.Suggested.MatchedLineIndex)
	}
}

func TestBestLineInSong_PenaltyHalvesScore(t *testing.T) {
	song := setlist.CompileLines("wo", "Worthy", "", []string{
		"Worthy is your name",
	})

	_, aligned := bestLineInSong("worthy is your name", song)
	_, misaligned := bestLineInSong("your name", song)

	if aligned != 1 {
		t.Errorf("aligned score = %v, want 1", aligned)
	}
	if misaligned >= aligned {
		t.Errorf("misaligned score %v not penalised below aligned score %v", misaligned, aligned)
	}
}

func TestTitleMatches(t *testing.T) {
	cases := []struct {
		buffer, title string
		want          bool
	}{
		{"holy forever", "Holy Forever", true},
		{"holy forevr", "Holy Forever", true},
		{"amazing grace", "Holy Forever", false},
		{"anything", "", false},
	}
	for _, tc := range cases {
		if got := titleMatches(tc.buffer, tc.title); got != tc.want {
			t.Errorf("titleMatches(%q, %q) = %v, want %v", tc.buffer, tc.title, got, tc.want)
		}
	}
}

func TestSwitchMarginValue(t *testing.T) {
	if SwitchMargin != 0.15 {
		t.Errorf("SwitchMargin = %v, want 0.15", SwitchMargin)
	}
}
