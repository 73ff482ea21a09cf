package match

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Amazing Grace", "amazing grace"},
		{"AMAZING GRACE, HOW SWEET THE SOUND!", "amazing grace how sweet the sound"},
		{"don't  stop", "don't stop"},
		{"'round the 'fire'", "round the fire"},
		{"  spaced   out  ", "spaced out"},
		{"semi;colon—dash", "semi colon dash"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Amazing Grace, How Sweet The Sound!",
		"don't stop believin'",
		"  O   Lord my God  ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestCleanBuffer_RemovesFillersAndDuplicates(t *testing.T) {
	got := CleanBuffer("um amazing uh amazing grace hmm how sweet", 15)
	want := "amazing grace how sweet"
	if got != want {
		t.Errorf("CleanBuffer = %q, want %q", got, want)
	}
}

func TestCleanBuffer_TrimsToWindow(t *testing.T) {
	got := CleanBuffer("one two three four five six", 3)
	if got != "four five six" {
		t.Errorf("CleanBuffer = %q, want %q", got, "four five six")
	}
}

func TestCleanBuffer_ZeroWindowKeepsAll(t *testing.T) {
	got := CleanBuffer("one two three", 0)
	if got != "one two three" {
		t.Errorf("CleanBuffer = %q, want %q", got, "one two three")
	}
}

func TestLastWords(t *testing.T) {
	if got := LastWords("a b c d", 2); got != "c d" {
		t.Errorf("LastWords = %q, want %q", got, "c d")
	}
	if got := LastWords("a b", 5); got != "a b" {
		t.Errorf("LastWords = %q, want %q", got, "a b")
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  amazing   grace "); got != 2 {
		t.Errorf("WordCount = %d, want 2", got)
	}
	if got := WordCount(""); got != 0 {
		t.Errorf("WordCount(empty) = %d, want 0", got)
	}
}
