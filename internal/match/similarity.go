package match

// Similarity is the Sørensen–Dice coefficient over character bigrams,
// in [0, 1]. It is symmetric, Similarity(x, x) == 1 for non-empty x, and
// degrades gracefully as noise is added; short transcription errors shift
// only a few bigrams.
//
// Inputs are compared as-is; callers normalise first.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	counts := make(map[string]int, len(a)-1)
	for i := 0; i+2 <= len(a); i++ {
		counts[a[i:i+2]]++
	}

	shared := 0
	for i := 0; i+2 <= len(b); i++ {
		bg := b[i : i+2]
		if counts[bg] > 0 {
			counts[bg]--
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(a) + len(b) - 2)
}
