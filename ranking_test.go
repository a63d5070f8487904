package lavago

import "testing"

func TestRankScoreExactTitleBeatsPartial(t *testing.T) {
	exact := &Track{Title: "Nightcall", Author: "Kavinsky"}
	partial := &Track{Title: "Nightcall (Extended Mix)", Author: "Kavinsky"}
	if rankScore("nightcall", exact) <= rankScore("nightcall", partial) {
		t.Fatalf("expected exact title match to outscore partial match")
	}
}

func TestRankScorePenalizesUndesiredKeyword(t *testing.T) {
	clean := &Track{Title: "Nightcall"}
	karaoke := &Track{Title: "Nightcall (Karaoke Version)"}
	if rankScore("nightcall", clean) <= rankScore("nightcall", karaoke) {
		t.Fatalf("expected karaoke-tagged result to score lower than clean result")
	}
}

func TestRankScoreDoesNotPenalizeKeywordPresentInQuery(t *testing.T) {
	karaoke := &Track{Title: "Karaoke Nightcall Anthem"}
	withPenalty := rankScore("nightcall", karaoke)
	withoutPenalty := rankScore("karaoke nightcall", karaoke)
	if withoutPenalty <= withPenalty {
		t.Fatalf("expected matching query keyword to avoid the penalty: %f vs %f", withoutPenalty, withPenalty)
	}
}

// TestAutocompleteRankingOrder mirrors the example in spec.md §8:
// "Nightcall"/"Night Changes" must rank above "Nightcall (Karaoke)", and
// all three above "Good Night" for the query "night".
func TestAutocompleteRankingOrder(t *testing.T) {
	candidates := []*Track{
		{Title: "Good Night"},
		{Title: "Nightcall"},
		{Title: "Night Changes"},
		{Title: "Nightcall (Karaoke)"},
	}
	ranked := rankTracks("night", candidates)

	indexOf := func(title string) int {
		for i, t := range ranked {
			if t.Title == title {
				return i
			}
		}
		return -1
	}

	karaokeIdx := indexOf("Nightcall (Karaoke)")
	goodNightIdx := indexOf("Good Night")
	if indexOf("Nightcall") >= karaokeIdx {
		t.Fatalf("expected Nightcall to rank above the karaoke variant, got order %v", titlesOf(ranked))
	}
	if indexOf("Night Changes") >= karaokeIdx {
		t.Fatalf("expected Night Changes to rank above the karaoke variant, got order %v", titlesOf(ranked))
	}
	if karaokeIdx >= goodNightIdx {
		t.Fatalf("expected the karaoke variant to still outrank Good Night, got order %v", titlesOf(ranked))
	}
}

func titlesOf(tracks []*Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

func TestSimilarityScoreGate(t *testing.T) {
	if s := similarityScore("nightcall", "nightcall"); s < 0.3 {
		t.Fatalf("expected identical strings to pass the 0.3 gate, got %f", s)
	}
	if s := similarityScore("nightcall", "completely unrelated podcast episode"); s >= 0.3 {
		t.Fatalf("expected unrelated strings to fail the 0.3 gate, got %f", s)
	}
}
