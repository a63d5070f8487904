package lavago

import (
	"sort"
	"strings"
)

// undesiredKeywords are penalized in ranking when present in a
// candidate's title but absent from the original query (spec.md §4.10).
var undesiredKeywords = []string{"karaoke", "instrumental", "cover", "remix", "parody", "official video"}

// similarityScore is a character-bigram Sorensen-Dice coefficient in
// [0,1], used by the identification phase's 0.3 discard threshold.
// Bigrams discriminate far better than single-character overlap (any
// two English phrases share most of the alphabet) while staying a
// cheap, dependency-free "is this even the same song" gate ahead of a
// second, precise search.
func similarityScore(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	bigramsA := bigramSet(a)
	bigramsB := bigramSet(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}
	intersection := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			intersection++
		}
	}
	return 2 * float64(intersection) / float64(len(bigramsA)+len(bigramsB))
}

// bigramSet returns the set of adjacent-rune pairs in s, skipping
// spaces so word boundaries don't spuriously break a bigram.
func bigramSet(s string) map[[2]rune]bool {
	runes := make([]rune, 0, len(s))
	for _, r := range s {
		if r != ' ' {
			runes = append(runes, r)
		}
	}
	out := make(map[[2]rune]bool, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		out[[2]rune{runes[i], runes[i+1]}] = true
	}
	return out
}

// wordMatchRatio is the fraction of query's whitespace-separated words
// that appear as a substring of title, used as the ×150 ranking term.
func wordMatchRatio(query, title string) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	lowerTitle := strings.ToLower(title)
	matched := 0
	for _, w := range words {
		if strings.Contains(lowerTitle, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

// rankScore implements the scoring function of spec.md §4.10 exactly.
func rankScore(query string, t *Track) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	title := strings.ToLower(t.Title)
	titleAuthor := strings.ToLower(t.Title + " " + t.Author)

	var score float64
	switch {
	case title == q:
		score += 500
	case titleAuthor == q:
		score += 400
	}
	if strings.Contains(title, q) {
		score += 200
	}
	if strings.HasPrefix(title, q) {
		score += 100
	}
	score += wordMatchRatio(query, t.Title) * 150

	for _, kw := range undesiredKeywords {
		if strings.Contains(title, kw) && !strings.Contains(q, kw) {
			score -= 50
		}
	}

	wantsCover := strings.Contains(q, "cover")
	if strings.Contains(title, "official") && !wantsCover {
		score += 10
	}

	return score
}

// rankTracks reorders candidates by rankScore against query, highest first.
func rankTracks(query string, candidates []*Track) []*Track {
	out := make([]*Track, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return rankScore(query, out[i]) > rankScore(query, out[j])
	})
	return out
}
