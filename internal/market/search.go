package market

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// Field weights applied before taking the per-market maximum.
const (
	titleWeight       = 1.0
	outcomeWeight     = 0.9
	descriptionWeight = 0.8
)

// Match is a market with its relevance score.
type Match struct {
	Market domain.Market `json:"market"`
	Score  float64       `json:"score"`
}

// Rank scores every market against term, drops scores at or below cutoff, and
// returns the best topK, highest first. Ties break by ascending id.
func Rank(markets []domain.Market, term string, cutoff float64, topK int) []Match {
	matches := make([]Match, 0, len(markets))
	for _, m := range markets {
		if s := MarketScore(term, m); s > cutoff {
			matches = append(matches, Match{Market: m, Score: s})
		}
	}
	slices.SortFunc(matches, func(a, b Match) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.Market.ID, b.Market.ID))
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// MarketScore is the strongest weighted field score of m: title, best
// outcome name, or description.
func MarketScore(term string, m domain.Market) float64 {
	best := Score(term, m.Metadata.Title) * titleWeight

	var outcome float64
	for _, name := range m.Metadata.Outcomes {
		outcome = max(outcome, Score(term, name))
	}
	best = max(best, outcome*outcomeWeight)

	return max(best, Score(term, m.Metadata.Description)*descriptionWeight)
}

// Score rates how well term matches field, from 0 to 100. A case-insensitive
// substring scores 100; otherwise tokens are compared pairwise.
func Score(term, field string) float64 {
	term = strings.ToLower(strings.TrimSpace(term))
	field = strings.ToLower(field)
	if term == "" || field == "" {
		return 0
	}
	if strings.Contains(field, term) {
		return 100
	}

	queryTokens := tokenize(term)
	fieldTokens := tokenize(field)
	if len(queryTokens) == 0 || len(fieldTokens) == 0 {
		return 0
	}

	var sum, best float64
	for _, qt := range queryTokens {
		var tokenBest float64
		for _, ft := range fieldTokens {
			tokenBest = max(tokenBest, tokenScore(qt, ft))
		}
		sum += tokenBest
		best = max(best, tokenBest)
	}
	avg := sum / float64(len(queryTokens))
	return min(avg*0.7+best*0.3, 100)
}

// tokenScore compares one query token with one field token.
func tokenScore(q, f string) float64 {
	if q == f {
		return 100
	}
	if strings.Contains(f, q) || strings.Contains(q, f) {
		return 80
	}
	ql, fl := len([]rune(q)), len([]rune(f))
	if ql <= 3 || abs(ql-fl) > 2 {
		return 0
	}
	if sim := Similarity(q, f); sim > 0.7 {
		return sim * 70
	}
	return 0
}

// Similarity is the normalized edit similarity (maxLen - distance) / maxLen.
func Similarity(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return float64(maxLen-Levenshtein(a, b)) / float64(maxLen)
}

// Levenshtein returns the edit distance between a and b with unit costs for
// insertion, deletion, and substitution.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// tokenize splits s on anything that is not a letter or digit and keeps
// tokens longer than one rune.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
