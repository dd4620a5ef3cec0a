package domain

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	// Scoring weights
	ScoreExactMatch     = 100.0
	ScorePrefixMatch    = 75.0
	ScoreSubstringMatch = 50.0
	ScoreFuzzyMatch     = 25.0

	// Position bonus (earlier is better)
	ScorePositionBonus = 10.0

	// Name hits outrank host and group hits
	weightName  = 1.0
	weightHost  = 0.8
	weightGroup = 0.5
)

// Match is a service with its relevance to a search query.
type Match struct {
	Service *Service
	Score   float64
}

// SearchServices ranks services against a free-text query.
//
// Every query fragment must match the name, the first host label or the
// group of a service for it to be returned. An empty query returns nil.
func SearchServices(query string, services []*Service) []Match {
	fragments := queryFragments(query)
	if len(fragments) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(services))
	for _, svc := range services {
		if score := scoreService(fragments, svc); score > 0 {
			matches = append(matches, Match{Service: svc, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Service.Name < matches[j].Service.Name
	})
	return matches
}

func scoreService(fragments []string, svc *Service) float64 {
	names := wordsOf(svc.Name)
	var host []string
	if h := svc.Hostname(); h != "" {
		host = strings.Split(h, ".")[:1]
	}
	groups := wordsOf(svc.Group)

	var total float64
	for _, frag := range fragments {
		best := math.Max(
			weightName*bestFragmentScore(frag, names),
			math.Max(weightHost*bestFragmentScore(frag, host), weightGroup*bestFragmentScore(frag, groups)),
		)
		if best == 0 {
			return 0
		}
		total += best
	}
	return total
}

func bestFragmentScore(frag string, words []string) float64 {
	var best float64
	for i, w := range words {
		if s := scoreFragment(frag, w, i); s > best {
			best = s
		}
	}
	return best
}

// scoreFragment scores one query fragment against one word.
func scoreFragment(queryFrag, word string, position int) float64 {
	queryFrag = normalizeFragment(queryFrag)
	word = normalizeFragment(word)

	if queryFrag == "" || word == "" {
		return 0.0
	}

	if queryFrag == word {
		return ScoreExactMatch + positionBonus(position)
	}

	if strings.HasPrefix(word, queryFrag) {
		return ScorePrefixMatch + positionBonus(position)
	}

	if idx := strings.Index(word, queryFrag); idx >= 0 {
		// Earlier substring matches get higher score
		return ScoreSubstringMatch + ScorePositionBonus*(1.0-float64(idx)/float64(len(word)))
	}

	if sim := similarity(queryFrag, word); sim > 0.5 {
		return ScoreFuzzyMatch * sim
	}

	return 0.0
}

func positionBonus(position int) float64 {
	return ScorePositionBonus * math.Exp(-float64(position)*0.3)
}

// similarity is the longest common subsequence of query and word, as a
// share of the query length.
func similarity(query, word string) float64 {
	q, w := []rune(query), []rune(word)
	if len(q) == 0 || len(w) == 0 {
		return 0.0
	}
	prev := make([]int, len(w)+1)
	cur := make([]int, len(w)+1)
	for i := 1; i <= len(q); i++ {
		for j := 1; j <= len(w); j++ {
			switch {
			case q[i-1] == w[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(w)]) / float64(len(q))
}

func queryFragments(q string) []string {
	return wordsOf(q)
}

// wordsOf splits s on anything that is not a letter or digit.
func wordsOf(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeFragment(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
