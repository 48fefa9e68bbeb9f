package registry

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
)

// suggestThreshold keeps wild guesses out of suggestion lists; values
// below it read as unrelated names rather than typos.
const suggestThreshold = 0.70

// Suggest ranks candidates by Jaro-Winkler similarity to input and
// returns the closest matches, best first. Exact matches are excluded
// since the caller already knows the input missed.
func Suggest(candidates []string, input string, max int) []string {
	if input == "" || max <= 0 {
		return nil
	}

	type scored struct {
		name  string
		score float32
	}
	var ranked []scored
	for _, c := range candidates {
		if c == input {
			continue
		}
		score, err := edlib.StringsSimilarity(strings.ToLower(input), strings.ToLower(c), edlib.JaroWinkler)
		if err != nil || score < suggestThreshold {
			continue
		}
		ranked = append(ranked, scored{name: c, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.name
	}
	return out
}
