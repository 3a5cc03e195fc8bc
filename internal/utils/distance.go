// Package utils holds small string helpers used to match user input against
// field names and ids.
package utils

import "strings"

// Distance returns the case-insensitive Levenshtein distance between two
// strings, counted in runes.
func Distance(a, b string) int {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Closest returns the candidate nearest to s, provided it is within
// maxDistance edits. Ties go to the earlier candidate. An exact match is
// never a suggestion.
func Closest(s string, candidates []string, maxDistance int) (string, bool) {
	best, bestDist := "", maxDistance+1
	for _, c := range candidates {
		d := Distance(s, c)
		if d == 0 {
			continue
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != ""
}
