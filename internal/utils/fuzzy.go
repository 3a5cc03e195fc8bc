package utils

import "strings"

// FuzzyMatch reports whether every rune of query appears in target in order,
// ignoring case. "lprio" matches "Legacy Priority".
func FuzzyMatch(query, target string) bool {
	q := []rune(strings.ToLower(query))
	if len(q) == 0 {
		return true
	}
	i := 0
	for _, r := range strings.ToLower(target) {
		if r == q[i] {
			i++
			if i == len(q) {
				return true
			}
		}
	}
	return false
}
