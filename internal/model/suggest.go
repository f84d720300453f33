package model

import "sort"

// maxSuggestDistance bounds the edit-distance search for similar IDs.
const maxSuggestDistance = 3

// maxSuggestions caps how many similar IDs an issue carries.
const maxSuggestions = 3

// Suggest returns up to three known base IDs within edit distance 3 of
// the unknown ID, nearest first, ties broken lexicographically.
func Suggest(unknown string, known []string) []string {
	type candidate struct {
		id   string
		dist int
	}
	var cands []candidate
	for _, id := range known {
		if d := levenshtein(unknown, id, maxSuggestDistance); d >= 0 {
			cands = append(cands, candidate{id: id, dist: d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id < cands[j].id
	})

	n := len(cands)
	if n > maxSuggestions {
		n = maxSuggestions
	}
	out := make([]string, 0, n)
	for _, c := range cands[:n] {
		out = append(out, c.id)
	}
	return out
}

// levenshtein computes edit distance with an early exit: it returns -1
// when the distance exceeds max.
func levenshtein(a, b string, max int) int {
	la, lb := len(a), len(b)
	if la-lb > max || lb-la > max {
		return -1
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > max {
			return -1
		}
		prev, curr = curr, prev
	}

	if prev[lb] > max {
		return -1
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
