// Package eval computes word and character error rates between a reference
// transcript and a recognizer hypothesis.
package eval

import (
	"errors"
	"strings"

	"github.com/agnivade/levenshtein"
)

var ErrEmptyReference = errors.New("empty reference transcript")

// WER returns the word error rate: word-level edit distance divided by the
// reference word count. Can exceed 1 when the hypothesis is much longer.
func WER(reference, hypothesis string) (float64, error) {
	ref := strings.Fields(reference)
	if len(ref) == 0 {
		return 0, ErrEmptyReference
	}
	hyp := strings.Fields(hypothesis)
	return float64(wordDistance(ref, hyp)) / float64(len(ref)), nil
}

// CER returns the character error rate: rune-level edit distance divided by
// the reference rune count.
func CER(reference, hypothesis string) (float64, error) {
	refLen := len([]rune(reference))
	if refLen == 0 {
		return 0, ErrEmptyReference
	}
	return float64(levenshtein.ComputeDistance(reference, hypothesis)) / float64(refLen), nil
}

// wordDistance is Levenshtein over word tokens. The rune-level library cannot
// serve here since substitutions must count whole words.
func wordDistance(ref, hyp []string) int {
	if len(hyp) == 0 {
		return len(ref)
	}

	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(hyp)]
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
