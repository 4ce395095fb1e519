package diff

import (
	"strings"
)

// Kind classifies one line of a diff.
type Kind string

const (
	Equal  Kind = "equal"
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Op is one line-level edit operation.
type Op struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Bytes computes the line diff between two byte payloads. It is a pure
// function: same inputs, same output, no side effects.
func Bytes(old, new []byte) []Op {
	return Lines(splitLines(old), splitLines(new))
}

// Lines computes a longest-common-subsequence line diff. Deletions from the
// old side are reported before insertions from the new side at the same
// position.
func Lines(old, new []string) []Op {
	n, m := len(old), len(new)

	// lcs[i][j] = length of the LCS of old[i:] and new[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if old[i] == new[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]Op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case old[i] == new[j]:
			ops = append(ops, Op{Kind: Equal, Text: old[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, Op{Kind: Delete, Text: old[i]})
			i++
		default:
			ops = append(ops, Op{Kind: Insert, Text: new[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Op{Kind: Delete, Text: old[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, Op{Kind: Insert, Text: new[j]})
	}
	return ops
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(b), "\n")
	return strings.Split(s, "\n")
}
