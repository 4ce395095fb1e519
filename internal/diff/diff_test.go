package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"vault-service/internal/diff"
)

func TestBytes(t *testing.T) {
	t.Run("single line change", func(t *testing.T) {
		ops := diff.Bytes([]byte("a\nb\n"), []byte("a\nc\n"))
		assert.Equal(t, []diff.Op{
			{Kind: diff.Equal, Text: "a"},
			{Kind: diff.Delete, Text: "b"},
			{Kind: diff.Insert, Text: "c"},
		}, ops)
	})

	t.Run("identical content", func(t *testing.T) {
		ops := diff.Bytes([]byte("x\ny\n"), []byte("x\ny\n"))
		assert.Equal(t, []diff.Op{
			{Kind: diff.Equal, Text: "x"},
			{Kind: diff.Equal, Text: "y"},
		}, ops)
	})

	t.Run("empty old side", func(t *testing.T) {
		ops := diff.Bytes(nil, []byte("new\n"))
		assert.Equal(t, []diff.Op{{Kind: diff.Insert, Text: "new"}}, ops)
	})

	t.Run("empty new side", func(t *testing.T) {
		ops := diff.Bytes([]byte("gone\n"), nil)
		assert.Equal(t, []diff.Op{{Kind: diff.Delete, Text: "gone"}}, ops)
	})

	t.Run("both empty", func(t *testing.T) {
		assert.Empty(t, diff.Bytes(nil, nil))
	})

	t.Run("insertion in the middle", func(t *testing.T) {
		ops := diff.Bytes([]byte("one\nthree\n"), []byte("one\ntwo\nthree\n"))
		assert.Equal(t, []diff.Op{
			{Kind: diff.Equal, Text: "one"},
			{Kind: diff.Insert, Text: "two"},
			{Kind: diff.Equal, Text: "three"},
		}, ops)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := []byte("a\nb\nc\nd\n")
		b := []byte("a\nc\nb\nd\n")
		first := diff.Bytes(a, b)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, diff.Bytes(a, b))
		}
	})
}

func TestLines(t *testing.T) {
	t.Run("delete before insert at same position", func(t *testing.T) {
		ops := diff.Lines([]string{"old"}, []string{"new"})
		assert.Equal(t, []diff.Op{
			{Kind: diff.Delete, Text: "old"},
			{Kind: diff.Insert, Text: "new"},
		}, ops)
	})

	t.Run("line count preserved", func(t *testing.T) {
		old := []string{"a", "b", "c"}
		new := []string{"b", "c", "d"}
		ops := diff.Lines(old, new)

		var dels, ins, eq int
		for _, op := range ops {
			switch op.Kind {
			case diff.Delete:
				dels++
			case diff.Insert:
				ins++
			case diff.Equal:
				eq++
			}
		}
		assert.Equal(t, len(old), dels+eq)
		assert.Equal(t, len(new), ins+eq)
	})
}
