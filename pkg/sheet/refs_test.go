package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func coords(names ...string) []Coord {
	out := make([]Coord, 0, len(names))
	for _, n := range names {
		c, err := ParseCoord(n)
		if err != nil {
			panic(err)
		}
		out = append(out, c)
	}
	return out
}

func TestReferences(t *testing.T) {
	for _, tc := range []struct {
		name     string
		expr     string
		expected []Coord
	}{
		{"empty", "", nil},
		{"no refs", "1+2*3", nil},
		{"single", "A1", coords("A1")},
		{"arithmetic", "A1+B2*C3", coords("A1", "B2", "C3")},
		{"duplicates collapse", "A1+A1+A1", coords("A1")},
		{"range", "SUM(A1:B2)", coords("A1", "B1", "A2", "B2")},
		{"range reversed corners", "SUM(B2:A1)", coords("A1", "B1", "A2", "B2")},
		{"range single cell", "A1:A1", coords("A1")},
		{"range row", "A1:C1", coords("A1", "B1", "C1")},
		{"range and bare mixed", "SUM(A1:A2)+C5", coords("A1", "A2", "C5")},
		{"multi letter columns", "AA12+AB1", coords("AA12", "AB1")},
		{"lower case ignored", "a1+b2", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := References(tc.expr)
			if tc.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tc.expected, got)
		})
	}
}

func TestReferencesSorted(t *testing.T) {
	got := References("C1+A1+B1")
	assert.Equal(t, coords("A1", "B1", "C1"), got)
}
