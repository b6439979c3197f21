package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordString(t *testing.T) {
	for _, tc := range []struct {
		coord Coord
		text  string
	}{
		{Coord{Col: 0, Row: 0}, "A1"},
		{Coord{Col: 1, Row: 0}, "B1"},
		{Coord{Col: 25, Row: 0}, "Z1"},
		{Coord{Col: 26, Row: 0}, "AA1"},
		{Coord{Col: 26, Row: 11}, "AA12"},
		{Coord{Col: 51, Row: 99}, "AZ100"},
		{Coord{Col: 52, Row: 0}, "BA1"},
		{Coord{Col: 701, Row: 0}, "ZZ1"},
		{Coord{Col: 702, Row: 0}, "AAA1"},
	} {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.text, tc.coord.String())
			parsed, err := ParseCoord(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.coord, parsed)
		})
	}
}

func TestParseCoordInvalid(t *testing.T) {
	for _, text := range []string{"", "A", "1", "12", "a1", "A0", "A-1", "A1B", "A 1", "A01"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseCoord(text)
			assert.Error(t, err)
		})
	}
}

func TestCoordLess(t *testing.T) {
	assert.True(t, Coord{Col: 5, Row: 0}.Less(Coord{Col: 0, Row: 1}))
	assert.True(t, Coord{Col: 0, Row: 1}.Less(Coord{Col: 1, Row: 1}))
	assert.False(t, Coord{Col: 1, Row: 1}.Less(Coord{Col: 1, Row: 1}))
}
