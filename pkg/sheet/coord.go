package sheet

import (
	"fmt"
	"strconv"
)

// Coord addresses a single cell. Both axes are zero based; the canonical
// text form is column letters followed by a 1-based row number, e.g.
// Coord{Col: 0, Row: 0} is "A1" and Coord{Col: 26, Row: 11} is "AA12".
type Coord struct {
	Col int
	Row int
}

// String returns the canonical text form. The mapping is a bijection with
// ParseCoord: every valid coordinate has exactly one text form and back.
func (c Coord) String() string {
	col := c.Col
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name + strconv.Itoa(c.Row+1)
}

// Less orders coordinates row-major, the order GetAllCells returns them in.
func (c Coord) Less(o Coord) bool {
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

// ParseCoord parses the canonical text form of a coordinate. Column letters
// must be upper case and the row must be a positive decimal number with no
// leading zero padding tricks ("A01" is rejected by the round-trip check).
func ParseCoord(s string) (Coord, error) {
	split := 0
	for split < len(s) && s[split] >= 'A' && s[split] <= 'Z' {
		split++
	}
	if split == 0 || split == len(s) {
		return Coord{}, fmt.Errorf("invalid coordinate %q", s)
	}
	col := 0
	for _, ch := range s[:split] {
		col = col*26 + int(ch-'A') + 1
	}
	row, err := strconv.Atoi(s[split:])
	if err != nil || row < 1 {
		return Coord{}, fmt.Errorf("invalid coordinate %q", s)
	}
	c := Coord{Col: col - 1, Row: row - 1}
	if c.String() != s {
		return Coord{}, fmt.Errorf("invalid coordinate %q", s)
	}
	return c, nil
}
