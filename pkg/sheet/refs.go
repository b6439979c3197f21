package sheet

import (
	"regexp"
	"sort"
)

// refPattern matches a bare coordinate token or a range token anywhere in an
// expression. The optional range tail is matched greedily so "A1:B2" is one
// range match rather than two coordinate matches.
var refPattern = regexp.MustCompile(`([A-Z]+[0-9]+)(:([A-Z]+[0-9]+))?`)

// References extracts the set of coordinates referenced by a formula
// expression (sentinel already stripped). Range tokens expand to every
// coordinate in the rectangle spanned by the two corners, whichever order
// the corners are given in. The result is sorted and duplicate free.
func References(expr string) []Coord {
	seen := map[Coord]struct{}{}
	for _, m := range refPattern.FindAllStringSubmatch(expr, -1) {
		from, err := ParseCoord(m[1])
		if err != nil {
			continue
		}
		if m[3] == "" {
			seen[from] = struct{}{}
			continue
		}
		to, err := ParseCoord(m[3])
		if err != nil {
			continue
		}
		for _, c := range expandRange(from, to) {
			seen[c] = struct{}{}
		}
	}
	out := make([]Coord, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// expandRange returns every coordinate in the inclusive rectangle between
// the two corners, taking min/max on each axis independently.
func expandRange(a, b Coord) []Coord {
	minCol, maxCol := a.Col, b.Col
	if minCol > maxCol {
		minCol, maxCol = maxCol, minCol
	}
	minRow, maxRow := a.Row, b.Row
	if minRow > maxRow {
		minRow, maxRow = maxRow, minRow
	}
	out := make([]Coord, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			out = append(out, Coord{Col: col, Row: row})
		}
	}
	return out
}
