package sheet

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Sentinel is the character a formula input starts with.
const Sentinel = "="

// Error tags stored as a cell's value when it cannot produce a number.
const (
	ErrorTagCircular = "#CIRCULAR!"
	ErrorTagValue    = "#ERROR!"
)

var sumPattern = regexp.MustCompile(`SUM\(\s*([A-Z]+[0-9]+)\s*:\s*([A-Z]+[0-9]+)\s*\)`)

// valueLookup resolves a coordinate to its current numeric value. Blank and
// non-numeric cells resolve to 0.
type valueLookup func(Coord) float64

// evaluate computes the numeric result of a formula expression (sentinel
// already stripped). SUM(range) calls and coordinate references are
// substituted textually with their resolved values and the remaining
// arithmetic is handed to govaluate. A reference to self always substitutes
// to 0 so a plain self-reference is not a hard error. Evaluation only
// reads: it never touches the store or the graph.
func evaluate(expr string, self Coord, lookup valueLookup) (float64, error) {
	substituted := sumPattern.ReplaceAllStringFunc(expr, func(m string) string {
		parts := sumPattern.FindStringSubmatch(m)
		from, err1 := ParseCoord(parts[1])
		to, err2 := ParseCoord(parts[2])
		if err1 != nil || err2 != nil {
			return m
		}
		total := 0.0
		for _, c := range expandRange(from, to) {
			if c == self {
				continue
			}
			total += lookup(c)
		}
		return numberToken(total)
	})
	substituted = refPattern.ReplaceAllStringFunc(substituted, func(m string) string {
		if strings.Contains(m, ":") {
			// a bare range outside SUM has no numeric meaning; leave it
			// for the expression parser to reject
			return m
		}
		c, err := ParseCoord(m)
		if err != nil {
			return m
		}
		if c == self {
			return "(0)"
		}
		return numberToken(lookup(c))
	})

	parsed, err := govaluate.NewEvaluableExpression(substituted)
	if err != nil {
		return 0, fmt.Errorf("failed to parse expression: %w", err)
	}
	// the parameter map must be non-nil: any variable token that survives
	// substitution (e.g. a bare range's corner) then fails the lookup with an
	// error instead of panicking inside the evaluator
	result, err := parsed.Evaluate(map[string]interface{}{})
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	num, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("expression did not produce a number")
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, fmt.Errorf("expression produced a non-finite number")
	}
	return num, nil
}

func numberToken(v float64) string {
	return "(" + strconv.FormatFloat(v, 'f', -1, 64) + ")"
}
