package sheet

import "sort"

// Graph tracks which cells depend on which. It is a cache derived entirely
// from the current formula text of every cell: it can always be thrown away
// and rebuilt with RebuildAll, and it must be rebuilt after any bulk merge
// where per-cell edit hooks did not run.
type Graph struct {
	// dependents maps a precedent to the set of cells whose formulas
	// reference it. precedents is the reverse index used to remove a
	// dependent's existing edges without scanning.
	dependents map[Coord]map[Coord]struct{}
	precedents map[Coord]map[Coord]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		dependents: map[Coord]map[Coord]struct{}{},
		precedents: map[Coord]map[Coord]struct{}{},
	}
}

// SetDependencies replaces all edges where cell is the dependent with edges
// ref -> cell for each referenced coordinate. Call before re-evaluating the
// cell's formula so cycle detection sees the candidate edge set.
func (g *Graph) SetDependencies(cell Coord, refs []Coord) {
	g.RemoveDependencies(cell)
	for _, ref := range refs {
		if g.dependents[ref] == nil {
			g.dependents[ref] = map[Coord]struct{}{}
		}
		g.dependents[ref][cell] = struct{}{}
		if g.precedents[cell] == nil {
			g.precedents[cell] = map[Coord]struct{}{}
		}
		g.precedents[cell][ref] = struct{}{}
	}
}

// RemoveDependencies removes all edges where cell is the dependent. Edges
// pointing at cell from its own dependents are untouched.
func (g *Graph) RemoveDependencies(cell Coord) {
	for ref := range g.precedents[cell] {
		delete(g.dependents[ref], cell)
		if len(g.dependents[ref]) == 0 {
			delete(g.dependents, ref)
		}
	}
	delete(g.precedents, cell)
}

// DependentsOf returns the direct dependents of cell in stable order.
// Transitive closure is the caller's job.
func (g *Graph) DependentsOf(cell Coord) []Coord {
	out := make([]Coord, 0, len(g.dependents[cell]))
	for c := range g.dependents[cell] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Edges returns every precedent -> dependent pair in stable order.
func (g *Graph) Edges() [][2]Coord {
	out := make([][2]Coord, 0)
	for ref, deps := range g.dependents {
		for dep := range deps {
			out = append(out, [2]Coord{ref, dep})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0].Less(out[j][0])
		}
		return out[i][1].Less(out[j][1])
	})
	return out
}

// RebuildAll clears the graph and re-derives it from the given formula
// expressions (keyed by dependent cell, sentinel already stripped).
func (g *Graph) RebuildAll(formulas map[Coord]string) {
	g.dependents = map[Coord]map[Coord]struct{}{}
	g.precedents = map[Coord]map[Coord]struct{}{}
	for cell, expr := range formulas {
		g.SetDependencies(cell, References(expr))
	}
}

// HasCycle reports whether start can reach itself by following dependent
// edges through at least one other cell. The direct self-edge alone does
// not count: a self-referencing formula evaluates its own cell as zero and
// is not an error by itself.
func (g *Graph) HasCycle(start Coord) bool {
	visited := map[Coord]struct{}{}
	stack := make([]Coord, 0, len(g.dependents[start]))
	for dep := range g.dependents[start] {
		if dep != start {
			stack = append(stack, dep)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == start {
			return true
		}
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		for dep := range g.dependents[cur] {
			stack = append(stack, dep)
		}
	}
	return false
}
