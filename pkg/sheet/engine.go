// Package sheet implements the cell-addressed grid: coordinate parsing,
// formula reference extraction, the dependency graph, and the recalculation
// engine that keeps formula results consistent as edits land locally or
// arrive from the network through the replicated store.
package sheet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/astromechza/automerge-sheet/pkg/store"
)

// ValueKind enumerates what a cell currently holds.
type ValueKind int

const (
	KindBlank ValueKind = iota
	KindNumber
	KindText
	KindError
)

// Value is the typed result of a cell. For KindError, Text holds the error
// tag (ErrorTagCircular or ErrorTagValue).
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
}

// Display returns the value as shown in an unfocused grid cell.
func (v Value) Display() string {
	switch v.Kind {
	case KindNumber:
		return numberText(v.Number)
	case KindText, KindError:
		return v.Text
	}
	return ""
}

func numberText(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Cell is the engine's view of one cell.
type Cell struct {
	Coord   Coord
	Value   Value
	Formula string
	Error   bool
}

// Engine owns cell values and formulas, evaluates formulas, rejects cycles,
// and drives incremental recomputation through the dependency graph. Cells
// physically live in the replicated store so they merge across replicas;
// the engine observes the store to react to network-applied changes.
//
// The engine is either idle or mid recompute pass, serialised by its mutex.
// Its own store writes are filtered out of its observer before the mutex is
// taken (they carry local origin), so a pass always runs to completion
// without feedback.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	graph  *Graph
	detach func()

	obsMu     sync.Mutex
	observers map[int]func(Coord)
	nextObs   int
}

// NewEngine builds an engine over the given store. The dependency graph is
// rebuilt wholesale from the store's current formulas: a snapshot-loaded or
// remotely populated store has no per-cell edit history to replay.
func NewEngine(st *store.Store) (*Engine, error) {
	e := &Engine{store: st, graph: NewGraph(), observers: map[int]func(Coord){}}
	cells, err := st.Cells()
	if err != nil {
		return nil, fmt.Errorf("failed to read cells: %w", err)
	}
	formulas := map[Coord]string{}
	for key, r := range cells {
		c, err := ParseCoord(key)
		if err != nil || !strings.HasPrefix(r.Formula, Sentinel) {
			continue
		}
		formulas[c] = strings.TrimPrefix(r.Formula, Sentinel)
	}
	e.graph.RebuildAll(formulas)
	e.detach = st.Observe(e.storeChanged)
	return e, nil
}

// Close detaches the engine from the store's change feed.
func (e *Engine) Close() {
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}
}

// OnChange registers a callback fired once per coordinate touched by a
// local write or a remote-driven recompute pass, and returns an unsubscribe
// function. It fires even when the stored value round-tripped to the same
// result: a consumer that missed earlier state still needs the signal.
func (e *Engine) OnChange(fn func(Coord)) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) notifyObservers(coords []Coord) {
	if len(coords) == 0 {
		return
	}
	e.obsMu.Lock()
	fns := make([]func(Coord), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()
	for _, fn := range fns {
		for _, c := range coords {
			fn(c)
		}
	}
}

// SetCell writes raw user input into a cell. Input starting with the
// formula sentinel is parsed, wired into the dependency graph, checked for
// cycles and evaluated; anything else is stored as a literal. A cycle or
// evaluation failure becomes a per-cell error tag, never a returned error:
// the returned error covers store failures only.
func (e *Engine) SetCell(c Coord, raw string) error {
	e.mu.Lock()
	var touched []Coord
	err := func() error {
		var rec store.Record
		if strings.HasPrefix(raw, Sentinel) {
			expr := strings.TrimPrefix(raw, Sentinel)
			e.graph.SetDependencies(c, References(expr))
			rec = e.formulaRecord(c, raw)
		} else {
			e.graph.RemoveDependencies(c)
			rec = literalRecord(raw)
		}
		if err := e.store.SetCell(c.String(), rec); err != nil {
			return err
		}
		touched = e.recomputeLocked([]Coord{c})
		return nil
	}()
	e.mu.Unlock()
	e.notifyObservers(touched)
	return err
}

// ClearCell removes a cell. Its outbound dependency edges are dropped;
// edges pointing at it from dependents remain until those are re-edited,
// and those dependents now read the cleared cell as blank.
func (e *Engine) ClearCell(c Coord) error {
	e.mu.Lock()
	var touched []Coord
	err := func() error {
		e.graph.RemoveDependencies(c)
		if err := e.store.ClearCell(c.String()); err != nil {
			return err
		}
		touched = e.recomputeLocked([]Coord{c})
		return nil
	}()
	e.mu.Unlock()
	e.notifyObservers(touched)
	return err
}

// GetCell returns the current state of a cell; ok is false for blanks.
func (e *Engine) GetCell(c Coord) (Cell, bool, error) {
	r, ok, err := e.store.GetCell(c.String())
	if err != nil || !ok {
		return Cell{}, false, err
	}
	return recordToCell(c, r), true, nil
}

// GetAllCells returns every non-blank cell in row-major order.
func (e *Engine) GetAllCells() ([]Cell, error) {
	records, err := e.store.Cells()
	if err != nil {
		return nil, err
	}
	out := make([]Cell, 0, len(records))
	for key, r := range records {
		c, err := ParseCoord(key)
		if err != nil {
			continue
		}
		out = append(out, recordToCell(c, r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coord.Less(out[j].Coord) })
	return out, nil
}

// DependencyEdges returns every precedent -> dependent edge, for rendering.
func (e *Engine) DependencyEdges() [][2]Coord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Edges()
}

// storeChanged is the store's change feed. Local-origin changes are the
// engine's own writes (or writes the engine already processed inline) and
// are ignored here; network-origin changes rebuild the touched cells'
// dependency edges from their current formula text and trigger a recompute
// pass. Edges are always re-derived rather than trusted across a merge
// boundary: a bulk remote merge fires no per-cell edit hooks.
func (e *Engine) storeChanged(keys []string, origin store.Origin, _ []byte) {
	if origin != store.OriginNetwork {
		return
	}
	coords := make([]Coord, 0, len(keys))
	for _, key := range keys {
		if c, err := ParseCoord(key); err == nil {
			coords = append(coords, c)
		}
	}
	e.mu.Lock()
	for _, c := range coords {
		if expr, ok := e.storedExpr(c); ok {
			e.graph.SetDependencies(c, References(expr))
		} else {
			e.graph.RemoveDependencies(c)
		}
	}
	touched := e.recomputeLocked(coords)
	e.mu.Unlock()
	e.notifyObservers(touched)
}

// storedExpr returns the cell's formula expression with the sentinel
// stripped, or false if the cell is blank or holds no formula.
func (e *Engine) storedExpr(c Coord) (string, bool) {
	r, ok, err := e.store.GetCell(c.String())
	if err != nil || !ok || !strings.HasPrefix(r.Formula, Sentinel) {
		return "", false
	}
	return strings.TrimPrefix(r.Formula, Sentinel), true
}

// recomputeLocked runs one recompute pass for the given changed set and
// returns the coordinates to notify (changed plus everything recomputed).
// Must be called with e.mu held.
//
// The pass seeds with every changed cell that holds a formula (a remote
// overwrite of a formula cell's stored value must re-derive it, even when
// the formula text is unchanged), adds every transitive dependent by
// breadth-first traversal, then re-evaluates as a worklist until stable.
// Results are written back only when they differ from the stored record.
func (e *Engine) recomputeLocked(changed []Coord) []Coord {

	pending := map[Coord]struct{}{}
	visited := map[Coord]struct{}{}
	queue := make([]Coord, 0, len(changed))
	for _, c := range changed {
		if _, ok := e.storedExpr(c); ok {
			pending[c] = struct{}{}
		}
		queue = append(queue, c)
		visited[c] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range e.graph.DependentsOf(cur) {
			pending[dep] = struct{}{}
			if _, ok := visited[dep]; !ok {
				visited[dep] = struct{}{}
				queue = append(queue, dep)
			}
		}
	}

	order := make([]Coord, 0, len(pending))
	for c := range pending {
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Less(order[j]) })

	// the graph is acyclic for every cell that passed cycle detection, so
	// repeated sweeps settle in at most len(order) passes
	for pass := 0; pass <= len(order); pass++ {
		wrote := false
		for _, c := range order {
			r, ok, err := e.store.GetCell(c.String())
			if err != nil || !ok || !strings.HasPrefix(r.Formula, Sentinel) {
				continue
			}
			next := e.formulaRecord(c, r.Formula)
			if next == r {
				continue
			}
			if err := e.store.SetCell(c.String(), next); err != nil {
				continue
			}
			wrote = true
		}
		if !wrote {
			break
		}
	}

	notifySet := map[Coord]struct{}{}
	for _, c := range changed {
		notifySet[c] = struct{}{}
	}
	for _, c := range order {
		notifySet[c] = struct{}{}
	}
	notify := make([]Coord, 0, len(notifySet))
	for c := range notifySet {
		notify = append(notify, c)
	}
	sort.Slice(notify, func(i, j int) bool { return notify[i].Less(notify[j]) })
	return notify
}

// formulaRecord computes the record for a formula cell against the current
// graph and store. Cycle detection runs against the edges already installed
// for the cell, so the edit being validated is part of what is checked. A
// cycle or evaluation failure is a terminal per-cell state with the formula
// text preserved so the user can fix it.
func (e *Engine) formulaRecord(c Coord, raw string) store.Record {
	if e.graph.HasCycle(c) {
		return store.Record{Value: ErrorTagCircular, Formula: raw, Error: true}
	}
	expr := strings.TrimPrefix(raw, Sentinel)
	num, err := evaluate(expr, c, e.lookupNumber)
	if err != nil {
		return store.Record{Value: ErrorTagValue, Formula: raw, Error: true}
	}
	return store.Record{Value: num, Formula: raw}
}

// lookupNumber resolves a coordinate for evaluation: numeric cells give
// their number, everything else (blank, text, error) gives 0.
func (e *Engine) lookupNumber(c Coord) float64 {
	r, ok, err := e.store.GetCell(c.String())
	if err != nil || !ok || r.Error {
		return 0
	}
	if f, isNum := r.Value.(float64); isNum {
		return f
	}
	return 0
}

func literalRecord(raw string) store.Record {
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return store.Record{Value: f}
	}
	return store.Record{Value: raw}
}

func recordToCell(c Coord, r store.Record) Cell {
	cell := Cell{Coord: c, Formula: r.Formula, Error: r.Error}
	switch v := r.Value.(type) {
	case float64:
		cell.Value = Value{Kind: KindNumber, Number: v}
	case string:
		if r.Error {
			cell.Value = Value{Kind: KindError, Text: v}
		} else {
			cell.Value = Value{Kind: KindText, Text: v}
		}
	default:
		cell.Value = Value{Kind: KindBlank}
	}
	return cell
}
