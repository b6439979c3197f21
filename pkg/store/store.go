// Package store wraps an automerge document with the cell-level read/write,
// origin-tagged delta application, and version summary operations the sync
// protocol and recalculation engine are built on. The conflict-free merge
// itself (commutative, idempotent, field-level last-writer-wins) is entirely
// automerge's.
package store

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
)

// Origin tags a mutation with where it came from. Only locally authored
// mutations are re-broadcast by the sync driver; this is what stops update
// loops across the mesh.
type Origin int

const (
	OriginLocal Origin = iota
	OriginNetwork
)

func (o Origin) String() string {
	if o == OriginNetwork {
		return "network"
	}
	return "local"
}

// Record is the replicated state of one cell. Value is a float64, a string,
// or nil for blank; Error marks a string Value as an error tag rather than
// literal text.
type Record struct {
	Value   any
	Formula string
	Error   bool
}

// Observer is notified synchronously after every mutation with the keys
// that changed, the origin of the mutation, and (for local mutations) the
// delta bytes that reproduce it on another replica. Delta is nil for
// network-origin mutations.
type Observer func(keys []string, origin Origin, delta []byte)

type Store struct {
	mu  sync.Mutex
	doc *automerge.Doc

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an empty store with a fresh random actor id.
func New() *Store {
	doc := automerge.New()
	u := uuid.New()
	_ = doc.SetActorID(hex.EncodeToString(u[:]))
	return &Store{doc: doc, observers: map[int]Observer{}}
}

// Load restores a store from a previous Save, assigning a fresh actor id so
// a restarted replica never reuses one.
func Load(raw []byte) (*Store, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	u := uuid.New()
	_ = doc.SetActorID(hex.EncodeToString(u[:]))
	return &Store{doc: doc, observers: map[int]Observer{}}, nil
}

// Save serialises the full document for snapshot persistence.
func (s *Store) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// ActorID returns the document's actor id, useful for log correlation.
func (s *Store) ActorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ActorID()
}

// Observe registers an observer and returns a detach function.
func (s *Store) Observe(fn Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// notify runs outside the doc lock so observers can re-enter the store.
func (s *Store) notify(keys []string, origin Origin, delta []byte) {
	if len(keys) == 0 {
		return
	}
	s.obsMu.Lock()
	obs := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range obs {
		fn(keys, origin, delta)
	}
}

// SetCell writes all fields of a cell record and notifies observers with a
// local-origin delta. Cell records live directly in the document root map:
// the root object is shared by construction, so two replicas that edited
// different cells before ever syncing still keep both cells after the merge.
// A replica-created container object would instead be a concurrent-write
// conflict of its own, with one replica's cells hidden behind the loser.
func (s *Store) SetCell(key string, r Record) error {
	delta, err := s.locally(fmt.Sprintf("set %s", key), func() error {
		if err := s.doc.Path(key, "value").Set(r.Value); err != nil {
			return fmt.Errorf("failed to set value: %w", err)
		}
		if err := s.doc.Path(key, "formula").Set(r.Formula); err != nil {
			return fmt.Errorf("failed to set formula: %w", err)
		}
		if err := s.doc.Path(key, "error").Set(r.Error); err != nil {
			return fmt.Errorf("failed to set error: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify([]string{key}, OriginLocal, delta)
	return nil
}

// ClearCell removes a cell entirely. Clearing an absent cell is a no-op.
func (s *Store) ClearCell(key string) error {
	delta, err := s.locally(fmt.Sprintf("clear %s", key), func() error {
		cells := s.doc.RootMap()
		if v, err := cells.Get(key); err != nil || v == nil || v.Kind() == automerge.KindVoid {
			return nil
		}
		if err := cells.Delete(key); err != nil {
			return fmt.Errorf("failed to delete cell: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify([]string{key}, OriginLocal, delta)
	return nil
}

// locally runs a mutation under the doc lock, commits it, and returns the
// delta covering exactly the changes it produced.
func (s *Store) locally(msg string, fn func() error) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.doc.Heads()
	if err := fn(); err != nil {
		return nil, err
	}
	if _, err := s.doc.Commit(msg); err != nil {
		// nothing staged, e.g. clearing an absent cell
		return nil, nil
	}
	return s.deltaSinceHeads(before)
}

func (s *Store) deltaSinceHeads(heads []automerge.ChangeHash) ([]byte, error) {
	changes, err := s.doc.Changes(heads...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect changes: %w", err)
	}
	var delta []byte
	for _, c := range changes {
		delta = append(delta, c.Save()...)
	}
	return delta, nil
}

// GetCell reads one cell record. The second return is false for blank
// (absent) cells.
func (s *Store) GetCell(key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCellLocked(key)
}

func (s *Store) getCellLocked(key string) (Record, bool, error) {
	v, err := s.doc.RootMap().Get(key)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read cell: %w", err)
	}
	if v == nil || v.Kind() != automerge.KindMap {
		return Record{}, false, nil
	}
	fields := v.Map()
	var r Record
	if fv, err := fields.Get("value"); err == nil && fv != nil {
		switch fv.Kind() {
		case automerge.KindFloat64:
			r.Value = fv.Float64()
		case automerge.KindInt64:
			r.Value = float64(fv.Int64())
		case automerge.KindStr:
			r.Value = fv.Str()
		}
	}
	if fv, err := fields.Get("formula"); err == nil && fv != nil && fv.Kind() == automerge.KindStr {
		r.Formula = fv.Str()
	}
	if fv, err := fields.Get("error"); err == nil && fv != nil && fv.Kind() == automerge.KindBool {
		r.Error = fv.Bool()
	}
	return r, true, nil
}

// Cells reads every cell record keyed by canonical coordinate text.
func (s *Store) Cells() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cellsLocked()
}

func (s *Store) cellsLocked() (map[string]Record, error) {
	out := map[string]Record{}
	keys, err := s.doc.RootMap().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	for _, key := range keys {
		r, ok, err := s.getCellLocked(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = r
		}
	}
	return out, nil
}

// VersionSummary returns an opaque marker of everything this replica has
// incorporated so far. It is a full document save: a responder loads it and
// compares heads, which keeps the wire format self-contained.
func (s *Store) VersionSummary() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// DeltaSince computes the changes a replica with the given version summary
// is missing relative to this one. An unreadable summary, or one whose
// heads this replica has never seen, degrades to the full history; the
// idempotent merge absorbs the over-send.
func (s *Store) DeltaSince(summary []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(summary) > 0 {
		if theirs, err := automerge.Load(summary); err == nil {
			if delta, err := s.deltaSinceHeads(theirs.Heads()); err == nil {
				return delta, nil
			}
		}
	}
	return s.deltaSinceHeads(nil)
}

// ApplyDelta merges delta bytes into the document, tagged with their
// origin, and notifies observers with the set of coordinates whose records
// changed. Applying a delta twice, or two deltas in either order, converges
// to the same state.
func (s *Store) ApplyDelta(delta []byte, origin Origin) error {
	if len(delta) == 0 {
		return nil
	}
	s.mu.Lock()
	before, err := s.cellsLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// LoadIncremental is the incremental-chunk entry point: unlike decoding
	// the blob as standalone changes it accepts chunks whose dependencies are
	// already in the document, and it tolerates out-of-order arrival.
	if err := s.doc.LoadIncremental(delta); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to apply delta: %w", err)
	}
	after, err := s.cellsLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	changed := make([]string, 0)
	for key, r := range after {
		if prev, ok := before[key]; !ok || prev != r {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	var outDelta []byte
	if origin == OriginLocal {
		outDelta = delta
	}
	s.notify(changed, origin, outDelta)
	return nil
}
