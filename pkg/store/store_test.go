package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLocalDeltas(st *Store) *[][]byte {
	deltas := &[][]byte{}
	st.Observe(func(_ []string, origin Origin, delta []byte) {
		if origin == OriginLocal && len(delta) > 0 {
			*deltas = append(*deltas, delta)
		}
	})
	return deltas
}

func TestStoreSetAndGetCell(t *testing.T) {
	st := New()
	require.NoError(t, st.SetCell("A1", Record{Value: 42.0, Formula: "=B1+1"}))

	r, ok, err := st.GetCell("A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{Value: 42.0, Formula: "=B1+1"}, r)

	_, ok, err = st.GetCell("B9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreClearCell(t *testing.T) {
	st := New()
	require.NoError(t, st.SetCell("A1", Record{Value: 1.0}))
	require.NoError(t, st.ClearCell("A1"))

	_, ok, err := st.GetCell("A1")
	require.NoError(t, err)
	assert.False(t, ok)

	// clearing an absent cell is a no-op
	require.NoError(t, st.ClearCell("Z9"))
}

func TestStoreCells(t *testing.T) {
	st := New()
	require.NoError(t, st.SetCell("A1", Record{Value: 1.0}))
	require.NoError(t, st.SetCell("B2", Record{Value: "text"}))
	require.NoError(t, st.SetCell("C3", Record{Value: "#ERROR!", Formula: "=1/0", Error: true}))

	cells, err := st.Cells()
	require.NoError(t, err)
	assert.Equal(t, map[string]Record{
		"A1": {Value: 1.0},
		"B2": {Value: "text"},
		"C3": {Value: "#ERROR!", Formula: "=1/0", Error: true},
	}, cells)
}

func TestStoreSaveAndLoad(t *testing.T) {
	st := New()
	require.NoError(t, st.SetCell("A1", Record{Value: 7.0}))

	restored, err := Load(st.Save())
	require.NoError(t, err)
	r, ok, err := restored.GetCell("A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, r.Value)

	// a restarted replica must not reuse the old actor id
	assert.NotEqual(t, st.ActorID(), restored.ActorID())
}

func TestStoreLocalDeltaReplays(t *testing.T) {
	a := New()
	deltas := captureLocalDeltas(a)
	require.NoError(t, a.SetCell("A1", Record{Value: 10.0}))
	require.NoError(t, a.SetCell("B1", Record{Value: 20.0}))
	require.Len(t, *deltas, 2)

	b := New()
	for _, delta := range *deltas {
		require.NoError(t, b.ApplyDelta(delta, OriginNetwork))
	}
	aCells, err := a.Cells()
	require.NoError(t, err)
	bCells, err := b.Cells()
	require.NoError(t, err)
	assert.Equal(t, aCells, bCells)
}

func TestStoreDeltasDependingOnMergedHistoryApply(t *testing.T) {
	a := New()
	aDeltas := captureLocalDeltas(a)
	b := New()
	bDeltas := captureLocalDeltas(b)

	// alternate edits so every delta after the first depends on history the
	// receiver merged from an earlier exchange, not on anything in the blob
	require.NoError(t, a.SetCell("A1", Record{Value: 1.0}))
	require.NoError(t, b.ApplyDelta((*aDeltas)[0], OriginNetwork))
	require.NoError(t, b.SetCell("B1", Record{Value: 2.0}))
	require.NoError(t, a.ApplyDelta((*bDeltas)[0], OriginNetwork))
	require.NoError(t, a.SetCell("A1", Record{Value: 3.0}))
	require.NoError(t, b.ApplyDelta((*aDeltas)[1], OriginNetwork))

	aCells, err := a.Cells()
	require.NoError(t, err)
	bCells, err := b.Cells()
	require.NoError(t, err)
	assert.Equal(t, aCells, bCells)
	assert.Equal(t, 3.0, bCells["A1"].Value)
}

func TestStoreIdempotentMerge(t *testing.T) {
	a := New()
	deltas := captureLocalDeltas(a)
	require.NoError(t, a.SetCell("A1", Record{Value: 10.0}))

	b := New()
	require.NoError(t, b.ApplyDelta((*deltas)[0], OriginNetwork))
	once, err := b.Cells()
	require.NoError(t, err)

	require.NoError(t, b.ApplyDelta((*deltas)[0], OriginNetwork))
	twice, err := b.Cells()
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestStoreCommutativeMerge(t *testing.T) {
	a := New()
	aDeltas := captureLocalDeltas(a)
	require.NoError(t, a.SetCell("A1", Record{Value: 1.0}))

	b := New()
	bDeltas := captureLocalDeltas(b)
	require.NoError(t, b.SetCell("B1", Record{Value: 2.0}))

	// apply in opposite orders, with duplication, on two observers
	x := New()
	require.NoError(t, x.ApplyDelta((*aDeltas)[0], OriginNetwork))
	require.NoError(t, x.ApplyDelta((*bDeltas)[0], OriginNetwork))
	require.NoError(t, x.ApplyDelta((*aDeltas)[0], OriginNetwork))

	y := New()
	require.NoError(t, y.ApplyDelta((*bDeltas)[0], OriginNetwork))
	require.NoError(t, y.ApplyDelta((*aDeltas)[0], OriginNetwork))

	xCells, err := x.Cells()
	require.NoError(t, err)
	yCells, err := y.Cells()
	require.NoError(t, err)
	assert.Equal(t, xCells, yCells)
	assert.Len(t, xCells, 2)
}

func TestStoreDeltaSince(t *testing.T) {
	a := New()
	require.NoError(t, a.SetCell("A1", Record{Value: 1.0}))

	b := New()
	require.NoError(t, b.ApplyDelta(mustDelta(t, a, b), OriginNetwork))

	// b is now caught up so the next delta is empty
	delta, err := a.DeltaSince(b.VersionSummary())
	require.NoError(t, err)
	assert.Empty(t, delta)

	// a new write produces a minimal catch-up delta
	require.NoError(t, a.SetCell("B1", Record{Value: 2.0}))
	require.NoError(t, b.ApplyDelta(mustDelta(t, a, b), OriginNetwork))

	aCells, err := a.Cells()
	require.NoError(t, err)
	bCells, err := b.Cells()
	require.NoError(t, err)
	assert.Equal(t, aCells, bCells)
}

func mustDelta(t *testing.T, from, to *Store) []byte {
	t.Helper()
	delta, err := from.DeltaSince(to.VersionSummary())
	require.NoError(t, err)
	return delta
}

func TestStoreDeltaSinceGarbageSummaryDegradesToFullHistory(t *testing.T) {
	a := New()
	require.NoError(t, a.SetCell("A1", Record{Value: 1.0}))

	delta, err := a.DeltaSince([]byte("not a version summary"))
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.ApplyDelta(delta, OriginNetwork))
	r, ok, err := b.GetCell("A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Value)
}

func TestStoreApplyDeltaRejectsGarbage(t *testing.T) {
	st := New()
	assert.Error(t, st.ApplyDelta([]byte("garbage bytes"), OriginNetwork))
	assert.NoError(t, st.ApplyDelta(nil, OriginNetwork))
}

func TestStoreObserverOriginsAndKeys(t *testing.T) {
	a := New()
	aDeltas := captureLocalDeltas(a)

	b := New()
	type event struct {
		keys   []string
		origin Origin
	}
	var events []event
	detach := b.Observe(func(keys []string, origin Origin, _ []byte) {
		events = append(events, event{keys: keys, origin: origin})
	})

	require.NoError(t, b.SetCell("B1", Record{Value: 5.0}))
	require.NoError(t, a.SetCell("A1", Record{Value: 1.0}))
	require.NoError(t, b.ApplyDelta((*aDeltas)[0], OriginNetwork))

	require.Len(t, events, 2)
	assert.Equal(t, event{keys: []string{"B1"}, origin: OriginLocal}, events[0])
	assert.Equal(t, event{keys: []string{"A1"}, origin: OriginNetwork}, events[1])

	detach()
	require.NoError(t, b.SetCell("C1", Record{Value: 2.0}))
	assert.Len(t, events, 2)
}
