package importer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarbio/occurharvest/internal/datastore"
)

// insertRecorder records bulk insert and maintenance calls. The embedded
// interface is nil; any other call is a test bug and panics.
type insertRecorder struct {
	datastore.Interface
	batches     []int
	maintenance int
	failInsert  error
}

func (r *insertRecorder) InsertOccurrences(batch []datastore.Occurrence) (int64, error) {
	if r.failInsert != nil {
		return 0, r.failInsert
	}
	r.batches = append(r.batches, len(batch))
	return int64(len(batch)), nil
}

func (r *insertRecorder) Maintenance() error {
	r.maintenance++
	return nil
}

func addN(t *testing.T, l *Loader, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, l.Add(&datastore.Occurrence{GbifID: fmt.Sprintf("id-%d", i)}))
	}
}

func TestLoaderBatchBoundaries(t *testing.T) {
	store := &insertRecorder{}
	l := NewLoader(store, NewFilter(nil, true, nil), 5000, 200)

	addN(t, l, 12001)
	require.NoError(t, l.Flush())

	assert.Equal(t, []int{5000, 5000, 2001}, store.batches)
	assert.Equal(t, 12001, l.Full)
	assert.Equal(t, 12001, l.Inserted)
	assert.Zero(t, l.Deleted())
}

func TestLoaderCountInvariant(t *testing.T) {
	store := &insertRecorder{}
	f := NewFilter(testRegion(), false, nil)
	l := NewLoader(store, f, 10, 200)

	require.NoError(t, l.Add(occurrence("1", floatPtr(-70), floatPtr(10))))
	require.NoError(t, l.Add(occurrence("1", floatPtr(-70), floatPtr(10)))) // duplicate
	require.NoError(t, l.Add(occurrence("2", nil, nil)))                    // no geopoint
	require.NoError(t, l.Add(occurrence("3", floatPtr(-30), floatPtr(10))))
	require.NoError(t, l.Flush())

	assert.Equal(t, 4, l.Full)
	assert.Equal(t, 1, l.Inserted)
	assert.Equal(t, 3, l.Deleted())
	assert.Equal(t, l.Full, l.Inserted+l.Deleted())
	assert.Equal(t, 1, l.Skipped[SkipDuplicate])
	assert.Equal(t, 1, l.Skipped[SkipNoGeopoint])
	assert.Equal(t, 1, l.Skipped[SkipOutsideRegion])
}

func TestLoaderPercentageRetained(t *testing.T) {
	store := &insertRecorder{}

	// Nothing dropped reports a flat 100, even with zero rows.
	l := NewLoader(store, NewFilter(nil, true, nil), 10, 200)
	assert.InDelta(t, 100, l.PercentageRetained(), 1e-9)
	addN(t, l, 5)
	require.NoError(t, l.Flush())
	assert.InDelta(t, 100, l.PercentageRetained(), 1e-9)

	// With drops the share is computed against offered rows plus one.
	f := NewFilter(testRegion(), false, nil)
	l = NewLoader(store, f, 10, 200)
	for i := 0; i < 80; i++ {
		require.NoError(t, l.Add(occurrence(fmt.Sprintf("in-%d", i), floatPtr(-70), floatPtr(10))))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Add(occurrence(fmt.Sprintf("out-%d", i), floatPtr(-30), floatPtr(10))))
	}
	require.NoError(t, l.Flush())
	assert.InDelta(t, 79.208, l.PercentageRetained(), 0.001) // 80/101*100
}

func TestLoaderPeriodicMaintenance(t *testing.T) {
	store := &insertRecorder{}
	l := NewLoader(store, NewFilter(nil, true, nil), 10, 3)

	addN(t, l, 100) // 10 full flushes
	require.NoError(t, l.Flush())

	assert.Equal(t, 10, len(store.batches))
	assert.Equal(t, 3, store.maintenance, "every third flush runs maintenance")
}

func TestLoaderSeenResetsPerFlush(t *testing.T) {
	store := &insertRecorder{}
	l := NewLoader(store, NewFilter(nil, true, nil), 2, 200)

	require.NoError(t, l.Add(&datastore.Occurrence{GbifID: "x"}))
	require.NoError(t, l.Add(&datastore.Occurrence{GbifID: "y"})) // flush happens here
	require.NoError(t, l.Add(&datastore.Occurrence{GbifID: "x"}))
	require.NoError(t, l.Flush())

	assert.Equal(t, 3, l.Inserted, "the batch-local duplicate set starts over after a flush")
}

func TestLoaderInsertFailurePropagates(t *testing.T) {
	store := &insertRecorder{failInsert: assert.AnError}
	l := NewLoader(store, NewFilter(nil, true, nil), 2, 200)

	require.NoError(t, l.Add(&datastore.Occurrence{GbifID: "a"}))
	err := l.Add(&datastore.Occurrence{GbifID: "b"})
	assert.ErrorIs(t, err, assert.AnError)
}
