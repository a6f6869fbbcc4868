package importer

import (
	"math"

	"github.com/polarbio/occurharvest/internal/datastore"
)

// Loader accumulates accepted occurrences and writes them in fixed size
// multi-row inserts, running store maintenance periodically so long imports
// do not degrade the database.
type Loader struct {
	store            datastore.Interface
	filter           *Filter
	batchSize        int
	maintenanceEvery int

	pending []datastore.Occurrence
	flushes int

	// Counters over the whole load.
	Full     int // rows offered
	Inserted int // rows written
	Skipped  map[SkipReason]int
}

// NewLoader builds a loader; batchSize and maintenanceEvery fall back to
// their standard values when not positive.
func NewLoader(store datastore.Interface, filter *Filter, batchSize, maintenanceEvery int) *Loader {
	if batchSize <= 0 {
		batchSize = 5000
	}
	if maintenanceEvery <= 0 {
		maintenanceEvery = 200
	}
	return &Loader{
		store:            store,
		filter:           filter,
		batchSize:        batchSize,
		maintenanceEvery: maintenanceEvery,
		pending:          make([]datastore.Occurrence, 0, batchSize),
		Skipped:          map[SkipReason]int{},
	}
}

// Add offers one transformed occurrence. A full batch flushes immediately.
func (l *Loader) Add(occ *datastore.Occurrence) error {
	l.Full++
	if reason := l.filter.Accept(occ); reason != Kept {
		l.Skipped[reason]++
		return nil
	}
	l.pending = append(l.pending, *occ)
	if len(l.pending) >= l.batchSize {
		return l.flush()
	}
	return nil
}

// Flush writes any remaining partial batch. Call once after the last Add.
func (l *Loader) Flush() error {
	if len(l.pending) == 0 {
		return nil
	}
	return l.flush()
}

func (l *Loader) flush() error {
	written, err := l.store.InsertOccurrences(l.pending)
	if err != nil {
		return err
	}
	// written can fall short of the batch when a retried import meets rows
	// a killed worker already committed.
	l.Inserted += int(written)
	l.pending = l.pending[:0]
	l.filter.ResetSeen()

	l.flushes++
	if l.flushes%l.maintenanceEvery == 0 {
		// Housekeeping is best effort; a failed VACUUM must not abort
		// an import that is otherwise healthy.
		if err := l.store.Maintenance(); err != nil {
			logger.Warn("database maintenance failed mid-import", "error", err)
		}
	}
	return nil
}

// Deleted returns how many offered rows were not kept.
func (l *Loader) Deleted() int {
	return l.Full - l.Inserted
}

// PercentageRetained computes the share of offered rows that were kept,
// rounded to three decimals. A load that dropped nothing reports 100 even
// for an empty file.
func (l *Loader) PercentageRetained() float64 {
	return percentageRetained(l.Full, l.Inserted)
}

// percentageRetained is the shared rounding rule for record counters: a
// flat 100 when nothing was dropped, otherwise kept/(full+1) to three
// decimals.
func percentageRetained(full, kept int) float64 {
	if full == kept {
		return 100
	}
	pct := float64(kept) / float64(full+1) * 100
	return math.Round(pct*1000) / 1000
}
