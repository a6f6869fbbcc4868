package importer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/registry"
)

// Stats aggregates the outcomes of one import run.
type Stats struct {
	Imported              int
	SkippedWrongCoreType  int
	SkippedNotInScope     int
	SkippedInvalidArchive int
	Failed                int
}

func (s *Stats) record(o Outcome) {
	switch o {
	case OutcomeImported:
		s.Imported++
	case OutcomeWrongCoreType:
		s.SkippedWrongCoreType++
	case OutcomeNotInScope:
		s.SkippedNotInScope++
	case OutcomeInvalidArchive:
		s.SkippedInvalidArchive++
	default:
		s.Failed++
	}
}

// Coordinator imports every file in the downloads directory with a bounded
// pool of workers. Database handles do not cross goroutines: each worker
// opens its own connection for the duration of its file.
type Coordinator struct {
	settings *conf.Settings
}

// NewCoordinator builds a coordinator.
func NewCoordinator(settings *conf.Settings) *Coordinator {
	return &Coordinator{settings: settings}
}

// Run imports all pending downloads and returns the aggregate outcome.
// A worker failure marks its file failed and leaves it in place for the
// next run; it never aborts the other workers.
func (c *Coordinator) Run(ctx context.Context) (*Stats, error) {
	if err := c.cleanup(); err != nil {
		return nil, err
	}

	downloadsDir := conf.GetBasePath(c.settings.Import.DownloadsDir)
	files, err := pendingDownloads(downloadsDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.Info("no downloads pending", "dir", downloadsDir)
		return &Stats{}, nil
	}

	var region orb.MultiPolygon
	if c.settings.Import.RegionFile != "" {
		region, err = LoadRegion(c.settings.Import.RegionFile)
		if err != nil {
			return nil, err
		}
	}

	workers := c.settings.Import.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(files) {
		workers = len(files)
	}

	sem := make(chan struct{}, workers)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats Stats
	)

	for _, file := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := c.importOne(ctx, path, region)
			mu.Lock()
			stats.record(outcome)
			mu.Unlock()
		}(file)
	}
	wg.Wait()

	logger.Info("import run complete",
		"imported", stats.Imported,
		"wrong_core_type", stats.SkippedWrongCoreType,
		"not_in_scope", stats.SkippedNotInScope,
		"invalid_archive", stats.SkippedInvalidArchive,
		"failed", stats.Failed)
	return &stats, nil
}

// cleanup removes leftovers from interrupted or out-of-scope work before any
// worker starts: occurrences that lost their dataset, and stored data for
// catalog entries a curator has since excluded.
func (c *Coordinator) cleanup() error {
	store := datastore.New(c.settings)
	if store == nil {
		return errors.Newf("no database backend enabled").
			Component("importer").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	orphans, err := store.DeleteOrphanOccurrences()
	if err != nil {
		return err
	}
	if orphans > 0 {
		logger.Info("removed orphaned occurrences", "count", orphans)
	}

	entries, err := store.HarvestedDatasetsAll()
	if err != nil {
		return err
	}
	purged := 0
	for i := range entries {
		entry := &entries[i]
		excluded := entry.IncludeInStore != nil && !*entry.IncludeInStore
		if !excluded || entry.DatasetID == nil {
			continue
		}
		if _, err := store.DeleteOccurrencesByDataset(*entry.DatasetID, 2000); err != nil {
			return err
		}
		if err := store.DeleteDatasetByKey(entry.Key); err != nil {
			return err
		}
		purged++
	}
	if purged > 0 {
		if _, err := store.DeleteOrphanProjects(); err != nil {
			return err
		}
		logger.Info("purged excluded datasets", "count", purged)
	}
	return nil
}

// importOne runs one file through a worker-private store connection and
// registry client.
func (c *Coordinator) importOne(ctx context.Context, path string, region orb.MultiPolygon) Outcome {
	store := datastore.New(c.settings)
	if store == nil {
		logger.Error("no database backend available", "path", path)
		return OutcomeFailed
	}
	if err := store.Open(); err != nil {
		logger.Error("worker could not open store", "path", path, "error", err)
		return OutcomeFailed
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("worker store close failed", "path", path, "error", err)
		}
	}()

	client := registry.NewClient(c.settings)
	defer client.Close()

	imp := NewImporter(c.settings, store, client, region)
	outcome, err := imp.ImportFile(ctx, path)
	if err != nil {
		logger.Error("import failed", "path", path, "outcome", outcome.String(), "error", err)
		return OutcomeFailed
	}
	return outcome
}

// pendingDownloads lists the importable files in the downloads directory in
// stable order.
func pendingDownloads(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".zip", ".eml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
