// Package reconcile compares the local catalog against the registry:
// it marks upstream deletions, removes stored data for deleted datasets and
// downloads new or updated archives for the importer to pick up.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
	"github.com/polarbio/occurharvest/internal/registry"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/reconcile.log", "reconcile", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "reconcile")
	}
}

// ArchiveExt and DocumentExt are the file extensions the reconciler writes
// into the downloads directory; the importer dispatches on them.
const (
	ArchiveExt  = ".zip"
	DocumentExt = ".eml"
)

// Reconciler drives one reconcile run.
type Reconciler struct {
	settings *conf.Settings
	client   *registry.Client
	store    datastore.Interface
}

// New builds a reconciler over an open store.
func New(settings *conf.Settings, client *registry.Client, store datastore.Interface) *Reconciler {
	return &Reconciler{settings: settings, client: client, store: store}
}

// Stats summarizes one reconcile run.
type Stats struct {
	Checked           int
	DeletedUpstream   int
	PurgedLocal       int // stored datasets removed because upstream deleted them
	Downloaded        int
	DocumentRefreshes int
	UpToDate          int
	TransientFailures int // network or rate limit faults, retried next run
	PermanentFailures int
}

// IsDeletedUpstream reports whether the registry considers the dataset
// deleted. A malformed key is a programming error and fails fast; a missing
// dataset record counts as deleted.
func (r *Reconciler) IsDeletedUpstream(ctx context.Context, key string) (bool, error) {
	if !registry.ValidKey(key) {
		return false, errors.Newf("malformed dataset key %q", key).
			Component("reconcile").
			Category(errors.CategoryValidation).
			Build()
	}
	detail, err := r.client.GetDataset(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return detail.IsDeleted(), nil
}

// HasNewerVersion reports whether the registry holds a newer version of the
// dataset than what was last downloaded. A deleted dataset never has one;
// an entry that was never downloaded always counts as newer.
func HasNewerVersion(detail *registry.DatasetDetail, local *datastore.Dataset) bool {
	if detail.IsDeleted() {
		return false
	}
	if local == nil || local.DownloadOn == nil {
		return true
	}
	if detail.Modified == nil {
		return false
	}
	return detail.Modified.After(*local.DownloadOn)
}

// Run reconciles every catalog entry flagged for import. Transient registry
// faults skip the entry for this run; the next run retries it.
func (r *Reconciler) Run(ctx context.Context) (*Stats, error) {
	included, err := r.store.HarvestedDatasetsIncluded()
	if err != nil {
		return nil, err
	}

	downloadsDir := conf.GetBasePath(r.settings.Import.DownloadsDir)
	stats := &Stats{}

	for i := range included {
		entry := &included[i]
		stats.Checked++
		if err := r.reconcileOne(ctx, entry, downloadsDir, stats); err != nil {
			if errors.IsCategory(err, errors.CategoryValidation) {
				return stats, err
			}
			if errors.IsTransient(err) {
				stats.TransientFailures++
				logger.Warn("transient fault, will retry next run", "key", entry.Key, "error", err)
				continue
			}
			stats.PermanentFailures++
			logger.Error("reconcile failed", "key", entry.Key, "error", err)
		}
	}

	logger.Info("reconcile complete",
		"checked", stats.Checked,
		"deleted_upstream", stats.DeletedUpstream,
		"purged", stats.PurgedLocal,
		"downloaded", stats.Downloaded,
		"document_refreshes", stats.DocumentRefreshes,
		"up_to_date", stats.UpToDate,
		"transient_failures", stats.TransientFailures,
		"permanent_failures", stats.PermanentFailures)
	return stats, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, entry *datastore.HarvestedDataset, downloadsDir string, stats *Stats) error {
	deleted, err := r.IsDeletedUpstream(ctx, entry.Key)
	if err != nil {
		return err
	}
	if deleted {
		stats.DeletedUpstream++
		if err := r.store.MarkDeletedFromRegistry(entry.Key, true); err != nil {
			return err
		}
		// A dataset gone upstream drops out of scope until a curator
		// re-enables it.
		exclude := false
		if err := r.store.SetCuratorFlags(entry.Key, &exclude, nil); err != nil {
			return err
		}
		return r.purgeLocal(entry, stats)
	}
	if err := r.store.MarkDeletedFromRegistry(entry.Key, false); err != nil {
		return err
	}

	detail, err := r.client.GetDataset(ctx, entry.Key)
	if err != nil {
		return err
	}

	var local *datastore.Dataset
	if d, err := r.store.GetDataset(entry.Key); err == nil {
		local = d
	} else if !errors.IsNotFound(err) {
		return err
	}

	if !HasNewerVersion(detail, local) {
		stats.UpToDate++
		return nil
	}

	// Metadata-only dataset types carry no occurrence archive worth
	// downloading; their document endpoint is the source of truth.
	if detail.Type == registry.DatasetTypeMetadata || detail.Type == registry.DatasetTypeChecklist {
		return r.refreshDocument(ctx, entry.Key, downloadsDir, stats)
	}

	// An entry that was never imported and reports no records yet yields an
	// empty archive; wait for the registry count to turn positive.
	neverImported := local == nil || local.DownloadOn == nil
	if neverImported && (entry.RecordCount == nil || *entry.RecordCount == 0) {
		stats.UpToDate++
		logger.Info("skipping empty new dataset", "key", entry.Key)
		return nil
	}

	archiveURL := detail.ArchiveEndpoint()
	if archiveURL == "" {
		logger.Warn("dataset publishes no archive endpoint, refreshing document only", "key", entry.Key)
		return r.refreshDocument(ctx, entry.Key, downloadsDir, stats)
	}

	dest := filepath.Join(downloadsDir, entry.Key+ArchiveExt)
	if err := r.client.DownloadArchive(ctx, archiveURL, dest); err != nil {
		return err
	}
	stats.Downloaded++
	logger.Info("archive queued for import", "key", entry.Key, "path", dest)
	return nil
}

// refreshDocument writes the dataset's metadata document into the downloads
// directory for a metadata-only import.
func (r *Reconciler) refreshDocument(ctx context.Context, key, downloadsDir string, stats *Stats) error {
	doc, err := r.client.DatasetDocument(ctx, key)
	if err != nil {
		return err
	}
	dest := filepath.Join(downloadsDir, key+DocumentExt)
	if err := os.WriteFile(dest, doc, 0o644); err != nil {
		return errors.New(err).
			Component("reconcile").
			Category(errors.CategoryFileIO).
			Context("path", dest).
			Build()
	}
	stats.DocumentRefreshes++
	return nil
}

// purgeLocal removes the stored dataset behind a catalog entry, occurrences
// first in bounded batches so the cascade never runs as one huge delete.
func (r *Reconciler) purgeLocal(entry *datastore.HarvestedDataset, stats *Stats) error {
	if entry.DatasetID == nil {
		return nil
	}
	removed, err := r.store.DeleteOccurrencesByDataset(*entry.DatasetID, 2000)
	if err != nil {
		return err
	}
	if err := r.store.DeleteDatasetByKey(entry.Key); err != nil {
		return err
	}
	if _, err := r.store.DeleteOrphanProjects(); err != nil {
		return err
	}
	stats.PurgedLocal++
	logger.Info("purged locally stored dataset", "key", entry.Key, "occurrences_removed", removed)
	return nil
}
