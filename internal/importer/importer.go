// Package importer loads downloaded archives into the store: metadata,
// occurrence records through the dedup and geographic filters, and the
// per-dataset record counters.
package importer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/dwca"
	"github.com/polarbio/occurharvest/internal/eml"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
	"github.com/polarbio/occurharvest/internal/registry"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/importer.log", "importer", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "importer")
	}
}

// Outcome classifies what happened to one downloaded file.
type Outcome int

const (
	OutcomeImported Outcome = iota
	OutcomeWrongCoreType
	OutcomeNotInScope
	OutcomeInvalidArchive
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeImported:
		return "imported"
	case OutcomeWrongCoreType:
		return "skipped_wrong_core_type"
	case OutcomeNotInScope:
		return "skipped_not_in_scope"
	case OutcomeInvalidArchive:
		return "skipped_invalid_archive"
	default:
		return "failed"
	}
}

// Importer loads one downloaded file at a time. Each worker owns its own
// Importer with its own store connection.
type Importer struct {
	settings *conf.Settings
	store    datastore.Interface
	client   *registry.Client
	region   orb.MultiPolygon
	metadata *MetadataImporter
}

// NewImporter builds an importer over an open store. region is the
// geographic scope applied to region-filtered imports.
func NewImporter(settings *conf.Settings, store datastore.Interface, client *registry.Client, region orb.MultiPolygon) *Importer {
	return &Importer{
		settings: settings,
		store:    store,
		client:   client,
		region:   region,
		metadata: NewMetadataImporter(store, client),
	}
}

// ImportFile dispatches on the file extension the reconciler used.
func (imp *Importer) ImportFile(ctx context.Context, path string) (Outcome, error) {
	switch filepath.Ext(path) {
	case ".zip":
		return imp.ImportArchive(ctx, path)
	case ".eml":
		return imp.ImportDocument(ctx, path)
	default:
		return OutcomeFailed, errors.Newf("unrecognized download %s", path).
			Component("importer").
			Category(errors.CategoryValidation).
			Build()
	}
}

// ImportArchive imports one Darwin Core Archive. The archive replaces the
// dataset's stored occurrences, so a repeated import of the same archive
// converges on the same store state.
func (imp *Importer) ImportArchive(ctx context.Context, path string) (Outcome, error) {
	datasetKey := datasetKeyFromPath(path)

	entry, err := imp.store.GetHarvestedDataset(datasetKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return OutcomeNotInScope, nil
		}
		return OutcomeFailed, err
	}
	if entry.IncludeInStore == nil || !*entry.IncludeInStore {
		return OutcomeNotInScope, nil
	}

	archive, err := dwca.Open(path)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryFileParsing) {
			logger.Warn("invalid archive", "path", path, "error", err)
			return OutcomeInvalidArchive, nil
		}
		return OutcomeFailed, err
	}
	defer archive.Close()

	if archive.CoreRowType() != dwca.CoreTypeOccurrence {
		logger.Info("archive core is not an occurrence table",
			"dataset_key", datasetKey, "core_type", archive.CoreRowType())
		return OutcomeWrongCoreType, nil
	}

	emlData, err := archive.EML()
	if err != nil {
		return OutcomeInvalidArchive, nil
	}
	md, err := eml.Parse(emlData)
	if err != nil {
		return OutcomeInvalidArchive, nil
	}

	ds, err := imp.metadata.Import(ctx, datasetKey, md, emlData)
	if err != nil {
		return OutcomeFailed, err
	}

	// Replace semantics: clear what is stored, then reload from the archive.
	if _, err := imp.store.DeleteOccurrencesByDataset(ds.ID, 2000); err != nil {
		return OutcomeFailed, err
	}
	existing, err := imp.store.ExistingGbifIDs(ds.ID)
	if err != nil {
		return OutcomeFailed, err
	}

	fullImport := entry.ImportFullDataset != nil && *entry.ImportFullDataset
	filter := NewFilter(imp.region, fullImport, existing)
	loader := NewLoader(imp.store, filter, imp.settings.Import.BatchSize, imp.settings.Import.MaintenanceEvery)

	basisCache := map[string]uint{}
	err = archive.ReadCore(func(row dwca.Row) error {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("importer").
				Category(errors.CategoryNetwork).
				Build()
		}
		occ := Transform(row)
		occ.DatasetID = &ds.ID
		occ.DatasetTitle = ds.Title
		if err := imp.resolveBasisOfRecord(occ, basisCache); err != nil {
			return err
		}
		return loader.Add(occ)
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if err := loader.Flush(); err != nil {
		return OutcomeFailed, err
	}

	// The counters compare what the store holds against the total the
	// registry reports for the dataset. The archive row count stands in when
	// the registry cannot be asked.
	full := loader.Full
	if imp.client != nil {
		if n, err := imp.client.OccurrenceCount(ctx, datasetKey); err == nil {
			full = int(n)
		} else {
			logger.Warn("registry count unavailable, using archive row count",
				"dataset_key", datasetKey, "error", err)
		}
	}
	stored, err := imp.store.CountOccurrences(ds.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	filtered := int(stored)
	if full < filtered {
		// A lagging registry index can report fewer records than the
		// archive delivered.
		full = filtered
	}
	pct := percentageRetained(full, filtered)
	if err := imp.store.UpdateRecordCounts(ds.ID, full, filtered, full-filtered, pct); err != nil {
		return OutcomeFailed, err
	}

	logger.Info("archive imported",
		"dataset_key", datasetKey,
		"full", full,
		"inserted", filtered,
		"deleted", full-filtered,
		"percentage_retained", pct,
		"full_import", fullImport)

	removeDownload(path)
	return OutcomeImported, nil
}

// ImportDocument imports a standalone metadata document, for dataset types
// that publish no occurrence archive.
func (imp *Importer) ImportDocument(ctx context.Context, path string) (Outcome, error) {
	datasetKey := datasetKeyFromPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return OutcomeFailed, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	md, err := eml.Parse(data)
	if err != nil {
		return OutcomeInvalidArchive, nil
	}
	if _, err := imp.metadata.Import(ctx, datasetKey, md, data); err != nil {
		return OutcomeFailed, err
	}

	logger.Info("metadata document imported", "dataset_key", datasetKey)
	removeDownload(path)
	return OutcomeImported, nil
}

// resolveBasisOfRecord maps the record's basis of record text to its
// reference row, caching lookups for the duration of one archive.
func (imp *Importer) resolveBasisOfRecord(occ *datastore.Occurrence, cache map[string]uint) error {
	name := strings.TrimSpace(occ.BasisOfRecordText)
	if name == "" {
		return nil
	}
	id, ok := cache[name]
	if !ok {
		b, err := imp.store.GetOrCreateBasisOfRecord(name)
		if err != nil {
			return err
		}
		id = b.ID
		cache[name] = id
	}
	occ.BasisOfRecordID = &id
	return nil
}

func datasetKeyFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// removeDownload deletes a processed download; failure only costs a
// redundant reimport next run.
func removeDownload(path string) {
	if err := os.Remove(path); err != nil {
		logger.Warn("could not remove processed download", "path", path, "error", err)
	}
}
