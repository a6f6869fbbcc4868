package datastore

import (
	"gorm.io/gorm/clause"

	"github.com/polarbio/occurharvest/internal/errors"
)

// InsertOccurrences writes one prepared batch in a single multi-row insert
// and returns the number of rows actually written. A record whose identifier
// is already stored is silently left alone, so a retried import converges
// instead of failing the whole batch. Callers size batches; this does not
// re-chunk.
func (ds *DataStore) InsertOccurrences(batch []Occurrence) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	res := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gbif_id"}},
		DoNothing: true,
	}).Create(&batch)
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("batch_size", len(batch)).
			Build()
	}
	return res.RowsAffected, nil
}

// DeleteOccurrencesByDataset removes all occurrences of a dataset in bounded
// batches so a large dataset never holds one long transaction. Returns the
// number of rows removed.
func (ds *DataStore) DeleteOccurrencesByDataset(datasetID uint, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 2000
	}
	var total int64
	for {
		var ids []uint
		err := ds.DB.Model(&Occurrence{}).
			Where("dataset_id = ?", datasetID).
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("dataset_id", datasetID).
				Build()
		}
		if len(ids) == 0 {
			return total, nil
		}
		// Grid links go first; SQLite only honors the FK cascade when
		// foreign keys are switched on for the connection.
		if err := ds.DB.Exec("DELETE FROM occurrence_hexgrids WHERE occurrence_id IN ?", ids).Error; err != nil {
			return total, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("dataset_id", datasetID).
				Build()
		}
		res := ds.DB.Where("id IN ?", ids).Delete(&Occurrence{})
		if res.Error != nil {
			return total, errors.New(res.Error).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("dataset_id", datasetID).
				Build()
		}
		total += res.RowsAffected
	}
}

// DeleteOrphanOccurrences removes occurrences whose dataset is gone, along
// with their grid links. Orphans appear when a purge is interrupted between
// the dataset delete and its record batches.
func (ds *DataStore) DeleteOrphanOccurrences() (int64, error) {
	err := ds.DB.Exec(
		"DELETE FROM occurrence_hexgrids WHERE occurrence_id IN (SELECT id FROM occurrences WHERE dataset_id IS NULL)").Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	res := ds.DB.Where("dataset_id IS NULL").Delete(&Occurrence{})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return res.RowsAffected, nil
}

// CountOccurrences returns the stored occurrence count for a dataset.
func (ds *DataStore) CountOccurrences(datasetID uint) (int64, error) {
	var n int64
	err := ds.DB.Model(&Occurrence{}).Where("dataset_id = ?", datasetID).Count(&n).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dataset_id", datasetID).
			Build()
	}
	return n, nil
}

// ExistingGbifIDs returns the set of record identifiers already stored for a
// dataset, used to keep reimports idempotent across runs.
func (ds *DataStore) ExistingGbifIDs(datasetID uint) (map[string]struct{}, error) {
	var ids []string
	err := ds.DB.Model(&Occurrence{}).
		Where("dataset_id = ?", datasetID).
		Pluck("gbif_id", &ids).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dataset_id", datasetID).
			Build()
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}
