package datastore

import (
	"gorm.io/gorm/clause"

	"github.com/polarbio/occurharvest/internal/errors"
)

// UpsertHarvestedDataset inserts a catalog entry or, when an entry with the
// same registry key exists, refreshes the registry-sourced columns. Curator
// decisions (include_in_store, import_full_dataset) and the dataset link are
// never overwritten.
func (ds *DataStore) UpsertHarvestedDataset(hd *HarvestedDataset) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "type", "license",
			"hosting_organization_key", "hosting_organization_title",
			"publishing_country",
			"publishing_organization_key", "publishing_organization_title",
			"record_count", "modified",
		}),
	}).Create(hd).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("key", hd.Key).
			Build()
	}
	return nil
}

// GetHarvestedDataset returns the catalog entry for a registry key.
func (ds *DataStore) GetHarvestedDataset(key string) (*HarvestedDataset, error) {
	var hd HarvestedDataset
	if err := ds.DB.Where("key = ?", key).First(&hd).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(categoryForLookup(err)).
			Context("key", key).
			Build()
	}
	return &hd, nil
}

// HarvestedDatasetsIncluded returns the entries curators flagged for import.
func (ds *DataStore) HarvestedDatasetsIncluded() ([]HarvestedDataset, error) {
	var out []HarvestedDataset
	if err := ds.DB.Where("include_in_store = ?", true).Order("key").Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return out, nil
}

// HarvestedDatasetsAll returns the full catalog.
func (ds *DataStore) HarvestedDatasetsAll() ([]HarvestedDataset, error) {
	var out []HarvestedDataset
	if err := ds.DB.Order("key").Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return out, nil
}

// MarkDeletedFromRegistry records whether the upstream registry reports the
// dataset as deleted.
func (ds *DataStore) MarkDeletedFromRegistry(key string, deleted bool) error {
	err := ds.DB.Model(&HarvestedDataset{}).
		Where("key = ?", key).
		Update("deleted_from_registry", deleted).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("key", key).
			Build()
	}
	return nil
}

// SetCuratorFlags records the curator decisions for a catalog entry. A nil
// pointer leaves the corresponding flag untouched.
func (ds *DataStore) SetCuratorFlags(key string, includeInStore, importFullDataset *bool) error {
	updates := map[string]any{}
	if includeInStore != nil {
		updates["include_in_store"] = *includeInStore
	}
	if importFullDataset != nil {
		updates["import_full_dataset"] = *importFullDataset
	}
	if len(updates) == 0 {
		return nil
	}
	err := ds.DB.Model(&HarvestedDataset{}).Where("key = ?", key).Updates(updates).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("key", key).
			Build()
	}
	return nil
}

// LinkHarvestedDataset points a catalog entry at its imported dataset row.
// A key with no catalog entry reports not found so callers can decide
// whether a missing entry matters.
func (ds *DataStore) LinkHarvestedDataset(key string, datasetID uint) error {
	res := ds.DB.Model(&HarvestedDataset{}).
		Where("key = ?", key).
		Update("dataset_id", datasetID)
	if res.Error != nil {
		return errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("key", key).
			Build()
	}
	if res.RowsAffected == 0 {
		return errors.Newf("no catalog entry for dataset %s", key).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("key", key).
			Build()
	}
	return nil
}
