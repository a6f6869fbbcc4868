package datastore

import (
	"gorm.io/gorm/clause"

	"github.com/polarbio/occurharvest/internal/errors"
)

// GetDataset returns the imported dataset for a registry key, with project,
// publisher, data type and keywords loaded.
func (ds *DataStore) GetDataset(datasetKey string) (*Dataset, error) {
	var d Dataset
	err := ds.DB.
		Preload("Project").
		Preload("Publisher").
		Preload("DataType").
		Preload("Keywords").
		Where("dataset_key = ?", datasetKey).
		First(&d).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(categoryForLookup(err)).
			Context("dataset_key", datasetKey).
			Build()
	}
	return &d, nil
}

// SaveDataset persists a dataset and its direct associations.
func (ds *DataStore) SaveDataset(d *Dataset) error {
	if err := ds.DB.Save(d).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dataset_key", d.DatasetKey).
			Build()
	}
	return nil
}

// DeleteDataset removes a dataset row together with its party roles and
// keyword links. Satellites are removed explicitly rather than through FK
// cascades, which SQLite does not enforce by default.
func (ds *DataStore) DeleteDataset(d *Dataset) error {
	if err := ds.DB.Where("dataset_id = ?", d.ID).Delete(&PersonTypeRole{}).Error; err != nil {
		return wrapDB(err, "dataset_key", d.DatasetKey)
	}
	if err := ds.DB.Exec("DELETE FROM dataset_keywords WHERE dataset_id = ?", d.ID).Error; err != nil {
		return wrapDB(err, "dataset_key", d.DatasetKey)
	}
	if err := ds.DB.Model(&HarvestedDataset{}).
		Where("dataset_id = ?", d.ID).
		Update("dataset_id", nil).Error; err != nil {
		return wrapDB(err, "dataset_key", d.DatasetKey)
	}
	if err := ds.DB.Delete(d).Error; err != nil {
		return wrapDB(err, "dataset_key", d.DatasetKey)
	}
	return nil
}

// DeleteDatasetByKey removes the dataset for a registry key if present.
// A missing dataset is not an error: deletion is idempotent.
func (ds *DataStore) DeleteDatasetByKey(datasetKey string) error {
	d, err := ds.GetDataset(datasetKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return ds.DeleteDataset(d)
}

// DatasetKeys returns the registry keys of all imported datasets.
func (ds *DataStore) DatasetKeys() ([]string, error) {
	var keys []string
	if err := ds.DB.Model(&Dataset{}).Order("dataset_key").Pluck("dataset_key", &keys).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return keys, nil
}

// UpdateRecordCounts writes the derived record counters after an import.
func (ds *DataStore) UpdateRecordCounts(datasetID uint, full, filtered, deleted int, pct float64) error {
	err := ds.DB.Model(&Dataset{}).Where("id = ?", datasetID).Updates(map[string]any{
		"full_record_count":     full,
		"filtered_record_count": filtered,
		"deleted_record_count":  deleted,
		"percentage_retained":   pct,
	}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dataset_id", datasetID).
			Build()
	}
	return nil
}

// GetOrCreateProject returns the project with the given title, creating it
// with the funding text when missing.
func (ds *DataStore) GetOrCreateProject(title, funding string) (*Project, error) {
	var p Project
	err := ds.DB.Where(Project{Title: title}).
		Attrs(Project{Funding: funding}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, wrapDB(err, "title", title)
	}
	return &p, nil
}

// DeleteOrphanProjects removes projects no dataset references anymore and
// returns the number removed.
func (ds *DataStore) DeleteOrphanProjects() (int64, error) {
	res := ds.DB.Where("id NOT IN (?)",
		ds.DB.Model(&Dataset{}).Select("project_id").Where("project_id IS NOT NULL"),
	).Delete(&Project{})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return res.RowsAffected, nil
}

// GetOrCreateKeyword returns the keyword/thesaurus pair, creating it when
// missing. Map conditions, not struct ones: an empty thesaurus must still
// constrain the lookup, otherwise it would match any thesaurus.
func (ds *DataStore) GetOrCreateKeyword(keyword, thesaurus string) (*Keyword, error) {
	var k Keyword
	err := ds.DB.Where(map[string]any{
		"keyword":   keyword,
		"thesaurus": thesaurus,
	}).FirstOrCreate(&k).Error
	if err != nil {
		return nil, wrapDB(err, "keyword", keyword)
	}
	return &k, nil
}

// GetOrCreatePerson matches an existing person on all identity fields.
// Map conditions keep empty fields in the predicate; struct conditions
// would drop them and match an unrelated person.
func (ds *DataStore) GetOrCreatePerson(p *Person) (*Person, error) {
	var out Person
	err := ds.DB.Where(map[string]any{
		"given_name": p.GivenName,
		"surname":    p.Surname,
		"full_name":  p.FullName,
		"email":      p.Email,
	}).FirstOrCreate(&out).Error
	if err != nil {
		return nil, wrapDB(err, "full_name", p.FullName)
	}
	return &out, nil
}

// GetOrCreatePersonTypeRole creates the party association if not present.
func (ds *DataStore) GetOrCreatePersonTypeRole(ptr *PersonTypeRole) (*PersonTypeRole, error) {
	var out PersonTypeRole
	query := ds.DB.Where("person_type = ? AND role = ? AND organization = ?",
		ptr.PersonType, ptr.Role, ptr.Organization)
	query = whereNullable(query, "dataset_id", ptr.DatasetID)
	query = whereNullable(query, "person_id", ptr.PersonID)
	err := query.Attrs(ptr).FirstOrCreate(&out).Error
	if err != nil {
		return nil, wrapDB(err, "person_type", ptr.PersonType)
	}
	return &out, nil
}

// UpsertPublisher inserts or refreshes a publisher by registry key.
func (ds *DataStore) UpsertPublisher(pub *Publisher) (*Publisher, error) {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "publisher_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"publisher_name", "publisher_details"}),
	}).Create(pub).Error
	if err != nil {
		return nil, wrapDB(err, "publisher_key", pub.PublisherKey)
	}
	// Re-read so the caller always sees the stored row id, also on conflict.
	var out Publisher
	if err := ds.DB.Where("publisher_key = ?", pub.PublisherKey).First(&out).Error; err != nil {
		return nil, wrapDB(err, "publisher_key", pub.PublisherKey)
	}
	return &out, nil
}

// GetOrCreateDataType returns the data type row for a registry type name.
func (ds *DataStore) GetOrCreateDataType(name string) (*DataType, error) {
	var dt DataType
	err := ds.DB.Where(DataType{DataType: name}).FirstOrCreate(&dt).Error
	if err != nil {
		return nil, wrapDB(err, "data_type", name)
	}
	return &dt, nil
}

// GetOrCreateBasisOfRecord returns the basis of record row for a value.
func (ds *DataStore) GetOrCreateBasisOfRecord(name string) (*BasisOfRecord, error) {
	var b BasisOfRecord
	err := ds.DB.Where(BasisOfRecord{BasisOfRecord: name}).FirstOrCreate(&b).Error
	if err != nil {
		return nil, wrapDB(err, "basis_of_record", name)
	}
	return &b, nil
}

// ReplaceKeywords sets the dataset's keyword association to exactly kws.
func (ds *DataStore) ReplaceKeywords(d *Dataset, kws []Keyword) error {
	ptrs := make([]*Keyword, len(kws))
	for i := range kws {
		ptrs[i] = &kws[i]
	}
	if err := ds.DB.Model(d).Association("Keywords").Replace(ptrs); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dataset_key", d.DatasetKey).
			Build()
	}
	return nil
}
