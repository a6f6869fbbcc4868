package datastore

import (
	"gorm.io/gorm"

	"github.com/polarbio/occurharvest/internal/errors"
)

// SaveHexGrid persists one grid cell.
func (ds *DataStore) SaveHexGrid(g *HexGrid) error {
	if err := ds.DB.Save(g).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", g.Size).
			Build()
	}
	return nil
}

// HexGridsBySize returns every cell of one grid resolution.
func (ds *DataStore) HexGridsBySize(size int) ([]HexGrid, error) {
	var out []HexGrid
	if err := ds.DB.Where("size = ?", size).Order("id").Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", size).
			Build()
	}
	return out, nil
}

// GridSizes returns the distinct grid resolutions present in the store.
func (ds *DataStore) GridSizes() ([]int, error) {
	var sizes []int
	err := ds.DB.Model(&HexGrid{}).Distinct("size").Order("size").Pluck("size", &sizes).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sizes, nil
}

// ClearGridAssignments removes all occurrence links and zeroes the counters
// for one grid resolution, ahead of a full recompute.
func (ds *DataStore) ClearGridAssignments(size int) error {
	err := ds.DB.Exec(
		"DELETE FROM occurrence_hexgrids WHERE hex_grid_id IN (SELECT id FROM hex_grids WHERE size = ?)",
		size).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", size).
			Build()
	}
	err = ds.DB.Model(&HexGrid{}).Where("size = ?", size).
		Updates(map[string]any{"occ_count": 0, "category": 0}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", size).
			Build()
	}
	return nil
}

// AssignOccurrences links a set of occurrences to one grid cell.
func (ds *DataStore) AssignOccurrences(gridID uint, occurrenceIDs []uint) error {
	if len(occurrenceIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(occurrenceIDs))
	for _, id := range occurrenceIDs {
		rows = append(rows, map[string]any{"hex_grid_id": gridID, "occurrence_id": id})
	}
	if err := ds.DB.Table("occurrence_hexgrids").Create(rows).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("grid_id", gridID).
			Build()
	}
	return nil
}

// AssignedOccurrenceIDs returns the ids of occurrences already linked to
// any cell of one grid resolution.
func (ds *DataStore) AssignedOccurrenceIDs(size int) (map[uint]struct{}, error) {
	var ids []uint
	err := ds.DB.Table("occurrence_hexgrids").
		Joins("JOIN hex_grids ON hex_grids.id = occurrence_hexgrids.hex_grid_id").
		Where("hex_grids.size = ?", size).
		Pluck("occurrence_hexgrids.occurrence_id", &ids).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", size).
			Build()
	}
	out := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// GridLinkCounts returns, per cell of one resolution, how many occurrences
// are linked to it.
func (ds *DataStore) GridLinkCounts(size int) (map[uint]int, error) {
	var rows []struct {
		HexGridID uint
		N         int
	}
	err := ds.DB.Table("occurrence_hexgrids").
		Select("occurrence_hexgrids.hex_grid_id, count(*) as n").
		Joins("JOIN hex_grids ON hex_grids.id = occurrence_hexgrids.hex_grid_id").
		Where("hex_grids.size = ?", size).
		Group("occurrence_hexgrids.hex_grid_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("size", size).
			Build()
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.HexGridID] = r.N
	}
	return out, nil
}

// UpdateGridStats writes the recomputed count and magnitude category.
func (ds *DataStore) UpdateGridStats(gridID uint, count, category int) error {
	err := ds.DB.Model(&HexGrid{}).Where("id = ?", gridID).
		Updates(map[string]any{"occ_count": count, "category": category}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("grid_id", gridID).
			Build()
	}
	return nil
}

// OccurrencesWithGeopoint streams all occurrences that carry parsed
// coordinates to fn in batches, loading only the columns binning needs.
func (ds *DataStore) OccurrencesWithGeopoint(batchSize int, fn func([]Occurrence) error) error {
	if batchSize <= 0 {
		batchSize = 5000
	}
	var batch []Occurrence
	err := ds.DB.Model(&Occurrence{}).
		Select("id", "decimal_latitude", "decimal_longitude").
		Where("decimal_latitude IS NOT NULL AND decimal_longitude IS NOT NULL").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}
