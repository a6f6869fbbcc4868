package datastore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polarbio/occurharvest/internal/errors"
)

// setupTestDB creates an in-memory database with the full schema.
func setupTestDB(t *testing.T) *DataStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, performAutoMigration(db, false, "SQLite", ":memory:"))

	return &DataStore{DB: db}
}

func boolPtr(b bool) *bool { return &b }

// insertAll bulk-inserts a batch and asserts that every row was new.
func insertAll(t *testing.T, ds *DataStore, batch []Occurrence) {
	t.Helper()
	written, err := ds.InsertOccurrences(batch)
	require.NoError(t, err)
	require.EqualValues(t, len(batch), written)
}

func TestInsertOccurrencesSkipsDuplicates(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "77777777-7777-7777-7777-777777777777"}
	require.NoError(t, ds.SaveDataset(dataset))

	insertAll(t, ds, []Occurrence{
		{GbifID: "dup-1", DatasetID: &dataset.ID},
		{GbifID: "dup-2", DatasetID: &dataset.ID},
	})

	// A second batch overlapping the first only lands the new row.
	written, err := ds.InsertOccurrences([]Occurrence{
		{GbifID: "dup-2", DatasetID: &dataset.ID},
		{GbifID: "dup-3", DatasetID: &dataset.ID},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, written)

	count, err := ds.CountOccurrences(dataset.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestUpsertHarvestedDatasetPreservesCuratorFlags(t *testing.T) {
	ds := setupTestDB(t)

	first := &HarvestedDataset{
		Key:   "5c0b1470-8884-11e5-b813-00163e0b48b5",
		Title: "Seabird colonies",
		Type:  "OCCURRENCE",
	}
	require.NoError(t, ds.UpsertHarvestedDataset(first))

	// Curator flags the entry after the first harvest.
	require.NoError(t, ds.DB.Model(&HarvestedDataset{}).
		Where("key = ?", first.Key).
		Update("include_in_store", true).Error)

	// The next harvest sees the same dataset with a new title.
	second := &HarvestedDataset{
		Key:   first.Key,
		Title: "Seabird colonies of the Southern Ocean",
		Type:  "OCCURRENCE",
	}
	require.NoError(t, ds.UpsertHarvestedDataset(second))

	stored, err := ds.GetHarvestedDataset(first.Key)
	require.NoError(t, err)
	assert.Equal(t, "Seabird colonies of the Southern Ocean", stored.Title, "registry fields should refresh")
	require.NotNil(t, stored.IncludeInStore, "curator decision must survive the upsert")
	assert.True(t, *stored.IncludeInStore)

	var count int64
	require.NoError(t, ds.DB.Model(&HarvestedDataset{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "upsert must not create a second row")
}

func TestLinkHarvestedDataset(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "5c0b1470-8884-11e5-b813-00163e0b48b5"}
	require.NoError(t, ds.SaveDataset(dataset))

	// No catalog entry yet: the caller must be able to tell.
	err := ds.LinkHarvestedDataset(dataset.DatasetKey, dataset.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	entry := &HarvestedDataset{Key: dataset.DatasetKey}
	require.NoError(t, ds.UpsertHarvestedDataset(entry))

	require.NoError(t, ds.LinkHarvestedDataset(dataset.DatasetKey, dataset.ID))
	stored, err := ds.GetHarvestedDataset(dataset.DatasetKey)
	require.NoError(t, err)
	require.NotNil(t, stored.DatasetID)
	assert.Equal(t, dataset.ID, *stored.DatasetID)
}

func TestSetCuratorFlags(t *testing.T) {
	ds := setupTestDB(t)

	entry := &HarvestedDataset{Key: "99999999-9999-9999-9999-999999999999"}
	require.NoError(t, ds.UpsertHarvestedDataset(entry))

	require.NoError(t, ds.SetCuratorFlags(entry.Key, boolPtr(true), boolPtr(true)))
	stored, err := ds.GetHarvestedDataset(entry.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.IncludeInStore)
	assert.True(t, *stored.IncludeInStore)
	require.NotNil(t, stored.ImportFullDataset)
	assert.True(t, *stored.ImportFullDataset)

	// A nil flag leaves the stored decision alone.
	require.NoError(t, ds.SetCuratorFlags(entry.Key, boolPtr(false), nil))
	stored, err = ds.GetHarvestedDataset(entry.Key)
	require.NoError(t, err)
	assert.False(t, *stored.IncludeInStore)
	require.NotNil(t, stored.ImportFullDataset)
	assert.True(t, *stored.ImportFullDataset)
}

func TestHarvestedDatasetsIncluded(t *testing.T) {
	ds := setupTestDB(t)

	entries := []HarvestedDataset{
		{Key: "11111111-1111-1111-1111-111111111111", IncludeInStore: boolPtr(true)},
		{Key: "22222222-2222-2222-2222-222222222222", IncludeInStore: boolPtr(false)},
		{Key: "33333333-3333-3333-3333-333333333333"},
	}
	for i := range entries {
		require.NoError(t, ds.DB.Create(&entries[i]).Error)
	}

	included, err := ds.HarvestedDatasetsIncluded()
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", included[0].Key)
}

func TestDeleteOccurrencesByDataset(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "44444444-4444-4444-4444-444444444444"}
	require.NoError(t, ds.SaveDataset(dataset))
	other := &Dataset{DatasetKey: "55555555-5555-5555-5555-555555555555"}
	require.NoError(t, ds.SaveDataset(other))

	var batch []Occurrence
	for i := 0; i < 25; i++ {
		batch = append(batch, Occurrence{GbifID: fmt.Sprintf("rec-%d", i), DatasetID: &dataset.ID})
	}
	batch = append(batch, Occurrence{GbifID: "other-1", DatasetID: &other.ID})
	insertAll(t, ds, batch)

	// Batch size smaller than the row count forces several delete rounds.
	removed, err := ds.DeleteOccurrencesByDataset(dataset.ID, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 25, removed)

	remaining, err := ds.CountOccurrences(other.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining, "other dataset's records must survive")

	none, err := ds.CountOccurrences(dataset.ID)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestExistingGbifIDs(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "66666666-6666-6666-6666-666666666666"}
	require.NoError(t, ds.SaveDataset(dataset))
	insertAll(t, ds, []Occurrence{
		{GbifID: "a", DatasetID: &dataset.ID},
		{GbifID: "b", DatasetID: &dataset.ID},
	})

	ids, err := ds.ExistingGbifIDs(dataset.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, ok := ids["a"]
	assert.True(t, ok)
}

func TestDeleteOrphanProjects(t *testing.T) {
	ds := setupTestDB(t)

	kept, err := ds.GetOrCreateProject("Census of Antarctic Marine Life", "")
	require.NoError(t, err)
	_, err = ds.GetOrCreateProject("Finished expedition", "")
	require.NoError(t, err)

	dataset := &Dataset{DatasetKey: "77777777-7777-7777-7777-777777777777", ProjectID: &kept.ID}
	require.NoError(t, ds.SaveDataset(dataset))

	removed, err := ds.DeleteOrphanProjects()
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, ds.DB.Model(&Project{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpdateRecordCounts(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "88888888-8888-8888-8888-888888888888"}
	require.NoError(t, ds.SaveDataset(dataset))
	require.NoError(t, ds.UpdateRecordCounts(dataset.ID, 100, 80, 20, 79.208))

	stored, err := ds.GetDataset(dataset.DatasetKey)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.FullRecordCount)
	assert.Equal(t, 80, stored.FilteredRecordCount)
	assert.Equal(t, 20, stored.DeletedRecordCount)
	assert.InDelta(t, 79.208, stored.PercentageRetained, 0.0001)
	assert.Equal(t, stored.FullRecordCount, stored.FilteredRecordCount+stored.DeletedRecordCount)
}

func TestGetOrCreatePersonMergesDuplicates(t *testing.T) {
	ds := setupTestDB(t)

	p := &Person{GivenName: "Ada", Surname: "Larsen", FullName: "Ada Larsen", Email: "ada@example.org"}
	first, err := ds.GetOrCreatePerson(p)
	require.NoError(t, err)
	second, err := ds.GetOrCreatePerson(p)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreatePersonMatchesAllIdentityFields(t *testing.T) {
	ds := setupTestDB(t)

	ada, err := ds.GetOrCreatePerson(&Person{GivenName: "Ada", Surname: "Larsen", FullName: "Ada Larsen", Email: "ada@example.org"})
	require.NoError(t, err)

	// A person whose identity fields are all empty must not collapse onto an
	// existing person just because empty fields are left unconstrained.
	blank, err := ds.GetOrCreatePerson(&Person{})
	require.NoError(t, err)
	assert.NotEqual(t, ada.ID, blank.ID)

	// Partial identities stay distinct from the full record too.
	emailOnly, err := ds.GetOrCreatePerson(&Person{Email: "ada@example.org"})
	require.NoError(t, err)
	assert.NotEqual(t, ada.ID, emailOnly.ID)
}

func TestGetOrCreateKeywordKeepsThesauriApart(t *testing.T) {
	ds := setupTestDB(t)

	gbif, err := ds.GetOrCreateKeyword("Antarctica", "GBIF Thesaurus")
	require.NoError(t, err)

	// The same keyword without a thesaurus is a different row, not a match on
	// the existing one.
	bare, err := ds.GetOrCreateKeyword("Antarctica", "")
	require.NoError(t, err)
	assert.NotEqual(t, gbif.ID, bare.ID)
	assert.Empty(t, bare.Thesaurus)

	again, err := ds.GetOrCreateKeyword("Antarctica", "")
	require.NoError(t, err)
	assert.Equal(t, bare.ID, again.ID)
}

func TestUpsertPublisher(t *testing.T) {
	ds := setupTestDB(t)

	key := "99999999-9999-9999-9999-999999999999"
	first, err := ds.UpsertPublisher(&Publisher{PublisherKey: key, PublisherName: "Old name"})
	require.NoError(t, err)
	second, err := ds.UpsertPublisher(&Publisher{PublisherKey: key, PublisherName: "New name"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "New name", second.PublisherName)
}

func TestGridAssignments(t *testing.T) {
	ds := setupTestDB(t)

	grid := &HexGrid{Geom: `{"type":"MultiPolygon","coordinates":[]}`, Size: 100000}
	require.NoError(t, ds.SaveHexGrid(grid))

	dataset := &Dataset{DatasetKey: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"}
	require.NoError(t, ds.SaveDataset(dataset))
	insertAll(t, ds, []Occurrence{
		{GbifID: "g1", DatasetID: &dataset.ID},
		{GbifID: "g2", DatasetID: &dataset.ID},
	})
	var occs []Occurrence
	require.NoError(t, ds.DB.Find(&occs).Error)

	require.NoError(t, ds.AssignOccurrences(grid.ID, []uint{occs[0].ID, occs[1].ID}))
	require.NoError(t, ds.UpdateGridStats(grid.ID, 2, 1))

	grids, err := ds.HexGridsBySize(100000)
	require.NoError(t, err)
	require.Len(t, grids, 1)
	assert.Equal(t, 2, grids[0].OccCount)
	assert.Equal(t, 1, grids[0].Category)

	require.NoError(t, ds.ClearGridAssignments(100000))
	grids, err = ds.HexGridsBySize(100000)
	require.NoError(t, err)
	assert.Zero(t, grids[0].OccCount)
	assert.Zero(t, grids[0].Category)

	var links int64
	require.NoError(t, ds.DB.Table("occurrence_hexgrids").Count(&links).Error)
	assert.Zero(t, links)
}

func TestOccurrencesWithGeopointBatches(t *testing.T) {
	ds := setupTestDB(t)

	dataset := &Dataset{DatasetKey: "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"}
	require.NoError(t, ds.SaveDataset(dataset))

	lat, lon := -70.5, 12.25
	var batch []Occurrence
	for i := 0; i < 7; i++ {
		batch = append(batch, Occurrence{
			GbifID:           fmt.Sprintf("geo-%d", i),
			DatasetID:        &dataset.ID,
			DecimalLatitude:  &lat,
			DecimalLongitude: &lon,
		})
	}
	batch = append(batch, Occurrence{GbifID: "no-geo", DatasetID: &dataset.ID})
	insertAll(t, ds, batch)

	seen := 0
	calls := 0
	err := ds.OccurrencesWithGeopoint(3, func(occs []Occurrence) error {
		calls++
		seen += len(occs)
		for i := range occs {
			require.NotNil(t, occs[i].DecimalLatitude)
			require.NotNil(t, occs[i].DecimalLongitude)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, seen, "record without geopoint must not stream")
	assert.Equal(t, 3, calls)
}
