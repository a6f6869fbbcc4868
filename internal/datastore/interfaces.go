// Package datastore provides relational persistence for the harvest catalog,
// imported datasets, occurrence records and spatial grids, with SQLite and
// MySQL backends behind a common interface.
package datastore

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/logging"
)

// Interface is the storage contract used by the harvest, reconcile, import
// and binning stages.
type Interface interface {
	Open() error
	Close() error

	// Catalog of harvested registry entries
	UpsertHarvestedDataset(hd *HarvestedDataset) error
	GetHarvestedDataset(key string) (*HarvestedDataset, error)
	HarvestedDatasetsIncluded() ([]HarvestedDataset, error)
	HarvestedDatasetsAll() ([]HarvestedDataset, error)
	MarkDeletedFromRegistry(key string, deleted bool) error
	SetCuratorFlags(key string, includeInStore, importFullDataset *bool) error
	LinkHarvestedDataset(key string, datasetID uint) error

	// Imported datasets and their metadata
	GetDataset(datasetKey string) (*Dataset, error)
	SaveDataset(ds *Dataset) error
	DeleteDataset(ds *Dataset) error
	DeleteDatasetByKey(datasetKey string) error
	DatasetKeys() ([]string, error)
	UpdateRecordCounts(datasetID uint, full, filtered, deleted int, pct float64) error
	GetOrCreateProject(title, funding string) (*Project, error)
	DeleteOrphanProjects() (int64, error)
	GetOrCreateKeyword(keyword, thesaurus string) (*Keyword, error)
	GetOrCreatePerson(p *Person) (*Person, error)
	GetOrCreatePersonTypeRole(ptr *PersonTypeRole) (*PersonTypeRole, error)
	UpsertPublisher(pub *Publisher) (*Publisher, error)
	GetOrCreateDataType(name string) (*DataType, error)
	GetOrCreateBasisOfRecord(name string) (*BasisOfRecord, error)
	ReplaceKeywords(ds *Dataset, kws []Keyword) error

	// Occurrence bulk operations
	InsertOccurrences(batch []Occurrence) (int64, error)
	DeleteOccurrencesByDataset(datasetID uint, batchSize int) (int64, error)
	DeleteOrphanOccurrences() (int64, error)
	CountOccurrences(datasetID uint) (int64, error)
	ExistingGbifIDs(datasetID uint) (map[string]struct{}, error)

	// Spatial grids
	SaveHexGrid(g *HexGrid) error
	HexGridsBySize(size int) ([]HexGrid, error)
	GridSizes() ([]int, error)
	ClearGridAssignments(size int) error
	AssignOccurrences(gridID uint, occurrenceIDs []uint) error
	AssignedOccurrenceIDs(size int) (map[uint]struct{}, error)
	GridLinkCounts(size int) (map[uint]int, error)
	UpdateGridStats(gridID uint, count, category int) error
	OccurrencesWithGeopoint(batchSize int, fn func([]Occurrence) error) error

	// Maintenance runs backend specific housekeeping (VACUUM or
	// OPTIMIZE TABLE) after heavy churn. Failures are logged, not fatal.
	Maintenance() error
}

// DataStore implements the parts of Interface that are dialect independent.
type DataStore struct {
	DB *gorm.DB
}

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/datastore.log", "datastore", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "datastore")
	}
}

// New returns the store matching the enabled output backend in settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		logger.Error("no database backend enabled in settings")
		return nil
	}
}
