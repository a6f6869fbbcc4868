// model.go defines the data model for the harvested catalog, imported
// datasets and occurrence records.
package datastore

import "time"

// HarvestedDataset is a catalog entry for a dataset known to exist on the
// registry, independent of whether it has been imported. Curators flag which
// entries should be imported; the pipeline never deletes the entry itself.
type HarvestedDataset struct {
	ID                          uint   `gorm:"primaryKey"`
	Key                         string `gorm:"uniqueIndex;not null"` // dataset UUID on the registry
	Title                       string
	Type                        string // registry DatasetType enum value, e.g. OCCURRENCE, METADATA
	License                     string
	HostingOrganizationKey      string
	HostingOrganizationTitle    string
	PublishingCountry           string
	PublishingOrganizationKey   string
	PublishingOrganizationTitle string
	RecordCount                 *uint      // occurrence count reported by the registry
	Modified                    *time.Time // last modified timestamp on the registry
	DeletedFromRegistry         *bool      `gorm:"index"` // marked as deleted upstream
	IncludeInStore              *bool      `gorm:"index"` // curator decision to import, nil = undecided
	ImportFullDataset           *bool      `gorm:"index"` // full import vs region-filtered, nil = undecided
	DatasetID                   *uint      `gorm:"index"`
	Dataset                     *Dataset   `gorm:"foreignKey:DatasetID;constraint:OnDelete:SET NULL"`
	HarvestedOn                 time.Time  `gorm:"autoCreateTime"`
}

// DataType is the row type of the core table of an archive, as reported by
// the registry (e.g. "Occurrence", "Sampling Event", "Metadata").
type DataType struct {
	ID       uint   `gorm:"primaryKey"`
	DataType string `gorm:"uniqueIndex;not null"`
}

// Publisher of a dataset. Not recorded in the archive itself, only
// obtainable from the registry API.
type Publisher struct {
	ID               uint   `gorm:"primaryKey"`
	PublisherKey     string `gorm:"uniqueIndex;not null"` // organization UUID on the registry
	PublisherName    string
	PublisherDetails string `gorm:"type:text"` // raw JSON response from the registry
}

// Project carries the research context of a dataset, at most one per dataset.
type Project struct {
	ID      uint   `gorm:"primaryKey"`
	Title   string `gorm:"uniqueIndex;not null"`
	Funding string `gorm:"type:text"`
}

// Keyword is one keyword/thesaurus pair from a dataset's metadata document.
type Keyword struct {
	ID        uint   `gorm:"primaryKey"`
	Keyword   string `gorm:"uniqueIndex:idx_keyword_thesaurus;not null"`
	Thesaurus string `gorm:"uniqueIndex:idx_keyword_thesaurus"`
	Datasets  []Dataset `gorm:"many2many:dataset_keywords"`
}

// Person is an individual named in a dataset's metadata document.
type Person struct {
	ID        uint   `gorm:"primaryKey"`
	GivenName string `gorm:"uniqueIndex:idx_person_identity"`
	Surname   string `gorm:"uniqueIndex:idx_person_identity"`
	FullName  string `gorm:"uniqueIndex:idx_person_identity"`
	Email     string `gorm:"uniqueIndex:idx_person_identity"`
}

// PersonTypeRole associates a Person with a dataset in a given party type
// (creator, metadataProvider, personnel, ...) and role.
type PersonTypeRole struct {
	ID           uint   `gorm:"primaryKey"`
	PersonType   string `gorm:"uniqueIndex:idx_person_type_role"`
	Role         string `gorm:"uniqueIndex:idx_person_type_role"`
	Organization string `gorm:"uniqueIndex:idx_person_type_role"`
	DatasetID    *uint  `gorm:"uniqueIndex:idx_person_type_role;constraint:OnDelete:CASCADE"`
	PersonID     *uint  `gorm:"uniqueIndex:idx_person_type_role;constraint:OnDelete:CASCADE"`
	ProjectID    *uint  `gorm:"constraint:OnDelete:CASCADE"`
}

// BasisOfRecord classifies how an occurrence was recorded, e.g.
// HUMAN_OBSERVATION or PRESERVED_SPECIMEN.
type BasisOfRecord struct {
	ID            uint   `gorm:"primaryKey"`
	BasisOfRecord string `gorm:"uniqueIndex;not null"`
}

// Dataset is the canonical unit of imported data, built from the metadata
// document embedded in an archive.
type Dataset struct {
	ID                   uint   `gorm:"primaryKey"`
	DatasetKey           string `gorm:"uniqueIndex;not null"`
	Title                string `gorm:"type:text"`
	DOI                  string
	AlternateIdentifiers string `gorm:"type:text"` // newline separated
	Abstract             string `gorm:"type:text"`
	IntellectualRights   string `gorm:"type:text"`
	Citation             string `gorm:"type:text"`
	EMLText              string `gorm:"type:text"` // verbatim document for full text search
	BoundingBox          string // WKT polygon of the geographic coverage
	PubDate              *time.Time
	DownloadOn           *time.Time // dateStamp of the downloaded document
	CreatedAt            time.Time
	UpdatedAt            time.Time

	ProjectID   *uint
	Project     *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	PublisherID *uint
	Publisher   *Publisher `gorm:"foreignKey:PublisherID;constraint:OnDelete:SET NULL"`
	DataTypeID  *uint
	DataType    *DataType `gorm:"foreignKey:DataTypeID;constraint:OnDelete:SET NULL"`

	Keywords []Keyword `gorm:"many2many:dataset_keywords"`

	// Derived record counters, updated after every (re)import.
	// Invariant: FilteredRecordCount + DeletedRecordCount == FullRecordCount.
	FullRecordCount     int
	FilteredRecordCount int
	DeletedRecordCount  int
	PercentageRetained  float64
}

// Occurrence is one biodiversity observation from an archive's core table.
// The dwc struct tags carry the stable term URI each field is mapped from;
// the transformer builds its URI to field mapping from them.
type Occurrence struct {
	ID     uint   `gorm:"primaryKey"`
	GbifID string `gorm:"uniqueIndex;not null" dwc:"http://rs.gbif.org/terms/1.0/gbifID"`

	// Record level
	RecordType            string `dwc:"http://purl.org/dc/terms/type"`
	License               string `dwc:"http://purl.org/dc/terms/license"`
	RightsHolder          string `dwc:"http://purl.org/dc/terms/rightsHolder"`
	AccessRights          string `dwc:"http://purl.org/dc/terms/accessRights"`
	BibliographicCitation string `gorm:"type:text" dwc:"http://purl.org/dc/terms/bibliographicCitation"`
	References            string `dwc:"http://purl.org/dc/terms/references"`
	Modified              string `dwc:"http://purl.org/dc/terms/modified"`
	InstitutionCode       string `dwc:"http://rs.tdwg.org/dwc/terms/institutionCode"`
	CollectionCode        string `dwc:"http://rs.tdwg.org/dwc/terms/collectionCode"`
	DatasetName           string `dwc:"http://rs.tdwg.org/dwc/terms/datasetName"`
	BasisOfRecordText     string `gorm:"column:basis_of_record_text" dwc:"http://rs.tdwg.org/dwc/terms/basisOfRecord"`
	DatasetKey            string `dwc:"http://rs.gbif.org/terms/1.0/datasetKey"`
	Issue                 string `dwc:"http://rs.gbif.org/terms/1.0/issue"`
	MediaType             string `dwc:"http://rs.gbif.org/terms/1.0/mediaType"`

	// Occurrence
	OccurrenceID      string `dwc:"http://rs.tdwg.org/dwc/terms/occurrenceID"`
	CatalogNumber     string `dwc:"http://rs.tdwg.org/dwc/terms/catalogNumber"`
	RecordedBy        string `dwc:"http://rs.tdwg.org/dwc/terms/recordedBy"`
	IndividualCount   string `dwc:"http://rs.tdwg.org/dwc/terms/individualCount"`
	Sex               string `dwc:"http://rs.tdwg.org/dwc/terms/sex"`
	LifeStage         string `dwc:"http://rs.tdwg.org/dwc/terms/lifeStage"`
	OccurrenceStatus  string `dwc:"http://rs.tdwg.org/dwc/terms/occurrenceStatus"`
	OccurrenceRemarks string `gorm:"type:text" dwc:"http://rs.tdwg.org/dwc/terms/occurrenceRemarks"`

	// Event
	EventID           string `dwc:"http://rs.tdwg.org/dwc/terms/eventID"`
	ParentEventID     string `dwc:"http://rs.tdwg.org/dwc/terms/parentEventID"`
	FieldNumber       string `dwc:"http://rs.tdwg.org/dwc/terms/fieldNumber"`
	EventDate         string `dwc:"http://rs.tdwg.org/dwc/terms/eventDate"`
	EventTime         string `dwc:"http://rs.tdwg.org/dwc/terms/eventTime"`
	VerbatimEventDate string `dwc:"http://rs.tdwg.org/dwc/terms/verbatimEventDate"`
	SamplingProtocol  string `dwc:"http://rs.tdwg.org/dwc/terms/samplingProtocol"`
	SamplingEffort    string `dwc:"http://rs.tdwg.org/dwc/terms/samplingEffort"`
	EventRemarks      string `gorm:"type:text" dwc:"http://rs.tdwg.org/dwc/terms/eventRemarks"`

	// Location
	LocationID       string `dwc:"http://rs.tdwg.org/dwc/terms/locationID"`
	Continent        string `dwc:"http://rs.tdwg.org/dwc/terms/continent"`
	WaterBody        string `dwc:"http://rs.tdwg.org/dwc/terms/waterBody"`
	CountryCode      string `dwc:"http://rs.tdwg.org/dwc/terms/countryCode"`
	Locality         string `dwc:"http://rs.tdwg.org/dwc/terms/locality"`
	VerbatimLocality string `dwc:"http://rs.tdwg.org/dwc/terms/verbatimLocality"`
	VerbatimDepth    string `dwc:"http://rs.tdwg.org/dwc/terms/verbatimDepth"`
	GeodeticDatum    string `dwc:"http://rs.tdwg.org/dwc/terms/geodeticDatum"`
	FootprintWKT     string `gorm:"type:text" dwc:"http://rs.tdwg.org/dwc/terms/footprintWKT"`

	// Taxon
	TaxonID                  string `dwc:"http://rs.tdwg.org/dwc/terms/taxonID"`
	ScientificName           string `dwc:"http://rs.tdwg.org/dwc/terms/scientificName"`
	Kingdom                  string `dwc:"http://rs.tdwg.org/dwc/terms/kingdom"`
	Phylum                   string `dwc:"http://rs.tdwg.org/dwc/terms/phylum"`
	Class                    string `gorm:"column:class" dwc:"http://rs.tdwg.org/dwc/terms/class"`
	Order                    string `gorm:"column:taxon_order" dwc:"http://rs.tdwg.org/dwc/terms/order"`
	Family                   string `dwc:"http://rs.tdwg.org/dwc/terms/family"`
	Genus                    string `dwc:"http://rs.tdwg.org/dwc/terms/genus"`
	Subgenus                 string `dwc:"http://rs.tdwg.org/dwc/terms/subgenus"`
	SpecificEpithet          string `dwc:"http://rs.tdwg.org/dwc/terms/specificEpithet"`
	InfraspecificEpithet     string `dwc:"http://rs.tdwg.org/dwc/terms/infraspecificEpithet"`
	TaxonRank                string `dwc:"http://rs.tdwg.org/dwc/terms/taxonRank"`
	ScientificNameAuthorship string `dwc:"http://rs.tdwg.org/dwc/terms/scientificNameAuthorship"`

	// Registry taxon keys
	TaxonKey   string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/taxonKey"`
	KingdomKey string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/kingdomKey"`
	PhylumKey  string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/phylumKey"`
	ClassKey   string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/classKey"`
	OrderKey   string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/orderKey"`
	FamilyKey  string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/familyKey"`
	GenusKey   string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/genusKey"`
	SpeciesKey string `gorm:"index" dwc:"http://rs.gbif.org/terms/1.0/speciesKey"`

	// Coerced numeric fields, nil when the source value does not parse
	DecimalLatitude               *float64 `gorm:"index"`
	DecimalLongitude              *float64 `gorm:"index"`
	CoordinateUncertaintyInMeters *float64
	CoordinatePrecision           *float64
	Depth                         *float64 `gorm:"index"`
	Year                          *int     `gorm:"index"`
	Month                         *int     `gorm:"index"`
	Day                           *int     `gorm:"index"`

	// RowJSONText is a serialized snapshot of all mapped values, kept for
	// free text search over records.
	RowJSONText string `gorm:"type:text"`

	DatasetID       *uint    `gorm:"index"`
	Dataset         *Dataset `gorm:"foreignKey:DatasetID;constraint:OnDelete:CASCADE"`
	DatasetTitle    string   `gorm:"type:text"` // denormalized for listing performance
	BasisOfRecordID *uint
	BasisOfRecord   *BasisOfRecord `gorm:"foreignKey:BasisOfRecordID;constraint:OnDelete:SET NULL"`

	HexGrids []HexGrid `gorm:"many2many:occurrence_hexgrids"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasGeopoint reports whether both coordinates parsed.
func (o *Occurrence) HasGeopoint() bool {
	return o.DecimalLatitude != nil && o.DecimalLongitude != nil
}

// HexGrid is one polygon cell of a fixed multi-resolution grid used to bin
// occurrence points for aggregate display. Geometry is stored as GeoJSON in
// the planar grid projection.
type HexGrid struct {
	ID       uint `gorm:"primaryKey"`
	Left     *float64
	Bottom   *float64
	Right    *float64
	Top      *float64
	Geom     string `gorm:"type:text;not null"` // GeoJSON MultiPolygon, planar projection
	Size     int    `gorm:"index"`              // resolution label, e.g. cell edge in meters
	OccCount int    // number of occurrences whose point falls in this cell
	Category int    // log-scale magnitude category of OccCount, 0..6

	Occurrences []Occurrence `gorm:"many2many:occurrence_hexgrids"`
}
