package registry

import "time"

// DatasetTypeOccurrence and friends are the registry's dataset type values.
const (
	DatasetTypeOccurrence    = "OCCURRENCE"
	DatasetTypeChecklist     = "CHECKLIST"
	DatasetTypeMetadata      = "METADATA"
	DatasetTypeSamplingEvent = "SAMPLING_EVENT"
)

// EndpointTypeDwCA identifies a Darwin Core Archive download endpoint.
const EndpointTypeDwCA = "DWC_ARCHIVE"

// SearchQuery is one dataset search, either full text or keyword based.
type SearchQuery struct {
	Q       string `yaml:"q"`
	Keyword string `yaml:"keyword"`
}

// DatasetSummary is one search result entry.
type DatasetSummary struct {
	Key                         string `json:"key"`
	Title                       string `json:"title"`
	Description                 string `json:"description"`
	Type                        string `json:"type"`
	License                     string `json:"license"`
	HostingOrganizationKey      string `json:"hostingOrganizationKey"`
	HostingOrganizationTitle    string `json:"hostingOrganizationTitle"`
	PublishingCountry           string `json:"publishingCountry"`
	PublishingOrganizationKey   string `json:"publishingOrganizationKey"`
	PublishingOrganizationTitle string `json:"publishingOrganizationTitle"`
	RecordCount                 *uint  `json:"recordCount"`
}

// searchResponse is one page of the dataset search endpoint.
type searchResponse struct {
	Offset       int              `json:"offset"`
	Limit        int              `json:"limit"`
	EndOfRecords bool             `json:"endOfRecords"`
	Count        int              `json:"count"`
	Results      []DatasetSummary `json:"results"`
}

// Endpoint is one access point published for a dataset.
type Endpoint struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// DatasetDetail is the full registry record for one dataset.
type DatasetDetail struct {
	Key                       string     `json:"key"`
	Title                     string     `json:"title"`
	Description               string     `json:"description"`
	Type                      string     `json:"type"`
	License                   string     `json:"license"`
	Deleted                   *time.Time `json:"deleted"`
	Modified                  *time.Time `json:"modified"`
	PubDate                   *time.Time `json:"pubDate"`
	PublishingOrganizationKey string     `json:"publishingOrganizationKey"`
	Endpoints                 []Endpoint `json:"endpoints"`
}

// ArchiveEndpoint returns the archive download URL, or empty when the
// dataset publishes none.
func (d *DatasetDetail) ArchiveEndpoint() string {
	for _, ep := range d.Endpoints {
		if ep.Type == EndpointTypeDwCA {
			return ep.URL
		}
	}
	return ""
}

// IsDeleted reports whether the registry has marked the dataset deleted.
func (d *DatasetDetail) IsDeleted() bool {
	return d.Deleted != nil
}

// Organization is a publishing organization record.
type Organization struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}
