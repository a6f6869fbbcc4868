package importer

import (
	"context"
	"strings"

	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/eml"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/registry"
)

// MetadataImporter turns a parsed metadata document into dataset rows,
// idempotently: importing the same document twice leaves the store unchanged.
type MetadataImporter struct {
	store  datastore.Interface
	client *registry.Client
}

// NewMetadataImporter builds a metadata importer. client may be nil; then
// publisher and data type enrichment from the registry is skipped.
func NewMetadataImporter(store datastore.Interface, client *registry.Client) *MetadataImporter {
	return &MetadataImporter{store: store, client: client}
}

// Import creates or updates the dataset for datasetKey from a parsed
// document and links it to its catalog entry.
func (m *MetadataImporter) Import(ctx context.Context, datasetKey string, md *eml.Metadata, emlText []byte) (*datastore.Dataset, error) {
	ds, err := m.store.GetDataset(datasetKey)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		ds = &datastore.Dataset{DatasetKey: datasetKey}
	}

	ds.Title = md.Title
	ds.DOI = md.DOI
	ds.AlternateIdentifiers = strings.Join(md.AlternateIdentifiers, "\n")
	ds.Abstract = md.Abstract
	ds.IntellectualRights = md.IntellectualRights
	ds.Citation = md.Citation
	ds.EMLText = string(emlText)
	ds.BoundingBox = md.BoundingBox.WKT()
	ds.PubDate = md.PubDate
	ds.DownloadOn = md.DateStamp

	var project *datastore.Project
	if md.Project != nil && md.Project.Title != "" {
		project, err = m.store.GetOrCreateProject(md.Project.Title, md.Project.Funding)
		if err != nil {
			return nil, err
		}
		ds.ProjectID = &project.ID
	} else {
		ds.ProjectID = nil
	}

	if err := m.enrichFromRegistry(ctx, ds); err != nil {
		return nil, err
	}

	if err := m.store.SaveDataset(ds); err != nil {
		return nil, err
	}

	if err := m.importKeywords(ds, md); err != nil {
		return nil, err
	}
	if err := m.importParties(ds, project, md); err != nil {
		return nil, err
	}

	if err := m.store.LinkHarvestedDataset(datasetKey, ds.ID); err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		// No catalog entry is fine for a direct import.
	}
	return ds, nil
}

// enrichFromRegistry fills publisher and data type from the registry API.
// Registry faults degrade to a dataset without enrichment; the next import
// run fills the gap.
func (m *MetadataImporter) enrichFromRegistry(ctx context.Context, ds *datastore.Dataset) error {
	if m.client == nil {
		return nil
	}
	detail, err := m.client.GetDataset(ctx, ds.DatasetKey)
	if err != nil {
		if errors.IsTransient(err) || errors.IsNotFound(err) {
			logger.Warn("registry enrichment skipped", "dataset_key", ds.DatasetKey, "error", err)
			return nil
		}
		return err
	}

	if detail.Type != "" {
		dt, err := m.store.GetOrCreateDataType(detail.Type)
		if err != nil {
			return err
		}
		ds.DataTypeID = &dt.ID
	}

	if orgKey := detail.PublishingOrganizationKey; orgKey != "" {
		org, raw, err := m.client.GetOrganization(ctx, orgKey)
		if err != nil {
			if errors.IsTransient(err) || errors.IsNotFound(err) {
				logger.Warn("publisher lookup skipped", "organization_key", orgKey, "error", err)
				return nil
			}
			return err
		}
		pub, err := m.store.UpsertPublisher(&datastore.Publisher{
			PublisherKey:     org.Key,
			PublisherName:    org.Title,
			PublisherDetails: string(raw),
		})
		if err != nil {
			return err
		}
		ds.PublisherID = &pub.ID
	}
	return nil
}

// importKeywords replaces the dataset's keyword set with the document's.
func (m *MetadataImporter) importKeywords(ds *datastore.Dataset, md *eml.Metadata) error {
	var keywords []datastore.Keyword
	for _, set := range md.KeywordSets {
		for _, kw := range set.Keywords {
			k, err := m.store.GetOrCreateKeyword(kw, set.Thesaurus)
			if err != nil {
				return err
			}
			keywords = append(keywords, *k)
		}
	}
	return m.store.ReplaceKeywords(ds, keywords)
}

// importParties stores the document's people and their roles. Get-or-create
// on the full identity merges the same person appearing under several party
// types into one row.
func (m *MetadataImporter) importParties(ds *datastore.Dataset, project *datastore.Project, md *eml.Metadata) error {
	parties := md.Parties
	if md.Project != nil {
		parties = append(parties, md.Project.Personnel...)
	}
	for i := range parties {
		p := &parties[i]
		// Organization-only parties carry no individual name; there is no
		// person to store for them.
		if p.FullName() == "" {
			continue
		}
		person, err := m.store.GetOrCreatePerson(&datastore.Person{
			GivenName: p.GivenName,
			Surname:   p.Surname,
			FullName:  p.FullName(),
			Email:     p.Email,
		})
		if err != nil {
			return err
		}
		role := &datastore.PersonTypeRole{
			PersonType:   p.Type,
			Role:         p.Role,
			Organization: p.Organization,
			DatasetID:    &ds.ID,
			PersonID:     &person.ID,
		}
		if p.Type == "personnel" && project != nil {
			role.ProjectID = &project.ID
		}
		if _, err := m.store.GetOrCreatePersonTypeRole(role); err != nil {
			return err
		}
	}
	return nil
}
