// Package harvester discovers datasets on the registry and records them in
// the local catalog for curators to review.
package harvester

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
	"github.com/polarbio/occurharvest/internal/registry"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/harvester.log", "harvester", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "harvester")
	}
}

// Harvester runs search and installation harvests against the registry.
type Harvester struct {
	settings *conf.Settings
	client   *registry.Client
	store    datastore.Interface
}

// New builds a harvester over an open store.
func New(settings *conf.Settings, client *registry.Client, store datastore.Interface) *Harvester {
	return &Harvester{settings: settings, client: client, store: store}
}

// Stats summarizes one harvest run.
type Stats struct {
	Seen     int // results returned by the registry
	Denied   int // dropped by the hosting organization deny list
	Filtered int // dropped by the relevance filter
	Stored   int // upserted into the catalog
}

// Run executes every configured search query, then the installation harvest
// when an installation key is configured.
func (h *Harvester) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	for _, q := range h.settings.Harvest.Queries {
		query := registry.SearchQuery{Q: q.Q, Keyword: q.Keyword}
		logger.Info("harvesting search query", "q", q.Q, "keyword", q.Keyword)
		err := h.client.SearchDatasets(ctx, query, func(ds registry.DatasetSummary) error {
			return h.consider(ctx, ds, q.Q, stats)
		})
		if err != nil {
			if errors.IsTransient(err) {
				logger.Warn("abandoning query for this run", "q", q.Q, "error", err)
				continue
			}
			return stats, err
		}
	}

	if key := h.settings.Harvest.InstallationKey; key != "" {
		logger.Info("harvesting installation", "installation_key", key)
		err := h.client.InstallationDatasets(ctx, key, func(ds registry.DatasetSummary) error {
			// Installation membership is the relevance signal; no
			// substring filter here.
			return h.consider(ctx, ds, "", stats)
		})
		if err != nil {
			return stats, err
		}
	}

	logger.Info("harvest complete",
		"seen", stats.Seen, "denied", stats.Denied,
		"filtered", stats.Filtered, "stored", stats.Stored)
	return stats, nil
}

// consider applies the deny list and relevance filter, enriches the entry
// from the registry and upserts it into the catalog.
func (h *Harvester) consider(ctx context.Context, ds registry.DatasetSummary, matchTerm string, stats *Stats) error {
	stats.Seen++

	if h.isDeniedHost(ds.HostingOrganizationKey) {
		stats.Denied++
		return nil
	}
	if matchTerm != "" && !mentions(ds, matchTerm) {
		stats.Filtered++
		return nil
	}

	// The search summary is thin; the detail record carries the modified
	// timestamp and the occurrence index knows the record count. Either
	// lookup failing still leaves a usable catalog entry.
	var modified *time.Time
	if detail, err := h.client.GetDataset(ctx, ds.Key); err == nil {
		modified = detail.Modified
	} else {
		logger.Warn("dataset detail lookup failed", "key", ds.Key, "error", err)
	}
	recordCount := ds.RecordCount
	if recordCount == nil {
		if n, err := h.client.OccurrenceCount(ctx, ds.Key); err == nil {
			recordCount = &n
		} else {
			logger.Warn("occurrence count lookup failed", "key", ds.Key, "error", err)
		}
	}

	entry := &datastore.HarvestedDataset{
		Key:                         ds.Key,
		Title:                       ds.Title,
		Type:                        ds.Type,
		License:                     ds.License,
		HostingOrganizationKey:      ds.HostingOrganizationKey,
		HostingOrganizationTitle:    ds.HostingOrganizationTitle,
		PublishingCountry:           ds.PublishingCountry,
		PublishingOrganizationKey:   ds.PublishingOrganizationKey,
		PublishingOrganizationTitle: ds.PublishingOrganizationTitle,
		RecordCount:                 recordCount,
		Modified:                    modified,
	}
	if err := h.store.UpsertHarvestedDataset(entry); err != nil {
		if errors.IsCategory(err, errors.CategoryConflict) {
			// Another query already stored this entry this run.
			return nil
		}
		return err
	}
	stats.Stored++
	return nil
}

func (h *Harvester) isDeniedHost(orgKey string) bool {
	for _, denied := range h.settings.Harvest.DeniedHostingOrgs {
		if strings.EqualFold(orgKey, denied) {
			return true
		}
	}
	return false
}

// mentions reports whether the search term appears in both the dataset's
// title and its description. Full text search matches too loosely on its
// own; requiring the term in both keeps only datasets that are explicitly
// about the search subject.
func mentions(ds registry.DatasetSummary, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(ds.Title), term) &&
		strings.Contains(strings.ToLower(ds.Description), term)
}
