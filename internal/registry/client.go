// Package registry provides a client for the public biodiversity dataset
// registry API: dataset search, dataset detail, occurrence counts, metadata
// documents and archive downloads.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/registry.log", "registry", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "registry")
	}
}

// Client is a rate limited, caching registry API client. Safe for use from
// a single goroutine per instance; create one client per worker.
type Client struct {
	settings    *conf.Settings
	httpClient  *http.Client
	cache       *cache.Cache
	rateLimiter *time.Ticker
	baseURL     string
	pageSize    int
	debug       bool
}

// NewClient builds a client from the registry section of the settings.
func NewClient(settings *conf.Settings) *Client {
	interval := time.Duration(settings.Registry.RateLimitMS) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ttl := settings.Registry.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	pageSize := settings.Harvest.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		settings:    settings,
		httpClient:  &http.Client{Timeout: settings.Registry.Timeout},
		cache:       cache.New(ttl, 10*time.Minute),
		rateLimiter: time.NewTicker(interval),
		baseURL:     settings.Registry.BaseURL,
		pageSize:    pageSize,
		debug:       settings.Debug,
	}
}

// Close releases the rate limiter.
func (c *Client) Close() {
	c.rateLimiter.Stop()
}

// ValidKey reports whether key is a well formed dataset or organization UUID.
func ValidKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil
}

// get performs one rate limited GET and returns the response body. HTTP and
// transport failures are classified so callers can tell transient faults
// from permanent rejections.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component("registry").
			Category(errors.CategoryNetwork).
			Build()
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	if c.debug {
		logger.Debug("registry request", "url", reqURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryValidation).
			Context("url", reqURL).
			Build()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		category := errors.CategoryHTTP
		switch {
		case resp.StatusCode == http.StatusNotFound:
			category = errors.CategoryNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			category = errors.CategoryLimit
		case resp.StatusCode >= 500:
			category = errors.CategoryNetwork
		}
		return nil, errors.Newf("registry returned status %d", resp.StatusCode).
			Component("registry").
			Category(category).
			Context("url", reqURL).
			Context("status", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Build()
	}
	return body, nil
}

// paginate walks a paged listing endpoint, invoking fn for every result
// until the server signals the end of records.
func (c *Client) paginate(ctx context.Context, path string, base url.Values, fn func(DatasetSummary) error) error {
	offset := 0
	for {
		query := url.Values{}
		for k, vs := range base {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		body, err := c.get(ctx, path, query)
		if err != nil {
			return err
		}
		var page searchResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return errors.New(err).
				Component("registry").
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
		for i := range page.Results {
			if err := fn(page.Results[i]); err != nil {
				return err
			}
		}
		if page.EndOfRecords || len(page.Results) == 0 {
			return nil
		}
		offset += c.pageSize
	}
}

// SearchDatasets streams all results of one dataset search query to fn.
func (c *Client) SearchDatasets(ctx context.Context, q SearchQuery, fn func(DatasetSummary) error) error {
	query := url.Values{}
	if q.Q != "" {
		query.Set("q", q.Q)
	}
	if q.Keyword != "" {
		query.Set("keyword", q.Keyword)
	}
	return c.paginate(ctx, "/dataset/search", query, fn)
}

// InstallationDatasets streams every dataset hosted by an installation to fn.
func (c *Client) InstallationDatasets(ctx context.Context, installationKey string, fn func(DatasetSummary) error) error {
	if !ValidKey(installationKey) {
		return errors.Newf("invalid installation key %q", installationKey).
			Component("registry").
			Category(errors.CategoryValidation).
			Build()
	}
	return c.paginate(ctx, "/installation/"+installationKey+"/dataset", nil, fn)
}

// GetDataset returns the registry detail record for a dataset. Results are
// cached for the configured TTL.
func (c *Client) GetDataset(ctx context.Context, key string) (*DatasetDetail, error) {
	if !ValidKey(key) {
		return nil, errors.Newf("invalid dataset key %q", key).
			Component("registry").
			Category(errors.CategoryValidation).
			Build()
	}
	cacheKey := "dataset:" + key
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.(*DatasetDetail), nil
	}

	body, err := c.get(ctx, "/dataset/"+key, nil)
	if err != nil {
		return nil, err
	}
	var detail DatasetDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryFileParsing).
			Context("dataset_key", key).
			Build()
	}
	c.cache.Set(cacheKey, &detail, cache.DefaultExpiration)
	return &detail, nil
}

// OccurrenceCount returns how many occurrence records the registry has
// indexed for a dataset.
func (c *Client) OccurrenceCount(ctx context.Context, datasetKey string) (uint, error) {
	query := url.Values{}
	query.Set("datasetKey", datasetKey)
	body, err := c.get(ctx, "/occurrence/count", query)
	if err != nil {
		return 0, err
	}
	var count uint
	if err := json.Unmarshal(body, &count); err != nil {
		return 0, errors.New(err).
			Component("registry").
			Category(errors.CategoryFileParsing).
			Context("dataset_key", datasetKey).
			Build()
	}
	return count, nil
}

// GetOrganization returns an organization record plus its raw JSON body, so
// the caller can store the verbatim registry response.
func (c *Client) GetOrganization(ctx context.Context, key string) (*Organization, []byte, error) {
	if !ValidKey(key) {
		return nil, nil, errors.Newf("invalid organization key %q", key).
			Component("registry").
			Category(errors.CategoryValidation).
			Build()
	}
	body, err := c.get(ctx, "/organization/"+key, nil)
	if err != nil {
		return nil, nil, err
	}
	var org Organization
	if err := json.Unmarshal(body, &org); err != nil {
		return nil, nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryFileParsing).
			Context("organization_key", key).
			Build()
	}
	return &org, body, nil
}

// DatasetDocument fetches the dataset's metadata document (EML XML).
func (c *Client) DatasetDocument(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component("registry").
			Category(errors.CategoryNetwork).
			Build()
	}
	reqURL := c.baseURL + "/dataset/" + key + "/document"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryValidation).
			Build()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Build()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		category := errors.CategoryHTTP
		if resp.StatusCode == http.StatusNotFound {
			category = errors.CategoryNotFound
		}
		return nil, errors.Newf("registry returned status %d", resp.StatusCode).
			Component("registry").
			Category(category).
			Context("url", reqURL).
			Build()
	}
	return io.ReadAll(resp.Body)
}

// DownloadArchive streams an archive endpoint to destPath, writing through a
// temp file so a partial download never looks like a complete archive.
func (c *Client) DownloadArchive(ctx context.Context, archiveURL, destPath string) error {
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("registry").
			Category(errors.CategoryNetwork).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryValidation).
			Context("url", archiveURL).
			Build()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryNetwork).
			Context("url", archiveURL).
			Build()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		category := errors.CategoryHTTP
		if resp.StatusCode >= 500 {
			category = errors.CategoryNetwork
		}
		return errors.Newf("archive download returned status %d", resp.StatusCode).
			Component("registry").
			Category(category).
			Context("url", archiveURL).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryFileIO).
			Context("path", destPath).
			Build()
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".*.part")
	if err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryFileIO).
			Context("path", destPath).
			Build()
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryNetwork).
			Context("url", archiveURL).
			Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryFileIO).
			Context("path", tmp.Name()).
			Build()
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryFileIO).
			Context("path", destPath).
			Build()
	}
	logger.Info("archive downloaded", "url", archiveURL, "path", destPath)
	return nil
}
