package registry

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/errors"
)

const testBaseURL = "https://registry.example.org/v1"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	settings := &conf.Settings{}
	settings.Registry.BaseURL = testBaseURL
	settings.Registry.Timeout = 5 * time.Second
	settings.Registry.RateLimitMS = 1
	settings.Registry.CacheTTL = time.Minute
	settings.Harvest.PageSize = 2

	client := NewClient(settings)
	t.Cleanup(client.Close)

	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestSearchDatasetsPagination(t *testing.T) {
	client := newTestClient(t)

	pages := map[string]string{
		"0": `{"offset":0,"limit":2,"endOfRecords":false,"results":[{"key":"k1","title":"One"},{"key":"k2","title":"Two"}]}`,
		"2": `{"offset":2,"limit":2,"endOfRecords":true,"results":[{"key":"k3","title":"Three"}]}`,
	}
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/search",
		func(req *http.Request) (*http.Response, error) {
			offset := req.URL.Query().Get("offset")
			body, ok := pages[offset]
			if !ok {
				return httpmock.NewStringResponse(http.StatusBadRequest, "unexpected offset"), nil
			}
			assert.Equal(t, "2", req.URL.Query().Get("limit"))
			assert.Equal(t, "antarctic", req.URL.Query().Get("q"))
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		})

	var keys []string
	err := client.SearchDatasets(context.Background(), SearchQuery{Q: "antarctic"}, func(ds DatasetSummary) error {
		keys = append(keys, ds.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestGetDatasetCaching(t *testing.T) {
	client := newTestClient(t)

	key := "5c0b1470-8884-11e5-b813-00163e0b48b5"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+key,
		httpmock.NewStringResponder(http.StatusOK,
			fmt.Sprintf(`{"key":%q,"title":"Cached dataset","type":"OCCURRENCE"}`, key)))

	first, err := client.GetDataset(context.Background(), key)
	require.NoError(t, err)
	second, err := client.GetDataset(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, "Cached dataset", first.Title)
	assert.Same(t, first, second)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "second lookup must come from cache")
}

func TestGetDatasetNotFound(t *testing.T) {
	client := newTestClient(t)

	key := "11111111-1111-1111-1111-111111111111"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+key,
		httpmock.NewStringResponder(http.StatusNotFound, `{}`))

	_, err := client.GetDataset(context.Background(), key)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.False(t, errors.IsTransient(err))
}

func TestGetDatasetInvalidKey(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetDataset(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 0, httpmock.GetTotalCallCount(), "malformed keys must not reach the network")
}

func TestServerErrorsAreTransient(t *testing.T) {
	client := newTestClient(t)

	key := "22222222-2222-2222-2222-222222222222"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+key,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	_, err := client.GetDataset(context.Background(), key)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestRateLimitedIsTransient(t *testing.T) {
	client := newTestClient(t)

	key := "33333333-3333-3333-3333-333333333333"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+key,
		httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"))

	_, err := client.GetDataset(context.Background(), key)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
	assert.True(t, errors.IsTransient(err))
}

func TestOccurrenceCount(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/occurrence/count",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "k1", req.URL.Query().Get("datasetKey"))
			return httpmock.NewStringResponse(http.StatusOK, "12345"), nil
		})

	count, err := client.OccurrenceCount(context.Background(), "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 12345, count)
}

func TestArchiveEndpoint(t *testing.T) {
	detail := &DatasetDetail{Endpoints: []Endpoint{
		{Type: "EML", URL: "https://host/eml"},
		{Type: EndpointTypeDwCA, URL: "https://host/archive.zip"},
	}}
	assert.Equal(t, "https://host/archive.zip", detail.ArchiveEndpoint())

	empty := &DatasetDetail{}
	assert.Empty(t, empty.ArchiveEndpoint())
}
