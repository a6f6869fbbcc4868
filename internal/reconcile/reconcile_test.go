package reconcile

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/registry"
)

const testBaseURL = "https://registry.example.org/v1"

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	settings := &conf.Settings{}
	settings.Registry.BaseURL = testBaseURL
	settings.Registry.Timeout = 5 * time.Second
	settings.Registry.RateLimitMS = 1
	settings.Registry.CacheTTL = time.Minute

	client := registry.NewClient(settings)
	t.Cleanup(client.Close)

	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	return New(settings, client, nil)
}

func timePtr(t time.Time) *time.Time { return &t }

func boolPtr(b bool) *bool { return &b }
func uintPtr(v uint) *uint { return &v }

func newTestReconcilerWithStore(t *testing.T) (*Reconciler, datastore.Interface, string) {
	t.Helper()
	downloadsDir := t.TempDir()

	settings := &conf.Settings{}
	settings.Registry.BaseURL = testBaseURL
	settings.Registry.Timeout = 5 * time.Second
	settings.Registry.RateLimitMS = 1
	settings.Registry.CacheTTL = time.Minute
	settings.Import.DownloadsDir = downloadsDir
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "reconcile.db")

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })

	client := registry.NewClient(settings)
	t.Cleanup(client.Close)

	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	return New(settings, client, store), store, downloadsDir
}

func TestRunDeletedUpstreamPurgesAndExcludes(t *testing.T) {
	r, store, _ := newTestReconcilerWithStore(t)

	key := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, store.UpsertHarvestedDataset(&datastore.HarvestedDataset{
		Key: key, IncludeInStore: boolPtr(true),
	}))
	dataset := &datastore.Dataset{DatasetKey: key, Title: "Doomed plots"}
	require.NoError(t, store.SaveDataset(dataset))
	require.NoError(t, store.LinkHarvestedDataset(key, dataset.ID))
	written, err := store.InsertOccurrences([]datastore.Occurrence{
		{GbifID: "doomed-1", DatasetID: &dataset.ID},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, written)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+key,
		httpmock.NewStringResponder(http.StatusOK, `{"key":"`+key+`","deleted":"2021-05-01T00:00:00.000+00:00"}`))

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedUpstream)
	assert.Equal(t, 1, stats.PurgedLocal)

	entry, err := store.GetHarvestedDataset(key)
	require.NoError(t, err)
	require.NotNil(t, entry.DeletedFromRegistry)
	assert.True(t, *entry.DeletedFromRegistry)
	require.NotNil(t, entry.IncludeInStore)
	assert.False(t, *entry.IncludeInStore, "a dataset gone upstream leaves the import scope")

	_, err = store.GetDataset(key)
	assert.True(t, errors.IsNotFound(err), "the stored dataset must be purged")
	count, err := store.CountOccurrences(dataset.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunDownloadsOnlyNonEmptyNewEntries(t *testing.T) {
	r, store, downloadsDir := newTestReconcilerWithStore(t)

	emptyKey := "22222222-2222-2222-2222-222222222222"
	fullKey := "33333333-3333-3333-3333-333333333333"
	for _, e := range []datastore.HarvestedDataset{
		{Key: emptyKey, IncludeInStore: boolPtr(true)},
		{Key: fullKey, IncludeInStore: boolPtr(true), RecordCount: uintPtr(5)},
	} {
		entry := e
		require.NoError(t, store.UpsertHarvestedDataset(&entry))
	}

	archiveURL := "https://hosting.example.org/archive.zip"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+emptyKey,
		httpmock.NewStringResponder(http.StatusOK, `{"key":"`+emptyKey+`","type":"OCCURRENCE","endpoints":[{"type":"DWC_ARCHIVE","url":"`+archiveURL+`"}]}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+fullKey,
		httpmock.NewStringResponder(http.StatusOK, `{"key":"`+fullKey+`","type":"OCCURRENCE","endpoints":[{"type":"DWC_ARCHIVE","url":"`+archiveURL+`"}]}`))
	httpmock.RegisterResponder(http.MethodGet, archiveURL,
		httpmock.NewBytesResponder(http.StatusOK, []byte("PK archive bytes")))

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.UpToDate, "an empty new entry waits for records to appear")

	_, err = os.Stat(filepath.Join(downloadsDir, fullKey+ArchiveExt))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(downloadsDir, emptyKey+ArchiveExt))
	assert.True(t, os.IsNotExist(err))
}

func TestIsDeletedUpstream(t *testing.T) {
	r := newTestReconciler(t)

	deletedKey := "11111111-1111-1111-1111-111111111111"
	liveKey := "22222222-2222-2222-2222-222222222222"
	goneKey := "33333333-3333-3333-3333-333333333333"

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+deletedKey,
		httpmock.NewStringResponder(http.StatusOK, `{"key":"`+deletedKey+`","deleted":"2021-05-01T00:00:00.000+00:00"}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+liveKey,
		httpmock.NewStringResponder(http.StatusOK, `{"key":"`+liveKey+`"}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/dataset/"+goneKey,
		httpmock.NewStringResponder(http.StatusNotFound, `{}`))

	deleted, err := r.IsDeletedUpstream(context.Background(), deletedKey)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = r.IsDeletedUpstream(context.Background(), liveKey)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = r.IsDeletedUpstream(context.Background(), goneKey)
	require.NoError(t, err)
	assert.True(t, deleted, "a record the registry no longer serves counts as deleted")
}

func TestIsDeletedUpstreamMalformedKey(t *testing.T) {
	r := newTestReconciler(t)

	_, err := r.IsDeletedUpstream(context.Background(), "Pygoscelis adeliae")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation),
		"a malformed key is a programming error, not a registry condition")
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestHasNewerVersion(t *testing.T) {
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	// Never downloaded: always newer.
	assert.True(t, HasNewerVersion(&registry.DatasetDetail{}, nil))
	assert.True(t, HasNewerVersion(&registry.DatasetDetail{}, &datastore.Dataset{}))

	// A deleted dataset has nothing newer to fetch, even when it was never
	// downloaded and its modified stamp postdates the local copy.
	assert.False(t, HasNewerVersion(
		&registry.DatasetDetail{Deleted: timePtr(older), Modified: timePtr(newer)},
		nil))
	assert.False(t, HasNewerVersion(
		&registry.DatasetDetail{Deleted: timePtr(older), Modified: timePtr(newer)},
		&datastore.Dataset{DownloadOn: timePtr(older)}))

	// Registry modified after the last download.
	assert.True(t, HasNewerVersion(
		&registry.DatasetDetail{Modified: timePtr(newer)},
		&datastore.Dataset{DownloadOn: timePtr(older)}))

	// Download is current.
	assert.False(t, HasNewerVersion(
		&registry.DatasetDetail{Modified: timePtr(older)},
		&datastore.Dataset{DownloadOn: timePtr(newer)}))
	assert.False(t, HasNewerVersion(
		&registry.DatasetDetail{Modified: timePtr(older)},
		&datastore.Dataset{DownloadOn: timePtr(older)}))

	// Registry reports no modification timestamp.
	assert.False(t, HasNewerVersion(
		&registry.DatasetDetail{},
		&datastore.Dataset{DownloadOn: timePtr(older)}))
}
