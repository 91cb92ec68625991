package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBatches(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Batches(ids, 2))
	assert.Equal(t, [][]string{ids}, Batches(ids, 100))
	assert.Equal(t, [][]string{ids}, Batches(ids, 0))
	assert.Nil(t, Batches(nil, 3))
}

// fakeSiteService answers a batch with one row per known site and records
// every request it receives.
type fakeSiteService struct {
	known    map[string]bool
	failing  map[string]bool
	requests [][]string
}

func (f *fakeSiteService) fetch(_ context.Context, ids []string) ([]RawSite, error) {
	f.requests = append(f.requests, slices.Clone(ids))
	for _, id := range ids {
		if f.failing[id] {
			return nil, errors.New("service unavailable")
		}
	}
	var out []RawSite
	for _, id := range ids {
		if f.known[id] {
			out = append(out, RawSite{SiteID: id})
		}
	}
	return out, nil
}

func siteOfRaw(r RawSite) string { return r.SiteID }

func TestFetchChunked_AllFound(t *testing.T) {
	svc := &fakeSiteService{known: map[string]bool{"1": true, "2": true, "3": true}}

	rows, err := FetchChunked(context.Background(), []string{"1", "2", "3"}, 2, svc.fetch, siteOfRaw, discardLogger())

	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}}, svc.requests)
}

func TestFetchChunked_RetriesMissingOnce(t *testing.T) {
	svc := &fakeSiteService{
		known:   map[string]bool{"1": true, "2": true, "3": true},
		failing: map[string]bool{},
	}
	// Batch {"3","4"} fails as a whole; "3" is recovered individually and "4"
	// stays missing after its single attempt.
	svc.failing["4"] = true

	rows, err := FetchChunked(context.Background(), []string{"1", "2", "3", "4"}, 2, svc.fetch, siteOfRaw, discardLogger())

	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.SiteID)
	}
	assert.Equal(t, []string{"3", "1", "2"}, ids, "recovered rows precede batch rows")
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"3"}, {"4"}}, svc.requests)
}

func TestFetchChunked_UnknownSiteRequestedTwice(t *testing.T) {
	svc := &fakeSiteService{known: map[string]bool{"1": true}}

	rows, err := FetchChunked(context.Background(), []string{"1", "9", "1"}, 100, svc.fetch, siteOfRaw, discardLogger())

	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, [][]string{{"1", "9"}, {"9"}}, svc.requests)
}

func TestFetchChunked_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &fakeSiteService{}

	_, err := FetchChunked(ctx, []string{"1"}, 1, svc.fetch, siteOfRaw, discardLogger())

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, svc.requests)
}
