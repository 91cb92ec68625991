package domain

import (
	"context"
	"log/slog"
)

// FetchFunc retrieves rows for a batch of site ids.
type FetchFunc[T any] func(ctx context.Context, siteIDs []string) ([]T, error)

// Batches splits ids into consecutive slices of at most size elements.
// A non-positive size yields a single batch.
func Batches(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || size >= len(ids) {
		return [][]string{ids}
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// FetchChunked retrieves rows for ids in batches of at most size, then
// re-requests every id missing from the combined result one at a time.
// A failed request is logged and its ids stay missing; nothing is retried
// beyond the single-site attempt. The only error returned is a context error.
func FetchChunked[T any](ctx context.Context, ids []string, size int, fetch FetchFunc[T], siteOf func(T) string, logger *slog.Logger) ([]T, error) {
	ids = uniqueStrings(ids)

	var retrieved []T
	for i, batch := range Batches(ids, size) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("retrieving batch", "batch", i, "sites", len(batch))
		rows, err := fetch(ctx, batch)
		if err != nil {
			logger.Warn("batch retrieval failed, sites treated as missing",
				"batch", i,
				"sites", len(batch),
				"error", err,
			)
			continue
		}
		retrieved = append(retrieved, rows...)
	}

	found := make(map[string]struct{}, len(retrieved))
	for _, row := range retrieved {
		found[siteOf(row)] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return retrieved, nil
	}
	logger.Info("re-requesting missing sites individually", "missing", len(missing))

	var recovered []T
	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := fetch(ctx, []string{id})
		if err != nil {
			logger.Warn("single-site retrieval failed", "site_id", id, "error", err)
			continue
		}
		recovered = append(recovered, rows...)
	}
	return append(recovered, retrieved...), nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
