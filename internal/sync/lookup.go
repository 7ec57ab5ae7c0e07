package sync

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/peteski22/shopbridge/internal/batch"
)

// extractBy returns an extractor that keys every returned entity with key.
func extractBy[K cmp.Ordered, E any](key func(E) K) batch.Extractor[K, []E, E] {
	return batch.ExtractorFunc[K, []E, E](func(entities []E, _ batch.Chunk[K]) ([]batch.Match[K, E], error) {
		matches := make([]batch.Match[K, E], len(entities))
		for i, e := range entities {
			matches[i] = batch.Match[K, E]{Entity: e, Key: key(e)}
		}
		return matches, nil
	})
}

// distinct returns the non-zero values in first-seen order.
func distinct[K comparable](values []K) []K {
	var zero K
	seen := make(map[K]struct{}, len(values))
	out := make([]K, 0, len(values))
	for _, v := range values {
		if v == zero {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func chunkOptions(size int) []batch.Option {
	if size <= 0 {
		return nil
	}
	return []batch.Option{batch.WithChunkSize(size)}
}

// reject records per-entity failures and logs each of them.
func reject(logger *slog.Logger, result *Result, errs []error) {
	for _, err := range errs {
		logger.Error("entity failed", "kind", result.Kind, "error", err)
	}
	result.addErrors(errs...)
}

// logResult logs the final summary of one run.
func logResult(logger *slog.Logger, result *Result) {
	logger.Info("sync completed",
		"kind", result.Kind,
		"processed", result.Processed,
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"skipped", result.Skipped,
		"relations_created", result.RelationsCreated,
		"relations_destroyed", result.RelationsDestroyed,
		"errors", len(result.Errors),
		"dry_run", result.DryRun)
}

func sortedClone[T any](values []T, compare func(a, b T) int) []T {
	out := slices.Clone(values)
	slices.SortStableFunc(out, compare)
	return out
}
