package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// StatusCoder is implemented by responses that carry their own HTTP status.
type StatusCoder interface {
	// StatusCode returns the HTTP status code of the response.
	StatusCode() int
}

// Match is one entity the remote side returned under a match key.
type Match[K cmp.Ordered, E any] struct {
	// Entity is the returned entity.
	Entity E

	// Key is the value the entity answers to.
	Key K
}

// Item is the result for one input value: its entities, or the reason there are none.
type Item[K cmp.Ordered, E any] struct {
	// Entities holds every entity matched to the value. More than one means the remote side
	// returned several records for a single lookup value.
	Entities []E

	// Err is set when the value produced no usable entity.
	Err *ByError

	// Key is the original key of the value.
	Key int

	// Value is the original input value.
	Value K
}

// Entity returns the first matched entity.
func (i Item[K, E]) Entity() (E, bool) {
	if len(i.Entities) == 0 {
		var zero E
		return zero, false
	}
	return i.Entities[0], true
}

// OK reports whether the value was matched.
func (i Item[K, E]) OK() bool {
	return i.Err == nil
}

// Extractor describes what a remote call actually returned for a chunk.
type Extractor[K cmp.Ordered, R, E any] interface {
	// Extract lists the entities in response keyed by the value they answer to.
	Extract(response R, chunk Chunk[K]) ([]Match[K, E], error)
}

// ExtractorFunc adapts a function to an Extractor.
type ExtractorFunc[K cmp.Ordered, R, E any] func(response R, chunk Chunk[K]) ([]Match[K, E], error)

// Extract calls f.
func (f ExtractorFunc[K, R, E]) Extract(response R, chunk Chunk[K]) ([]Match[K, E], error) {
	return f(response, chunk)
}

// Classify inspects a settled outcome. A healthy outcome yields an empty ErrorType.
func Classify[R any](outcome Outcome[R]) (ErrorType, error) {
	if outcome.Err != nil {
		var (
			httpErr      *HTTPError
			undefinedErr *UndefinedError
		)
		switch {
		case errors.As(outcome.Err, &httpErr):
			return ErrorTypeHTTP, outcome.Err
		case errors.As(outcome.Err, &undefinedErr):
			return ErrorTypeUndefined, outcome.Err
		default:
			return ErrorTypeInternal, outcome.Err
		}
	}

	if sc, ok := any(outcome.Response).(StatusCoder); ok {
		if code := sc.StatusCode(); code >= http.StatusMultipleChoices {
			return ErrorTypeHTTP, &HTTPError{
				Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
				StatusCode: code,
			}
		}
	}

	return "", nil
}

// MapResults produces exactly one Item per input value, chunk by chunk in input order.
// chunks[i] must be the chunk whose operation settled as outcomes[i].
func MapResults[K cmp.Ordered, R, E any](
	chunks []Chunk[K],
	outcomes []Outcome[R],
	extractor Extractor[K, R, E],
) []Item[K, E] {
	if len(chunks) != len(outcomes) {
		panic(fmt.Sprintf("batch: %d chunks but %d outcomes", len(chunks), len(outcomes)))
	}

	total := 0
	for _, c := range chunks {
		total += c.Len()
	}

	items := make([]Item[K, E], 0, total)
	for i, c := range chunks {
		items = append(items, mapChunk(c, outcomes[i], extractor)...)
	}

	return items
}

// Lookup dispatches values in chunks, waits for all of them and maps the results.
func Lookup[K cmp.Ordered, R, E any](
	ctx context.Context,
	values []K,
	dispatcher Dispatcher[K, R],
	extractor Extractor[K, R, E],
	opts ...Option,
) []Item[K, E] {
	d := GetByChunks(ctx, Entries(values), Identity[K](), dispatcher, opts...)
	return MapResults(d.Chunks, d.Wait(), extractor)
}

func mapChunk[K cmp.Ordered, R, E any](chunk Chunk[K], outcome Outcome[R], extractor Extractor[K, R, E]) []Item[K, E] {
	if errType, reason := Classify(outcome); errType != "" {
		return failChunk[K, E](chunk, errType, reason)
	}

	matches, err := extract(extractor, outcome.Response, chunk)
	if err != nil {
		return failChunk[K, E](chunk, ErrorTypeInternal, fmt.Errorf("extracting results: %w", err))
	}

	return merge(chunk, matches)
}

func extract[K cmp.Ordered, R, E any](
	extractor Extractor[K, R, E],
	response R,
	chunk Chunk[K],
) (matches []Match[K, E], err error) {
	defer func() {
		if r := recover(); r != nil {
			matches, err = nil, recovered(r)
		}
	}()

	return extractor.Extract(response, chunk)
}

// failChunk tags every value of the chunk with the same failure. A failed chunk yields no successes.
func failChunk[K cmp.Ordered, E any](chunk Chunk[K], errType ErrorType, reason error) []Item[K, E] {
	items := make([]Item[K, E], chunk.Len())
	for i, e := range chunk.Entries {
		items[i] = Item[K, E]{
			Err:   &ByError{Type: errType, Value: e.Value, Reason: reason},
			Key:   e.Key,
			Value: e.Value,
		}
	}
	return items
}

// merge walks the sorted input values and the sorted match keys with two cursors.
// Equal input values end up adjacent, so every repeat after the first is a DUPLICATE.
func merge[K cmp.Ordered, E any](chunk Chunk[K], matches []Match[K, E]) []Item[K, E] {
	entries := chunk.Entries

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(entries[a].Value, entries[b].Value)
	})

	sorted := slices.Clone(matches)
	slices.SortStableFunc(sorted, func(a, b Match[K, E]) int {
		return cmp.Compare(a.Key, b.Key)
	})

	items := make([]Item[K, E], len(entries))

	var (
		cursor      int
		hasPrevious bool
		previous    K
	)

	for _, pos := range order {
		value := entries[pos].Value
		item := Item[K, E]{Key: entries[pos].Key, Value: value}

		// Returned keys nobody asked for are skipped.
		for cursor < len(sorted) && cmp.Less(sorted[cursor].Key, value) {
			cursor++
		}

		switch {
		case hasPrevious && cmp.Compare(previous, value) == 0:
			item.Err = &ByError{Type: ErrorTypeDuplicate, Value: value}
		case cursor < len(sorted) && cmp.Compare(sorted[cursor].Key, value) == 0:
			for cursor < len(sorted) && cmp.Compare(sorted[cursor].Key, value) == 0 {
				item.Entities = append(item.Entities, sorted[cursor].Entity)
				cursor++
			}
		default:
			item.Err = &ByError{Type: ErrorTypeNotFound, Value: value}
		}

		previous, hasPrevious = value, true
		items[pos] = item
	}

	return items
}
