package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type product struct {
	Barcode string
	ID      int
}

// byBarcode keys every returned product by its barcode.
var byBarcode = ExtractorFunc[string, []product, product](
	func(products []product, _ Chunk[string]) ([]Match[string, product], error) {
		matches := make([]Match[string, product], len(products))
		for i, p := range products {
			matches[i] = Match[string, product]{Entity: p, Key: p.Barcode}
		}
		return matches, nil
	},
)

func chunkOf(start int, values ...string) Chunk[string] {
	entries := make([]Entry[string], len(values))
	for i, v := range values {
		entries[i] = Entry[string]{Key: start + i, Value: v}
	}
	return Chunk[string]{Entries: entries}
}

// statusResponse is a response that reports its own HTTP status.
type statusResponse struct {
	code     int
	products []product
}

func (r statusResponse) StatusCode() int {
	return r.code
}

func TestMapResults(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		chunks   []Chunk[string]
		outcomes []Outcome[[]product]
		want     []Item[string, product]
	}{
		"matched and missing values keep input order": {
			chunks: []Chunk[string]{chunkOf(0, "c", "a", "b")},
			outcomes: []Outcome[[]product]{{Response: []product{
				{Barcode: "a", ID: 1},
				{Barcode: "c", ID: 3},
			}}},
			want: []Item[string, product]{
				{Entities: []product{{Barcode: "c", ID: 3}}, Key: 0, Value: "c"},
				{Entities: []product{{Barcode: "a", ID: 1}}, Key: 1, Value: "a"},
				{Err: &ByError{Type: ErrorTypeNotFound, Value: "b"}, Key: 2, Value: "b"},
			},
		},
		"repeated value is a duplicate even when matched": {
			chunks:   []Chunk[string]{chunkOf(0, "a", "b", "a")},
			outcomes: []Outcome[[]product]{{Response: []product{{Barcode: "a", ID: 1}}}},
			want: []Item[string, product]{
				{Entities: []product{{Barcode: "a", ID: 1}}, Key: 0, Value: "a"},
				{Err: &ByError{Type: ErrorTypeNotFound, Value: "b"}, Key: 1, Value: "b"},
				{Err: &ByError{Type: ErrorTypeDuplicate, Value: "a"}, Key: 2, Value: "a"},
			},
		},
		"several matches for one value": {
			chunks: []Chunk[string]{chunkOf(0, "a", "b")},
			outcomes: []Outcome[[]product]{{Response: []product{
				{Barcode: "b", ID: 2},
				{Barcode: "a", ID: 1},
				{Barcode: "a", ID: 11},
			}}},
			want: []Item[string, product]{
				{Entities: []product{{Barcode: "a", ID: 1}, {Barcode: "a", ID: 11}}, Key: 0, Value: "a"},
				{Entities: []product{{Barcode: "b", ID: 2}}, Key: 1, Value: "b"},
			},
		},
		"unrequested keys are ignored": {
			chunks:   []Chunk[string]{chunkOf(0, "b")},
			outcomes: []Outcome[[]product]{{Response: []product{{Barcode: "a"}, {Barcode: "z"}}}},
			want: []Item[string, product]{
				{Err: &ByError{Type: ErrorTypeNotFound, Value: "b"}, Key: 0, Value: "b"},
			},
		},
		"duplicates are detected per chunk": {
			chunks: []Chunk[string]{chunkOf(0, "a"), chunkOf(1, "a")},
			outcomes: []Outcome[[]product]{
				{Response: []product{{Barcode: "a", ID: 1}}},
				{Response: []product{{Barcode: "a", ID: 1}}},
			},
			want: []Item[string, product]{
				{Entities: []product{{Barcode: "a", ID: 1}}, Key: 0, Value: "a"},
				{Entities: []product{{Barcode: "a", ID: 1}}, Key: 1, Value: "a"},
			},
		},
		"sparse keys are kept": {
			chunks:   []Chunk[string]{{Entries: []Entry[string]{{Key: 4, Value: "a"}, {Key: 9, Value: "b"}}}},
			outcomes: []Outcome[[]product]{{Response: []product{{Barcode: "b", ID: 2}}}},
			want: []Item[string, product]{
				{Err: &ByError{Type: ErrorTypeNotFound, Value: "a"}, Key: 4, Value: "a"},
				{Entities: []product{{Barcode: "b", ID: 2}}, Key: 9, Value: "b"},
			},
		},
		"no chunks": {
			want: []Item[string, product]{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := MapResults(tc.chunks, tc.outcomes, byBarcode)

			require.Equal(t, tc.want, got)
		})
	}
}

func TestMapResults_FailedChunk(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err      error
		wantType ErrorType
	}{
		"transport error status": {
			err:      &HTTPError{Status: "503 Service Unavailable", StatusCode: http.StatusServiceUnavailable},
			wantType: ErrorTypeHTTP,
		},
		"wrapped transport error": {
			err:      fmt.Errorf("posting: %w", &HTTPError{StatusCode: http.StatusBadRequest}),
			wantType: ErrorTypeHTTP,
		},
		"generic failure": {
			err:      errors.New("connection reset"),
			wantType: ErrorTypeInternal,
		},
		"unrecognised failure": {
			err:      &UndefinedError{Value: 42},
			wantType: ErrorTypeUndefined,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			chunks := []Chunk[string]{chunkOf(0, "a", "b"), chunkOf(2, "c")}
			outcomes := []Outcome[[]product]{
				{Err: tc.err},
				{Response: []product{{Barcode: "c", ID: 3}}},
			}

			got := MapResults(chunks, outcomes, byBarcode)

			require.Len(t, got, 3)
			for _, item := range got[:2] {
				require.False(t, item.OK())
				require.Equal(t, tc.wantType, item.Err.Type)
				require.ErrorIs(t, item.Err, tc.err)
				require.Equal(t, item.Value, item.Err.Value)
			}
			require.True(t, got[2].OK())
		})
	}
}

func TestMapResults_StatusCoder(t *testing.T) {
	t.Parallel()

	extractor := ExtractorFunc[string, statusResponse, product](
		func(r statusResponse, chunk Chunk[string]) ([]Match[string, product], error) {
			return byBarcode.Extract(r.products, chunk)
		},
	)

	got := MapResults(
		[]Chunk[string]{chunkOf(0, "a"), chunkOf(1, "b")},
		[]Outcome[statusResponse]{
			{Response: statusResponse{code: http.StatusMultipleChoices, products: []product{{Barcode: "a"}}}},
			{Response: statusResponse{code: http.StatusOK, products: []product{{Barcode: "b"}}}},
		},
		extractor,
	)

	require.Equal(t, ErrorTypeHTTP, got[0].Err.Type)
	var httpErr *HTTPError
	require.ErrorAs(t, got[0].Err, &httpErr)
	require.Equal(t, http.StatusMultipleChoices, httpErr.StatusCode)
	require.True(t, got[1].OK())
}

func TestMapResults_ExtractorFailure(t *testing.T) {
	t.Parallel()

	tests := map[string]Extractor[string, []product, product]{
		"returns an error": ExtractorFunc[string, []product, product](
			func([]product, Chunk[string]) ([]Match[string, product], error) {
				return nil, errors.New("malformed body")
			},
		),
		"panics": ExtractorFunc[string, []product, product](
			func(products []product, _ Chunk[string]) ([]Match[string, product], error) {
				_ = products[5]
				return nil, nil
			},
		),
	}

	for name, extractor := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := MapResults(
				[]Chunk[string]{chunkOf(0, "a", "b")},
				[]Outcome[[]product]{{Response: []product{{Barcode: "a"}}}},
				extractor,
			)

			require.Len(t, got, 2)
			for _, item := range got {
				require.Equal(t, ErrorTypeInternal, item.Err.Type)
				require.Contains(t, item.Err.Error(), "extracting results")
			}
		})
	}
}

func TestMapResults_LengthMismatchPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		MapResults([]Chunk[string]{chunkOf(0, "a")}, nil, byBarcode)
	})
}

func TestLookup(t *testing.T) {
	t.Parallel()

	catalog := map[string]product{"a": {Barcode: "a", ID: 1}, "c": {Barcode: "c", ID: 3}}

	var calls [][]string
	items := Lookup(
		context.Background(),
		[]string{"a", "b", "c", "a", "c"},
		DispatchFunc[string, []product](func(_ context.Context, barcodes []string) ([]product, error) {
			calls = append(calls, barcodes)
			var found []product
			for _, b := range barcodes {
				if p, ok := catalog[b]; ok {
					found = append(found, p)
				}
			}
			return found, nil
		}),
		byBarcode,
		WithChunkSize(5),
	)

	require.Len(t, calls, 1)
	require.Len(t, items, 5)

	var types []string
	for _, item := range items {
		if item.OK() {
			p, _ := item.Entity()
			types = append(types, fmt.Sprintf("ok:%d", p.ID))
			continue
		}
		types = append(types, string(item.Err.Type))
	}
	require.Equal(t, "ok:1,NOT_FOUND,ok:3,DUPLICATE,DUPLICATE", strings.Join(types, ","))
}

func TestItem_Entity(t *testing.T) {
	t.Parallel()

	_, ok := Item[string, product]{}.Entity()
	require.False(t, ok)

	p, ok := Item[string, product]{Entities: []product{{ID: 1}, {ID: 2}}}.Entity()
	require.True(t, ok)
	require.Equal(t, 1, p.ID)
}
