package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of values sent per remote operation unless configured otherwise.
const DefaultChunkSize = 100

// Entry pairs a value with its key in the collection it was taken from.
type Entry[V any] struct {
	// Key is the original position of the value.
	Key int

	// Value is the original value.
	Value V
}

// Entries keys every value by its index.
func Entries[V any](values []V) []Entry[V] {
	entries := make([]Entry[V], len(values))
	for i, v := range values {
		entries[i] = Entry[V]{Key: i, Value: v}
	}
	return entries
}

// Chunk is an ordered slice of the input collection dispatched as one remote operation.
// Keys are the original ones and are never renumbered.
type Chunk[V any] struct {
	Entries []Entry[V]
}

// Keys returns the original keys of the chunk's values.
func (c Chunk[V]) Keys() []int {
	keys := make([]int, len(c.Entries))
	for i, e := range c.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of values in the chunk.
func (c Chunk[V]) Len() int {
	return len(c.Entries)
}

// Values returns the chunk's values in order.
func (c Chunk[V]) Values() []V {
	values := make([]V, len(c.Entries))
	for i, e := range c.Entries {
		values[i] = e.Value
	}
	return values
}

// Encoder turns one input value into the representation sent over the wire.
type Encoder[V, D any] interface {
	// Encode returns the wire representation of value.
	Encode(value V, key int) D
}

// EncoderFunc adapts a function to an Encoder.
type EncoderFunc[V, D any] func(value V, key int) D

// Encode calls f.
func (f EncoderFunc[V, D]) Encode(value V, key int) D {
	return f(value, key)
}

// Identity returns an Encoder that sends values unchanged.
func Identity[V any]() Encoder[V, V] {
	return EncoderFunc[V, V](func(value V, _ int) V { return value })
}

// Dispatcher performs one remote operation for one chunk of encoded values.
type Dispatcher[D, R any] interface {
	// Dispatch sends data and returns the raw response.
	Dispatch(ctx context.Context, data []D) (R, error)
}

// DispatchFunc adapts a function to a Dispatcher.
type DispatchFunc[D, R any] func(ctx context.Context, data []D) (R, error)

// Dispatch calls f.
func (f DispatchFunc[D, R]) Dispatch(ctx context.Context, data []D) (R, error) {
	return f(ctx, data)
}

// Outcome is the settled result of one dispatched operation.
type Outcome[R any] struct {
	// Err is the failure, if any.
	Err error

	// Response is the raw response when Err is nil.
	Response R
}

// PushFunc decides whether the chunk being built is complete after adding the value at index.
// counter is the number of values already in the chunk before this one.
type PushFunc func(counter int, key int, index int) bool

// Option configures chunking.
type Option func(*options)

// options holds chunking configuration.
type options struct {
	push PushFunc
}

// WithChunkSize sets the maximum number of values per chunk. Non-positive sizes are ignored.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.push = sizePush(size)
		}
	}
}

// WithPushFunc replaces the chunk completion rule.
func WithPushFunc(push PushFunc) Option {
	return func(o *options) {
		if push != nil {
			o.push = push
		}
	}
}

func sizePush(size int) PushFunc {
	return func(counter int, _ int, _ int) bool {
		return counter >= size-1
	}
}

// Dispatch holds the chunks of one GetByChunks call and their in-flight operations.
type Dispatch[V, R any] struct {
	// Chunks are index-aligned with the outcomes returned by Wait.
	Chunks []Chunk[V]

	group    errgroup.Group
	outcomes []*Outcome[R]
}

// Len returns the number of operations started.
func (d *Dispatch[V, R]) Len() int {
	return len(d.outcomes)
}

// Wait blocks until every operation has settled, failed ones included, and returns their outcomes.
func (d *Dispatch[V, R]) Wait() []Outcome[R] {
	_ = d.group.Wait()

	outcomes := make([]Outcome[R], len(d.outcomes))
	for i, o := range d.outcomes {
		outcomes[i] = *o
	}
	return outcomes
}

// GetByChunks walks items once, groups them into chunks and immediately starts one dispatcher call per chunk.
// A trailing partial chunk is flushed regardless of size. Empty input starts nothing.
func GetByChunks[V, D, R any](
	ctx context.Context,
	items []Entry[V],
	encoder Encoder[V, D],
	dispatcher Dispatcher[D, R],
	opts ...Option,
) *Dispatch[V, R] {
	o := &options{push: sizePush(DefaultChunkSize)}
	for _, opt := range opts {
		opt(o)
	}

	d := &Dispatch[V, R]{}

	var (
		chunk   []Entry[V]
		data    []D
		counter int
	)

	flush := func() {
		run(ctx, d, Chunk[V]{Entries: chunk}, data, dispatcher)
		chunk, data, counter = nil, nil, 0
	}

	for index, item := range items {
		chunk = append(chunk, item)
		data = append(data, encoder.Encode(item.Value, item.Key))

		if o.push(counter, item.Key, index) {
			flush()
			continue
		}
		counter++
	}

	if len(chunk) > 0 {
		flush()
	}

	return d
}

// run records the chunk on d and starts its operation.
func run[V, D, R any](ctx context.Context, d *Dispatch[V, R], chunk Chunk[V], data []D, dispatcher Dispatcher[D, R]) {
	outcome := &Outcome[R]{}
	d.Chunks = append(d.Chunks, chunk)
	d.outcomes = append(d.outcomes, outcome)

	d.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				outcome.Err = recovered(r)
			}
		}()

		outcome.Response, outcome.Err = dispatcher.Dispatch(ctx, data)
		return nil
	})
}

// KeyChunks projects each chunk onto the match key of its values, keeping the original keys.
// It lets chunks of whole entities be mapped with MapResults.
func KeyChunks[V any, K any](chunks []Chunk[V], key func(V) K) []Chunk[K] {
	keyed := make([]Chunk[K], len(chunks))
	for i, c := range chunks {
		entries := make([]Entry[K], len(c.Entries))
		for j, e := range c.Entries {
			entries[j] = Entry[K]{Key: e.Key, Value: key(e.Value)}
		}
		keyed[i] = Chunk[K]{Entries: entries}
	}
	return keyed
}
