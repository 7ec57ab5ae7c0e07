// Package relation defines the persisted correlation between source and target entity identifiers.
package relation

import (
	"context"

	"github.com/google/uuid"
)

// Relation links one source entity to one target entity.
type Relation struct {
	// SourceID is the identifier in the source system.
	SourceID string

	// TargetID is the identifier in the target system.
	TargetID string

	// TestKey is an opaque correlation token used for idempotent re-matching in test runs.
	TestKey string
}

// Repository stores relations. At most one relation exists per source id and per target id;
// Create supersedes any relation sharing either id.
type Repository interface {
	// BySourceID returns the relation for a source id, or nil.
	BySourceID(ctx context.Context, id string) (*Relation, error)

	// BySourceIDs returns the relations found for the given source ids, in no particular order.
	BySourceIDs(ctx context.Context, ids []string) ([]Relation, error)

	// ByTargetID returns the relation for a target id, or nil.
	ByTargetID(ctx context.Context, id string) (*Relation, error)

	// ByTargetIDs returns the relations found for the given target ids, in no particular order.
	ByTargetIDs(ctx context.Context, ids []string) ([]Relation, error)

	// Create stores r, replacing relations that share its source or target id.
	Create(ctx context.Context, r Relation) (bool, error)

	// Destroy removes exactly r. It reports false when r was not stored.
	Destroy(ctx context.Context, r Relation) (bool, error)
}

// BySource indexes relations by source id.
func BySource(relations []Relation) map[string]Relation {
	index := make(map[string]Relation, len(relations))
	for _, r := range relations {
		index[r.SourceID] = r
	}
	return index
}

// NewTestKey returns a fresh correlation token.
func NewTestKey() string {
	return uuid.NewString()
}
