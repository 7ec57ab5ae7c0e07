package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/peteski22/shopbridge/internal/relation"
)

// MemoryRelationStore keeps relations in process memory.
// Used for dry-run mode and local runs without a table.
type MemoryRelationStore struct {
	mu       sync.RWMutex
	bySource map[string]relation.Relation
	byTarget map[string]string
}

// NewMemoryRelationStore creates an empty MemoryRelationStore, optionally seeded with relations.
func NewMemoryRelationStore(seed ...relation.Relation) *MemoryRelationStore {
	s := &MemoryRelationStore{
		bySource: make(map[string]relation.Relation),
		byTarget: make(map[string]string),
	}
	for _, r := range seed {
		s.put(r)
	}
	return s
}

// BySourceID returns the relation for a source id, or nil.
func (s *MemoryRelationStore) BySourceID(_ context.Context, id string) (*relation.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySource[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// BySourceIDs returns the relations stored for the given source ids.
func (s *MemoryRelationStore) BySourceIDs(_ context.Context, ids []string) ([]relation.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []relation.Relation
	for _, id := range unique(ids) {
		if r, ok := s.bySource[id]; ok {
			found = append(found, r)
		}
	}
	return found, nil
}

// ByTargetID returns the relation for a target id, or nil.
func (s *MemoryRelationStore) ByTargetID(_ context.Context, id string) (*relation.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source, ok := s.byTarget[id]
	if !ok {
		return nil, nil
	}
	r := s.bySource[source]
	return &r, nil
}

// ByTargetIDs returns the relations stored for the given target ids.
func (s *MemoryRelationStore) ByTargetIDs(_ context.Context, ids []string) ([]relation.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []relation.Relation
	for _, id := range unique(ids) {
		if source, ok := s.byTarget[id]; ok {
			found = append(found, s.bySource[source])
		}
	}
	return found, nil
}

// Create stores r, replacing relations that share its source or target id.
func (s *MemoryRelationStore) Create(_ context.Context, r relation.Relation) (bool, error) {
	if r.SourceID == "" {
		return false, errors.New("source ID is required")
	}
	if r.TargetID == "" {
		return false, errors.New("target ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(r)
	return true, nil
}

// Destroy removes r only if it is stored exactly as given.
func (s *MemoryRelationStore) Destroy(_ context.Context, r relation.Relation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bySource[r.SourceID]
	if !ok || stored.TargetID != r.TargetID {
		return false, nil
	}

	delete(s.bySource, r.SourceID)
	delete(s.byTarget, r.TargetID)
	return true, nil
}

// Len returns the number of stored relations.
func (s *MemoryRelationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.bySource)
}

func (s *MemoryRelationStore) put(r relation.Relation) {
	if old, ok := s.bySource[r.SourceID]; ok {
		delete(s.byTarget, old.TargetID)
	}
	if source, ok := s.byTarget[r.TargetID]; ok {
		delete(s.bySource, source)
	}
	s.bySource[r.SourceID] = r
	s.byTarget[r.TargetID] = r.SourceID
}
