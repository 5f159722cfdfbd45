package mind

import (
	"fmt"

	"github.com/liliang-cn/chitta/pkg/triplet"
	"github.com/liliang-cn/chitta/pkg/wal"
)

// Connect records a subject-predicate-object triplet in the entity graph,
// spec §4.10's connect() operation.
func (m *Mind) Connect(subject, predicate, object string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triplets == nil {
		return wrapErr("connect", ErrDependencyUnavailable)
	}
	if err := m.w.Append(wal.Record{
		Kind: wal.KindTripletInsert, Subject: subject, Predicate: predicate, Object: object, Weight: weight,
	}); err != nil {
		return wrapErr("connect", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if err := m.triplets.Insert(subject, predicate, object, weight); err != nil {
		return wrapErr("connect", err)
	}
	return nil
}

// QueryGraph runs a triplet pattern query; a nil pointer means "any" for
// that position, matching spec §4.10's query_graph wildcard semantics.
func (m *Mind) QueryGraph(subject, predicate, object *string) []triplet.Triplet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triplets == nil {
		return nil
	}
	return m.triplets.Query(subject, predicate, object)
}

// FindEntity looks up every triplet naming entity as subject or object.
func (m *Mind) FindEntity(entity string) []triplet.Triplet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triplets == nil {
		return nil
	}
	asSubject := m.triplets.Query(&entity, nil, nil)
	asObject := m.triplets.Query(nil, nil, &entity)
	return append(asSubject, asObject...)
}

// FindOrCreateEntity returns whether entity already appears as a subject
// or object of some triplet, creating a trivial self-reference triplet
// (entity "is-a" entity) the first time it's seen so later graph queries
// can surface it, per spec §4.10.
func (m *Mind) FindOrCreateEntity(entity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triplets == nil {
		return false, wrapErr("find_or_create_entity", ErrDependencyUnavailable)
	}
	if len(m.triplets.Query(&entity, nil, nil)) > 0 || len(m.triplets.Query(nil, nil, &entity)) > 0 {
		return false, nil
	}
	if err := m.w.Append(wal.Record{
		Kind: wal.KindTripletInsert, Subject: entity, Predicate: EdgeKindIsA, Object: entity, Weight: 1,
	}); err != nil {
		return false, wrapErr("find_or_create_entity", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if err := m.triplets.Insert(entity, EdgeKindIsA, entity, 1); err != nil {
		return false, wrapErr("find_or_create_entity", err)
	}
	return true, nil
}
