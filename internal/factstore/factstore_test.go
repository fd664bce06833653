package factstore

import (
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends() map[string]func() Store {
	return map[string]func() Store{
		"hashmap":       func() Store { return NewHashMap() },
		"sorted_vector": func() Store { return NewSortedVector() },
	}
}

func TestInsertAssignsIDAndExternalID(t *testing.T) {
	for name, ctor := range backends() {
		t.Run(name, func(t *testing.T) {
			s := ctor()
			f := &types.Fact{Fields: map[string]factvalue.Value{"x": factvalue.Int(1)}}
			id, err := s.Insert(f)
			require.NoError(t, err)
			assert.NotZero(t, id)
			assert.NotEmpty(t, f.ExternalID)

			got, ok := s.Get(id)
			require.True(t, ok)
			assert.Equal(t, f, got)
		})
	}
}

func TestLookupByFieldIndexedAndUnindexed(t *testing.T) {
	for name, ctor := range backends() {
		t.Run(name, func(t *testing.T) {
			s := ctor()
			id1, _ := s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"region": factvalue.String("east")}})
			_, _ = s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"region": factvalue.String("west")}})

			ids := s.LookupByField("region", factvalue.String("east"))
			assert.ElementsMatch(t, []types.FactID{id1}, ids)

			// unindexed field name never seen by any fact still works via scan
			assert.Empty(t, s.LookupByField("nonexistent", factvalue.Int(1)))
		})
	}
}

func TestUpdateReindexes(t *testing.T) {
	for name, ctor := range backends() {
		t.Run(name, func(t *testing.T) {
			s := ctor()
			id, _ := s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"status": factvalue.String("open")}})

			require.NoError(t, s.Update(id, map[string]factvalue.Value{"status": factvalue.String("closed")}))

			assert.Empty(t, s.LookupByField("status", factvalue.String("open")))
			assert.ElementsMatch(t, []types.FactID{id}, s.LookupByField("status", factvalue.String("closed")))
		})
	}
}

func TestRemoveDeletesFromIndex(t *testing.T) {
	for name, ctor := range backends() {
		t.Run(name, func(t *testing.T) {
			s := ctor()
			id, _ := s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"k": factvalue.Int(7)}})
			require.True(t, s.Remove(id))
			require.False(t, s.Remove(id))

			_, ok := s.Get(id)
			assert.False(t, ok)
			assert.Empty(t, s.LookupByField("k", factvalue.Int(7)))
			assert.Equal(t, 0, s.Len())
		})
	}
}

func TestAllReturnsEveryFact(t *testing.T) {
	for name, ctor := range backends() {
		t.Run(name, func(t *testing.T) {
			s := ctor()
			s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"a": factvalue.Int(1)}})
			s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"a": factvalue.Int(2)}})
			assert.Len(t, s.All(), 2)
		})
	}
}
