package factstore

import (
	"testing"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeByFieldReturnsBoundedSet(t *testing.T) {
	s := NewSortedVector()
	var ids []types.FactID
	for _, hours := range []int64{4, 8, 9, 12, 16} {
		id, err := s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"hours": factvalue.Int(hours)}})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := s.RangeByField("hours", factvalue.Int(8), factvalue.Int(12))
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.FactID{ids[1], ids[2], ids[3]}, got)
}

func TestRangeByFieldRejectsIncompatibleBounds(t *testing.T) {
	s := NewSortedVector()
	_, err := s.RangeByField("hours", factvalue.Int(1), factvalue.String("x"))
	assert.Error(t, err)
}

func TestRangeByFieldAfterUpdateReflectsNewValue(t *testing.T) {
	s := NewSortedVector()
	id, err := s.Insert(&types.Fact{Fields: map[string]factvalue.Value{"hours": factvalue.Int(5)}})
	require.NoError(t, err)

	require.NoError(t, s.Update(id, map[string]factvalue.Value{"hours": factvalue.Int(20)}))

	got, err := s.RangeByField("hours", factvalue.Int(0), factvalue.Int(10))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.RangeByField("hours", factvalue.Int(15), factvalue.Int(25))
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.FactID{id}, got)
}
