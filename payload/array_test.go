package payload

import (
	"testing"

	"github.com/c360/countertop/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, typ string, position, duration int64) Payload {
	t.Helper()
	return MustNew(Params{
		Type:      typ,
		CreatedAt: "2024-03-01T12:00:00.000Z",
		Origin:    "o",
		Position:  position,
		Duration:  duration,
	})
}

func positions(a *Array) []int64 {
	out := make([]int64, 0, a.Len())
	for _, p := range a.ToSlice() {
		out = append(out, p.Position())
	}
	return out
}

func TestArray_InsertKeepsOrder(t *testing.T) {
	a := &Array{}
	for _, pos := range []int64{300, 11, 20, 5, 40} {
		require.NoError(t, a.Insert(at(t, TypeTextAtom, pos, 1)))
	}

	assert.Equal(t, []int64{5, 11, 20, 40, 300}, positions(a))
	assert.Equal(t, 5, a.Len())
}

func TestArray_EqualPositionsKeepInsertionOrder(t *testing.T) {
	a := &Array{}
	require.NoError(t, a.Insert(at(t, "first", 10, 1)))
	require.NoError(t, a.Insert(at(t, "second", 10, 1)))
	require.NoError(t, a.Insert(at(t, "early", 1, 1)))

	s := a.ToSlice()
	assert.Equal(t, "early", s[0].Type())
	assert.Equal(t, "first", s[1].Type())
	assert.Equal(t, "second", s[2].Type())
}

func TestArray_InsertRejectsZeroPayload(t *testing.T) {
	a := &Array{}
	err := a.Insert(Payload{})
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, 0, a.Len())
}

func TestArray_IndexOfPosition(t *testing.T) {
	a, err := NewArray(at(t, "a", 10, 1), at(t, "b", 20, 1), at(t, "c", 20, 1), at(t, "d", 30, 1))
	require.NoError(t, err)

	tests := []struct {
		pos     int64
		highest bool
		want    int
	}{
		{5, false, 0},
		{10, false, 0},
		{10, true, 1},
		{20, false, 1},
		{20, true, 3},
		{25, false, 3},
		{40, true, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.IndexOfPosition(tt.pos, tt.highest), "pos=%d highest=%v", tt.pos, tt.highest)
	}
}

func TestArray_Filters(t *testing.T) {
	a, err := NewArray(
		at(t, TypeTextAtom, 0, 10),
		at(t, TypeTextWord, 10, 10),
		at(t, TypeTextAtom, 20, 10),
		at(t, TypeTextSentence, 30, 10),
	)
	require.NoError(t, err)

	t.Run("by type", func(t *testing.T) {
		assert.Equal(t, []int64{0, 20}, positions(a.FilterByType(TypeTextAtom)))
		assert.Equal(t, []int64{10, 30}, positions(a.FilterByTypes(TypeTextWord, TypeTextSentence)))
		assert.Equal(t, 0, a.FilterByType("missing").Len())
	})

	t.Run("by half-open window", func(t *testing.T) {
		assert.Equal(t, []int64{10, 20}, positions(a.FilterByPosition(10, 30)))
		assert.Equal(t, []int64{}, positions(a.FilterByPosition(30, 10)))
		assert.Equal(t, []int64{20, 30}, positions(a.FilterFromPosition(15)))
	})

	t.Run("results do not alias", func(t *testing.T) {
		window := a.FilterByPosition(0, 40)
		window.Empty()
		require.NoError(t, window.Insert(at(t, "x", 1, 1)))
		assert.Equal(t, 4, a.Len())
		assert.Equal(t, []int64{0, 10, 20, 30}, positions(a))
	})
}

func TestArray_Summary(t *testing.T) {
	a := &Array{}

	_, err := a.Position()
	assert.ErrorIs(t, err, errors.ErrEmptyArray)
	_, err = a.Duration()
	assert.ErrorIs(t, err, errors.ErrEmptyArray)
	_, err = a.Origin()
	assert.ErrorIs(t, err, errors.ErrEmptyArray)

	require.NoError(t, a.Insert(at(t, "x", 100, 40)))
	require.NoError(t, a.Insert(at(t, "x", 20, 5)))

	pos, err := a.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos)

	dur, err := a.Duration()
	require.NoError(t, err)
	assert.Equal(t, int64(120), dur)

	origin, err := a.Origin()
	require.NoError(t, err)
	assert.Equal(t, "o", origin)

	a.Empty()
	assert.Equal(t, 0, a.Len())
}
