package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorEncodeParse(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 4, 10, 30, 0, 123456789, time.FixedZone("CET", 3600)), ID: uuid.New()}

	got, err := ParseCursor(want.Encode())
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestParseCursorRejectsForeignValues(t *testing.T) {
	for _, value := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := ParseCursor(value)
		assert.ErrorIs(t, err, ErrInvalidCursor, value)
	}
	c, err := ParseCursor("  ")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	key := func(id uuid.UUID) Cursor { return Cursor{CreatedAt: base, ID: id} }

	rows, next := Page(ids, 2, key)
	assert.Equal(t, ids[:2], rows)
	c, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, ids[1], c.ID)

	rows, next = Page(ids[:2], 2, key)
	assert.Len(t, rows, 2)
	assert.Empty(t, next)
}
