package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/testutil"
)

var _ measure.Storage = (*Storage)(nil)

func newStorage(t *testing.T, opts measure.Options) (*Storage, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	s, err := New(opts, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestStorage_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, nil)

	_, found, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "client_id", "abc", measure.Forever))
	v, found, err := s.Load(ctx, "client_id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", v)
}

func TestStorage_TTLEnumeration(t *testing.T) {
	ctx := context.Background()
	s, clock := newStorage(t, measure.Options{"default_ttl": 60})

	require.NoError(t, s.Save(ctx, "none", 1, measure.DoNotPersist))
	require.NoError(t, s.Save(ctx, "default", 2, measure.StorageDefault))
	require.NoError(t, s.Save(ctx, "short", 3, 5))
	require.NoError(t, s.Save(ctx, "forever", 4, measure.Forever))

	assert.Equal(t, []string{"default", "forever", "short"}, s.Keys())

	clock.Advance(5 * time.Second)
	_, found, _ := s.Load(ctx, "short")
	assert.False(t, found, "expired at exactly its ttl")

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"forever"}, s.Keys())

	clock.Advance(24 * 365 * time.Hour)
	v, found, _ := s.Load(ctx, "forever")
	assert.True(t, found)
	assert.Equal(t, 4, v)
}

func TestStorage_DefaultIsForever(t *testing.T) {
	ctx := context.Background()
	s, clock := newStorage(t, nil)
	require.NoError(t, s.Save(ctx, "k", "v", measure.StorageDefault))
	clock.Advance(1000 * time.Hour)
	_, found, _ := s.Load(ctx, "k")
	assert.True(t, found)
}

func TestStorage_FractionalTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newStorage(t, nil)
	require.NoError(t, s.Save(ctx, "k", "v", 1.5))

	clock.Advance(1400 * time.Millisecond)
	_, found, _ := s.Load(ctx, "k")
	assert.True(t, found)

	clock.Advance(200 * time.Millisecond)
	_, found, _ = s.Load(ctx, "k")
	assert.False(t, found)
}

func TestStorage_VeryLongTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newStorage(t, nil)
	require.NoError(t, s.Save(ctx, "k", "v", measure.TTL(1e10)))

	clock.Advance(100 * 365 * 24 * time.Hour)
	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestStorage_InvalidTTL(t *testing.T) {
	s, _ := newStorage(t, nil)
	err := s.Save(context.Background(), "k", "v", -3)
	assert.ErrorIs(t, err, measure.ErrInvalidTTL)
}

func TestNew_InvalidDefault(t *testing.T) {
	for _, v := range []any{-1, -2, "soon", true} {
		_, err := New(measure.Options{"default_ttl": v})
		assert.Error(t, err, "default_ttl=%v", v)
	}
}

func TestConstructor(t *testing.T) {
	s, err := Constructor(measure.Options{"default_ttl": "forever"})
	require.NoError(t, err)
	assert.IsType(t, &Storage{}, s)
}
