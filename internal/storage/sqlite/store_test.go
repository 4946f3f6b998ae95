package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/testutil"
)

var _ measure.Storage = (*Store)(nil)

var drivers = []string{DriverCGO, DriverPureGo}

func openTestStore(t *testing.T, driver string, opts measure.Options) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	all := measure.Merge(measure.Options{"driver": driver}, opts)
	s, err := New(all, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "measure.db")

			s, err := Open(driver, path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer s.Close()

			if _, err := os.Stat(path); os.IsNotExist(err) {
				t.Error("database file was not created")
			}
		})
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measure.db")

	for i := 0; i < 3; i++ {
		s, err := Open(DriverCGO, path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_SchemaVersion(t *testing.T) {
	s, err := Open(DriverCGO, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err = s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_entries_expires_at'`).Scan(&name)
	require.NoError(t, err, "v1 migration creates the expiry index")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", ":memory:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sqlite driver "postgres"`)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, _ := openTestStore(t, driver, nil)

			_, found, err := s.Load(ctx, "client_id")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Save(ctx, "client_id", "abc-123", measure.Forever))
			require.NoError(t, s.Save(ctx, "profile", map[string]any{"tier": "gold", "visits": 3}, measure.StorageDefault))

			v, found, err := s.Load(ctx, "client_id")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "abc-123", v)

			v, found, err = s.Load(ctx, "profile")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, map[string]any{"tier": "gold", "visits": float64(3)}, v)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, DriverCGO, nil)

	require.NoError(t, s.Save(ctx, "k", 1, 10))
	require.NoError(t, s.Save(ctx, "k", 2, measure.Forever))

	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, float64(2), v)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, clock := openTestStore(t, driver, measure.Options{"default_ttl": 60})

			require.NoError(t, s.Save(ctx, "none", "x", measure.DoNotPersist))
			require.NoError(t, s.Save(ctx, "default", "x", measure.StorageDefault))
			require.NoError(t, s.Save(ctx, "short", "x", 5))
			require.NoError(t, s.Save(ctx, "forever", "x", measure.Forever))

			_, found, _ := s.Load(ctx, "none")
			assert.False(t, found, "DoNotPersist stores nothing")

			clock.Advance(5 * time.Second)
			_, found, _ = s.Load(ctx, "short")
			assert.False(t, found)
			_, found, _ = s.Load(ctx, "default")
			assert.True(t, found)

			clock.Advance(time.Minute)
			_, found, _ = s.Load(ctx, "default")
			assert.False(t, found)

			n, err := s.Purge(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			_, found, _ = s.Load(ctx, "forever")
			assert.True(t, found)
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "measure.db")

	s1, err := New(measure.Options{"path": path, "driver": DriverPureGo})
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, "client_id", "kept", measure.Forever))
	require.NoError(t, s1.Close())

	s2, err := New(measure.Options{"path": path, "driver": DriverPureGo})
	require.NoError(t, err)
	defer s2.Close()

	v, found, err := s2.Load(ctx, "client_id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "kept", v)
}

func TestStore_CanonicalRows(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, DriverCGO, nil)

	require.NoError(t, s.Save(ctx, "k", map[string]any{"b": 1, "a": "<x>"}, measure.Forever))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT value FROM entries WHERE key = 'k'`).Scan(&raw))
	assert.Equal(t, `{"a":"<x>","b":1}`, raw)
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, DriverCGO, nil)

	assert.ErrorIs(t, s.Save(ctx, "k", "v", -4), measure.ErrInvalidTTL)
	assert.Error(t, s.Save(ctx, "k", struct{}{}, measure.Forever), "values must be JSON data")
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []measure.Options{
		{"driver": "mysql"},
		{"driver": 3},
		{"path": false},
		{"default_ttl": -1},
		{"default_ttl": "later"},
	}
	for _, opts := range tests {
		_, err := New(opts)
		assert.Error(t, err, "options %v", opts)
	}
}

func TestConstructor(t *testing.T) {
	s, err := Constructor(nil)
	require.NoError(t, err)
	defer s.(*Store).Close()
	assert.IsType(t, &Store{}, s)
}
