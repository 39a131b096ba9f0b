package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testSnapshot(id string, builtAt time.Time) *infocontent.Snapshot {
	return &infocontent.Snapshot{
		ID:       id,
		RootID:   domain.DefaultRootID,
		BuiltAt:  builtAt,
		RootMass: 1,
		IC: map[string]float64{
			"HP:0000118": 0,
			"HP:0000707": 1.386294,
		},
		Ancestors: map[string][]string{
			"HP:0000707": {"HP:0000118", "HP:0000707"},
		},
		Aliases: map[string]string{"HP:0001333": "HP:0000707"},
	}
}

func createTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snapshots.db"), testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "snapshots.db")

	store, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_SaveAndLatest(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("older", base)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("newer", base.Add(time.Hour))))

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", latest.ID)
	assert.True(t, base.Add(time.Hour).Equal(latest.BuiltAt))

	model, err := infocontent.FromSnapshot(latest)
	require.NoError(t, err)
	ic, ok := model.IC("HP:0001333")
	require.True(t, ok, "aliases survive the round trip")
	assert.InDelta(t, 1.386294, ic, 1e-9)
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("same", time.Now().UTC())
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	snap.RootMass = 0.5
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	infos, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 0.5, infos[0].RootMass)
	assert.Equal(t, 2, infos[0].Terms)
}

func TestSQLiteStore_Validation(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SaveSnapshot(ctx, nil), domain.ErrInvalidArgument)
	assert.ErrorIs(t, store.SaveSnapshot(ctx, &infocontent.Snapshot{ID: "x"}), domain.ErrInvalidArgument)
}

func TestSQLiteStore_Prune(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(id, base.Add(time.Duration(i)*time.Minute))))
	}

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "d", infos[0].ID)
	assert.Equal(t, "c", infos[1].ID)
}

func TestSQLiteStore_Retention(t *testing.T) {
	store := createTestStore(t, WithRetention(1))
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("first", base)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("second", base.Add(time.Second))))

	infos, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "second", infos[0].ID)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	source := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, source.SaveSnapshot(ctx, testSnapshot("one", base)))
	require.NoError(t, source.SaveSnapshot(ctx, testSnapshot("two", base.Add(time.Hour))))

	var buf bytes.Buffer
	require.NoError(t, source.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), `"version": "1.0"`)
	assert.Contains(t, buf.String(), `"count": 2`)

	target := createTestStore(t)
	require.NoError(t, target.SaveSnapshot(ctx, testSnapshot("one", base)))

	imported, skipped, err := target.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	latest, err := target.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", latest.ID)
}

func TestSQLiteStore_ImportMalformed(t *testing.T) {
	store := createTestStore(t)

	_, _, err := store.ImportJSON(context.Background(), strings.NewReader("{oops"))
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestSQLiteStore_ServesProviderWarmStart(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("persisted", time.Now().UTC())))

	provider := infocontent.NewProvider(failingBuilder{}, testLogger(), infocontent.WithSnapshotStore(store))
	model, err := provider.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", model.ID())
}

type failingBuilder struct{}

func (failingBuilder) Build(context.Context) (*infocontent.Model, error) {
	return nil, domain.ErrSourceUnavailable
}
