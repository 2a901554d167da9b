package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/rako-bridge/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	require.NoError(t, db.Migrate(ctx))
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsIDAndTimestamp(t *testing.T) {
	repo := newTestRepo(t)

	entry := &Entry{
		Topic:   "homeassistant/light/rako_3_2/set",
		Payload: `{"state":"ON","brightness":80}`,
		Kind:    KindLevel,
		Room:    3,
		Channel: 2,
		Value:   80,
		Outcome: OutcomeAccepted,
	}
	require.NoError(t, repo.Create(context.Background(), entry))

	assert.Regexp(t, `^cmd-[0-9a-f]{8}$`, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestList_NewestFirstWithFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Topic: "a", Room: 1, Channel: 1, Value: 255, Kind: KindLevel, Outcome: OutcomeAccepted, CreatedAt: base},
		{Topic: "b", Room: 2, Channel: 0, Value: 3, Kind: KindScene, Outcome: OutcomeAccepted, CreatedAt: base.Add(time.Second)},
		{Topic: "c", Outcome: OutcomeRejected, Reason: "bad object id", CreatedAt: base.Add(2 * time.Second)},
		{Topic: "d", Room: 1, Channel: 4, Kind: KindLevel, Outcome: OutcomeDropped, CreatedAt: base.Add(2*time.Second + 500*time.Millisecond)},
	}
	for i := range seed {
		require.NoError(t, repo.Create(ctx, &seed[i]))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, defaultPageSize, all.Limit)
	require.Len(t, all.Entries, 4)
	assert.Equal(t, []string{"d", "c", "b", "a"},
		[]string{all.Entries[0].Topic, all.Entries[1].Topic, all.Entries[2].Topic, all.Entries[3].Topic})
	assert.Equal(t, "bad object id", all.Entries[1].Reason)

	rejected, err := repo.List(ctx, Filter{Outcome: OutcomeRejected})
	require.NoError(t, err)
	assert.Equal(t, 1, rejected.Total)

	room := 1
	roomOne, err := repo.List(ctx, Filter{Room: &room})
	require.NoError(t, err)
	assert.Equal(t, 2, roomOne.Total)

	page, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "c", page.Entries[0].Topic)
}

func TestList_ClampsPaging(t *testing.T) {
	repo := newTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}
