package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "nested", "cinesort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testPuzzle(date, title string, created time.Time) cinesort.Puzzle {
	scenes := make([]cinesort.Scene, cinesort.SceneCount)
	for i := range scenes {
		id := string(rune('A' + i))
		scenes[i] = cinesort.Scene{ID: id, URL: "/images/" + id + ".jpg", StoragePath: id + ".jpg", Caption: "Scene " + id}
	}
	return cinesort.Puzzle{
		ID:        cinesort.NewID(),
		Date:      date,
		Title:     title,
		Scenes:    scenes,
		CreatedAt: created,
		CreatedBy: "admin",
	}
}

var base = time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)

func TestStoreInsertAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPuzzle("2026-10-20", "Alien", base)
	id, err := s.Insert(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Date, got.Date)
	assert.Equal(t, p.Scenes, got.Scenes)
	assert.Equal(t, "admin", got.CreatedBy)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	got, err = s.FindByDate(ctx, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestStoreNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, cinesort.ErrNotFound)

	_, err = s.FindByDate(ctx, "2026-10-20")
	assert.ErrorIs(t, err, cinesort.ErrNotFound)

	_, err = s.FindLatestByCreation(ctx)
	assert.ErrorIs(t, err, cinesort.ErrNotFound)

	assert.ErrorIs(t, s.Remove(ctx, "missing"), cinesort.ErrNotFound)

	title := "x"
	assert.ErrorIs(t, s.Patch(ctx, "missing", cinesort.PuzzleFields{Title: &title}), cinesort.ErrNotFound)
}

func TestStoreFindRangeAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []cinesort.Puzzle{
		testPuzzle("2026-10-22", "C", base.Add(time.Millisecond)),
		testPuzzle("2026-10-18", "Past", base.Add(2*time.Hour)),
		testPuzzle("2026-10-19", "A", base),
		testPuzzle("2026-10-20", "B", base.Add(500*time.Microsecond)),
	} {
		_, err := s.Insert(ctx, p)
		require.NoError(t, err)
	}

	got, err := s.FindRange(ctx, "2026-10-19")
	require.NoError(t, err)

	titles := make([]string, len(got))
	for i, p := range got {
		titles[i] = p.Title
	}
	assert.Equal(t, []string{"A", "B", "C"}, titles)

	latest, err := s.FindLatestByCreation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Past", latest.Title)

	empty, err := s.FindRange(ctx, "2027-01-01")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestStorePatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPuzzle("2026-10-20", "Alien", base)
	_, err := s.Insert(ctx, p)
	require.NoError(t, err)

	date := "2026-10-21"
	scenes := append([]cinesort.Scene(nil), p.Scenes...)
	scenes[0].Caption = "Nostromo"
	require.NoError(t, s.Patch(ctx, p.ID, cinesort.PuzzleFields{Date: &date, Scenes: scenes}))

	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alien", got.Title)
	assert.Equal(t, "2026-10-21", got.Date)
	assert.Equal(t, "Nostromo", got.Scenes[0].Caption)

	require.NoError(t, s.Patch(ctx, p.ID, cinesort.PuzzleFields{}))
}

func TestStoreRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPuzzle("2026-10-20", "Alien", base)
	_, err := s.Insert(ctx, p)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, p.ID))

	_, err = s.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, cinesort.ErrNotFound)
}

func TestStoreBacksRegistry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := cinesort.NewRegistry(s, cinesort.WithRegistryClock(func() time.Time { return base }))

	d := testPuzzle("2026-10-19", "Heat", base).Draft()
	first, err := r.Create(ctx, d, cinesort.CreateOptions{})
	require.NoError(t, err)

	_, err = r.Create(ctx, d, cinesort.CreateOptions{})
	assert.True(t, cinesort.IsConflict(err))

	d.Title = "Heat (1995)"
	second, err := r.Create(ctx, d, cinesort.CreateOptions{Replace: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	p, src, err := r.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, cinesort.SourceScheduled, src)
	assert.Equal(t, "Heat (1995)", p.Title)

	all, err := s.FindRange(ctx, "2000-01-01")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cinesort.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, testPuzzle("2026-10-20", "Alien", base))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.FindByDate(ctx, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, "Alien", got.Title)
}

func TestDeviceKV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, b := s.Device("device-a"), s.Device("device-b")

	_, ok, err := a.Get(ctx, cinesort.StatsKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Set(ctx, cinesort.StatsKey, "one"))
	require.NoError(t, a.Set(ctx, cinesort.StatsKey, "two"))

	v, ok, err := a.Get(ctx, cinesort.StatsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok, err = b.Get(ctx, cinesort.StatsKey)
	require.NoError(t, err)
	assert.False(t, ok, "devices must not share records")
}

func TestDeviceKVBacksStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := func() time.Time { return base }

	stats := cinesort.NewStats(s.Device("device-a"), now)
	for _, won := range []bool{true, true, false, true} {
		require.NoError(t, stats.RecordOutcome(ctx, won, 2, "Heat"))
	}

	sum, err := cinesort.NewStats(s.Device("device-a"), now).Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Played)
	assert.Equal(t, 75, sum.WonPercentage)
	assert.Equal(t, 2, sum.MaxStreak)
	assert.Len(t, sum.History, 4)
}

func TestDeviceKVConcurrentOutcomes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := func() time.Time { return base }

	stats := cinesort.NewStats(s.Device("device-a"), now)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			assert.NoError(t, stats.RecordOutcome(ctx, i%2 == 0, 3, "Heat"))
		})
	}
	wg.Wait()

	sum, err := cinesort.NewStats(s.Device("device-a"), now).Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Played)
	assert.Equal(t, 10, sum.Won)
	assert.Len(t, sum.History, cinesort.HistoryLimit)
}
