package cachestate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/services"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(identity string) Record {
	return Record{
		Identity:    identity,
		LogicalPath: identity,
		FastPath:    "/fast" + identity,
		SlowPath:    "/slow" + identity,
		Subtitles: []media.Subtitle{
			{FastPath: "/fast" + identity + ".srt", SlowPath: "/slow" + identity + ".srt", Size: 12},
		},
		Size:      1000,
		Priority:  700,
		Source:    SourceOnDeck,
		HasBackup: true,
		CachedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpsertGetListDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleRecord("/tv/b.mkv")); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, sampleRecord("/tv/a.mkv")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "/tv/a.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if got.FastPath != "/fast/tv/a.mkv" || got.Size != 1000 || got.Source != SourceOnDeck || !got.HasBackup {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Subtitles) != 1 || got.Subtitles[0].Size != 12 {
		t.Fatalf("subtitles = %+v", got.Subtitles)
	}
	if got.TotalSize() != 1012 {
		t.Fatalf("TotalSize = %d", got.TotalSize())
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Identity != "/tv/a.mkv" {
		t.Fatalf("List = %+v", list)
	}

	if err := store.Delete(ctx, "/tv/a.mkv"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "/tv/missing.mkv"); err != nil {
		t.Fatalf("deleting a missing record should succeed: %v", err)
	}
	missing, err := store.Get(ctx, "/tv/a.mkv")
	if err != nil || missing != nil {
		t.Fatalf("expected nil record after delete, got %+v, %v", missing, err)
	}
}

func TestUpsertKeepsOriginalCachedAt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord("/m.mkv")
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.CachedAt = rec.CachedAt.Add(72 * time.Hour)
	rec.Priority = 10
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "/m.mkv")
	if !got.CachedAt.Equal(sampleRecord("").CachedAt) {
		t.Fatalf("cached_at overwritten: %v", got.CachedAt)
	}
	if got.Priority != 10 {
		t.Fatalf("priority not updated: %d", got.Priority)
	}
}

func TestTouchAndSetBackup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.Upsert(ctx, sampleRecord("/x.mkv")); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Touch(ctx, "/x.mkv", 42, SourcePinned, now); err != nil {
		t.Fatal(err)
	}
	if err := store.SetBackup(ctx, "/x.mkv", false, now); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "/x.mkv")
	if got.Priority != 42 || !got.UpdatedAt.Equal(now) || got.HasBackup || got.Source != SourcePinned {
		t.Fatalf("unexpected record after touch: %+v", got)
	}
	if err := store.Touch(ctx, "/x.mkv", 43, "", now); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Get(ctx, "/x.mkv"); got.Source != SourcePinned {
		t.Fatalf("empty source should keep %q, got %q", SourcePinned, got.Source)
	}
}

func TestWatchlistSeenKeepsFirstSighting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := store.WatchlistSeen(ctx, "/w.mkv", "alice", first)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(first) {
		t.Fatalf("first sighting = %v, want %v", got, first)
	}
	got, err = store.WatchlistSeen(ctx, "/w.mkv", "alice", first.Add(72*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(first) {
		t.Fatalf("later sighting replaced first: %v", got)
	}
	if other, _ := store.WatchlistSeen(ctx, "/w.mkv", "bob", first.Add(time.Hour)); !other.Equal(first.Add(time.Hour)) {
		t.Fatalf("sightings are per user, got %v", other)
	}

	pruned, err := store.PruneWatchlist(ctx, map[string]bool{})
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if again, _ := store.WatchlistSeen(ctx, "/w.mkv", "alice", first.Add(96*time.Hour)); !again.Equal(first.Add(96 * time.Hour)) {
		t.Fatalf("pruned entry should restart, got %v", again)
	}
}

func TestOpenRebuildsCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a sqlite database ", 512)), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatalf("Open should rebuild corrupt db: %v", err)
	}
	defer store.Close()
	if !store.Rebuilt {
		t.Fatal("expected Rebuilt flag")
	}
	records, err := store.List(context.Background())
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty rebuilt store, got %v, %v", records, err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) == 0 {
		t.Fatal("expected corrupt database moved aside")
	}
}

func TestOpenRebuildsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if !reopened.Rebuilt {
		t.Fatal("expected schema mismatch to trigger rebuild")
	}
}

func TestOpenUnwritableLocationIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(filepath.Join(blocker, "state.db"), logging.NewNop())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRecordFromItem(t *testing.T) {
	now := time.Now()
	item := media.Item{
		Identity: "/a.mkv", LogicalPath: "/a.mkv", FastPath: "/f/a.mkv", SlowPath: "/s/a.mkv", Size: 5, Priority: 1000,
		Reports: []media.Report{{Signal: media.Signal{Kind: media.SignalPinned}}},
	}
	rec := RecordFromItem(item, now)
	if rec.Source != SourcePinned || !rec.HasBackup || !rec.CachedAt.Equal(now) {
		t.Fatalf("RecordFromItem = %+v", rec)
	}
	back := rec.Item()
	if back.FastPath != item.FastPath || back.Priority != 1000 {
		t.Fatalf("Item() = %+v", back)
	}
}
