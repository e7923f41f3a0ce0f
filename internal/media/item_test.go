package media

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestIdentityNormalizesUnicodeAndSlashes(t *testing.T) {
	composed := "/media/movies/Am\u00e9lie (2001)/Am\u00e9lie.mkv"
	decomposed := "/media/movies//Ame\u0301lie (2001)/./Ame\u0301lie.mkv"
	if Identity(composed) != Identity(decomposed) {
		t.Fatalf("identities differ: %q vs %q", Identity(composed), Identity(decomposed))
	}
	if Identity("   ") != "" {
		t.Fatal("blank path should yield empty identity")
	}
}

func TestSignalPicksStrongestReport(t *testing.T) {
	item := Item{Reports: []Report{
		{User: "bob", Signal: Signal{Kind: SignalWatchlist}},
		{User: "alice", Signal: Signal{Kind: SignalOnDeck, Position: 3}},
		{User: "carol", Signal: Signal{Kind: SignalOnDeck, Position: 1}},
	}}
	got := item.Signal()
	if got.Kind != SignalOnDeck || got.Position != 1 {
		t.Fatalf("Signal = %+v, want on_deck position 1", got)
	}
	if item.Pinned() {
		t.Fatal("item should not be pinned")
	}
	if users := item.Users(); !reflect.DeepEqual(users, []string{"alice", "bob", "carol"}) {
		t.Fatalf("Users = %v", users)
	}

	item.Reports = append(item.Reports, Report{Signal: Signal{Kind: SignalPinned}})
	if item.Signal().Kind != SignalPinned || !item.Pinned() {
		t.Fatal("pin should dominate")
	}
}

func TestMerge(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	a := Item{Identity: "/x", Size: 10, Consumed: true, LastActivity: early,
		Reports: []Report{{User: "a", Signal: Signal{Kind: SignalWatchlist}}}}
	b := Item{Identity: "/x", Size: 10, Consumed: false, LastActivity: late,
		Reports: []Report{{User: "b", Signal: Signal{Kind: SignalOnDeck}}}}

	merged := a.Merge(b)
	if len(merged.Reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(merged.Reports))
	}
	if !merged.LastActivity.Equal(late) {
		t.Fatalf("LastActivity = %v, want %v", merged.LastActivity, late)
	}
	if merged.Consumed {
		t.Fatal("item still unwatched by one user must not be consumed")
	}
	if len(a.Reports) != 1 {
		t.Fatal("merge mutated receiver reports")
	}
}

func TestMergeConsumedIgnoresPins(t *testing.T) {
	pin := Item{Identity: "/x", Consumed: true, Reports: []Report{{Signal: Signal{Kind: SignalPinned}}}}
	watched := Item{Identity: "/x", Consumed: true, Reports: []Report{{User: "a"}}}

	merged := pin.Merge(watched)
	if !merged.Consumed || !merged.Pinned() {
		t.Fatalf("merged = %+v, want consumed and pinned", merged)
	}
	pin.Consumed = false
	if pin.Merge(watched).Consumed {
		t.Fatal("one unconsumed side must keep the item unconsumed")
	}
}

func TestTotalSize(t *testing.T) {
	item := Item{Size: 100, Subtitles: []Subtitle{{Size: 3}, {Size: 4}}}
	if item.TotalSize() != 107 {
		t.Fatalf("TotalSize = %d", item.TotalSize())
	}
}

func TestFindSubtitles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"Movie (2020).mkv",
		"Movie (2020).srt",
		"Movie (2020).en.forced.ass",
		"Movie (2020).nfo",
		"Movie (2020).srt.tiercached",
		"Other.srt",
		"Movie (2020) extras.srt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindSubtitles(filepath.Join(dir, "Movie (2020).mkv"), []string{".srt", ".ass"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "Movie (2020).en.forced.ass"),
		filepath.Join(dir, "Movie (2020).srt"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindSubtitles = %v, want %v", got, want)
	}
}
