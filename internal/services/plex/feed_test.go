package plex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tiercache/internal/config"
	"tiercache/internal/media"
)

const (
	onDeckXML = `<MediaContainer>
  <Video ratingKey="12" type="episode" grandparentRatingKey="5" parentIndex="1" index="2" lastViewedAt="1767225600">
    <Media><Part file="/data/tv/Show/S01E02.mkv" size="200"/></Media>
  </Video>
  <Video ratingKey="30" type="movie" lastViewedAt="1767225600">
    <Media><Part file="/data/movies/Film.mkv" size="900"/></Media>
  </Video>
</MediaContainer>`
	leavesXML = `<MediaContainer>
  <Video ratingKey="14" parentIndex="2" index="1"><Media><Part file="/data/tv/Show/S02E01.mkv" size="10"/></Media></Video>
  <Video ratingKey="11" parentIndex="1" index="1" viewCount="1"><Media><Part file="/data/tv/Show/S01E01.mkv" size="10"/></Media></Video>
  <Video ratingKey="12" parentIndex="1" index="2"><Media><Part file="/data/tv/Show/S01E02.mkv" size="10"/></Media></Video>
  <Video ratingKey="13" parentIndex="1" index="3" viewCount="2"><Media><Part file="/data/tv/Show/S01E03.mkv" size="10"/></Media></Video>
  <Video ratingKey="15" parentIndex="2" index="2"><Media><Part file="/data/tv/Show/S02E02.mkv" size="10"/></Media></Video>
</MediaContainer>`
	watchlistXML = `<MediaContainer><Video guid="plex://movie/abc" type="movie" watchlistedAt="1767139200"/></MediaContainer>`
	libraryXML   = `<MediaContainer><Video ratingKey="40" type="movie" addedAt="1767225600"><Media><Part file="/data/movies/Wanted.mkv" size="50"/></Media></Video></MediaContainer>`
	historyXML   = `<MediaContainer><Video ratingKey="11" viewedAt="1767225600"/></MediaContainer>`
	metadataXML  = `<MediaContainer><Video ratingKey="11"><Media><Part file="/data/tv/Show/S01E01.mkv" size="10"/></Media></Video></MediaContainer>`
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) *Feed {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Plex.URL = server.URL
	cfg.Plex.Token = "admin"
	cfg.Plex.Users = []config.User{{Name: "kid", Token: "kid-token"}}
	cfg.Cache.OnDeckEpisodes = 2
	feed := NewFeed(&cfg, server.Client(), nil)
	feed.SetDiscoverURL(server.URL, server.Client())
	feed.Now = func() time.Time { return time.Unix(1767312000, 0) }
	return feed
}

func plexHandler(t *testing.T, tokens map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokens[r.Header.Get("X-Plex-Token")] = true
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/library/onDeck":
			_, _ = w.Write([]byte(onDeckXML))
		case "/library/metadata/5/allLeaves":
			_, _ = w.Write([]byte(leavesXML))
		case "/library/sections/watchlist/all":
			_, _ = w.Write([]byte(watchlistXML))
		case "/library/all":
			if r.URL.Query().Get("guid") != "plex://movie/abc" {
				t.Errorf("unexpected guid %q", r.URL.Query().Get("guid"))
			}
			_, _ = w.Write([]byte(libraryXML))
		case "/status/sessions/history/all":
			_, _ = w.Write([]byte(historyXML))
		case "/library/metadata/11":
			_, _ = w.Write([]byte(metadataXML))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestFeedFetch(t *testing.T) {
	tokens := map[string]bool{}
	feed := newTestFeed(t, plexHandler(t, tokens))

	items, err := feed.Fetch(context.Background(), "kid")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !tokens["kid-token"] || tokens["admin"] {
		t.Fatalf("requests should use the user's token, saw %v", tokens)
	}

	byPath := map[string]media.Item{}
	for _, it := range items {
		byPath[it.LogicalPath] = it
	}
	want := map[string]media.Signal{
		"/data/tv/Show/S01E02.mkv": {Kind: media.SignalOnDeck, Position: 0},
		"/data/movies/Film.mkv":    {Kind: media.SignalOnDeck, Position: 0},
		"/data/tv/Show/S02E01.mkv": {Kind: media.SignalOnDeck, Position: 1},
		"/data/tv/Show/S02E02.mkv": {Kind: media.SignalOnDeck, Position: 2},
		"/data/movies/Wanted.mkv":  {Kind: media.SignalWatchlist, Since: time.Unix(1767139200, 0).UTC()},
	}
	for path, sig := range want {
		it, ok := byPath[path]
		if !ok {
			t.Fatalf("missing %s in %v", path, items)
		}
		if it.Signal() != sig {
			t.Errorf("%s: signal = %+v, want %+v", path, it.Signal(), sig)
		}
		if it.Users()[0] != "kid" {
			t.Errorf("%s: users = %v", path, it.Users())
		}
	}
	if _, ok := byPath["/data/tv/Show/S01E03.mkv"]; ok {
		t.Fatal("watched episodes must not be prefetched")
	}
	watched, ok := byPath["/data/tv/Show/S01E01.mkv"]
	if !ok || !watched.Consumed {
		t.Fatalf("history item should be consumed: %+v", watched)
	}
	if byPath["/data/movies/Film.mkv"].Size != 900 {
		t.Fatal("part size should be carried")
	}
}

func TestFeedFallsBackToServerToken(t *testing.T) {
	tokens := map[string]bool{}
	feed := newTestFeed(t, plexHandler(t, tokens))
	if _, err := feed.Fetch(context.Background(), "guest"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !tokens["admin"] {
		t.Fatalf("expected admin token, saw %v", tokens)
	}
}

func TestFeedFailureFailsUser(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/library/sections/watchlist/all" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`<MediaContainer/>`))
	})
	items, err := feed.Fetch(context.Background(), "kid")
	if err == nil || !errors.Is(err, ErrAuthorizationMissing) {
		t.Fatalf("err = %v", err)
	}
	if items != nil {
		t.Fatal("failed fetch must not return partial items")
	}
}
