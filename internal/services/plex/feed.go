package plex

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"tiercache/internal/config"
	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/services"
)

// DefaultDiscoverURL hosts account watchlists.
const DefaultDiscoverURL = "https://discover.provider.plex.tv"

const defaultHistoryWindow = 7 * 24 * time.Hour

// Feed reports on-deck, watchlist and consumed items per user.
type Feed struct {
	server   *Client
	discover *Client
	token    string
	tokens   map[string]string
	episodes int
	// HistoryWindow bounds how far back watched items count as consumed.
	HistoryWindow time.Duration
	Now           func() time.Time
	logger        *slog.Logger
}

// NewFeed builds a feed from configuration. A nil doer uses an http.Client
// with the configured request timeout.
func NewFeed(cfg *config.Config, doer HTTPDoer, logger *slog.Logger) *Feed {
	if doer == nil {
		doer = &http.Client{Timeout: time.Duration(cfg.Plex.RequestTimeout) * time.Second}
	}
	tokens := make(map[string]string, len(cfg.Plex.Users))
	for _, u := range cfg.Plex.Users {
		if tok := strings.TrimSpace(u.Token); tok != "" {
			tokens[u.Name] = tok
		}
	}
	return &Feed{
		server:        NewClient(cfg.Plex.URL, doer),
		discover:      NewClient(DefaultDiscoverURL, doer),
		token:         cfg.Plex.Token,
		tokens:        tokens,
		episodes:      cfg.Cache.OnDeckEpisodes,
		HistoryWindow: defaultHistoryWindow,
		Now:           time.Now,
		logger:        logging.NewComponentLogger(logger, "plex"),
	}
}

// SetDiscoverURL points watchlist requests at another host.
func (f *Feed) SetDiscoverURL(base string, doer HTTPDoer) {
	f.discover = NewClient(base, doer)
}

// Name implements feed.Provider.
func (f *Feed) Name() string { return "plex" }

func (f *Feed) tokenFor(user string) string {
	if tok, ok := f.tokens[user]; ok {
		return tok
	}
	return f.token
}

// Fetch implements feed.Provider. Any request failure fails the whole user so
// a partial list is never mistaken for the user's full interest.
func (f *Feed) Fetch(ctx context.Context, user string) ([]media.Item, error) {
	token := f.tokenFor(user)
	var items []media.Item

	onDeck, err := f.onDeck(ctx, user, token)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "on deck", user, err)
	}
	items = append(items, onDeck...)

	watchlist, err := f.watchlist(ctx, user, token)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "watchlist", user, err)
	}
	items = append(items, watchlist...)

	watched, err := f.watched(ctx, user, token)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "history", user, err)
	}
	items = append(items, watched...)

	f.logger.Debug("plex feed fetched",
		logging.String("user", user),
		logging.Int("on_deck", len(onDeck)),
		logging.Int("watchlist", len(watchlist)),
		logging.Int("watched", len(watched)),
	)
	return items, nil
}

func report(user string, kind media.SignalKind, position int) []media.Report {
	return []media.Report{{User: user, Signal: media.Signal{Kind: kind, Position: position}}}
}

func itemFor(v video, user string, kind media.SignalKind, position int, activity time.Time) (media.Item, bool) {
	file, size, ok := v.file()
	if !ok {
		return media.Item{}, false
	}
	return media.Item{
		LogicalPath:  file,
		Size:         size,
		Reports:      report(user, kind, position),
		LastActivity: activity,
	}, true
}

// onDeck returns the user's On Deck entries and, for episodes, the next
// unwatched episodes of the same show.
func (f *Feed) onDeck(ctx context.Context, user, token string) ([]media.Item, error) {
	var deck mediaContainer
	if err := f.server.get(ctx, "/library/onDeck", nil, token, &deck); err != nil {
		return nil, err
	}
	var items []media.Item
	for _, v := range deck.Videos {
		activity := unixTime(v.LastViewedAt)
		if item, ok := itemFor(v, user, media.SignalOnDeck, 0, activity); ok {
			items = append(items, item)
		}
		if v.Type != "episode" || v.GrandparentRatingKey == "" || f.episodes <= 0 {
			continue
		}
		next, err := f.nextEpisodes(ctx, token, v, f.episodes)
		if err != nil {
			return nil, err
		}
		for i, ep := range next {
			if item, ok := itemFor(ep, user, media.SignalOnDeck, i+1, activity); ok {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func (f *Feed) leaves(ctx context.Context, token, showKey string) ([]video, error) {
	var all mediaContainer
	if err := f.server.get(ctx, "/library/metadata/"+url.PathEscape(showKey)+"/allLeaves", nil, token, &all); err != nil {
		return nil, err
	}
	episodes := slices.Clone(all.Videos)
	slices.SortStableFunc(episodes, func(a, b video) int {
		switch {
		case a.episodeBefore(b):
			return -1
		case b.episodeBefore(a):
			return 1
		}
		return 0
	})
	return episodes, nil
}

func (f *Feed) nextEpisodes(ctx context.Context, token string, current video, n int) ([]video, error) {
	episodes, err := f.leaves(ctx, token, current.GrandparentRatingKey)
	if err != nil {
		return nil, err
	}
	var next []video
	for _, ep := range episodes {
		if !current.episodeBefore(ep) || ep.ViewCount > 0 {
			continue
		}
		next = append(next, ep)
		if len(next) == n {
			break
		}
	}
	return next, nil
}

// watchlist resolves the account watchlist against the local library. Shows
// contribute their first unwatched episodes.
func (f *Feed) watchlist(ctx context.Context, user, token string) ([]media.Item, error) {
	var list mediaContainer
	if err := f.discover.get(ctx, "/library/sections/watchlist/all", nil, token, &list); err != nil {
		return nil, err
	}
	type entry struct {
		guid  string
		since time.Time
	}
	entries := make([]entry, 0, len(list.Videos)+len(list.Directories))
	for _, v := range list.Videos {
		entries = append(entries, entry{guid: v.GUID, since: unixTime(v.WatchlistedAt)})
	}
	for _, d := range list.Directories {
		entries = append(entries, entry{guid: d.GUID, since: unixTime(d.WatchlistedAt)})
	}

	var items []media.Item
	for _, e := range entries {
		guid := e.guid
		if guid == "" {
			continue
		}
		added := func(item media.Item) media.Item {
			item.Reports[0].Signal.Since = e.since
			return item
		}
		var local mediaContainer
		if err := f.server.get(ctx, "/library/all", url.Values{"guid": {guid}}, token, &local); err != nil {
			return nil, err
		}
		for _, v := range local.Videos {
			if item, ok := itemFor(v, user, media.SignalWatchlist, 0, unixTime(v.AddedAt)); ok {
				items = append(items, added(item))
			}
		}
		for _, d := range local.Directories {
			if d.Type != "show" || d.RatingKey == "" {
				continue
			}
			episodes, err := f.leaves(ctx, token, d.RatingKey)
			if err != nil {
				return nil, err
			}
			taken := 0
			for _, ep := range episodes {
				if ep.ViewCount > 0 || taken >= max(f.episodes, 1) {
					continue
				}
				if item, ok := itemFor(ep, user, media.SignalWatchlist, 0, unixTime(d.AddedAt)); ok {
					items = append(items, added(item))
					taken++
				}
			}
		}
	}
	return items, nil
}

// watched reports items the user finished within the history window.
func (f *Feed) watched(ctx context.Context, user, token string) ([]media.Item, error) {
	since := f.Now().Add(-f.HistoryWindow).Unix()
	var history mediaContainer
	query := url.Values{"viewedAt>": {strconv.FormatInt(since, 10)}}
	if err := f.server.get(ctx, "/status/sessions/history/all", query, token, &history); err != nil {
		return nil, err
	}
	var items []media.Item
	seen := map[string]bool{}
	for _, h := range history.Videos {
		if h.RatingKey == "" || seen[h.RatingKey] {
			continue
		}
		seen[h.RatingKey] = true
		var meta mediaContainer
		if err := f.server.get(ctx, "/library/metadata/"+url.PathEscape(h.RatingKey), nil, token, &meta); err != nil {
			return nil, err
		}
		for _, v := range meta.Videos {
			item, ok := itemFor(v, user, media.SignalNone, 0, unixTime(h.ViewedAt))
			if !ok {
				continue
			}
			item.Consumed = true
			items = append(items, item)
		}
	}
	return items, nil
}
