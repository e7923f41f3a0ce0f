package cachestate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// WatchlistSeen records that user had identity on their watchlist at seen and
// returns the earliest sighting on record. It stands in for the add time when
// the provider does not report one.
func (s *Store) WatchlistSeen(ctx context.Context, identity, user string, seen time.Time) (time.Time, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(identity) == "" {
		return time.Time{}, fmt.Errorf("watchlist entry identity is empty")
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO watchlist_entries (identity, user, first_seen) VALUES (?, ?, ?)
         ON CONFLICT(identity, user) DO NOTHING`,
		identity, user, formatTime(seen),
	); err != nil {
		return time.Time{}, fmt.Errorf("record watchlist entry: %w", err)
	}
	var raw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT first_seen FROM watchlist_entries WHERE identity = ? AND user = ?`, identity, user,
	).Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("read watchlist entry: %w", err)
	}
	first, err := parseTimeString(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watchlist entry for %s: %w", identity, err)
	}
	return first, nil
}

// PruneWatchlist drops sightings of identities no longer on any watchlist.
func (s *Store) PruneWatchlist(ctx context.Context, keep map[string]bool) (int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT identity FROM watchlist_entries`)
	if err != nil {
		return 0, fmt.Errorf("list watchlist entries: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan watchlist entry: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate watchlist entries: %w", err)
	}
	for _, id := range stale {
		if _, err := s.execWithRetry(ctx, `DELETE FROM watchlist_entries WHERE identity = ?`, id); err != nil {
			return 0, fmt.Errorf("prune watchlist entry: %w", err)
		}
	}
	return len(stale), nil
}
