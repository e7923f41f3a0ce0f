package cachestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tiercache/internal/media"
)

// Source classifies why a record was cached.
type Source string

const (
	SourcePinned    Source = "pinned"
	SourceOnDeck    Source = "on_deck"
	SourceWatchlist Source = "watchlist"
	// SourceAdopted marks records recreated by the auditor from a pair found
	// on disk.
	SourceAdopted Source = "adopted"
)

// SourceFor maps a signal kind to a record source.
func SourceFor(kind media.SignalKind) Source {
	switch kind {
	case media.SignalPinned:
		return SourcePinned
	case media.SignalOnDeck:
		return SourceOnDeck
	case media.SignalWatchlist:
		return SourceWatchlist
	default:
		return ""
	}
}

// Record is the persisted state of one cached item.
type Record struct {
	Identity    string
	LogicalPath string
	FastPath    string
	SlowPath    string
	Subtitles   []media.Subtitle
	Size        int64
	Priority    int
	Source      Source
	HasBackup   bool
	CachedAt    time.Time
	UpdatedAt   time.Time
}

// TotalSize is the record size plus subtitle sizes.
func (r Record) TotalSize() int64 {
	total := r.Size
	for _, sub := range r.Subtitles {
		total += sub.Size
	}
	return total
}

// Item converts the record back into a media item for transfer operations.
func (r Record) Item() media.Item {
	return media.Item{
		Identity:    r.Identity,
		LogicalPath: r.LogicalPath,
		FastPath:    r.FastPath,
		SlowPath:    r.SlowPath,
		Size:        r.Size,
		Subtitles:   append([]media.Subtitle(nil), r.Subtitles...),
		Priority:    r.Priority,
	}
}

// RecordFromItem builds a record for an item that was just cached.
func RecordFromItem(item media.Item, now time.Time) Record {
	return Record{
		Identity:    item.Identity,
		LogicalPath: item.LogicalPath,
		FastPath:    item.FastPath,
		SlowPath:    item.SlowPath,
		Subtitles:   append([]media.Subtitle(nil), item.Subtitles...),
		Size:        item.Size,
		Priority:    item.Priority,
		Source:      SourceFor(item.Signal().Kind),
		HasBackup:   true,
		CachedAt:    now,
		UpdatedAt:   now,
	}
}

const recordColumns = `identity, logical_path, fast_path, slow_path, subtitles_json,
    size_bytes, priority, source, has_backup, cached_at, updated_at`

// List returns every record ordered by identity.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM cache_records ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Get fetches a record by identity. A missing record returns nil, nil.
func (s *Store) Get(ctx context.Context, identity string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM cache_records WHERE identity = ?`, identity)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or replaces a record. A zero CachedAt is set to now; an
// existing record keeps its original cached_at.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Identity) == "" {
		return errors.New("record identity is empty")
	}
	now := time.Now().UTC()
	if rec.CachedAt.IsZero() {
		rec.CachedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	subtitles, err := encodeSubtitles(rec.Subtitles)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO cache_records (`+recordColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(identity) DO UPDATE SET
             logical_path = excluded.logical_path,
             fast_path = excluded.fast_path,
             slow_path = excluded.slow_path,
             subtitles_json = excluded.subtitles_json,
             size_bytes = excluded.size_bytes,
             priority = excluded.priority,
             source = excluded.source,
             has_backup = excluded.has_backup,
             updated_at = excluded.updated_at`,
		rec.Identity,
		rec.LogicalPath,
		rec.FastPath,
		rec.SlowPath,
		subtitles,
		rec.Size,
		rec.Priority,
		string(rec.Source),
		boolToInt(rec.HasBackup),
		formatTime(rec.CachedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Touch refreshes priority, source and updated_at for a record that is still
// tracked. An empty source keeps the stored one.
func (s *Store) Touch(ctx context.Context, identity string, priority int, source Source, now time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE cache_records SET priority = ?, source = COALESCE(NULLIF(?, ''), source), updated_at = ?
         WHERE identity = ?`,
		priority, string(source), formatTime(now), identity,
	)
	if err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	return nil
}

// SetBackup records whether the slow-tier backup exists.
func (s *Store) SetBackup(ctx context.Context, identity string, present bool, now time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE cache_records SET has_backup = ?, updated_at = ? WHERE identity = ?`,
		boolToInt(present), formatTime(now), identity,
	)
	if err != nil {
		return fmt.Errorf("set backup flag: %w", err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, identity string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM cache_records WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec          Record
		subtitlesRaw sql.NullString
		source       string
		hasBackup    int
		cachedAt     string
		updatedAt    string
	)
	if err := scanner.Scan(
		&rec.Identity,
		&rec.LogicalPath,
		&rec.FastPath,
		&rec.SlowPath,
		&subtitlesRaw,
		&rec.Size,
		&rec.Priority,
		&source,
		&hasBackup,
		&cachedAt,
		&updatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.Source = Source(source)
	rec.HasBackup = hasBackup != 0
	if subtitlesRaw.Valid && subtitlesRaw.String != "" {
		if err := json.Unmarshal([]byte(subtitlesRaw.String), &rec.Subtitles); err != nil {
			return Record{}, fmt.Errorf("decode subtitles for %s: %w", rec.Identity, err)
		}
	}
	if t, err := parseTimeString(cachedAt); err == nil {
		rec.CachedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func encodeSubtitles(subs []media.Subtitle) (any, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return nil, fmt.Errorf("encode subtitles: %w", err)
	}
	return string(data), nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
