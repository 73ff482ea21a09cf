// Package postgres provides a PostgreSQL-backed setlist store.
//
// Events and their songs live in two tables sharing a single [pgxpool.Pool].
// Each song row carries the raw lyrics plus its slide-compilation settings;
// [Store.LoadEvent] compiles slides on read so a settings change never leaves
// stale slide boundaries behind. Song rows also carry an optional pgvector
// embedding used by the song-search endpoint; the pgvector extension must be
// available in the target database, [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/setcue/setcue/internal/setlist"
)

// Compile-time interface check.
var _ setlist.Loader = (*Store)(nil)

// DefaultEmbeddingDimensions is used when the configuration does not specify
// a vector dimension.
const DefaultEmbeddingDimensions = 1536

// Store is the PostgreSQL-backed event/setlist store. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// New creates a Store, establishes a connection pool to the database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embeddings model
// used to produce song vectors. Changing it after the first migration
// requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		embeddingDimensions = DefaultEmbeddingDimensions
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("setlist store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setlist store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("setlist store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("setlist store: migrate: %w", err)
	}

	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ddlSetlist returns the schema DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at creation time.
func ddlSetlist(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS events (
    id          TEXT         PRIMARY KEY,
    name        TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS songs (
    event_id               TEXT     NOT NULL REFERENCES events (id) ON DELETE CASCADE,
    id                     TEXT     NOT NULL,
    position               INT      NOT NULL,
    title                  TEXT     NOT NULL,
    artist                 TEXT     NOT NULL DEFAULT '',
    lyrics                 TEXT     NOT NULL,
    lines_per_slide        INT      NOT NULL DEFAULT 2,
    respect_stanza_breaks  BOOLEAN  NOT NULL DEFAULT true,
    break_after_lines      INT[]    NOT NULL DEFAULT '{}',
    embedding              vector(%d),
    PRIMARY KEY (event_id, id)
);

CREATE INDEX IF NOT EXISTS idx_songs_event_position
    ON songs (event_id, position);
`, embeddingDimensions)
}

// Migrate ensures the events and songs tables and the pgvector extension
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlSetlist(embeddingDimensions)); err != nil {
		return fmt.Errorf("setlist store: apply schema: %w", err)
	}
	return nil
}

// SongRecord is the stored form of a song: raw lyrics plus the slide
// compilation settings that shape its display.
type SongRecord struct {
	ID     string
	Title  string
	Artist string
	Lyrics string
	Slides setlist.SlideConfig
}

// EventRecord is the stored form of an event.
type EventRecord struct {
	ID    string
	Name  string
	Songs []SongRecord
}

// UpsertEvent writes an event and its songs in one transaction, replacing any
// existing songs for the event. Embeddings are preserved for songs whose
// lyrics did not change and cleared otherwise; call [Store.UpdateSongEmbedding]
// to refresh them.
func (s *Store) UpsertEvent(ctx context.Context, ev EventRecord) error {
	if ev.ID == "" {
		return errors.New("setlist store: event ID must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("setlist store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertEvent = `
		INSERT INTO events (id, name, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
		    name       = EXCLUDED.name,
		    updated_at = now()`
	if _, err := tx.Exec(ctx, upsertEvent, ev.ID, ev.Name); err != nil {
		return fmt.Errorf("setlist store: upsert event: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM songs WHERE event_id = $1 AND NOT (id = ANY($2))`,
		ev.ID, songIDs(ev.Songs)); err != nil {
		return fmt.Errorf("setlist store: prune songs: %w", err)
	}

	const upsertSong = `
		INSERT INTO songs
		    (event_id, id, position, title, artist, lyrics,
		     lines_per_slide, respect_stanza_breaks, break_after_lines)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id, id) DO UPDATE SET
		    position              = EXCLUDED.position,
		    title                 = EXCLUDED.title,
		    artist                = EXCLUDED.artist,
		    lyrics                = EXCLUDED.lyrics,
		    lines_per_slide       = EXCLUDED.lines_per_slide,
		    respect_stanza_breaks = EXCLUDED.respect_stanza_breaks,
		    break_after_lines     = EXCLUDED.break_after_lines,
		    embedding             = CASE
		        WHEN songs.lyrics = EXCLUDED.lyrics THEN songs.embedding
		        ELSE NULL
		    END`
	for i, song := range ev.Songs {
		if song.ID == "" {
			return fmt.Errorf("setlist store: song %d of event %q has no ID", i, ev.ID)
		}
		breaks := song.Slides.BreakAfterLines
		if breaks == nil {
			breaks = []int{}
		}
		if _, err := tx.Exec(ctx, upsertSong,
			ev.ID, song.ID, i, song.Title, song.Artist, song.Lyrics,
			song.Slides.LinesPerSlide, song.Slides.RespectStanzaBreaks, breaks,
		); err != nil {
			return fmt.Errorf("setlist store: upsert song %q: %w", song.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("setlist store: commit: %w", err)
	}
	return nil
}

func songIDs(songs []SongRecord) []string {
	ids := make([]string, len(songs))
	for i, s := range songs {
		ids[i] = s.ID
	}
	return ids
}

// UpdateSongEmbedding stores the embedding vector for one song.
func (s *Store) UpdateSongEmbedding(ctx context.Context, eventID, songID string, embedding []float32) error {
	if len(embedding) != s.dims {
		return fmt.Errorf("setlist store: embedding has %d dimensions, schema expects %d", len(embedding), s.dims)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE songs SET embedding = $3 WHERE event_id = $1 AND id = $2`,
		eventID, songID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("setlist store: update embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setlist store: song %s/%s not found", eventID, songID)
	}
	return nil
}

// SongsMissingEmbeddings returns the (songID, title, lyrics) of every song in
// the event whose embedding column is NULL, in setlist order.
func (s *Store) SongsMissingEmbeddings(ctx context.Context, eventID string) ([]SongRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, artist, lyrics
		FROM   songs
		WHERE  event_id = $1 AND embedding IS NULL
		ORDER  BY position`, eventID)
	if err != nil {
		return nil, fmt.Errorf("setlist store: query missing embeddings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SongRecord, error) {
		var r SongRecord
		err := row.Scan(&r.ID, &r.Title, &r.Artist, &r.Lyrics)
		return r, err
	})
}

// LoadEvent implements [setlist.Loader]. Songs are compiled into slides with
// their stored per-song settings. Returns [setlist.ErrEventNotFound] when no
// event with that ID exists.
func (s *Store) LoadEvent(ctx context.Context, eventID string) (*setlist.Event, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM events WHERE id = $1`, eventID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", setlist.ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("setlist store: load event: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, artist, lyrics,
		       lines_per_slide, respect_stanza_breaks, break_after_lines
		FROM   songs
		WHERE  event_id = $1
		ORDER  BY position`, eventID)
	if err != nil {
		return nil, fmt.Errorf("setlist store: load songs: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SongRecord, error) {
		var r SongRecord
		err := row.Scan(
			&r.ID, &r.Title, &r.Artist, &r.Lyrics,
			&r.Slides.LinesPerSlide, &r.Slides.RespectStanzaBreaks,
			&r.Slides.BreakAfterLines,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("setlist store: scan songs: %w", err)
	}

	ev := &setlist.Event{ID: eventID, Name: name}
	for _, r := range recs {
		song := setlist.Compile(r.ID, r.Title, r.Artist, r.Lyrics, r.Slides)
		ev.Songs = append(ev.Songs, song)
	}
	return ev, nil
}

// SongSearchResult is one hit from a song search.
type SongSearchResult struct {
	EventID string  `json:"event_id"`
	SongID  string  `json:"song_id"`
	Title   string  `json:"title"`
	Artist  string  `json:"artist"`
	Score   float64 `json:"score"`
}

// SearchByEmbedding finds the topK songs whose embeddings are closest (cosine
// distance) to the query embedding, across all events. Songs with no stored
// embedding are ignored. Score is 1 − distance, so higher is better.
func (s *Store) SearchByEmbedding(ctx context.Context, embedding []float32, topK int) ([]SongSearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, id, title, artist,
		       embedding <=> $1 AS distance
		FROM   songs
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("setlist store: search by embedding: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SongSearchResult, error) {
		var (
			r    SongSearchResult
			dist float64
		)
		if err := row.Scan(&r.EventID, &r.SongID, &r.Title, &r.Artist, &dist); err != nil {
			return SongSearchResult{}, err
		}
		r.Score = 1 - dist
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("setlist store: scan search rows: %w", err)
	}
	return results, nil
}

// SearchByTitle ranks all songs against the query using Jaro-Winkler
// similarity over titles, with a Double Metaphone tie-in so phonetically
// equivalent spellings still rank. This is the fallback used when no
// embeddings provider is configured.
func (s *Store) SearchByTitle(ctx context.Context, query string, topK int) ([]SongSearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.pool.Query(ctx, `SELECT event_id, id, title, artist FROM songs`)
	if err != nil {
		return nil, fmt.Errorf("setlist store: search by title: %w", err)
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SongSearchResult, error) {
		var r SongSearchResult
		err := row.Scan(&r.EventID, &r.SongID, &r.Title, &r.Artist)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("setlist store: scan title rows: %w", err)
	}

	for i := range all {
		all[i].Score = titleScore(query, all[i].Title)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// titleScore combines Jaro-Winkler string similarity with a Double Metaphone
// phonetic match bonus.
func titleScore(query, title string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(title))
	if q == "" || t == "" {
		return 0
	}

	score := matchr.JaroWinkler(q, t, false)

	qPrimary, qSecondary := matchr.DoubleMetaphone(q)
	tPrimary, tSecondary := matchr.DoubleMetaphone(t)
	if qPrimary != "" && (qPrimary == tPrimary ||
		(qSecondary != "" && qSecondary == tSecondary)) {
		score = score*0.7 + 0.3
	}
	return score
}
