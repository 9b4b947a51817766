package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/oni/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	guild_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_name TEXT NOT NULL,
	messages TEXT NOT NULL,
	PRIMARY KEY (guild_id, user_id, session_name)
);
`

// Store is the durable tier: one SQLite table keyed by (guild_id, user_id, session_name).
// Methods convert storage errors into false or absent results and log the cause.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// OpenStore opens or creates the database at path, creating parent directories.
// Any failure here is fatal to the caller.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: log.Logger.With().Str("component", "session-store").Logger(),
	}
	s.logger.Info().Str("path", path).Msg("Session store opened")
	return s, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) record(op string, start time.Time, ok bool) {
	observability.RecordStoreOp(op, time.Since(start), ok)
}

// Put inserts or replaces the transcript stored under key.
func (s *Store) Put(ctx context.Context, key Key, t Transcript) bool {
	start := time.Now()
	if t == nil {
		t = Transcript{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to encode transcript")
		s.record("put", start, false)
		return false
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (guild_id, user_id, session_name, messages) VALUES (?, ?, ?, ?)`,
		key.GuildID, key.UserID, key.Name, string(data),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to save session")
		s.record("put", start, false)
		return false
	}
	s.record("put", start, true)
	return true
}

// Get returns the stored transcript. A missing row, a row that fails to decode and a failed
// read are all reported as absent; use load where a failed read must not pass for a miss.
func (s *Store) Get(ctx context.Context, key Key) (Transcript, bool) {
	t, ok, err := s.load(ctx, key)
	return t, ok && err == nil
}

// load reads the row for key. Only a failed query is returned as an error; a corrupt row is
// logged and reported as absent.
func (s *Store) load(ctx context.Context, key Key) (Transcript, bool, error) {
	start := time.Now()
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM sessions WHERE guild_id = ? AND user_id = ? AND session_name = ?`,
		key.GuildID, key.UserID, key.Name,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		s.record("get", start, true)
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to load session")
		s.record("get", start, false)
		return nil, false, err
	}
	s.record("get", start, true)

	t, err := ParseTranscript([]byte(raw))
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Corrupt session row")
		observability.RecordCorruptRow()
		return nil, false, nil
	}
	return t, true, nil
}

// Delete removes the row for key. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key Key) bool {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE guild_id = ? AND user_id = ? AND session_name = ?`,
		key.GuildID, key.UserID, key.Name,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to delete session")
		s.record("delete", start, false)
		return false
	}
	s.record("delete", start, true)
	return true
}

// ListSessionNames returns the session names saved for a user, in ascending order.
func (s *Store) ListSessionNames(ctx context.Context, guildID, userID string) []string {
	names, err := s.listNames(ctx, guildID, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to list sessions")
		return []string{}
	}
	return names
}

func (s *Store) listNames(ctx context.Context, guildID, userID string) ([]string, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_name FROM sessions WHERE guild_id = ? AND user_id = ? ORDER BY session_name`,
		guildID, userID,
	)
	if err != nil {
		s.record("list", start, false)
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			s.record("list", start, false)
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		s.record("list", start, false)
		return nil, err
	}
	s.record("list", start, true)
	return names, nil
}

// Count returns how many sessions are saved for a user, or -1 if the store could not be read.
func (s *Store) Count(ctx context.Context, guildID, userID string) int {
	start := time.Now()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&n)
	if err != nil {
		s.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to count sessions")
		s.record("count", start, false)
		return -1
	}
	s.record("count", start, true)
	return n
}

// ExportUser finds a session by user and name in any guild. When the user has the same name in
// several guilds the lowest guild id wins.
func (s *Store) ExportUser(ctx context.Context, userID, name string) (Transcript, bool) {
	start := time.Now()
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM sessions WHERE user_id = ? AND session_name = ? ORDER BY guild_id LIMIT 1`,
		userID, name,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		s.record("export_user", start, true)
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("session", name).Msg("Failed to export session")
		s.record("export_user", start, false)
		return nil, false
	}
	s.record("export_user", start, true)

	t, err := ParseTranscript([]byte(raw))
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Str("session", name).Msg("Corrupt session row")
		observability.RecordCorruptRow()
		return nil, false
	}
	return t, true
}

// ExportAll dumps every session inside one read transaction so the result is a point-in-time
// snapshot. Corrupt rows are skipped.
func (s *Store) ExportAll(ctx context.Context) (Export, error) {
	start := time.Now()
	out := make(Export)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.record("export_all", start, false)
		return out, fmt.Errorf("failed to begin export: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT guild_id, user_id, session_name, messages FROM sessions ORDER BY guild_id, user_id, session_name`,
	)
	if err != nil {
		s.record("export_all", start, false)
		return out, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k Key
		var raw string
		if err := rows.Scan(&k.GuildID, &k.UserID, &k.Name, &raw); err != nil {
			s.record("export_all", start, false)
			return out, fmt.Errorf("failed to scan session: %w", err)
		}
		t, err := ParseTranscript([]byte(raw))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", k.String()).Msg("Corrupt session row skipped in export")
			observability.RecordCorruptRow()
			continue
		}
		out.Add(k, t)
	}
	if err := rows.Err(); err != nil {
		s.record("export_all", start, false)
		return out, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	s.record("export_all", start, true)
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
