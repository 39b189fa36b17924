// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides farmer profile and conversation turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: writers serialize in database/sql instead of failing with
	// SQLITE_BUSY, and an in-memory database stays a single database.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS farmers (
			id           TEXT PRIMARY KEY,
			region       TEXT NOT NULL DEFAULT '',
			lat          REAL,
			lon          REAL,
			name         TEXT NOT NULL DEFAULT '',
			crops        TEXT NOT NULL DEFAULT '[]',
			language     TEXT NOT NULL DEFAULT '',
			awaiting_location INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			farmer_id     TEXT NOT NULL,
			message_id    TEXT NOT NULL DEFAULT '',
			speaker       TEXT NOT NULL,
			text          TEXT NOT NULL DEFAULT '',
			media_ref     TEXT NOT NULL DEFAULT '',
			annotation    TEXT,
			created_at_ns INTEGER NOT NULL,

			CHECK (speaker IN ('farmer', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_farmer_created
			ON turns(farmer_id, created_at_ns);

		CREATE INDEX IF NOT EXISTS idx_turns_created
			ON turns(created_at_ns);

		CREATE INDEX IF NOT EXISTS idx_turns_message
			ON turns(farmer_id, message_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds profile columns to databases created before they existed.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('farmers') WHERE name = 'name'`,
			apply:  `ALTER TABLE farmers ADD COLUMN name TEXT NOT NULL DEFAULT ''`,
			column: "name",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('farmers') WHERE name = 'crops'`,
			apply:  `ALTER TABLE farmers ADD COLUMN crops TEXT NOT NULL DEFAULT '[]'`,
			column: "crops",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('farmers') WHERE name = 'language'`,
			apply:  `ALTER TABLE farmers ADD COLUMN language TEXT NOT NULL DEFAULT ''`,
			column: "language",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('farmers') WHERE name = 'awaiting_location'`,
			apply:  `ALTER TABLE farmers ADD COLUMN awaiting_location INTEGER NOT NULL DEFAULT 0`,
			column: "awaiting_location",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to farmers: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "farmers")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn inserts a turn. The farmer's latest timestamp is read and the insert
// performed in one transaction so concurrent appends cannot reorder the farmer's history.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *Turn) error {
	var annotation sql.NullString
	if turn.Annotation != nil {
		data, err := json.Marshal(turn.Annotation)
		if err != nil {
			return fmt.Errorf("encoding annotation: %w", err)
		}
		annotation = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var lastNS sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(created_at_ns) FROM turns WHERE farmer_id = ?`, turn.FarmerID,
	).Scan(&lastNS)
	if err != nil {
		return fmt.Errorf("reading latest turn: %w", err)
	}
	if lastNS.Valid {
		turn.CreatedAt = nextTimestamp(turn.CreatedAt, time.Unix(0, lastNS.Int64))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, farmer_id, message_id, speaker, text, media_ref, annotation, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.FarmerID,
		turn.MessageID,
		string(turn.Speaker),
		turn.Text,
		turn.MediaRef,
		annotation,
		turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("appended turn", "id", turn.ID, "farmer_id", turn.FarmerID, "speaker", turn.Speaker)
	return nil
}

// ReadWindow returns the most recent n turns for a farmer, oldest first.
func (s *SQLiteStore) ReadWindow(ctx context.Context, farmerID string, n int) ([]*Turn, error) {
	if n <= 0 {
		return []*Turn{}, nil
	}

	// Select the newest n, then flip to chronological order
	query := `
		SELECT id, farmer_id, message_id, speaker, text, media_ref, annotation, created_at_ns
		FROM (
			SELECT * FROM turns
			WHERE farmer_id = ?
			ORDER BY created_at_ns DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at_ns ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, farmerID, n)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*Turn, 0, n)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTurn reads the columns id, farmer_id, message_id, speaker, text,
// media_ref, annotation, created_at_ns.
func scanTurn(row rowScanner) (*Turn, error) {
	var t Turn
	var speaker string
	var annotation sql.NullString
	var createdNS int64

	if err := row.Scan(&t.ID, &t.FarmerID, &t.MessageID, &speaker, &t.Text, &t.MediaRef, &annotation, &createdNS); err != nil {
		return nil, err
	}

	t.Speaker = Speaker(speaker)
	t.CreatedAt = time.Unix(0, createdNS).UTC()
	if err := decodeAnnotation(&t, annotation); err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeAnnotation(t *Turn, annotation sql.NullString) error {
	if !annotation.Valid || annotation.String == "" {
		return nil
	}
	var a Annotation
	if err := json.Unmarshal([]byte(annotation.String), &a); err != nil {
		return fmt.Errorf("decoding annotation for turn %s: %w", t.ID, err)
	}
	t.Annotation = &a
	return nil
}

// FindReply returns the newest assistant turn stored for an inbound message.
// Returns ErrNotFound when the message was never answered.
func (s *SQLiteStore) FindReply(ctx context.Context, farmerID, messageID string) (*Turn, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, farmer_id, message_id, speaker, text, media_ref, annotation, created_at_ns
		FROM turns
		WHERE farmer_id = ? AND message_id = ? AND speaker = 'assistant'
		ORDER BY seq DESC
		LIMIT 1
	`

	t, err := scanTurn(s.db.QueryRowContext(ctx, query, farmerID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reply: %w", err)
	}
	return t, nil
}

// likePattern escapes LIKE wildcards in q and wraps it for a substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// SearchTurns finds farmer turns containing query, newest first, each paired
// with the assistant turn that answered it.
func (s *SQLiteStore) SearchTurns(ctx context.Context, query string, limit int) ([]*Exchange, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*Exchange{}, nil
	}

	q := `
		SELECT f.id, f.farmer_id, f.message_id, f.speaker, f.text, f.media_ref, f.annotation, f.created_at_ns,
		       a.id, a.text, a.annotation, a.created_at_ns
		FROM turns f
		LEFT JOIN turns a ON a.seq = (
			SELECT r.seq FROM turns r
			WHERE r.farmer_id = f.farmer_id
			  AND r.message_id = f.message_id
			  AND r.speaker = 'assistant'
			  AND f.message_id != ''
			ORDER BY r.seq DESC
			LIMIT 1
		)
		WHERE f.speaker = 'farmer' AND f.text LIKE ? ESCAPE '\'
		ORDER BY f.created_at_ns DESC, f.seq DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, q, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("searching turns: %w", err)
	}
	defer rows.Close()

	out := []*Exchange{}
	for rows.Next() {
		var f Turn
		var speaker string
		var fAnnotation, replyID, replyText, replyAnnotation sql.NullString
		var createdNS int64
		var replyNS sql.NullInt64

		if err := rows.Scan(&f.ID, &f.FarmerID, &f.MessageID, &speaker, &f.Text, &f.MediaRef, &fAnnotation, &createdNS,
			&replyID, &replyText, &replyAnnotation, &replyNS); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		f.Speaker = Speaker(speaker)
		f.CreatedAt = time.Unix(0, createdNS).UTC()
		if err := decodeAnnotation(&f, fAnnotation); err != nil {
			return nil, err
		}

		ex := &Exchange{Farmer: &f}
		if replyID.Valid {
			reply := &Turn{
				ID:        replyID.String,
				FarmerID:  f.FarmerID,
				MessageID: f.MessageID,
				Speaker:   SpeakerAssistant,
				Text:      replyText.String,
				CreatedAt: time.Unix(0, replyNS.Int64).UTC(),
			}
			if err := decodeAnnotation(reply, replyAnnotation); err != nil {
				return nil, err
			}
			ex.Reply = reply
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}
	return out, nil
}

// GetProfile retrieves a farmer profile.
// Returns ErrNotFound if the farmer has never been seen.
func (s *SQLiteStore) GetProfile(ctx context.Context, farmerID string) (*FarmerProfile, error) {
	query := `
		SELECT id, region, lat, lon, name, crops, language, awaiting_location, created_at, last_seen_at
		FROM farmers
		WHERE id = ?
	`

	var p FarmerProfile
	var lat, lon sql.NullFloat64
	var crops string
	var createdAtStr, lastSeenStr string

	err := s.db.QueryRowContext(ctx, query, farmerID).Scan(
		&p.ID,
		&p.Region,
		&lat,
		&lon,
		&p.Name,
		&crops,
		&p.Language,
		&p.AwaitingLocation,
		&createdAtStr,
		&lastSeenStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying farmer: %w", err)
	}

	if lat.Valid && lon.Valid {
		p.Coordinates = &Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	if err := json.Unmarshal([]byte(crops), &p.Crops); err != nil {
		return nil, fmt.Errorf("decoding crops: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	p.LastSeenAt, err = time.Parse(time.RFC3339Nano, lastSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}

	return &p, nil
}

// UpsertProfile creates the farmer on first sight and otherwise applies the update.
// Crops are merged with the stored set inside one transaction.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, farmerID string, update ProfileUpdate) (*FarmerProfile, error) {
	seen := update.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	seenStr := seen.UTC().Format(time.RFC3339Nano)

	var lat, lon sql.NullFloat64
	if update.Coordinates != nil {
		lat = sql.NullFloat64{Float64: update.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: update.Coordinates.Lon, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var stored []string
	var storedCrops string
	err = tx.QueryRowContext(ctx, `SELECT crops FROM farmers WHERE id = ?`, farmerID).Scan(&storedCrops)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading crops: %w", err)
	default:
		if err := json.Unmarshal([]byte(storedCrops), &stored); err != nil {
			return nil, fmt.Errorf("decoding crops: %w", err)
		}
	}

	crops, err := json.Marshal(mergeCrops(stored, update.Crops))
	if err != nil {
		return nil, fmt.Errorf("encoding crops: %w", err)
	}

	// A new region without coordinates drops the old region's coordinates
	query := `
		INSERT INTO farmers (id, region, lat, lon, name, crops, language, awaiting_location, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region = CASE WHEN excluded.region != '' THEN excluded.region ELSE farmers.region END,
			lat    = CASE
				WHEN excluded.lat IS NOT NULL THEN excluded.lat
				WHEN excluded.region != '' AND excluded.region != farmers.region THEN NULL
				ELSE farmers.lat END,
			lon    = CASE
				WHEN excluded.lon IS NOT NULL THEN excluded.lon
				WHEN excluded.region != '' AND excluded.region != farmers.region THEN NULL
				ELSE farmers.lon END,
			name     = CASE WHEN excluded.name != '' THEN excluded.name ELSE farmers.name END,
			crops    = excluded.crops,
			language = CASE WHEN excluded.language != '' THEN excluded.language ELSE farmers.language END,
			awaiting_location = excluded.awaiting_location,
			last_seen_at      = excluded.last_seen_at
	`

	_, err = tx.ExecContext(ctx, query, farmerID, update.Region, lat, lon,
		update.Name, string(crops), update.Language, update.AwaitingLocation, seenStr, seenStr)
	if err != nil {
		return nil, fmt.Errorf("upserting farmer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing farmer: %w", err)
	}

	return s.GetProfile(ctx, farmerID)
}

// Stats returns aggregate counts over farmers and turns.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var st Stats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM farmers`).Scan(&st.Farmers); err != nil {
		return nil, fmt.Errorf("counting farmers: %w", err)
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_at_ns >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN media_ref != '' THEN 1 ELSE 0 END), 0)
		FROM turns
	`
	if err := s.db.QueryRowContext(ctx, query, since.UnixNano()).Scan(&st.Turns, &st.TurnsSince, &st.ImageTurns); err != nil {
		return nil, fmt.Errorf("counting turns: %w", err)
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT farmer_id) FROM turns WHERE created_at_ns >= ?`, since.UnixNano(),
	).Scan(&st.ActiveFarmersSince)
	if err != nil {
		return nil, fmt.Errorf("counting active farmers: %w", err)
	}

	return &st, nil
}
