package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/44xclub/voicesched/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS command_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		raw_transcript TEXT NOT NULL,
		action_json TEXT NOT NULL,
		confidence REAL NOT NULL,
		needs_clarification INTEGER NOT NULL,
		status TEXT NOT NULL,
		block_id TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_log_user ON command_log(user_id, created_at);

	CREATE TABLE IF NOT EXISTS capture_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		return_url TEXT,
		transcript TEXT,
		parse_result_json TEXT,
		error_message TEXT,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_capture_sessions_expires
		ON capture_sessions(expires_at)
		WHERE status IN ('created', 'uploaded', 'transcribed');

	CREATE TABLE IF NOT EXISTS schedule_blocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		block_type TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		title TEXT,
		notes TEXT,
		workout_items_json TEXT,
		source TEXT NOT NULL,
		command_id TEXT,
		deleted_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_user_slot
		ON schedule_blocks(user_id, date, start_time)
		WHERE deleted_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateCommand appends a new command log entry.
func (s *SQLiteStore) CreateCommand(ctx context.Context, entry *domain.CommandLogEntry) error {
	actionJSON, err := json.Marshal(entry.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	query := `
	INSERT INTO command_log (
		id, user_id, raw_transcript, action_json, confidence,
		needs_clarification, status, block_id, error_message, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.RawTranscript, string(actionJSON),
		entry.Confidence, boolToInt(entry.NeedsClarification), string(entry.Status),
		nullableString(entry.BlockID), nullableString(entry.ErrorMessage),
		entry.CreatedAt.Unix(), entry.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// GetCommand retrieves a command log entry by id.
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*domain.CommandLogEntry, error) {
	query := `
	SELECT id, user_id, raw_transcript, action_json, confidence,
	       needs_clarification, status, block_id, error_message, created_at, updated_at
	FROM command_log WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var entry domain.CommandLogEntry
	var actionJSON string
	var needsClarification int
	var status string
	var blockID, errorMessage sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.RawTranscript, &actionJSON,
		&entry.Confidence, &needsClarification, &status,
		&blockID, &errorMessage, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan command row: %w", err)
	}

	if err := json.Unmarshal([]byte(actionJSON), &entry.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	entry.NeedsClarification = needsClarification != 0
	entry.Status = domain.CommandStatus(status)
	entry.BlockID = blockID.String
	entry.ErrorMessage = errorMessage.String
	entry.CreatedAt = time.Unix(createdAt, 0)
	entry.UpdatedAt = time.Unix(updatedAt, 0)

	return &entry, nil
}

// CompleteCommand transitions a proposed command to a terminal status.
// The WHERE clause compares against the stored status so two concurrent
// execution attempts cannot both pass the check.
func (s *SQLiteStore) CompleteCommand(ctx context.Context, id string, to domain.CommandStatus, blockID, errorMessage string) error {
	if !to.Terminal() {
		return fmt.Errorf("complete command: %q is not a terminal status", to)
	}

	query := `
	UPDATE command_log
	SET status = ?, block_id = ?, error_message = ?, updated_at = ?
	WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(to), nullableString(blockID), nullableString(errorMessage),
		time.Now().Unix(), id, string(domain.CommandProposed),
	)
	if err != nil {
		return fmt.Errorf("complete command: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM command_log WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check command existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

// CreateCaptureSession persists a new breakout capture session.
func (s *SQLiteStore) CreateCaptureSession(ctx context.Context, session *domain.CaptureSession) error {
	query := `
	INSERT INTO capture_sessions (
		id, user_id, status, return_url, transcript, parse_result_json,
		error_message, expires_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, string(session.Status),
		nullableString(session.ReturnURL), nullableString(session.Transcript), nil,
		nullableString(session.ErrorMessage),
		session.ExpiresAt.Unix(), session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert capture session: %w", err)
	}
	return nil
}

// GetCaptureSession retrieves a capture session by id.
func (s *SQLiteStore) GetCaptureSession(ctx context.Context, id string) (*domain.CaptureSession, error) {
	query := `
	SELECT id, user_id, status, return_url, transcript, parse_result_json,
	       error_message, expires_at, created_at, updated_at
	FROM capture_sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var session domain.CaptureSession
	var status string
	var returnURL, transcript, parseResultJSON, errorMessage sql.NullString
	var expiresAt, createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.UserID, &status, &returnURL, &transcript,
		&parseResultJSON, &errorMessage, &expiresAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan capture session row: %w", err)
	}

	session.Status = domain.CaptureStatus(status)
	session.ReturnURL = returnURL.String
	session.Transcript = transcript.String
	session.ErrorMessage = errorMessage.String
	session.ExpiresAt = time.Unix(expiresAt, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if parseResultJSON.Valid && parseResultJSON.String != "" {
		var pr domain.ParseResult
		if err := json.Unmarshal([]byte(parseResultJSON.String), &pr); err != nil {
			return nil, fmt.Errorf("unmarshal parse result: %w", err)
		}
		session.ParseResult = &pr
	}

	return &session, nil
}

// TransitionCaptureSession performs a compare-and-set status transition,
// writing payload fields in the same UPDATE so a concurrent poller never
// observes a status without its payload.
func (s *SQLiteStore) TransitionCaptureSession(ctx context.Context, id string, from, to domain.CaptureStatus, patch SessionPatch) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal capture session transition %s -> %s", from, to)
	}

	query := `UPDATE capture_sessions SET status = ?, updated_at = ?`
	args := []interface{}{string(to), time.Now().Unix()}

	if patch.Transcript != nil {
		query += `, transcript = ?`
		args = append(args, *patch.Transcript)
	}
	if patch.ParseResult != nil {
		prJSON, err := json.Marshal(patch.ParseResult)
		if err != nil {
			return fmt.Errorf("marshal parse result: %w", err)
		}
		query += `, parse_result_json = ?`
		args = append(args, string(prJSON))
	}
	if patch.ErrorMessage != nil {
		query += `, error_message = ?`
		args = append(args, *patch.ErrorMessage)
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition capture session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM capture_sessions WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check capture session existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

// MarkSessionsExpired sweeps all non-terminal sessions past their deadline.
func (s *SQLiteStore) MarkSessionsExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
	UPDATE capture_sessions SET status = ?, updated_at = ?
	WHERE expires_at < ? AND status IN (?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.CaptureExpired), now.Unix(), now.Unix(),
		string(domain.CaptureCreated), string(domain.CaptureUploaded), string(domain.CaptureTranscribed),
	)
	if err != nil {
		return 0, fmt.Errorf("mark sessions expired: %w", err)
	}
	return result.RowsAffected()
}

// InsertBlock persists a new schedule block.
func (s *SQLiteStore) InsertBlock(ctx context.Context, block *domain.ScheduleBlock) error {
	var itemsJSON interface{}
	if len(block.WorkoutItems) > 0 {
		raw, err := json.Marshal(block.WorkoutItems)
		if err != nil {
			return fmt.Errorf("marshal workout items: %w", err)
		}
		itemsJSON = string(raw)
	}

	query := `
	INSERT INTO schedule_blocks (
		id, user_id, block_type, date, start_time, end_time, duration_minutes,
		title, notes, workout_items_json, source, command_id, deleted_at,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		block.ID, block.UserID, block.BlockType, block.Date,
		block.StartTime, block.EndTime, block.DurationMinutes,
		nullableString(block.Title), nullableString(block.Notes), itemsJSON,
		block.Source, nullableString(block.CommandID),
		block.CreatedAt.Unix(), block.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

const blockColumns = `id, user_id, block_type, date, start_time, end_time,
	duration_minutes, title, notes, workout_items_json, source, command_id,
	deleted_at, created_at, updated_at`

// GetBlock retrieves a non-deleted workout block by id regardless of owner.
func (s *SQLiteStore) GetBlock(ctx context.Context, id string) (*domain.ScheduleBlock, error) {
	query := `SELECT ` + blockColumns + `
	FROM schedule_blocks
	WHERE id = ? AND block_type = ? AND deleted_at IS NULL`

	row := s.db.QueryRowContext(ctx, query, id, domain.BlockTypeWorkout)
	block, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block row: %w", err)
	}
	return block, nil
}

// FindBlocksAt returns all non-deleted workout blocks for a user at a slot.
func (s *SQLiteStore) FindBlocksAt(ctx context.Context, userID, date, startTime string) ([]*domain.ScheduleBlock, error) {
	query := `SELECT ` + blockColumns + `
	FROM schedule_blocks
	WHERE user_id = ? AND date = ? AND start_time = ?
	  AND block_type = ? AND deleted_at IS NULL
	ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, userID, date, startTime, domain.BlockTypeWorkout)
	if err != nil {
		return nil, fmt.Errorf("query blocks at slot: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close block rows", "error", closeErr)
		}
	}()

	var blocks []*domain.ScheduleBlock
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block row: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block rows: %w", err)
	}
	return blocks, nil
}

// UpdateBlockTime moves a block to a new slot, scoped by id and owner.
func (s *SQLiteStore) UpdateBlockTime(ctx context.Context, id, userID, date, startTime, endTime string) error {
	query := `
	UPDATE schedule_blocks SET date = ?, start_time = ?, end_time = ?, updated_at = ?
	WHERE id = ? AND user_id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query,
		date, startTime, endTime, time.Now().Unix(), id, userID)
	if err != nil {
		return fmt.Errorf("update block time: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteBlock sets the deletion timestamp, scoped by id and owner.
func (s *SQLiteStore) SoftDeleteBlock(ctx context.Context, id, userID string) error {
	query := `
	UPDATE schedule_blocks SET deleted_at = ?, updated_at = ?
	WHERE id = ? AND user_id = ? AND deleted_at IS NULL`

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx, query, now, now, id, userID)
	if err != nil {
		return fmt.Errorf("soft delete block: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*domain.ScheduleBlock, error) {
	var block domain.ScheduleBlock
	var title, notes, itemsJSON, commandID sql.NullString
	var deletedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&block.ID, &block.UserID, &block.BlockType, &block.Date,
		&block.StartTime, &block.EndTime, &block.DurationMinutes,
		&title, &notes, &itemsJSON, &block.Source, &commandID,
		&deletedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	block.Title = title.String
	block.Notes = notes.String
	block.CommandID = commandID.String
	block.CreatedAt = time.Unix(createdAt, 0)
	block.UpdatedAt = time.Unix(updatedAt, 0)
	if deletedAt.Valid {
		ts := time.Unix(deletedAt.Int64, 0)
		block.DeletedAt = &ts
	}
	if itemsJSON.Valid && itemsJSON.String != "" {
		if err := json.Unmarshal([]byte(itemsJSON.String), &block.WorkoutItems); err != nil {
			return nil, fmt.Errorf("unmarshal workout items: %w", err)
		}
	}
	return &block, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
