// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/44xclub/voicesched/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus is returned when a compare-and-set transition finds the
	// row no longer in the expected status.
	ErrStaleStatus = errors.New("stale status")
)

// SessionPatch carries the payload fields written alongside a capture
// session status transition. Nil fields are left untouched.
type SessionPatch struct {
	Transcript   *string
	ParseResult  *domain.ParseResult
	ErrorMessage *string
}

// Repository defines the persistence contract for the voice pipeline:
// the command log, capture sessions, and the schedule store.
type Repository interface {
	// CreateCommand appends a new command log entry with status proposed.
	CreateCommand(ctx context.Context, entry *domain.CommandLogEntry) error

	// GetCommand retrieves a command log entry by id, or ErrNotFound.
	GetCommand(ctx context.Context, id string) (*domain.CommandLogEntry, error)

	// CompleteCommand transitions a command log entry from proposed to the
	// given terminal status as a single compare-and-set update. Returns
	// ErrStaleStatus if the entry is no longer proposed, ErrNotFound if it
	// does not exist.
	CompleteCommand(ctx context.Context, id string, to domain.CommandStatus, blockID, errorMessage string) error

	// CreateCaptureSession persists a new breakout capture session.
	CreateCaptureSession(ctx context.Context, session *domain.CaptureSession) error

	// GetCaptureSession retrieves a capture session by id, or ErrNotFound.
	GetCaptureSession(ctx context.Context, id string) (*domain.CaptureSession, error)

	// TransitionCaptureSession moves a session from one status to another as
	// a single compare-and-set update, applying the patch atomically with the
	// status change. Returns ErrStaleStatus if the stored status is not
	// `from`, ErrNotFound if the session does not exist. Transitions outside
	// the allowed table are rejected before touching the database.
	TransitionCaptureSession(ctx context.Context, id string, from, to domain.CaptureStatus, patch SessionPatch) error

	// MarkSessionsExpired sets status=expired on all non-terminal sessions
	// past their deadline and returns how many rows changed.
	MarkSessionsExpired(ctx context.Context, now time.Time) (int64, error)

	// InsertBlock persists a new schedule block.
	InsertBlock(ctx context.Context, block *domain.ScheduleBlock) error

	// GetBlock retrieves a non-deleted, workout-typed block by id regardless
	// of owner, or ErrNotFound. Ownership is checked by the caller so a
	// cross-user reference can be reported distinctly from a missing row.
	GetBlock(ctx context.Context, id string) (*domain.ScheduleBlock, error)

	// FindBlocksAt returns all non-deleted workout blocks for the user at the
	// given local date and start time.
	FindBlocksAt(ctx context.Context, userID, date, startTime string) ([]*domain.ScheduleBlock, error)

	// UpdateBlockTime moves a block to a new slot, scoped by both block id
	// and owning user. Returns ErrNotFound if no row matched.
	UpdateBlockTime(ctx context.Context, id, userID, date, startTime, endTime string) error

	// SoftDeleteBlock sets the deletion timestamp on a block, scoped by both
	// block id and owning user. Returns ErrNotFound if no row matched.
	SoftDeleteBlock(ctx context.Context, id, userID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
