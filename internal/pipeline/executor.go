package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/44xclub/voicesched/internal/domain"
	verrors "github.com/44xclub/voicesched/internal/errors"
	"github.com/44xclub/voicesched/internal/shared"
	"github.com/44xclub/voicesched/internal/store"
)

// executeLocks prevents concurrent execution attempts for the same command
// within this process. The command log status compare-and-set remains the
// cross-process idempotency boundary.
var executeLocks sync.Map

// ExecutionResult is the outcome of a successfully applied action.
type ExecutionResult struct {
	BlockID string
	Summary string
}

// Executor applies a proposed action to the schedule store. It is the only
// component that mutates schedule state, and it updates the command log
// exactly once per command.
type Executor struct {
	repo            store.Repository
	resolver        *Resolver
	defaultDuration int
	now             func() time.Time
}

// NewExecutor creates an executor over the schedule store.
func NewExecutor(repo store.Repository, resolver *Resolver, defaultDurationMinutes int) *Executor {
	return &Executor{
		repo:            repo,
		resolver:        resolver,
		defaultDuration: defaultDurationMinutes,
		now:             time.Now,
	}
}

// Execute applies the action recorded under commandID at most once.
// Preconditions are checked in order, each a distinct failure: the entry
// exists, belongs to userID, is still proposed, and carries a known intent.
// After an execution attempt the entry is never left in proposed state.
func (e *Executor) Execute(ctx context.Context, userID, commandID string, action *domain.ProposedAction) (*ExecutionResult, error) {
	lock, _ := executeLocks.LoadOrStore(commandID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		return nil, verrors.NewConflict("execution already in progress")
	}
	defer func() {
		mutex.Unlock()
		executeLocks.Delete(commandID)
	}()

	entry, err := e.repo.GetCommand(ctx, commandID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, verrors.NewNotFound("command")
	}
	if err != nil {
		return nil, fmt.Errorf("load command: %w", err)
	}
	if entry.UserID != userID {
		slog.Warn("execute rejected for non-owner", "command_id", commandID, "user_id", userID)
		return nil, verrors.NewForbidden()
	}
	if entry.Status != domain.CommandProposed {
		return nil, verrors.NewAlreadyProcessed(string(entry.Status))
	}

	if action == nil {
		action = &entry.Action
	} else if action.Intent != entry.Action.Intent {
		// The proposed intent is immutable after creation; the confirmation
		// step may refine fields but never swap the action kind.
		return nil, verrors.NewUnprocessable(
			fmt.Sprintf("approved intent %q does not match proposed intent %q", action.Intent, entry.Action.Intent))
	}
	if !action.Intent.Valid() {
		return nil, verrors.NewUnprocessable(fmt.Sprintf("unsupported intent %q", action.Intent))
	}
	// A caller-refined action passes the same shape validation as model
	// output; a create with no duration picks up the default here. Rejected
	// before apply, so the entry stays confirmable and nothing is mutated.
	if err := action.Validate(e.defaultDuration); err != nil {
		return nil, verrors.NewUnprocessable(err.Error())
	}

	result, execErr := e.apply(ctx, userID, commandID, action)
	if execErr != nil {
		if failErr := e.completeWithRetry(ctx, commandID, domain.CommandFailed, "", execErr.Error()); failErr != nil {
			slog.Error("failed to mark command failed",
				"error", failErr, "command_id", commandID, "exec_error", execErr)
		}
		return nil, execErr
	}

	if err := e.completeWithRetry(ctx, commandID, domain.CommandExecuted, result.BlockID, ""); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			// Lost the compare-and-set race to a concurrent executor.
			current, readErr := e.repo.GetCommand(ctx, commandID)
			if readErr == nil {
				return nil, verrors.NewAlreadyProcessed(string(current.Status))
			}
			return nil, verrors.NewAlreadyProcessed("unknown")
		}
		return nil, fmt.Errorf("record execution: %w", err)
	}

	slog.Info("command executed",
		"command_id", commandID, "user_id", userID,
		"intent", action.Intent, "block_id", result.BlockID)
	return result, nil
}

func (e *Executor) apply(ctx context.Context, userID, commandID string, action *domain.ProposedAction) (*ExecutionResult, error) {
	switch action.Intent {
	case domain.IntentCreateBlock:
		return e.applyCreate(ctx, userID, commandID, action.Create)
	case domain.IntentRescheduleBlock:
		return e.applyReschedule(ctx, userID, action.Reschedule)
	case domain.IntentCancelBlock:
		return e.applyCancel(ctx, userID, action.Cancel)
	}
	return nil, verrors.NewUnprocessable(fmt.Sprintf("unsupported intent %q", action.Intent))
}

func (e *Executor) applyCreate(ctx context.Context, userID, commandID string, create *domain.CreateBlock) (*ExecutionResult, error) {
	if create == nil {
		return nil, verrors.NewUnprocessable("create_block payload missing")
	}

	endTime, err := domain.EndTime(create.StartTimeLocal, create.DurationMinutes)
	if err != nil {
		return nil, verrors.NewUnprocessable(err.Error())
	}

	title := create.Title
	if title == "" {
		title = "Workout"
	}

	now := e.now()
	block := &domain.ScheduleBlock{
		ID:              uuid.NewString(),
		UserID:          userID,
		BlockType:       domain.BlockTypeWorkout,
		Date:            create.DateLocal,
		StartTime:       create.StartTimeLocal,
		EndTime:         endTime,
		DurationMinutes: create.DurationMinutes,
		Title:           title,
		Notes:           create.Notes,
		WorkoutItems:    create.WorkoutItems,
		Source:          domain.BlockSourceVoice,
		CommandID:       commandID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.repo.InsertBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}

	return &ExecutionResult{
		BlockID: block.ID,
		Summary: fmt.Sprintf("Created %q on %s from %s to %s", title, block.Date, block.StartTime, block.EndTime),
	}, nil
}

func (e *Executor) applyReschedule(ctx context.Context, userID string, reschedule *domain.RescheduleBlock) (*ExecutionResult, error) {
	if reschedule == nil {
		return nil, verrors.NewUnprocessable("reschedule_block payload missing")
	}

	blockID, err := e.resolver.Resolve(ctx, userID, reschedule.Target)
	if err != nil {
		return nil, err
	}

	block, err := e.repo.GetBlock(ctx, blockID)
	if err != nil {
		return nil, fmt.Errorf("load block for reschedule: %w", err)
	}

	endTime, err := domain.EndTime(reschedule.NewTime.StartTimeLocal, block.DurationMinutes)
	if err != nil {
		return nil, verrors.NewUnprocessable(err.Error())
	}

	// Scoped by both block id and owning user as defense against cross-user
	// mutation even if resolution were ever buggy.
	if err := e.repo.UpdateBlockTime(ctx, blockID, userID,
		reschedule.NewTime.DateLocal, reschedule.NewTime.StartTimeLocal, endTime); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, verrors.NewNotFound("block")
		}
		return nil, fmt.Errorf("update block time: %w", err)
	}

	return &ExecutionResult{
		BlockID: blockID,
		Summary: fmt.Sprintf("Moved workout to %s at %s", reschedule.NewTime.DateLocal, reschedule.NewTime.StartTimeLocal),
	}, nil
}

func (e *Executor) applyCancel(ctx context.Context, userID string, cancel *domain.CancelBlock) (*ExecutionResult, error) {
	if cancel == nil {
		return nil, verrors.NewUnprocessable("cancel_block payload missing")
	}

	blockID, err := e.resolver.Resolve(ctx, userID, cancel.Target)
	if err != nil {
		return nil, err
	}

	if err := e.repo.SoftDeleteBlock(ctx, blockID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, verrors.NewNotFound("block")
		}
		return nil, fmt.Errorf("soft delete block: %w", err)
	}

	return &ExecutionResult{
		BlockID: blockID,
		Summary: "Cancelled workout",
	}, nil
}

// completeWithRetry transitions the command log entry with exponential
// backoff on SQLite concurrency errors. Compare-and-set failures are
// returned immediately; they are decisions, not contention.
func (e *Executor) completeWithRetry(ctx context.Context, commandID string, to domain.CommandStatus, blockID, errorMessage string) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := e.repo.CompleteCommand(ctx, commandID, to, blockID, errorMessage)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrNotFound) {
			return err
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("command completion hit database lock, retrying",
				"command_id", commandID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		return err
	}
	return nil
}
