// Package pipeline sequences the voice command flow: transcription, intent
// parsing, target resolution, and execution against the schedule store.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/44xclub/voicesched/internal/domain"
	verrors "github.com/44xclub/voicesched/internal/errors"
	"github.com/44xclub/voicesched/internal/store"
)

// Resolver maps a user's spoken reference to exactly one schedule block.
type Resolver struct {
	repo store.Repository
}

// NewResolver creates a target resolver over the schedule store.
func NewResolver(repo store.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the id of the single block the target references.
// Direct-id references to another user's block are rejected as forbidden
// with no detail about the actual owner. Selector references resolve to
// zero (not found), one (returned), or many (ambiguous, never an arbitrary
// pick) matches.
func (r *Resolver) Resolve(ctx context.Context, userID string, target domain.Target) (string, error) {
	if target.BlockID != "" {
		block, err := r.repo.GetBlock(ctx, target.BlockID)
		if errors.Is(err, store.ErrNotFound) {
			return "", verrors.NewNotFound("block")
		}
		if err != nil {
			return "", fmt.Errorf("resolve block by id: %w", err)
		}
		if block.UserID != userID {
			return "", verrors.NewForbidden()
		}
		return block.ID, nil
	}

	if target.Selector == nil {
		return "", verrors.NewInvalidRequest("target requires block_id or selector")
	}

	blocks, err := r.repo.FindBlocksAt(ctx, userID, target.Selector.DateLocal, target.Selector.StartTimeLocal)
	if err != nil {
		return "", fmt.Errorf("resolve block by selector: %w", err)
	}
	switch len(blocks) {
	case 0:
		return "", verrors.NewNotFound("block")
	case 1:
		return blocks[0].ID, nil
	default:
		return "", verrors.NewAmbiguousTarget(len(blocks))
	}
}
