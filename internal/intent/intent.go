// Package intent wraps the external language-model provider that turns a
// transcript into a structured scheduling action. The model's output is
// untrusted and validated independently of its own judgement.
package intent

import (
	"context"
	"fmt"

	"github.com/44xclub/voicesched/internal/domain"
)

// Parser converts a transcript plus the user's timezone and current local
// time into a proposed action with advisory confidence signals.
type Parser interface {
	Parse(ctx context.Context, transcript, timezone, nowLocal string) (*domain.ParseResult, error)
}

// MalformedResponseError means the model returned something other than one
// of the three known action shapes.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}

// ProviderError is a non-2xx response from the LLM provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("intent provider returned status %d", e.Status)
}
