package domain

import "time"

// CommandStatus is the lifecycle state of a command log entry.
type CommandStatus string

const (
	CommandProposed CommandStatus = "proposed"
	CommandExecuted CommandStatus = "executed"
	CommandFailed   CommandStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s CommandStatus) Terminal() bool {
	return s == CommandExecuted || s == CommandFailed
}

// CommandLogEntry is the append-only audit record of one parse attempt and
// its eventual disposition. An entry is created as proposed and transitioned
// exactly once to executed or failed; it is never mutated afterward.
type CommandLogEntry struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	RawTranscript      string         `json:"raw_transcript"`
	Action             ProposedAction `json:"proposed_action"`
	Confidence         float64        `json:"confidence"`
	NeedsClarification bool           `json:"needs_clarification"`
	Status             CommandStatus  `json:"status"`
	BlockID            string         `json:"block_id,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
