package domain

import "time"

// BlockTypeWorkout is the schedule entry type this pipeline manages. Other
// entry types in the schedule store are invisible to target resolution.
const BlockTypeWorkout = "workout"

// BlockSourceVoice tags blocks created by the voice pipeline so they are
// traceable back to the originating command.
const BlockSourceVoice = "voice"

// ScheduleBlock is one row in the schedule store. Dates and times are local
// strings (YYYY-MM-DD, HH:MM); the user's timezone is resolved upstream.
type ScheduleBlock struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	BlockType       string     `json:"block_type"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Title           string     `json:"title,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	WorkoutItems    []string   `json:"workout_items,omitempty"`
	Source          string     `json:"source"`
	CommandID       string     `json:"command_id,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Deleted reports whether the block has been soft-deleted.
func (b *ScheduleBlock) Deleted() bool {
	return b.DeletedAt != nil
}
