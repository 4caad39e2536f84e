// Package domain contains core domain types for the voice scheduling pipeline.
package domain

import (
	"fmt"
	"strings"
)

// Intent identifies the kind of scheduling change a command proposes.
type Intent string

const (
	IntentCreateBlock     Intent = "create_block"
	IntentRescheduleBlock Intent = "reschedule_block"
	IntentCancelBlock     Intent = "cancel_block"
)

// Valid reports whether the intent is one of the three supported kinds.
func (i Intent) Valid() bool {
	switch i {
	case IntentCreateBlock, IntentRescheduleBlock, IntentCancelBlock:
		return true
	}
	return false
}

// SlotSelector identifies a schedule block by its local date and start time.
type SlotSelector struct {
	DateLocal      string `json:"date_local"`
	StartTimeLocal string `json:"start_time_local"`
}

// Target references an existing schedule block, either directly by id or
// through a date+time selector. Exactly one of the two must be set.
type Target struct {
	BlockID  string        `json:"block_id,omitempty"`
	Selector *SlotSelector `json:"selector,omitempty"`
}

// Validate checks that the target uses exactly one addressing mode.
func (t Target) Validate() error {
	if t.BlockID != "" && t.Selector != nil {
		return fmt.Errorf("target: block_id and selector are mutually exclusive")
	}
	if t.BlockID == "" && t.Selector == nil {
		return fmt.Errorf("target: block_id or selector required")
	}
	if t.Selector != nil {
		if !ValidDate(t.Selector.DateLocal) {
			return fmt.Errorf("target selector: invalid date %q", t.Selector.DateLocal)
		}
		if !ValidClock(t.Selector.StartTimeLocal) {
			return fmt.Errorf("target selector: invalid time %q", t.Selector.StartTimeLocal)
		}
	}
	return nil
}

// CreateBlock is the payload for a new schedule block.
type CreateBlock struct {
	DateLocal       string   `json:"date_local"`
	StartTimeLocal  string   `json:"start_time_local"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Title           string   `json:"title,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	WorkoutItems    []string `json:"workout_items,omitempty"`
}

// NewTime is the replacement slot for a reschedule.
type NewTime struct {
	DateLocal      string `json:"date_local"`
	StartTimeLocal string `json:"start_time_local"`
}

// RescheduleBlock moves an existing block to a new slot.
type RescheduleBlock struct {
	Target  Target  `json:"target"`
	NewTime NewTime `json:"new_time"`
}

// CancelBlock soft-deletes an existing block.
type CancelBlock struct {
	Target Target `json:"target"`
}

// ProposedAction is the structured, not-yet-applied scheduling instruction
// derived from a transcript. It is a tagged union: Intent selects which of
// the three payload pointers is populated.
type ProposedAction struct {
	Intent     Intent           `json:"intent"`
	Create     *CreateBlock     `json:"create_block,omitempty"`
	Reschedule *RescheduleBlock `json:"reschedule_block,omitempty"`
	Cancel     *CancelBlock     `json:"cancel_block,omitempty"`
}

// Validate checks the action shape and normalizes defaults. A create block
// with no duration receives defaultDurationMinutes.
func (a *ProposedAction) Validate(defaultDurationMinutes int) error {
	switch a.Intent {
	case IntentCreateBlock:
		if a.Create == nil {
			return fmt.Errorf("create_block payload missing")
		}
		if !ValidDate(a.Create.DateLocal) {
			return fmt.Errorf("create_block: invalid date %q", a.Create.DateLocal)
		}
		if !ValidClock(a.Create.StartTimeLocal) {
			return fmt.Errorf("create_block: invalid start time %q", a.Create.StartTimeLocal)
		}
		if a.Create.DurationMinutes < 0 {
			return fmt.Errorf("create_block: negative duration")
		}
		if a.Create.DurationMinutes == 0 {
			a.Create.DurationMinutes = defaultDurationMinutes
		}
		return nil
	case IntentRescheduleBlock:
		if a.Reschedule == nil {
			return fmt.Errorf("reschedule_block payload missing")
		}
		if err := a.Reschedule.Target.Validate(); err != nil {
			return err
		}
		if !ValidDate(a.Reschedule.NewTime.DateLocal) {
			return fmt.Errorf("reschedule_block: invalid date %q", a.Reschedule.NewTime.DateLocal)
		}
		if !ValidClock(a.Reschedule.NewTime.StartTimeLocal) {
			return fmt.Errorf("reschedule_block: invalid start time %q", a.Reschedule.NewTime.StartTimeLocal)
		}
		return nil
	case IntentCancelBlock:
		if a.Cancel == nil {
			return fmt.Errorf("cancel_block payload missing")
		}
		return a.Cancel.Target.Validate()
	default:
		return fmt.Errorf("unknown intent %q", a.Intent)
	}
}

// Summary renders the one-line confirmation text shown to the user before
// the action is executed.
func (a *ProposedAction) Summary() string {
	switch a.Intent {
	case IntentCreateBlock:
		if a.Create == nil {
			return "Create a workout block"
		}
		title := a.Create.Title
		if title == "" {
			title = "Workout"
		}
		return fmt.Sprintf("Create %q on %s at %s (%d min)",
			title, a.Create.DateLocal, a.Create.StartTimeLocal, a.Create.DurationMinutes)
	case IntentRescheduleBlock:
		if a.Reschedule == nil {
			return "Move a workout block"
		}
		return fmt.Sprintf("Move %s to %s at %s",
			describeTarget(a.Reschedule.Target),
			a.Reschedule.NewTime.DateLocal, a.Reschedule.NewTime.StartTimeLocal)
	case IntentCancelBlock:
		if a.Cancel == nil {
			return "Cancel a workout block"
		}
		return fmt.Sprintf("Cancel %s", describeTarget(a.Cancel.Target))
	}
	return "Unknown action"
}

func describeTarget(t Target) string {
	if t.Selector != nil {
		return fmt.Sprintf("the workout on %s at %s", t.Selector.DateLocal, t.Selector.StartTimeLocal)
	}
	if t.BlockID != "" {
		return "workout " + t.BlockID
	}
	return "a workout"
}

// ParseResult is the Intent Parser's output for one transcript: the proposed
// action plus the advisory confidence signals surfaced to the confirmation UI.
type ParseResult struct {
	Action             ProposedAction `json:"action"`
	Confidence         float64        `json:"confidence"`
	NeedsClarification bool           `json:"needs_clarification"`
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	y, errY := atoi(s[0:4])
	mo, errM := atoi(s[5:7])
	d, errD := atoi(s[8:10])
	if errY != nil || errM != nil || errD != nil {
		return false
	}
	if y < 1 || mo < 1 || mo > 12 || d < 1 || d > daysIn(y, mo) {
		return false
	}
	return true
}

// ValidClock reports whether s is a 24-hour HH:MM time.
func ValidClock(s string) bool {
	_, _, err := ParseClock(s)
	return err == nil
}

// ParseClock splits an HH:MM string into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, errH := atoi(s[0:2])
	m, errM := atoi(s[3:5])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return h, m, nil
}

// EndTime computes the end clock time for a start time and duration in
// minutes, wrapping past midnight (23:50 + 20min = 00:10).
func EndTime(startTimeLocal string, durationMinutes int) (string, error) {
	h, m, err := ParseClock(startTimeLocal)
	if err != nil {
		return "", err
	}
	total := (h*60 + m + durationMinutes) % (24 * 60)
	if total < 0 {
		total += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60), nil
}

func atoi(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty number")
	}
	return n, nil
}

func daysIn(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	}
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 29
	}
	return 28
}
