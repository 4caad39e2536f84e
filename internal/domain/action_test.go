package domain

import "testing"

func TestEndTime(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		duration int
		want     string
	}{
		{"plain", "09:00", 45, "09:45"},
		{"hour rollover", "10:30", 45, "11:15"},
		{"wraps past midnight", "23:50", 20, "00:10"},
		{"exactly midnight", "23:00", 60, "00:00"},
		{"full day", "08:15", 1440, "08:15"},
		{"zero duration", "12:00", 0, "12:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndTime(tt.start, tt.duration)
			if err != nil {
				t.Fatalf("EndTime(%q, %d) error: %v", tt.start, tt.duration, err)
			}
			if got != tt.want {
				t.Errorf("EndTime(%q, %d) = %q, want %q", tt.start, tt.duration, got, tt.want)
			}
		})
	}

	if _, err := EndTime("25:00", 30); err == nil {
		t.Error("EndTime accepted invalid start time 25:00")
	}
	if _, err := EndTime("9:00", 30); err == nil {
		t.Error("EndTime accepted non-HH:MM time 9:00")
	}
}

func TestValidClock(t *testing.T) {
	valid := []string{"00:00", "09:30", "23:59"}
	for _, s := range valid {
		if !ValidClock(s) {
			t.Errorf("ValidClock(%q) = false, want true", s)
		}
	}
	invalid := []string{"24:00", "12:60", "1200", "12:0", "ab:cd", "", "12:00:00"}
	for _, s := range invalid {
		if ValidClock(s) {
			t.Errorf("ValidClock(%q) = true, want false", s)
		}
	}
}

func TestValidDate(t *testing.T) {
	valid := []string{"2024-03-01", "2024-02-29", "1999-12-31"}
	for _, s := range valid {
		if !ValidDate(s) {
			t.Errorf("ValidDate(%q) = false, want true", s)
		}
	}
	invalid := []string{"2023-02-29", "2024-13-01", "2024-00-10", "2024-04-31", "24-03-01", "2024/03/01", ""}
	for _, s := range invalid {
		if ValidDate(s) {
			t.Errorf("ValidDate(%q) = true, want false", s)
		}
	}
}

func TestProposedActionValidate(t *testing.T) {
	t.Run("create applies default duration", func(t *testing.T) {
		action := ProposedAction{
			Intent: IntentCreateBlock,
			Create: &CreateBlock{DateLocal: "2024-03-01", StartTimeLocal: "09:00"},
		}
		if err := action.Validate(45); err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if action.Create.DurationMinutes != 45 {
			t.Errorf("DurationMinutes = %d, want default 45", action.Create.DurationMinutes)
		}
	})

	t.Run("create keeps explicit duration", func(t *testing.T) {
		action := ProposedAction{
			Intent: IntentCreateBlock,
			Create: &CreateBlock{DateLocal: "2024-03-01", StartTimeLocal: "09:00", DurationMinutes: 30},
		}
		if err := action.Validate(60); err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if action.Create.DurationMinutes != 30 {
			t.Errorf("DurationMinutes = %d, want 30", action.Create.DurationMinutes)
		}
	})

	t.Run("unknown intent rejected", func(t *testing.T) {
		action := ProposedAction{Intent: "delete_everything"}
		if err := action.Validate(60); err == nil {
			t.Error("Validate accepted unknown intent")
		}
	})

	t.Run("missing payload rejected", func(t *testing.T) {
		action := ProposedAction{Intent: IntentRescheduleBlock}
		if err := action.Validate(60); err == nil {
			t.Error("Validate accepted reschedule without payload")
		}
	})

	t.Run("invalid time rejected", func(t *testing.T) {
		action := ProposedAction{
			Intent: IntentCreateBlock,
			Create: &CreateBlock{DateLocal: "2024-03-01", StartTimeLocal: "6pm"},
		}
		if err := action.Validate(60); err == nil {
			t.Error("Validate accepted 12-hour time string")
		}
	})
}

func TestTargetValidate(t *testing.T) {
	if err := (Target{BlockID: "b1"}).Validate(); err != nil {
		t.Errorf("block_id target rejected: %v", err)
	}
	if err := (Target{Selector: &SlotSelector{DateLocal: "2024-03-01", StartTimeLocal: "18:00"}}).Validate(); err != nil {
		t.Errorf("selector target rejected: %v", err)
	}
	if err := (Target{}).Validate(); err == nil {
		t.Error("empty target accepted")
	}
	both := Target{BlockID: "b1", Selector: &SlotSelector{DateLocal: "2024-03-01", StartTimeLocal: "18:00"}}
	if err := both.Validate(); err == nil {
		t.Error("target with both addressing modes accepted")
	}
}

func TestSummary(t *testing.T) {
	create := ProposedAction{
		Intent: IntentCreateBlock,
		Create: &CreateBlock{DateLocal: "2024-03-01", StartTimeLocal: "18:00", DurationMinutes: 60, Title: "Leg day"},
	}
	if got := create.Summary(); got != `Create "Leg day" on 2024-03-01 at 18:00 (60 min)` {
		t.Errorf("create summary = %q", got)
	}

	cancel := ProposedAction{
		Intent: IntentCancelBlock,
		Cancel: &CancelBlock{Target: Target{Selector: &SlotSelector{DateLocal: "2024-03-02", StartTimeLocal: "07:00"}}},
	}
	if got := cancel.Summary(); got != "Cancel the workout on 2024-03-02 at 07:00" {
		t.Errorf("cancel summary = %q", got)
	}
}
