package scheduler

import (
	"encoding/json"
	"time"
)

// Limits applied during schedule validation.
const (
	// MinLeadTime is the minimum interval between creation and a
	// one-shot schedule's firing time.
	MinLeadTime = 5 * time.Minute

	// MaxDataSize bounds the serialized schedule payload.
	MaxDataSize = 4 * 1024
)

// Key identifies a schedule. Schedules are namespaced per product, so two
// products may each own a schedule of the same name.
type Key struct {
	Name    string
	Product string
}

// Schedule is a persisted schedule definition.
type Schedule struct {
	Name    string                 `json:"name"`
	Product string                 `json:"product"`
	Data    map[string]interface{} `json:"data"`

	// ScheduleAt is the firing time for one-shot schedules.
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`

	// CronExpression makes the schedule recurring when non-empty.
	CronExpression string `json:"cron_expression,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite identity of the schedule.
func (s *Schedule) Key() Key {
	return Key{Name: s.Name, Product: s.Product}
}

// Recurring reports whether the schedule repeats.
func (s *Schedule) Recurring() bool {
	return s.CronExpression != ""
}

// Validate checks structural constraints. It performs no side effects and
// is called before anything is persisted or armed.
func (s *Schedule) Validate(now time.Time) error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if s.Product == "" {
		return &ValidationError{Field: "product", Message: "product is required"}
	}
	if s.Data == nil {
		return &ValidationError{Field: "data", Message: "data is required"}
	}

	payload, err := json.Marshal(s.Data)
	if err != nil {
		return &ValidationError{Field: "data", Message: "data is not serializable"}
	}
	if len(payload) > MaxDataSize {
		return &ValidationError{Field: "data", Message: "data exceeds maximum size"}
	}

	if s.Recurring() {
		return nil
	}

	if s.ScheduleAt == nil {
		return &ValidationError{Field: "schedule_at", Message: "schedule_at is required"}
	}
	if s.ScheduleAt.Before(now.Add(MinLeadTime)) {
		return &ValidationError{Field: "schedule_at", Message: "schedule_at must be at least 5 minutes in the future"}
	}
	return nil
}
