package models

import (
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusCancelled  StepStatus = "cancelled"
)

func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusCompleted, StepStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is allowed.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusCancelled
}

// Step is a concrete, per-entity copy of a template step. The row shape is
// consumed verbatim by the UI and the notification system.
type Step struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	EntityID          uuid.UUID  `db:"entity_id" json:"entity_id"`
	Name              string     `db:"name" json:"name"`
	Description       *string    `db:"description" json:"description,omitempty"`
	Status            StepStatus `db:"status" json:"status"`
	Order             int        `db:"step_order" json:"order"`
	Weight            *float64   `db:"weight" json:"weight,omitempty"`
	DueDate           *time.Time `db:"due_date" json:"due_date,omitempty"`
	CompletedDate     *time.Time `db:"completed_date" json:"completed_date,omitempty"`
	EstimatedDuration *int       `db:"estimated_duration" json:"estimated_duration,omitempty"`
	Assignee          *string    `db:"assignee" json:"assignee,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (Step) TableName() string {
	return "pipeline_steps"
}

// OrderChange moves one step to a new 1-based position.
type OrderChange struct {
	StepID   uuid.UUID `json:"step_id" validate:"required"`
	NewOrder int       `json:"order" validate:"required,gt=0"`
}
