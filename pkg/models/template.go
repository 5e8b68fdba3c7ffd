package models

import (
	"time"

	"github.com/google/uuid"
)

// Template is a reusable, ordered list of step blueprints.
type Template struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description *string        `db:"description" json:"description,omitempty"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	Steps       []TemplateStep `db:"-" json:"steps"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

func (Template) TableName() string {
	return "pipeline_templates"
}

// WeightTotal sums the step weights. Totals other than 100 are allowed.
func (t Template) WeightTotal() float64 {
	total := 0.0
	for _, s := range t.Steps {
		if s.Weight != nil {
			total += *s.Weight
		}
	}
	return total
}

// MaxOrder returns the highest step order, or 0 for an empty template.
func (t Template) MaxOrder() int {
	max := 0
	for _, s := range t.Steps {
		if s.Order > max {
			max = s.Order
		}
	}
	return max
}

// TemplateStep is one blueprint step inside a Template.
type TemplateStep struct {
	ID                uuid.UUID `db:"id" json:"id"`
	TemplateID        uuid.UUID `db:"template_id" json:"template_id"`
	Name              string    `db:"name" json:"name"`
	Description       *string   `db:"description" json:"description,omitempty"`
	Order             int       `db:"step_order" json:"order"`
	EstimatedDuration *int      `db:"estimated_duration" json:"estimated_duration,omitempty"`
	Weight            *float64  `db:"weight" json:"weight,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

func (TemplateStep) TableName() string {
	return "pipeline_template_steps"
}
