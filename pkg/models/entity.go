package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/google/uuid"
)

type EntityKind string

const (
	EntityKindLead EntityKind = "lead"
	EntityKindVC   EntityKind = "vc"
)

func (k EntityKind) IsValid() bool {
	return k == EntityKindLead || k == EntityKindVC
}

// CodePrefix is the prefix of the human readable display code (LEAD-0001).
func (k EntityKind) CodePrefix() string {
	return strings.ToUpper(string(k))
}

// FormatCode renders the display code for the n-th entity of this kind.
func (k EntityKind) FormatCode(n int64) string {
	return fmt.Sprintf("%s-%04d", k.CodePrefix(), n)
}

type EntityStatus string

const (
	EntityStatusInProgress EntityStatus = "in_progress"
	EntityStatusWon        EntityStatus = "won"
	EntityStatusLost       EntityStatus = "lost"
	EntityStatusCompleted  EntityStatus = "completed"
)

func (s EntityStatus) IsValid() bool {
	switch s {
	case EntityStatusInProgress, EntityStatusWon, EntityStatusLost, EntityStatusCompleted:
		return true
	}
	return false
}

// Entity is a Lead or VC progressing through a pipeline.
type Entity struct {
	ID          uuid.UUID                      `db:"id" json:"id"`
	Kind        EntityKind                     `db:"kind" json:"kind"`
	Code        string                         `db:"code" json:"code"`
	Name        string                         `db:"name" json:"name"`
	Company     *string                        `db:"company" json:"company,omitempty"`
	Status      EntityStatus                   `db:"status" json:"status"`
	TemplateID  *uuid.UUID                     `db:"template_id" json:"template_id,omitempty"`
	Probability int                            `db:"probability" json:"probability"`
	Metadata    database.JSONB[map[string]any] `db:"metadata" json:"metadata"`
	CreatedAt   time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                      `db:"updated_at" json:"updated_at"`
}

func (Entity) TableName() string {
	return "pipeline_entities"
}

// EntityWithSteps is an entity together with its ordered steps.
type EntityWithSteps struct {
	Entity
	Steps []Step `json:"steps"`
}

// EntityFilter narrows ListEntities. Nil fields match everything.
type EntityFilter struct {
	Kind   *EntityKind
	Status *EntityStatus
}

func (f EntityFilter) Matches(e Entity) bool {
	if f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	return true
}
