// Package workflow implements the pipeline step engine: materializing steps
// from templates, step lifecycle with probability roll-up, reordering with
// template sync, and the template catalog and entity operations around them.
package workflow

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

type Engine struct {
	store   Store
	matcher StepMatcher
	logger  ectologger.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithMatcher swaps the template step matching strategy.
func WithMatcher(m StepMatcher) Option {
	return func(e *Engine) {
		e.matcher = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(store Store, logger ectologger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		matcher: NameOrderMatcher{},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the store the engine runs against.
func (e *Engine) Store() Store {
	return e.store
}

// StepFields is the optional metadata a status transition may carry.
type StepFields struct {
	DueDate  *time.Time
	Assignee *string
}

// StepPatch is a partial step update. Nil fields are left unchanged.
type StepPatch struct {
	Name              *string
	Description       *string
	Status            *models.StepStatus
	Weight            *float64
	DueDate           *time.Time
	ClearDueDate      bool
	EstimatedDuration *int
	Assignee          *string
}

// StepUpdate is the result of a step mutation. The entity id and probability
// let callers invalidate cached aggregate views.
type StepUpdate struct {
	Step                models.Step `json:"step"`
	EntityID            uuid.UUID   `json:"entity_id"`
	Probability         int         `json:"probability"`
	PreviousProbability int         `json:"previous_probability"`
}

func (u StepUpdate) ProbabilityChanged() bool {
	return u.Probability != u.PreviousProbability
}

type StepDeletion struct {
	Deleted             bool      `json:"deleted"`
	StepID              uuid.UUID `json:"step_id"`
	EntityID            uuid.UUID `json:"entity_id"`
	Probability         int       `json:"probability"`
	PreviousProbability int       `json:"previous_probability"`
}

// Mismatch describes an instance step with no matching template step.
type Mismatch struct {
	StepID uuid.UUID `json:"step_id"`
	Name   string    `json:"name"`
	Order  int       `json:"order"`
	Reason string    `json:"reason"`
}

type ReorderResult struct {
	EntityID   uuid.UUID     `json:"entity_id"`
	Steps      []models.Step `json:"steps"`
	TemplateID *uuid.UUID    `json:"template_id,omitempty"`
	// TemplateSynced counts template steps moved to follow the new order.
	TemplateSynced int        `json:"template_synced"`
	Mismatches     []Mismatch `json:"mismatches"`
}

type SyncResult struct {
	EntityID            uuid.UUID     `json:"entity_id"`
	Steps               []models.Step `json:"steps"`
	Updated             int           `json:"updated"`
	Mismatches          []Mismatch    `json:"mismatches"`
	Probability         int           `json:"probability"`
	PreviousProbability int           `json:"previous_probability"`
}

type TemplateInput struct {
	Name        string
	Description *string
	Steps       []TemplateStepInput
}

type TemplateStepInput struct {
	Name              string
	Description       *string
	Order             int
	EstimatedDuration *int
	Weight            *float64
}

type TemplateStepPatch struct {
	Name              *string
	Description       *string
	Order             *int
	EstimatedDuration *int
	Weight            *float64
}

type EntityInput struct {
	Kind       models.EntityKind
	Name       string
	Company    *string
	TemplateID *uuid.UUID
	Metadata   map[string]any
}
