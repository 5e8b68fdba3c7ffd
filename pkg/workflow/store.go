package workflow

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/google/uuid"
)

// TemplateStore persists templates and their blueprint steps.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, template *models.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]models.Template, error)
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error
	CreateTemplateStep(ctx context.Context, step *models.TemplateStep) error
	UpdateTemplateStep(ctx context.Context, step *models.TemplateStep) error
	// SetTemplateStepOrders applies all order changes at once. The final
	// orders must be unique within the template.
	SetTemplateStepOrders(ctx context.Context, templateID uuid.UUID, orders map[uuid.UUID]int) error
}

// EntityStore persists leads and VCs.
type EntityStore interface {
	// CreateEntity inserts the entity and assigns its display code.
	CreateEntity(ctx context.Context, entity *models.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// LockEntity reads the entity and holds it until the surrounding
	// transaction ends, serializing probability updates.
	LockEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	ListEntities(ctx context.Context, filter models.EntityFilter) ([]models.Entity, error)
	UpdateEntityStatus(ctx context.Context, id uuid.UUID, status models.EntityStatus) error
	SetEntityTemplate(ctx context.Context, id uuid.UUID, templateID *uuid.UUID) error
	SetEntityProbability(ctx context.Context, id uuid.UUID, probability int) error
}

// StepStore persists step instances.
type StepStore interface {
	CreateSteps(ctx context.Context, steps []models.Step) error
	GetStep(ctx context.Context, id uuid.UUID) (*models.Step, error)
	// ListSteps returns the entity's steps ordered by step order.
	ListSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, error)
	UpdateStep(ctx context.Context, step *models.Step) error
	DeleteStep(ctx context.Context, id uuid.UUID) error
	DeleteEntitySteps(ctx context.Context, entityID uuid.UUID) (int, error)
	// SetStepOrders applies all order changes at once without ever holding
	// two steps of the entity at the same order.
	SetStepOrders(ctx context.Context, entityID uuid.UUID, orders map[uuid.UUID]int) error
}

// Store is everything the engine needs from a backing store. Nested WithinTx
// calls join the outer transaction.
type Store interface {
	TemplateStore
	EntityStore
	StepStore
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
