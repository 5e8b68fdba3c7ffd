package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CreateEntity stores a lead or VC with its display code and materializes
// its steps in the same transaction.
func (e *Engine) CreateEntity(ctx context.Context, input EntityInput) (*models.EntityWithSteps, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.CreateEntity")
	defer span.End()

	if !input.Kind.IsValid() {
		return nil, apperrors.Validation("unknown entity kind %q", input.Kind)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.Validation("entity name is required")
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := e.now()
	entity := &models.Entity{
		ID:          uuid.New(),
		Kind:        input.Kind,
		Name:        name,
		Company:     input.Company,
		Status:      models.EntityStatusInProgress,
		TemplateID:  input.TemplateID,
		Probability: 0,
		Metadata:    database.NewJSONB(metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var steps []models.Step
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		if input.TemplateID != nil {
			if _, err := e.store.GetTemplate(ctx, *input.TemplateID); err != nil {
				return err
			}
		}

		if err := e.store.CreateEntity(ctx, entity); err != nil {
			return err
		}

		var err error
		steps, err = e.Instantiate(ctx, entity.ID, entity.TemplateID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"code":      entity.Code,
		"kind":      entity.Kind,
	}).Info("Created entity")
	return &models.EntityWithSteps{Entity: *entity, Steps: steps}, nil
}

func (e *Engine) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetEntity")
	defer span.End()

	return e.store.GetEntity(ctx, id)
}

func (e *Engine) ListEntities(ctx context.Context, filter models.EntityFilter) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.ListEntities")
	defer span.End()

	if filter.Kind != nil && !filter.Kind.IsValid() {
		return nil, apperrors.Validation("unknown entity kind %q", *filter.Kind)
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, apperrors.Validation("unknown entity status %q", *filter.Status)
	}
	return e.store.ListEntities(ctx, filter)
}

// UpdateEntityStatus sets the entity's pipeline status. Probability is not
// affected; it only follows the steps.
func (e *Engine) UpdateEntityStatus(ctx context.Context, id uuid.UUID, status models.EntityStatus) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.UpdateEntityStatus")
	defer span.End()

	if !status.IsValid() {
		return nil, apperrors.Validation("unknown entity status %q", status)
	}

	var entity *models.Entity
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if _, err = e.store.LockEntity(ctx, id); err != nil {
			return err
		}
		if err = e.store.UpdateEntityStatus(ctx, id, status); err != nil {
			return err
		}
		entity, err = e.store.GetEntity(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}
