package workflow

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Instantiate materializes the entity's steps from a template, or from the
// default sequence when templateID is nil or the template has no steps. It
// runs once per entity: when steps already exist they are returned untouched.
func (e *Engine) Instantiate(ctx context.Context, entityID uuid.UUID, templateID *uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Instantiate")
	defer span.End()

	var steps []models.Step
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := e.store.GetEntity(ctx, entityID); err != nil {
			return err
		}

		existing, err := e.store.ListSteps(ctx, entityID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			steps = existing
			return nil
		}

		blueprint, err := e.blueprint(ctx, templateID)
		if err != nil {
			return err
		}

		steps = materialize(entityID, blueprint, e.now())
		return e.store.CreateSteps(ctx, steps)
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":  entityID,
		"step_count": len(steps),
	}).Debug("Instantiated steps")
	return steps, nil
}

// blueprint resolves the template steps to copy. Inactive templates can still
// be instantiated from explicitly.
func (e *Engine) blueprint(ctx context.Context, templateID *uuid.UUID) ([]models.TemplateStep, error) {
	if templateID == nil {
		return DefaultTemplateSteps(), nil
	}

	template, err := e.store.GetTemplate(ctx, *templateID)
	if err != nil {
		return nil, err
	}

	if len(template.Steps) == 0 {
		e.logger.WithContext(ctx).WithField("template_id", template.ID).Info("template has no steps, using the default sequence")
		return DefaultTemplateSteps(), nil
	}

	return template.Steps, nil
}

// GetSteps returns the entity's ordered steps. An entity never reads back an
// empty list: missing steps are materialized on first read.
func (e *Engine) GetSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetSteps")
	defer span.End()

	entity, err := e.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	steps, err := e.store.ListSteps(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		return steps, nil
	}

	e.logger.WithContext(ctx).WithField("entity_id", entityID).Warn("entity has no steps, materializing")

	steps, err = e.Instantiate(ctx, entityID, entity.TemplateID)
	if apperrors.IsKind(err, apperrors.KindNotFound) && entity.TemplateID != nil {
		// the template is gone; the entity still gets a usable pipeline
		return e.Instantiate(ctx, entityID, nil)
	}
	return steps, err
}

// ChangeEntityTemplate replaces all of the entity's steps with a fresh copy of
// the new template and resets its probability. Step comments are removed with
// their steps by the store.
func (e *Engine) ChangeEntityTemplate(ctx context.Context, entityID uuid.UUID, newTemplateID *uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.ChangeEntityTemplate")
	defer span.End()

	var (
		steps   []models.Step
		removed int
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		entity, err := e.store.LockEntity(ctx, entityID)
		if err != nil {
			return err
		}

		// resolve first so an unknown template leaves the entity untouched
		if newTemplateID != nil {
			if _, err := e.store.GetTemplate(ctx, *newTemplateID); err != nil {
				return err
			}
		}

		removed, err = e.store.DeleteEntitySteps(ctx, entityID)
		if err != nil {
			return err
		}

		if err := e.store.SetEntityTemplate(ctx, entityID, newTemplateID); err != nil {
			return err
		}

		steps, err = e.Instantiate(ctx, entityID, newTemplateID)
		if err != nil {
			return err
		}

		if entity.Probability != 0 {
			return e.store.SetEntityProbability(ctx, entityID, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":     entityID,
		"template_id":   newTemplateID,
		"removed_steps": removed,
		"step_count":    len(steps),
	}).Info("Changed entity template")
	return steps, nil
}
