package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TransitionStep moves a step to a new status, optionally setting its due
// date and assignee, and recomputes the entity's probability.
func (e *Engine) TransitionStep(ctx context.Context, stepID uuid.UUID, status models.StepStatus, fields StepFields) (StepUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.TransitionStep")
	defer span.End()

	return e.UpdateStep(ctx, stepID, StepPatch{
		Status:   &status,
		DueDate:  fields.DueDate,
		Assignee: fields.Assignee,
	})
}

// UpdateStep applies a partial update and recomputes the entity's probability
// in the same transaction.
func (e *Engine) UpdateStep(ctx context.Context, stepID uuid.UUID, patch StepPatch) (StepUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.UpdateStep")
	defer span.End()

	if err := validateStepPatch(patch); err != nil {
		return StepUpdate{}, err
	}

	var result StepUpdate
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		step, err := e.store.GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		entity, err := e.store.LockEntity(ctx, step.EntityID)
		if err != nil {
			return err
		}

		// re-read under the entity lock so the status check sees the latest commit
		step, err = e.store.GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		if err := e.applyPatch(step, patch); err != nil {
			return err
		}

		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}

		previous, next, err := e.recompute(ctx, entity)
		if err != nil {
			return err
		}

		result = StepUpdate{
			Step:                *step,
			EntityID:            entity.ID,
			Probability:         next,
			PreviousProbability: previous,
		}
		return nil
	})
	if err != nil {
		return StepUpdate{}, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id":     stepID,
		"entity_id":   result.EntityID,
		"status":      result.Step.Status,
		"probability": result.Probability,
	}).Debug("Updated step")
	return result, nil
}

func validateStepPatch(patch StepPatch) error {
	if patch.Status != nil && !patch.Status.IsValid() {
		return apperrors.InvalidTransition("unknown step status %q", *patch.Status)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return apperrors.Validation("step name cannot be empty")
	}
	if err := validateWeight(patch.Weight); err != nil {
		return err
	}
	return validateDuration(patch.EstimatedDuration)
}

func (e *Engine) applyPatch(step *models.Step, patch StepPatch) error {
	now := e.now()

	if patch.Status != nil {
		to := *patch.Status
		if !CanTransition(step.Status, to) {
			return apperrors.InvalidTransition("step cannot move from %s to %s", step.Status, to).
				AddMeta("step_id", step.ID.String())
		}
		// completed_date is only ever set by the server
		if to == models.StepStatusCompleted && step.Status != models.StepStatusCompleted {
			step.CompletedDate = &now
		}
		step.Status = to
	}

	if patch.Name != nil {
		step.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		step.Description = patch.Description
	}
	if patch.Weight != nil {
		step.Weight = patch.Weight
	}
	if patch.ClearDueDate {
		step.DueDate = nil
	} else if patch.DueDate != nil {
		step.DueDate = patch.DueDate
	}
	if patch.EstimatedDuration != nil {
		step.EstimatedDuration = patch.EstimatedDuration
	}
	if patch.Assignee != nil {
		step.Assignee = patch.Assignee
	}

	step.UpdatedAt = now
	return nil
}

// DeleteStep removes a step and recomputes the entity's probability. The
// remaining steps keep their orders.
func (e *Engine) DeleteStep(ctx context.Context, stepID uuid.UUID) (StepDeletion, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.DeleteStep")
	defer span.End()

	var result StepDeletion
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		step, err := e.store.GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		entity, err := e.store.LockEntity(ctx, step.EntityID)
		if err != nil {
			return err
		}

		if err := e.store.DeleteStep(ctx, stepID); err != nil {
			return err
		}

		previous, next, err := e.recompute(ctx, entity)
		if err != nil {
			return err
		}

		result = StepDeletion{
			Deleted:             true,
			StepID:              stepID,
			EntityID:            entity.ID,
			Probability:         next,
			PreviousProbability: previous,
		}
		return nil
	})
	if err != nil {
		return StepDeletion{}, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id":   stepID,
		"entity_id": result.EntityID,
	}).Debug("Deleted step")
	return result, nil
}

func validateWeight(weight *float64) error {
	if weight != nil && (*weight < 0 || *weight > 100) {
		return apperrors.Validation("weight must be between 0 and 100, got %v", *weight)
	}
	return nil
}

func validateDuration(days *int) error {
	if days != nil && *days < 0 {
		return apperrors.Validation("estimated duration cannot be negative")
	}
	return nil
}
