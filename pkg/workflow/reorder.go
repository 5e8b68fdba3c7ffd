package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reorder applies a batch of order changes to the entity's steps atomically.
// When the entity came from a template, the matching template steps are then
// moved the same way so future instantiations inherit the order. Template sync
// is best effort: mismatches and failures are reported, never returned.
func (e *Engine) Reorder(ctx context.Context, entityID uuid.UUID, changes []models.OrderChange) (ReorderResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Reorder")
	defer span.End()

	if len(changes) == 0 {
		return ReorderResult{}, apperrors.Validation("at least one order change is required")
	}

	result := ReorderResult{EntityID: entityID, Mismatches: []Mismatch{}}
	var moved []models.Step

	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		entity, err := e.store.LockEntity(ctx, entityID)
		if err != nil {
			return err
		}
		result.TemplateID = entity.TemplateID

		steps, err := e.store.ListSteps(ctx, entityID)
		if err != nil {
			return err
		}

		orders, err := planReorder(steps, changes)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			result.Steps = steps
			return nil
		}

		// keep the pre-move rows; template matching uses the old order
		for _, s := range steps {
			if _, ok := orders[s.ID]; ok {
				moved = append(moved, s)
			}
		}

		if err := e.store.SetStepOrders(ctx, entityID, orders); err != nil {
			return err
		}

		result.Steps, err = e.store.ListSteps(ctx, entityID)
		return err
	})
	if err != nil {
		return ReorderResult{}, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entityID,
		"moved_steps": len(moved),
	}).Info("Reordered steps")

	if result.TemplateID != nil && len(moved) > 0 {
		synced, mismatches, err := e.syncTemplateOrder(ctx, *result.TemplateID, moved, result.Steps)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"entity_id":   entityID,
				"template_id": *result.TemplateID,
			}).Warn("failed to sync template step order")
		}
		result.TemplateSynced = synced
		result.Mismatches = append(result.Mismatches, mismatches...)
		metrics.RecordSyncMismatches("reorder", len(mismatches))
	}

	return result, nil
}

// planReorder validates the changes against the entity's steps and returns
// the steps whose order actually changes.
func planReorder(steps []models.Step, changes []models.OrderChange) (map[uuid.UUID]int, error) {
	final := make(map[uuid.UUID]int, len(steps))
	for _, s := range steps {
		final[s.ID] = s.Order
	}

	seen := make(map[uuid.UUID]bool, len(changes))
	for _, c := range changes {
		if _, ok := final[c.StepID]; !ok {
			return nil, apperrors.NotFound("step %s does not belong to this entity", c.StepID)
		}
		if seen[c.StepID] {
			return nil, apperrors.Validation("step %s appears more than once", c.StepID)
		}
		if c.NewOrder <= 0 {
			return nil, apperrors.Validation("order must be positive, got %d", c.NewOrder)
		}
		seen[c.StepID] = true
		final[c.StepID] = c.NewOrder
	}

	taken := make(map[int]uuid.UUID, len(final))
	for id, order := range final {
		if other, ok := taken[order]; ok {
			return nil, apperrors.Validation("steps %s and %s would share order %d", other, id, order).
				AddMeta("order", order)
		}
		taken[order] = id
	}

	changed := map[uuid.UUID]int{}
	for _, s := range steps {
		if final[s.ID] != s.Order {
			changed[s.ID] = final[s.ID]
		}
	}
	return changed, nil
}

// syncTemplateOrder moves the template steps matching the moved instance
// steps (by name and old order) to the instance steps' new orders, in its own
// transaction. A move that would collide with an unmatched template step
// cancels the whole sync.
func (e *Engine) syncTemplateOrder(ctx context.Context, templateID uuid.UUID, moved []models.Step, current []models.Step) (int, []Mismatch, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.syncTemplateOrder")
	defer span.End()

	newOrder := make(map[uuid.UUID]int, len(current))
	for _, s := range current {
		newOrder[s.ID] = s.Order
	}

	var (
		synced     int
		mismatches []Mismatch
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		synced = 0
		mismatches = nil

		template, err := e.store.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		orders := map[uuid.UUID]int{}
		claimed := map[uuid.UUID]bool{}
		for _, step := range moved {
			idx := findMatch(e.matcher, template.Steps, step)
			if idx < 0 || claimed[template.Steps[idx].ID] {
				mismatches = append(mismatches, Mismatch{
					StepID: step.ID,
					Name:   step.Name,
					Order:  step.Order,
					Reason: "no template step matches this name and order",
				})
				continue
			}
			ts := template.Steps[idx]
			claimed[ts.ID] = true
			if ts.Order != newOrder[step.ID] {
				orders[ts.ID] = newOrder[step.ID]
			}
		}

		if len(orders) == 0 {
			return nil
		}

		if conflicts := templateOrderConflicts(template.Steps, orders); len(conflicts) > 0 {
			mismatches = append(mismatches, conflicts...)
			return apperrors.SyncMismatch("template %s order sync would duplicate step orders", templateID)
		}

		if err := e.store.SetTemplateStepOrders(ctx, templateID, orders); err != nil {
			return err
		}
		synced = len(orders)
		return nil
	})

	for _, m := range mismatches {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"template_id": templateID,
			"step_id":     m.StepID,
			"step_name":   m.Name,
			"order":       m.Order,
		}).Warnf("template sync mismatch: %s", m.Reason)
	}

	if err != nil {
		return 0, mismatches, err
	}
	return synced, mismatches, nil
}

func templateOrderConflicts(templateSteps []models.TemplateStep, orders map[uuid.UUID]int) []Mismatch {
	owner := make(map[int]models.TemplateStep, len(templateSteps))
	var conflicts []Mismatch
	for _, ts := range templateSteps {
		order := ts.Order
		if o, ok := orders[ts.ID]; ok {
			order = o
		}
		if other, ok := owner[order]; ok {
			conflicts = append(conflicts, Mismatch{
				Name:   ts.Name,
				Order:  order,
				Reason: fmt.Sprintf("template step %q already holds order %d", other.Name, order),
			})
			continue
		}
		owner[order] = ts
	}
	return conflicts
}
