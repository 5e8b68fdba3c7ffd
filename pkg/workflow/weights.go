package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SyncWeights copies weights from the matching template steps (or the default
// sequence) onto the entity's steps and recomputes its probability. This is
// the only path besides an explicit edit that changes a step's weight.
func (e *Engine) SyncWeights(ctx context.Context, entityID uuid.UUID) (SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.SyncWeights")
	defer span.End()

	result := SyncResult{EntityID: entityID, Mismatches: []Mismatch{}}
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		result.Updated = 0
		result.Mismatches = []Mismatch{}

		entity, err := e.store.LockEntity(ctx, entityID)
		if err != nil {
			return err
		}

		blueprint, err := e.blueprint(ctx, entity.TemplateID)
		if err != nil {
			return err
		}

		steps, err := e.store.ListSteps(ctx, entityID)
		if err != nil {
			return err
		}

		for i := range steps {
			step := &steps[i]
			idx := findMatch(e.matcher, blueprint, *step)
			if idx < 0 {
				result.Mismatches = append(result.Mismatches, Mismatch{
					StepID: step.ID,
					Name:   step.Name,
					Order:  step.Order,
					Reason: "no template step matches this name and order",
				})
				continue
			}

			weight := blueprint[idx].Weight
			if sameWeight(step.Weight, weight) {
				continue
			}
			step.Weight = copyFloat(weight)
			step.UpdatedAt = e.now()
			if err := e.store.UpdateStep(ctx, step); err != nil {
				return err
			}
			result.Updated++
		}

		result.PreviousProbability, result.Probability, err = e.recompute(ctx, entity)
		if err != nil {
			return err
		}
		result.Steps = steps
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}

	metrics.RecordSyncMismatches("weights", len(result.Mismatches))
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entityID,
		"updated":     result.Updated,
		"mismatches":  len(result.Mismatches),
		"probability": result.Probability,
	}).Info("Synced step weights")
	return result, nil
}

func sameWeight(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
