package workflow

import (
	"context"
	"math"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Probability is round(sum of completed step weights) clamped to [0,100].
// Steps without a weight contribute nothing.
func Probability(steps []models.Step) int {
	total := 0.0
	for _, s := range steps {
		if s.Status != models.StepStatusCompleted || s.Weight == nil {
			continue
		}
		total += *s.Weight
	}

	p := int(math.Round(total))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// recompute stores the entity's probability derived from its current steps.
// The entity must have been read with LockEntity in the same transaction.
func (e *Engine) recompute(ctx context.Context, entity *models.Entity) (previous, next int, err error) {
	steps, err := e.store.ListSteps(ctx, entity.ID)
	if err != nil {
		return 0, 0, err
	}

	previous = entity.Probability
	next = Probability(steps)
	if next != previous {
		if err := e.store.SetEntityProbability(ctx, entity.ID, next); err != nil {
			return 0, 0, err
		}
		entity.Probability = next
	}

	metrics.ObserveProbability(string(entity.Kind), next)
	return previous, next, nil
}
