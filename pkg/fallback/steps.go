package fallback

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func (s *Store) CreateSteps(ctx context.Context, steps []models.Step) error {
	return s.write(ctx, func(st *state) error {
		orders := map[uuid.UUID]map[int]bool{}
		for _, step := range steps {
			if _, ok := st.entities[step.EntityID]; !ok {
				return apperrors.NotFound("entity %s does not exist", step.EntityID)
			}
			if orders[step.EntityID] == nil {
				orders[step.EntityID] = map[int]bool{}
				for _, existing := range st.stepsOf(step.EntityID) {
					orders[step.EntityID][existing.Order] = true
				}
			}
			if orders[step.EntityID][step.Order] {
				return apperrors.Validation("entity %s already has a step at order %d", step.EntityID, step.Order)
			}
			orders[step.EntityID][step.Order] = true
			st.steps[step.ID] = step
		}
		return nil
	})
}

func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*models.Step, error) {
	var step models.Step
	err := s.read(ctx, func(st *state) error {
		row, ok := st.steps[id]
		if !ok {
			return apperrors.NotFound("step %s does not exist", id)
		}
		step = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *Store) ListSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, error) {
	var steps []models.Step
	err := s.read(ctx, func(st *state) error {
		steps = st.stepsOf(entityID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	if steps == nil {
		steps = []models.Step{}
	}
	return steps, nil
}

func (s *Store) UpdateStep(ctx context.Context, step *models.Step) error {
	return s.write(ctx, func(st *state) error {
		current, ok := st.steps[step.ID]
		if !ok {
			return apperrors.NotFound("step %s does not exist", step.ID)
		}
		// order and owner only change through SetStepOrders
		updated := *step
		updated.EntityID = current.EntityID
		updated.Order = current.Order
		updated.CreatedAt = current.CreatedAt
		st.steps[step.ID] = updated
		return nil
	})
}

func (s *Store) DeleteStep(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.steps[id]; !ok {
			return apperrors.NotFound("step %s does not exist", id)
		}
		delete(st.steps, id)
		return nil
	})
}

func (s *Store) DeleteEntitySteps(ctx context.Context, entityID uuid.UUID) (int, error) {
	removed := 0
	err := s.write(ctx, func(st *state) error {
		for _, step := range st.stepsOf(entityID) {
			delete(st.steps, step.ID)
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *Store) SetStepOrders(ctx context.Context, entityID uuid.UUID, orders map[uuid.UUID]int) error {
	return s.write(ctx, func(st *state) error {
		final := map[uuid.UUID]int{}
		for _, step := range st.stepsOf(entityID) {
			final[step.ID] = step.Order
		}
		for id, order := range orders {
			if _, ok := final[id]; !ok {
				return apperrors.NotFound("step %s does not belong to entity %s", id, entityID)
			}
			final[id] = order
		}
		if err := uniqueOrders(final); err != nil {
			return err
		}

		for id, order := range orders {
			step := st.steps[id]
			step.Order = order
			st.steps[id] = step
		}
		return nil
	})
}
