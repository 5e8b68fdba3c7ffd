package fallback

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func (s *Store) CreateTemplate(ctx context.Context, template *models.Template) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.templates[template.ID]; ok {
			return apperrors.Validation("template %s already exists", template.ID)
		}
		orders := map[int]bool{}
		for _, step := range template.Steps {
			if orders[step.Order] {
				return apperrors.Validation("duplicate step order %d", step.Order)
			}
			orders[step.Order] = true
		}

		row := *template
		row.Steps = nil
		st.templates[template.ID] = row
		for _, step := range template.Steps {
			step.TemplateID = template.ID
			st.templateSteps[step.ID] = step
		}
		return nil
	})
}

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	var template models.Template
	err := s.read(ctx, func(st *state) error {
		row, ok := st.templates[id]
		if !ok {
			return apperrors.NotFound("template %s does not exist", id)
		}
		template = withSteps(st, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]models.Template, error) {
	templates := []models.Template{}
	err := s.read(ctx, func(st *state) error {
		for _, row := range st.templates {
			if activeOnly && !row.IsActive {
				continue
			}
			templates = append(templates, withSteps(st, row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Name != templates[j].Name {
			return templates[i].Name < templates[j].Name
		}
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})
	return templates, nil
}

func (s *Store) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.write(ctx, func(st *state) error {
		row, ok := st.templates[id]
		if !ok {
			return apperrors.NotFound("template %s does not exist", id)
		}
		row.IsActive = active
		st.templates[id] = row
		return nil
	})
}

func (s *Store) CreateTemplateStep(ctx context.Context, step *models.TemplateStep) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.templates[step.TemplateID]; !ok {
			return apperrors.NotFound("template %s does not exist", step.TemplateID)
		}
		for _, existing := range st.templateStepsOf(step.TemplateID) {
			if existing.Order == step.Order {
				return apperrors.Validation("template already has a step at order %d", step.Order)
			}
		}
		st.templateSteps[step.ID] = *step
		return nil
	})
}

func (s *Store) UpdateTemplateStep(ctx context.Context, step *models.TemplateStep) error {
	return s.write(ctx, func(st *state) error {
		current, ok := st.templateSteps[step.ID]
		if !ok || current.TemplateID != step.TemplateID {
			return apperrors.NotFound("template step %s does not exist", step.ID)
		}
		for _, existing := range st.templateStepsOf(step.TemplateID) {
			if existing.ID != step.ID && existing.Order == step.Order {
				return apperrors.Validation("template already has a step at order %d", step.Order)
			}
		}
		st.templateSteps[step.ID] = *step
		return nil
	})
}

func (s *Store) SetTemplateStepOrders(ctx context.Context, templateID uuid.UUID, orders map[uuid.UUID]int) error {
	return s.write(ctx, func(st *state) error {
		final := map[uuid.UUID]int{}
		for _, step := range st.templateStepsOf(templateID) {
			final[step.ID] = step.Order
		}
		for id, order := range orders {
			if _, ok := final[id]; !ok {
				return apperrors.NotFound("template step %s does not belong to template %s", id, templateID)
			}
			final[id] = order
		}
		if err := uniqueOrders(final); err != nil {
			return err
		}

		for id, order := range orders {
			step := st.templateSteps[id]
			step.Order = order
			st.templateSteps[id] = step
		}
		return nil
	})
}

func withSteps(st *state, row models.Template) models.Template {
	steps := st.templateStepsOf(row.ID)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	if steps == nil {
		steps = []models.TemplateStep{}
	}
	row.Steps = steps
	return row
}

func uniqueOrders(orders map[uuid.UUID]int) error {
	seen := make(map[int]bool, len(orders))
	for _, order := range orders {
		if seen[order] {
			return apperrors.Validation("order %d would be held by more than one step", order)
		}
		seen[order] = true
	}
	return nil
}
