package workflow

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CreateTemplate stores a new active template. Steps without an order are
// appended after the highest explicit order, in input order.
func (e *Engine) CreateTemplate(ctx context.Context, input TemplateInput) (*models.Template, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.CreateTemplate")
	defer span.End()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.Validation("template name is required")
	}

	now := e.now()
	template := &models.Template{
		ID:          uuid.New(),
		Name:        name,
		Description: input.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	next := 0
	for _, s := range input.Steps {
		if s.Order > next {
			next = s.Order
		}
	}

	used := map[int]bool{}
	for _, s := range input.Steps {
		if err := validateTemplateStep(s.Name, s.Weight, s.EstimatedDuration); err != nil {
			return nil, err
		}
		order := s.Order
		if order < 0 {
			return nil, apperrors.Validation("step order must be positive, got %d", order)
		}
		if order == 0 {
			next++
			order = next
		}
		if used[order] {
			return nil, apperrors.Validation("duplicate step order %d", order)
		}
		used[order] = true

		template.Steps = append(template.Steps, models.TemplateStep{
			ID:                uuid.New(),
			TemplateID:        template.ID,
			Name:              strings.TrimSpace(s.Name),
			Description:       s.Description,
			Order:             order,
			EstimatedDuration: s.EstimatedDuration,
			Weight:            s.Weight,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	sortTemplateSteps(template.Steps)

	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		return e.store.CreateTemplate(ctx, template)
	})
	if err != nil {
		return nil, err
	}

	e.warnWeightTotal(ctx, template)
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id": template.ID,
		"step_count":  len(template.Steps),
	}).Info("Created template")
	return template, nil
}

func (e *Engine) GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.GetTemplate")
	defer span.End()

	return e.store.GetTemplate(ctx, id)
}

func (e *Engine) ListTemplates(ctx context.Context, activeOnly bool) ([]models.Template, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.ListTemplates")
	defer span.End()

	return e.store.ListTemplates(ctx, activeOnly)
}

// AddTemplateStep appends a step to a template; order 0 means last.
func (e *Engine) AddTemplateStep(ctx context.Context, templateID uuid.UUID, input TemplateStepInput) (*models.TemplateStep, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.AddTemplateStep")
	defer span.End()

	if err := validateTemplateStep(input.Name, input.Weight, input.EstimatedDuration); err != nil {
		return nil, err
	}
	if input.Order < 0 {
		return nil, apperrors.Validation("step order must be positive, got %d", input.Order)
	}

	var (
		step     *models.TemplateStep
		template *models.Template
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		template, err = e.store.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		order := input.Order
		if order == 0 {
			order = template.MaxOrder() + 1
		}
		for _, existing := range template.Steps {
			if existing.Order == order {
				return apperrors.Validation("template already has a step at order %d", order)
			}
		}

		now := e.now()
		step = &models.TemplateStep{
			ID:                uuid.New(),
			TemplateID:        templateID,
			Name:              strings.TrimSpace(input.Name),
			Description:       input.Description,
			Order:             order,
			EstimatedDuration: input.EstimatedDuration,
			Weight:            input.Weight,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.store.CreateTemplateStep(ctx, step); err != nil {
			return err
		}
		template.Steps = append(template.Steps, *step)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.warnWeightTotal(ctx, template)
	return step, nil
}

// UpdateTemplateStep edits a blueprint step. Existing instances are not
// touched until SyncWeights runs for them.
func (e *Engine) UpdateTemplateStep(ctx context.Context, templateID, stepID uuid.UUID, patch TemplateStepPatch) (*models.TemplateStep, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.UpdateTemplateStep")
	defer span.End()

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, apperrors.Validation("step name cannot be empty")
	}
	if err := validateWeight(patch.Weight); err != nil {
		return nil, err
	}
	if err := validateDuration(patch.EstimatedDuration); err != nil {
		return nil, err
	}
	if patch.Order != nil && *patch.Order <= 0 {
		return nil, apperrors.Validation("step order must be positive, got %d", *patch.Order)
	}

	var (
		step     *models.TemplateStep
		template *models.Template
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		template, err = e.store.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		idx := -1
		for i, s := range template.Steps {
			if s.ID == stepID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperrors.NotFound("template step %s does not exist", stepID)
		}

		updated := template.Steps[idx]
		if patch.Order != nil && *patch.Order != updated.Order {
			for _, s := range template.Steps {
				if s.ID != stepID && s.Order == *patch.Order {
					return apperrors.Validation("template already has a step at order %d", *patch.Order)
				}
			}
			updated.Order = *patch.Order
		}
		if patch.Name != nil {
			updated.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			updated.Description = patch.Description
		}
		if patch.EstimatedDuration != nil {
			updated.EstimatedDuration = patch.EstimatedDuration
		}
		if patch.Weight != nil {
			updated.Weight = patch.Weight
		}
		updated.UpdatedAt = e.now()

		if err := e.store.UpdateTemplateStep(ctx, &updated); err != nil {
			return err
		}
		template.Steps[idx] = updated
		step = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.warnWeightTotal(ctx, template)
	return step, nil
}

// DeactivateTemplate soft-deletes a template. Entities keep their steps and
// their template reference.
func (e *Engine) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.DeactivateTemplate")
	defer span.End()

	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := e.store.GetTemplate(ctx, id); err != nil {
			return err
		}
		return e.store.SetTemplateActive(ctx, id, false)
	})
	if err != nil {
		return err
	}

	e.logger.WithContext(ctx).WithField("template_id", id).Info("Deactivated template")
	return nil
}

// warnWeightTotal flags templates whose weights do not total 100. They are
// kept as they are.
func (e *Engine) warnWeightTotal(ctx context.Context, template *models.Template) {
	if template == nil || len(template.Steps) == 0 {
		return
	}
	total := template.WeightTotal()
	if total == 100 {
		return
	}
	metrics.RecordTemplateWeightWarning()
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id":  template.ID,
		"weight_total": total,
	}).Warn("template step weights do not total 100")
}

func validateTemplateStep(name string, weight *float64, days *int) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.Validation("step name is required")
	}
	if err := validateWeight(weight); err != nil {
		return err
	}
	return validateDuration(days)
}

func sortTemplateSteps(steps []models.TemplateStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}
