package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	templatesTable     = "pipeline_templates"
	templateStepsTable = "pipeline_template_steps"
)

var (
	templateStruct     = database.NewStruct(new(models.Template))
	templateStepStruct = database.NewStruct(new(models.TemplateStep))
)

// TemplateRepository handles database operations for templates and their steps
type TemplateRepository struct {
	*Repository
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db database.DB, logger ectologger.Logger) *TemplateRepository {
	return &TemplateRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateTemplate inserts the template row and all of its steps
func (r *TemplateRepository) CreateTemplate(ctx context.Context, template *models.Template) error {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.CreateTemplate")
	defer span.End()

	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(templatesTable).
		Cols("id", "name", "description", "is_active", "created_at", "updated_at").
		Values(template.ID, template.Name, template.Description, template.IsActive,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.q(ctx).QueryRowxContext(ctx, query, args...).Scan(&template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_id": template.ID,
		}).Error("failed to create template")
		return fmt.Errorf("failed to create template: %w", err)
	}

	for i := range template.Steps {
		template.Steps[i].TemplateID = template.ID
		if err := r.CreateTemplateStep(ctx, &template.Steps[i]); err != nil {
			return err
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id": template.ID,
		"step_count":  len(template.Steps),
	}).Debugf("Created %s", templatesTable)
	return nil
}

// GetTemplate retrieves a template with its steps ordered by step order
func (r *TemplateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.GetTemplate")
	defer span.End()

	sb := templateStruct.SelectFrom(templatesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var template models.Template
	err := r.q(ctx).GetContext(ctx, &template, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("template %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_id": id,
		}).Error("failed to get template by ID")
		return nil, fmt.Errorf("failed to get template by ID: %w", err)
	}

	steps, err := r.listTemplateSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	template.Steps = steps

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id": id,
	}).Debugf("Retrieved %s by ID: %s", templatesTable, id)
	return &template, nil
}

// ListTemplates retrieves templates ordered by name, each with its steps
func (r *TemplateRepository) ListTemplates(ctx context.Context, activeOnly bool) ([]models.Template, error) {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.ListTemplates")
	defer span.End()

	sb := templateStruct.SelectFrom(templatesTable)
	if activeOnly {
		sb.Where(sb.Equal("is_active", true))
	}
	sb.OrderBy("name", "created_at")

	query, args := sb.Build()
	templates := []models.Template{}
	err := r.q(ctx).SelectContext(ctx, &templates, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"active_only": activeOnly,
		}).Error("failed to list templates")
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	if len(templates) == 0 {
		return templates, nil
	}

	ids := make([]any, 0, len(templates))
	for _, t := range templates {
		ids = append(ids, t.ID)
	}
	ssb := templateStepStruct.SelectFrom(templateStepsTable)
	ssb.Where(ssb.In("template_id", ids...))
	ssb.OrderBy("template_id", "step_order")

	query, args = ssb.Build()
	var steps []models.TemplateStep
	if err := r.q(ctx).SelectContext(ctx, &steps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_count": len(templates),
		}).Error("failed to list template steps")
		return nil, fmt.Errorf("failed to list template steps: %w", err)
	}

	byTemplate := map[uuid.UUID][]models.TemplateStep{}
	for _, s := range steps {
		byTemplate[s.TemplateID] = append(byTemplate[s.TemplateID], s)
	}
	for i := range templates {
		templates[i].Steps = byTemplate[templates[i].ID]
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_count": len(templates),
	}).Debugf("Listed %s", templatesTable)
	return templates, nil
}

// SetTemplateActive soft-deletes or restores a template
func (r *TemplateRepository) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.SetTemplateActive")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(templatesTable).
		Set(
			ub.Assign("is_active", active),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_id": id,
			"is_active":   active,
		}).Error("failed to set template active flag")
		return fmt.Errorf("failed to set template active flag: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return NotFound("template %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id": id,
		"is_active":   active,
	}).Debugf("Updated %s", templatesTable)
	return nil
}

// CreateTemplateStep inserts one blueprint step
func (r *TemplateRepository) CreateTemplateStep(ctx context.Context, step *models.TemplateStep) error {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.CreateTemplateStep")
	defer span.End()

	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(templateStepsTable).
		Cols("id", "template_id", "name", "description", "step_order", "estimated_duration", "weight", "created_at", "updated_at").
		Values(step.ID, step.TemplateID, step.Name, step.Description, step.Order, step.EstimatedDuration, step.Weight,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.q(ctx).QueryRowxContext(ctx, query, args...).Scan(&step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_id": step.TemplateID,
			"step_order":  step.Order,
		}).Error("failed to create template step")
		return fmt.Errorf("failed to create template step: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id":      step.TemplateID,
		"template_step_id": step.ID,
	}).Debugf("Created %s", templateStepsTable)
	return nil
}

// UpdateTemplateStep updates an existing blueprint step
func (r *TemplateRepository) UpdateTemplateStep(ctx context.Context, step *models.TemplateStep) error {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.UpdateTemplateStep")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(templateStepsTable).
		Set(
			ub.Assign("name", step.Name),
			ub.Assign("description", step.Description),
			ub.Assign("step_order", step.Order),
			ub.Assign("estimated_duration", step.EstimatedDuration),
			ub.Assign("weight", step.Weight),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", step.ID), ub.Equal("template_id", step.TemplateID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.q(ctx).QueryRowxContext(ctx, query, args...).Scan(&step.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("template step %s does not exist", step.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_step_id": step.ID,
		}).Error("failed to update template step")
		return fmt.Errorf("failed to update template step: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_step_id": step.ID,
	}).Debugf("Updated %s", templateStepsTable)
	return nil
}

// SetTemplateStepOrders moves the given steps in two phases: first parked at
// their negated order, then to their final order. Must run in a transaction.
func (r *TemplateRepository) SetTemplateStepOrders(ctx context.Context, templateID uuid.UUID, orders map[uuid.UUID]int) error {
	ctx, span := tracing.StartSpan(ctx, "TemplateRepository.SetTemplateStepOrders")
	defer span.End()

	if len(orders) == 0 {
		return nil
	}
	err := r.setOrders(ctx, templateStepsTable, "template_id", templateID, orders)
	if err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"template_id": templateID,
		"moved":       len(orders),
	}).Debugf("Reordered %s", templateStepsTable)
	return nil
}

func (r *TemplateRepository) listTemplateSteps(ctx context.Context, templateID uuid.UUID) ([]models.TemplateStep, error) {
	sb := templateStepStruct.SelectFrom(templateStepsTable)
	sb.Where(sb.Equal("template_id", templateID))
	sb.OrderBy("step_order")

	query, args := sb.Build()
	var steps []models.TemplateStep
	if err := r.q(ctx).SelectContext(ctx, &steps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template_id": templateID,
		}).Error("failed to list template steps")
		return nil, fmt.Errorf("failed to list template steps: %w", err)
	}
	return steps, nil
}

// setOrders is the shared two-phase order update for step tables keyed by a
// parent column.
func (r *Repository) setOrders(ctx context.Context, table, parentColumn string, parentID uuid.UUID, orders map[uuid.UUID]int) error {
	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id.String())
	}

	park := fmt.Sprintf(
		"UPDATE %s SET step_order = -step_order, updated_at = NOW() WHERE %s = $1 AND id = ANY($2::uuid[])",
		table, parentColumn,
	)
	result, err := r.q(ctx).ExecContext(ctx, park, parentID, pq.Array(ids))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":     table,
			"parent_id": parentID,
		}).Error("failed to park step orders")
		return fmt.Errorf("failed to park step orders: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected != int64(len(ids)) {
		return NotFound("%d of %d steps do not belong to %s", int64(len(ids))-affected, len(ids), parentID)
	}

	for id, order := range orders {
		ub := database.NewUpdateBuilder()
		ub.Update(table).
			Set(ub.Assign("step_order", order)).
			Where(ub.Equal(parentColumn, parentID), ub.Equal("id", id))

		query, args := ub.Build()
		if _, err := r.q(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"table":      table,
				"step_id":    id,
				"step_order": order,
			}).Error("failed to set step order")
			return fmt.Errorf("failed to set step order: %w", err)
		}
	}
	return nil
}
