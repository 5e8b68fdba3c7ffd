package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const stepsTable = "pipeline_steps"

var stepStruct = database.NewStruct(new(models.Step))

// StepRepository handles database operations for step instances
type StepRepository struct {
	*Repository
}

// NewStepRepository creates a new step repository
func NewStepRepository(db database.DB, logger ectologger.Logger) *StepRepository {
	return &StepRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateSteps inserts all steps in one statement
func (r *StepRepository) CreateSteps(ctx context.Context, steps []models.Step) error {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.CreateSteps")
	defer span.End()

	if len(steps) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(stepsTable).
		Cols("id", "entity_id", "name", "description", "status", "step_order", "weight", "due_date",
			"completed_date", "estimated_duration", "assignee", "created_at", "updated_at")
	for i := range steps {
		if steps[i].ID == uuid.Nil {
			steps[i].ID = uuid.New()
		}
		s := steps[i]
		ib.Values(s.ID, s.EntityID, s.Name, s.Description, s.Status, s.Order, s.Weight, s.DueDate,
			s.CompletedDate, s.EstimatedDuration, s.Assignee, s.CreatedAt, s.UpdatedAt)
	}

	query, args := ib.Build()
	if _, err := r.q(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id":  steps[0].EntityID,
			"step_count": len(steps),
		}).Error("failed to create steps")
		return fmt.Errorf("failed to create steps: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":  steps[0].EntityID,
		"step_count": len(steps),
	}).Debugf("Created %s", stepsTable)
	return nil
}

// GetStep retrieves a step by ID
func (r *StepRepository) GetStep(ctx context.Context, id uuid.UUID) (*models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.GetStep")
	defer span.End()

	sb := stepStruct.SelectFrom(stepsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var step models.Step
	err := r.q(ctx).GetContext(ctx, &step, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("step %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"step_id": id,
		}).Error("failed to get step by ID")
		return nil, fmt.Errorf("failed to get step by ID: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id": id,
	}).Debugf("Retrieved %s by ID: %s", stepsTable, id)
	return &step, nil
}

// ListSteps retrieves the entity's steps ordered by step order
func (r *StepRepository) ListSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.ListSteps")
	defer span.End()

	sb := stepStruct.SelectFrom(stepsTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("step_order")

	query, args := sb.Build()
	steps := []models.Step{}
	err := r.q(ctx).SelectContext(ctx, &steps, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
		}).Error("failed to list steps")
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":  entityID,
		"step_count": len(steps),
	}).Debugf("Listed %s", stepsTable)
	return steps, nil
}

// UpdateStep writes every mutable column. Order and owner are left alone;
// they only change through SetStepOrders.
func (r *StepRepository) UpdateStep(ctx context.Context, step *models.Step) error {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.UpdateStep")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(stepsTable).
		Set(
			ub.Assign("name", step.Name),
			ub.Assign("description", step.Description),
			ub.Assign("status", step.Status),
			ub.Assign("weight", step.Weight),
			ub.Assign("due_date", step.DueDate),
			ub.Assign("completed_date", step.CompletedDate),
			ub.Assign("estimated_duration", step.EstimatedDuration),
			ub.Assign("assignee", step.Assignee),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", step.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.q(ctx).QueryRowxContext(ctx, query, args...).Scan(&step.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("step %s does not exist", step.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"step_id": step.ID,
		}).Error("failed to update step")
		return fmt.Errorf("failed to update step: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id": step.ID,
		"status":  step.Status,
	}).Debugf("Updated %s", stepsTable)
	return nil
}

// DeleteStep deletes a step; its comments cascade
func (r *StepRepository) DeleteStep(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.DeleteStep")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(stepsTable).Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := r.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"step_id": id,
		}).Error("failed to delete step")
		return fmt.Errorf("failed to delete step: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return NotFound("step %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id": id,
	}).Debugf("Deleted %s", stepsTable)
	return nil
}

// DeleteEntitySteps removes every step of the entity and reports how many
// were removed
func (r *StepRepository) DeleteEntitySteps(ctx context.Context, entityID uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.DeleteEntitySteps")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(stepsTable).Where(db.Equal("entity_id", entityID))

	query, args := db.Build()
	result, err := r.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
		}).Error("failed to delete entity steps")
		return 0, fmt.Errorf("failed to delete entity steps: %w", err)
	}
	affected, _ := result.RowsAffected()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entityID,
		"removed":   affected,
	}).Debugf("Deleted %s", stepsTable)
	return int(affected), nil
}

// SetStepOrders moves the given steps in two phases inside the caller's
// transaction, so no reader ever sees two steps at one order.
func (r *StepRepository) SetStepOrders(ctx context.Context, entityID uuid.UUID, orders map[uuid.UUID]int) error {
	ctx, span := tracing.StartSpan(ctx, "StepRepository.SetStepOrders")
	defer span.End()

	if len(orders) == 0 {
		return nil
	}
	if err := r.setOrders(ctx, stepsTable, "entity_id", entityID, orders); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entityID,
		"moved":     len(orders),
	}).Debugf("Reordered %s", stepsTable)
	return nil
}
