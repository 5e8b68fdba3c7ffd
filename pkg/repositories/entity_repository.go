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
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const entitiesTable = "pipeline_entities"

var entityStruct = database.NewStruct(new(models.Entity))

// codeSequences holds the Postgres sequence backing each kind's display code.
var codeSequences = map[models.EntityKind]string{
	models.EntityKindLead: "lead_code_seq",
	models.EntityKindVC:   "vc_code_seq",
}

// EntityRepository handles database operations for leads and VCs
type EntityRepository struct {
	*Repository
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db database.DB, logger ectologger.Logger) *EntityRepository {
	return &EntityRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateEntity draws the next display code from the kind's sequence and
// inserts the entity
func (r *EntityRepository) CreateEntity(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.CreateEntity")
	defer span.End()

	sequence, ok := codeSequences[entity.Kind]
	if !ok {
		return apperrors.Validation("unknown entity kind %q", entity.Kind)
	}
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	var next int64
	err := r.q(ctx).QueryRowxContext(ctx, "SELECT nextval($1::regclass)", sequence).Scan(&next)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"sequence": sequence,
		}).Error("failed to allocate entity code")
		return fmt.Errorf("failed to allocate entity code: %w", err)
	}
	entity.Code = entity.Kind.FormatCode(next)

	ib := database.NewInsertBuilder()
	ib.InsertInto(entitiesTable).
		Cols("id", "kind", "code", "name", "company", "status", "template_id", "probability", "metadata", "created_at", "updated_at").
		Values(entity.ID, entity.Kind, entity.Code, entity.Name, entity.Company, entity.Status, entity.TemplateID,
			entity.Probability, entity.Metadata, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.q(ctx).QueryRowxContext(ctx, query, args...).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entity.ID,
			"kind":      entity.Kind,
		}).Error("failed to create entity")
		return fmt.Errorf("failed to create entity: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"code":      entity.Code,
	}).Debugf("Created %s", entitiesTable)
	return nil
}

// GetEntity retrieves an entity by ID
func (r *EntityRepository) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.GetEntity")
	defer span.End()

	return r.getEntity(ctx, id, false)
}

// LockEntity retrieves an entity and holds a row lock until the surrounding
// transaction ends
func (r *EntityRepository) LockEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.LockEntity")
	defer span.End()

	return r.getEntity(ctx, id, true)
}

func (r *EntityRepository) getEntity(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Entity, error) {
	sb := entityStruct.SelectFrom(entitiesTable)
	sb.Where(sb.Equal("id", id))
	if forUpdate {
		sb.SQL("FOR UPDATE")
	}

	query, args := sb.Build()
	var entity models.Entity
	err := r.q(ctx).GetContext(ctx, &entity, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("entity %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id":  id,
			"for_update": forUpdate,
		}).Error("failed to get entity by ID")
		return nil, fmt.Errorf("failed to get entity by ID: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": id,
	}).Debugf("Retrieved %s by ID: %s", entitiesTable, id)
	return &entity, nil
}

// ListEntities retrieves entities matching the filter, newest first
func (r *EntityRepository) ListEntities(ctx context.Context, filter models.EntityFilter) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.ListEntities")
	defer span.End()

	sb := entityStruct.SelectFrom(entitiesTable)
	if filter.Kind != nil {
		sb.Where(sb.Equal("kind", *filter.Kind))
	}
	if filter.Status != nil {
		sb.Where(sb.Equal("status", *filter.Status))
	}
	sb.OrderBy("created_at DESC", "code DESC")

	query, args := sb.Build()
	entities := []models.Entity{}
	err := r.q(ctx).SelectContext(ctx, &entities, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list entities")
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_count": len(entities),
	}).Debugf("Listed %s", entitiesTable)
	return entities, nil
}

// UpdateEntityStatus sets the entity's pipeline status
func (r *EntityRepository) UpdateEntityStatus(ctx context.Context, id uuid.UUID, status models.EntityStatus) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.UpdateEntityStatus")
	defer span.End()

	return r.updateColumn(ctx, id, "status", status)
}

// SetEntityTemplate points the entity at another template (or none)
func (r *EntityRepository) SetEntityTemplate(ctx context.Context, id uuid.UUID, templateID *uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.SetEntityTemplate")
	defer span.End()

	return r.updateColumn(ctx, id, "template_id", templateID)
}

// SetEntityProbability stores the recomputed probability
func (r *EntityRepository) SetEntityProbability(ctx context.Context, id uuid.UUID, probability int) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.SetEntityProbability")
	defer span.End()

	return r.updateColumn(ctx, id, "probability", probability)
}

func (r *EntityRepository) updateColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	ub := database.NewUpdateBuilder()
	ub.Update(entitiesTable).
		Set(
			ub.Assign(column, value),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": id,
			"column":    column,
		}).Error("failed to update entity")
		return fmt.Errorf("failed to update entity %s: %w", column, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return NotFound("entity %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": id,
		"column":    column,
	}).Debugf("Updated %s", entitiesTable)
	return nil
}
