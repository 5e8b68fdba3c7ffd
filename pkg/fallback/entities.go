package fallback

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// CreateEntity assigns the next display code for the entity's kind. Codes are
// counted per store instance.
func (s *Store) CreateEntity(ctx context.Context, entity *models.Entity) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.entities[entity.ID]; ok {
			return apperrors.Validation("entity %s already exists", entity.ID)
		}
		st.sequences[entity.Kind]++
		entity.Code = entity.Kind.FormatCode(st.sequences[entity.Kind])
		st.entities[entity.ID] = *entity
		return nil
	})
}

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	var entity models.Entity
	err := s.read(ctx, func(st *state) error {
		row, ok := st.entities[id]
		if !ok {
			return apperrors.NotFound("entity %s does not exist", id)
		}
		entity = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// LockEntity is GetEntity: transactions already hold the store lock.
func (s *Store) LockEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return s.GetEntity(ctx, id)
}

func (s *Store) ListEntities(ctx context.Context, filter models.EntityFilter) ([]models.Entity, error) {
	entities := []models.Entity{}
	err := s.read(ctx, func(st *state) error {
		for _, row := range st.entities {
			if filter.Matches(row) {
				entities = append(entities, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entities, func(i, j int) bool {
		if !entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].CreatedAt.After(entities[j].CreatedAt)
		}
		return entities[i].Code > entities[j].Code
	})
	return entities, nil
}

func (s *Store) UpdateEntityStatus(ctx context.Context, id uuid.UUID, status models.EntityStatus) error {
	return s.updateEntity(ctx, id, func(e *models.Entity) {
		e.Status = status
	})
}

func (s *Store) SetEntityTemplate(ctx context.Context, id uuid.UUID, templateID *uuid.UUID) error {
	return s.updateEntity(ctx, id, func(e *models.Entity) {
		e.TemplateID = templateID
	})
}

func (s *Store) SetEntityProbability(ctx context.Context, id uuid.UUID, probability int) error {
	return s.updateEntity(ctx, id, func(e *models.Entity) {
		e.Probability = probability
	})
}

func (s *Store) updateEntity(ctx context.Context, id uuid.UUID, fn func(e *models.Entity)) error {
	return s.write(ctx, func(st *state) error {
		row, ok := st.entities[id]
		if !ok {
			return apperrors.NotFound("entity %s does not exist", id)
		}
		fn(&row)
		row.UpdatedAt = time.Now().UTC()
		st.entities[id] = row
		return nil
	})
}
