// Package pipeline is the public facade over the workflow engine. Each call
// runs through the resilience layer under a fixed policy, keeps the step
// cache coherent and publishes change events for durable writes.
package pipeline

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/cache"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resilience"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

// Result carries an operation's data and whether it was served by the
// non-durable fallback store.
type Result[T any] struct {
	Data     T    `json:"data"`
	Degraded bool `json:"degraded"`
}

type Service struct {
	layer     *resilience.Layer
	cache     cache.StepCache
	publisher events.Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewService builds the facade. A nil cache or publisher disables that concern.
func NewService(layer *resilience.Layer, stepCache cache.StepCache, publisher events.Publisher, logger ectologger.Logger) *Service {
	if stepCache == nil {
		stepCache = cache.Noop{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		layer:     layer,
		cache:     stepCache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func run[T any](ctx context.Context, s *Service, name string, policy resilience.Policy, op resilience.Op[T]) (Result[T], error) {
	data, degraded, err := resilience.Execute(ctx, s.layer, name, policy, op)
	if err != nil {
		return Result[T]{}, err
	}
	return Result[T]{Data: data, Degraded: degraded}, nil
}

// afterWrite drops stale cache entries and publishes events once a write has
// committed to the primary store. Degraded writes never reached it.
func (s *Service) afterWrite(ctx context.Context, degraded bool, entityIDs []uuid.UUID, evts ...events.Event) {
	if degraded {
		return
	}
	s.cache.Invalidate(ctx, entityIDs...)

	if len(evts) == 0 {
		return
	}
	actor := appctx.GetActor(ctx)
	for i := range evts {
		evts[i].Actor = actor
	}
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("events", len(evts)).Warn("failed to publish pipeline events")
	}
}

func probabilityEvent(entityID uuid.UUID, previous, next int) []events.Event {
	if previous == next {
		return nil
	}
	return []events.Event{events.New(events.TypeEntityProbabilityChanged, entityID, map[string]int{
		"previous_probability": previous,
		"probability":          next,
	})}
}

// Templates

func (s *Service) CreateTemplate(ctx context.Context, input workflow.TemplateInput) (Result[*models.Template], error) {
	return run(ctx, s, "CreateTemplate", resilience.PolicySurface, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.Template, error) {
		return engine.CreateTemplate(ctx, input)
	})
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (Result[*models.Template], error) {
	return run(ctx, s, "GetTemplate", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.Template, error) {
		return engine.GetTemplate(ctx, id)
	})
}

func (s *Service) ListTemplates(ctx context.Context, activeOnly bool) (Result[[]models.Template], error) {
	return run(ctx, s, "ListTemplates", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) ([]models.Template, error) {
		return engine.ListTemplates(ctx, activeOnly)
	})
}

func (s *Service) AddTemplateStep(ctx context.Context, templateID uuid.UUID, input workflow.TemplateStepInput) (Result[*models.TemplateStep], error) {
	return run(ctx, s, "AddTemplateStep", resilience.PolicySurface, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.TemplateStep, error) {
		return engine.AddTemplateStep(ctx, templateID, input)
	})
}

func (s *Service) UpdateTemplateStep(ctx context.Context, templateID, stepID uuid.UUID, patch workflow.TemplateStepPatch) (Result[*models.TemplateStep], error) {
	return run(ctx, s, "UpdateTemplateStep", resilience.PolicySurface, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.TemplateStep, error) {
		return engine.UpdateTemplateStep(ctx, templateID, stepID, patch)
	})
}

func (s *Service) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	_, err := run(ctx, s, "DeactivateTemplate", resilience.PolicySurface, func(ctx context.Context, engine *workflow.Engine, _ bool) (struct{}, error) {
		return struct{}{}, engine.DeactivateTemplate(ctx, id)
	})
	return err
}

// Entities

func (s *Service) CreateEntity(ctx context.Context, input workflow.EntityInput) (Result[*models.EntityWithSteps], error) {
	res, err := run(ctx, s, "CreateEntity", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.EntityWithSteps, error) {
		return engine.CreateEntity(ctx, input)
	})
	if err != nil {
		return res, err
	}

	entity := res.Data
	s.afterWrite(ctx, res.Degraded, nil, events.New(events.TypeEntityCreated, entity.ID, map[string]any{
		"kind":        entity.Kind,
		"code":        entity.Code,
		"template_id": entity.TemplateID,
		"steps":       len(entity.Steps),
	}))
	return res, nil
}

func (s *Service) GetEntity(ctx context.Context, id uuid.UUID) (Result[*models.Entity], error) {
	return run(ctx, s, "GetEntity", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.Entity, error) {
		return engine.GetEntity(ctx, id)
	})
}

func (s *Service) ListEntities(ctx context.Context, filter models.EntityFilter) (Result[[]models.Entity], error) {
	return run(ctx, s, "ListEntities", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) ([]models.Entity, error) {
		return engine.ListEntities(ctx, filter)
	})
}

func (s *Service) UpdateEntityStatus(ctx context.Context, id uuid.UUID, status models.EntityStatus) (Result[*models.Entity], error) {
	res, err := run(ctx, s, "UpdateEntityStatus", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.Entity, error) {
		return engine.UpdateEntityStatus(ctx, id, status)
	})
	if err != nil {
		return res, err
	}
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{id})
	return res, nil
}

func (s *Service) ChangeEntityTemplate(ctx context.Context, entityID uuid.UUID, templateID *uuid.UUID) (Result[[]models.Step], error) {
	res, err := run(ctx, s, "ChangeEntityTemplate", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) ([]models.Step, error) {
		return engine.ChangeEntityTemplate(ctx, entityID, templateID)
	})
	if err != nil {
		return res, err
	}
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{entityID}, events.New(events.TypeEntityTemplateChanged, entityID, map[string]any{
		"template_id": templateID,
		"steps":       len(res.Data),
	}))
	return res, nil
}

func (s *Service) SyncWeights(ctx context.Context, entityID uuid.UUID) (Result[workflow.SyncResult], error) {
	res, err := run(ctx, s, "SyncWeights", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (workflow.SyncResult, error) {
		return engine.SyncWeights(ctx, entityID)
	})
	if err != nil {
		return res, err
	}
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{entityID}, probabilityEvent(entityID, res.Data.PreviousProbability, res.Data.Probability)...)
	return res, nil
}

// Steps

// GetSteps never returns an empty list for an entity the caller knows about:
// the engine re-materializes missing steps, and a degraded read of an entity
// the fallback has never seen answers with the default sequence.
func (s *Service) GetSteps(ctx context.Context, entityID uuid.UUID) (Result[[]models.Step], error) {
	if steps, ok := s.cache.GetSteps(ctx, entityID); ok {
		return Result[[]models.Step]{Data: steps}, nil
	}
	// taken before the read so a write committed meanwhile voids the fill
	generation, cacheable := s.cache.Generation(ctx, entityID)

	res, err := run(ctx, s, "GetSteps", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, degraded bool) ([]models.Step, error) {
		steps, err := engine.GetSteps(ctx, entityID)
		if degraded && apperrors.IsKind(err, apperrors.KindNotFound) {
			return workflow.DefaultSteps(entityID, s.now()), nil
		}
		return steps, err
	})
	if err != nil {
		return res, err
	}
	if !res.Degraded && cacheable {
		s.cache.SetSteps(ctx, entityID, generation, res.Data)
	}
	return res, nil
}

func (s *Service) TransitionStep(ctx context.Context, stepID uuid.UUID, status models.StepStatus, fields workflow.StepFields) (Result[workflow.StepUpdate], error) {
	res, err := run(ctx, s, "TransitionStep", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (workflow.StepUpdate, error) {
		return engine.TransitionStep(ctx, stepID, status, fields)
	})
	if err != nil {
		return res, err
	}
	s.stepUpdated(ctx, res)
	return res, nil
}

func (s *Service) UpdateStep(ctx context.Context, stepID uuid.UUID, patch workflow.StepPatch) (Result[workflow.StepUpdate], error) {
	res, err := run(ctx, s, "UpdateStep", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (workflow.StepUpdate, error) {
		return engine.UpdateStep(ctx, stepID, patch)
	})
	if err != nil {
		return res, err
	}
	s.stepUpdated(ctx, res)
	return res, nil
}

func (s *Service) stepUpdated(ctx context.Context, res Result[workflow.StepUpdate]) {
	update := res.Data
	evts := []events.Event{events.New(events.TypeStepUpdated, update.EntityID, update.Step).WithStep(update.Step.ID)}
	evts = append(evts, probabilityEvent(update.EntityID, update.PreviousProbability, update.Probability)...)
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{update.EntityID}, evts...)
}

func (s *Service) DeleteStep(ctx context.Context, stepID uuid.UUID) (Result[workflow.StepDeletion], error) {
	res, err := run(ctx, s, "DeleteStep", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (workflow.StepDeletion, error) {
		return engine.DeleteStep(ctx, stepID)
	})
	if err != nil {
		return res, err
	}

	deletion := res.Data
	evts := []events.Event{events.New(events.TypeStepDeleted, deletion.EntityID, nil).WithStep(stepID)}
	evts = append(evts, probabilityEvent(deletion.EntityID, deletion.PreviousProbability, deletion.Probability)...)
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{deletion.EntityID}, evts...)
	return res, nil
}

func (s *Service) ReorderSteps(ctx context.Context, entityID uuid.UUID, changes []models.OrderChange) (Result[workflow.ReorderResult], error) {
	res, err := run(ctx, s, "ReorderSteps", resilience.PolicyDegrade, func(ctx context.Context, engine *workflow.Engine, _ bool) (workflow.ReorderResult, error) {
		return engine.Reorder(ctx, entityID, changes)
	})
	if err != nil {
		return res, err
	}
	s.afterWrite(ctx, res.Degraded, []uuid.UUID{entityID}, events.New(events.TypeEntityStepsReordered, entityID, map[string]any{
		"changes":         changes,
		"template_id":     res.Data.TemplateID,
		"template_synced": res.Data.TemplateSynced,
		"mismatches":      len(res.Data.Mismatches),
	}))
	return res, nil
}
