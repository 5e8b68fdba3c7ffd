package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/fallback"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/resilience"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type memoryCache struct {
	mu          sync.Mutex
	steps       map[uuid.UUID][]models.Step
	generations map[uuid.UUID]int64
	hits        int
	invalidated []uuid.UUID
}

func newMemoryCache() *memoryCache {
	return &memoryCache{steps: map[uuid.UUID][]models.Step{}, generations: map[uuid.UUID]int64{}}
}

func (c *memoryCache) GetSteps(_ context.Context, entityID uuid.UUID) ([]models.Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	steps, ok := c.steps[entityID]
	if ok {
		c.hits++
	}
	return steps, ok
}

func (c *memoryCache) Generation(_ context.Context, entityID uuid.UUID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[entityID], true
}

func (c *memoryCache) SetSteps(_ context.Context, entityID uuid.UUID, generation int64, steps []models.Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[entityID] != generation {
		return
	}
	c.steps[entityID] = steps
}

func (c *memoryCache) Invalidate(_ context.Context, entityIDs ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range entityIDs {
		c.generations[id]++
		delete(c.steps, id)
	}
	c.invalidated = append(c.invalidated, entityIDs...)
}

func (c *memoryCache) cached(entityID uuid.UUID) ([]models.Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	steps, ok := c.steps[entityID]
	return steps, ok
}

// interleavingStore runs hook once, right after the next ListSteps read
// returns and before the caller sees the result.
type interleavingStore struct {
	workflow.Store
	armed atomic.Bool
	hook  func(ctx context.Context)
}

func (s *interleavingStore) ListSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, error) {
	steps, err := s.Store.ListSteps(ctx, entityID)
	if err == nil && s.armed.CompareAndSwap(true, false) {
		s.hook(ctx)
	}
	return steps, err
}

type fixture struct {
	service   *pipeline.Service
	primary   *workflow.Engine
	store     *interleavingStore
	cache     *memoryCache
	publisher *recordingPublisher
	probeErr  atomic.Pointer[error]
}

func (f *fixture) storeDown() {
	err := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	f.probeErr.Store(&err)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:     newMemoryCache(),
		publisher: &recordingPublisher{},
	}
	f.store = &interleavingStore{Store: fallback.NewStore(testLogger())}
	f.primary = workflow.NewEngine(f.store, testLogger())
	stand := workflow.NewEngine(fallback.NewStore(testLogger()), testLogger())

	prober := resilience.ProberFunc(func(context.Context) error {
		if p := f.probeErr.Load(); p != nil {
			return *p
		}
		return nil
	})
	layer := resilience.NewLayer(f.primary, stand, prober, nil, resilience.Config{}, testLogger())
	f.service = pipeline.NewService(layer, f.cache, f.publisher, testLogger())
	return f
}

func weight(v float64) *float64 {
	return &v
}

func (f *fixture) createLead(t *testing.T, ctx context.Context, templateID *uuid.UUID) *models.EntityWithSteps {
	t.Helper()
	res, err := f.service.CreateEntity(ctx, workflow.EntityInput{Kind: models.EntityKindLead, Name: "Acme", TemplateID: templateID})
	require.NoError(t, err)
	return res.Data
}

func TestService_CreateEntityPublishesWithActor(t *testing.T) {
	f := newFixture(t)
	ctx := appctx.SetActor(context.Background(), "dana")

	res, err := f.service.CreateEntity(ctx, workflow.EntityInput{Kind: models.EntityKindVC, Name: "Fund II"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "VC-0001", res.Data.Code)

	require.Len(t, f.publisher.events, 1)
	evt := f.publisher.events[0]
	assert.Equal(t, events.TypeEntityCreated, evt.Type)
	assert.Equal(t, res.Data.ID, evt.EntityID)
	assert.Equal(t, "dana", evt.Actor)
}

func TestService_TransitionStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	template, err := f.service.CreateTemplate(ctx, workflow.TemplateInput{
		Name: "Two Step",
		Steps: []workflow.TemplateStepInput{
			{Name: "Intro", Weight: weight(40)},
			{Name: "Close", Weight: weight(60)},
		},
	})
	require.NoError(t, err)
	created := f.createLead(t, ctx, &template.Data.ID)
	f.publisher.reset()

	res, err := f.service.TransitionStep(ctx, created.Steps[0].ID, models.StepStatusCompleted, workflow.StepFields{})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 40, res.Data.Probability)

	assert.Equal(t, []events.Type{events.TypeStepUpdated, events.TypeEntityProbabilityChanged}, f.publisher.types())
	require.NotNil(t, f.publisher.events[0].StepID)
	assert.Equal(t, created.Steps[0].ID, *f.publisher.events[0].StepID)
	assert.Contains(t, f.cache.invalidated, created.ID)

	// in_progress leaves probability alone
	f.publisher.reset()
	_, err = f.service.TransitionStep(ctx, created.Steps[1].ID, models.StepStatusInProgress, workflow.StepFields{})
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeStepUpdated}, f.publisher.types())
}

func TestService_GetStepsUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createLead(t, ctx, nil)

	first, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, first.Data, 10)
	assert.Zero(t, f.cache.hits)

	second, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, f.cache.hits)

	// a write drops the entry so the next read sees it
	_, err = f.service.TransitionStep(ctx, created.Steps[0].ID, models.StepStatusCompleted, workflow.StepFields{})
	require.NoError(t, err)
	third, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.Equal(t, models.StepStatusCompleted, third.Data[0].Status)
}

func TestService_DegradedWritesSkipEventsAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeDown()

	created, err := f.service.CreateEntity(ctx, workflow.EntityInput{Kind: models.EntityKindLead, Name: "Offline"})
	require.NoError(t, err)
	assert.True(t, created.Degraded)

	update, err := f.service.TransitionStep(ctx, created.Data.Steps[0].ID, models.StepStatusCompleted, workflow.StepFields{})
	require.NoError(t, err)
	assert.True(t, update.Degraded)
	assert.Equal(t, 5, update.Data.Probability)

	steps, err := f.service.GetSteps(ctx, created.Data.ID)
	require.NoError(t, err)
	assert.True(t, steps.Degraded)

	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.cache.invalidated)
	assert.Empty(t, f.cache.steps)

	// nothing reached the primary
	_, err = f.primary.GetEntity(ctx, created.Data.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestService_DegradedGetStepsOfUnknownEntityReturnsDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createLead(t, ctx, nil)
	f.storeDown()

	res, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Data, 10)
	assert.Equal(t, created.ID, res.Data[0].EntityID)
	assert.Equal(t, models.StepStatusPending, res.Data[0].Status)
}

func TestService_CatalogWritesSurfaceOutages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeDown()

	_, err := f.service.CreateTemplate(ctx, workflow.TemplateInput{Name: "Offline"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	err = f.service.DeactivateTemplate(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	// reads of the catalog still answer
	templates, err := f.service.ListTemplates(ctx, true)
	require.NoError(t, err)
	assert.True(t, templates.Degraded)
}

func TestService_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publisher.err = errors.New("broker unavailable")

	res, err := f.service.CreateEntity(ctx, workflow.EntityInput{Kind: models.EntityKindLead, Name: "Acme"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	_, err = f.primary.GetEntity(ctx, res.Data.ID)
	assert.NoError(t, err)
}

func TestService_ReorderAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createLead(t, ctx, nil)
	f.publisher.reset()

	reordered, err := f.service.ReorderSteps(ctx, created.ID, []models.OrderChange{
		{StepID: created.Steps[0].ID, NewOrder: 2},
		{StepID: created.Steps[1].ID, NewOrder: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, created.Steps[1].ID, reordered.Data.Steps[0].ID)

	_, err = f.service.TransitionStep(ctx, created.Steps[2].ID, models.StepStatusCompleted, workflow.StepFields{})
	require.NoError(t, err)
	f.publisher.reset()

	deleted, err := f.service.DeleteStep(ctx, created.Steps[2].ID)
	require.NoError(t, err)
	assert.True(t, deleted.Data.Deleted)
	assert.Equal(t, []events.Type{events.TypeStepDeleted, events.TypeEntityProbabilityChanged}, f.publisher.types())

	_, err = f.service.DeleteStep(ctx, created.Steps[2].ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestService_ChangeEntityTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createLead(t, ctx, nil)
	template, err := f.service.CreateTemplate(ctx, workflow.TemplateInput{
		Name:  "Single",
		Steps: []workflow.TemplateStepInput{{Name: "Only", Weight: weight(100)}},
	})
	require.NoError(t, err)
	f.publisher.reset()

	res, err := f.service.ChangeEntityTemplate(ctx, created.ID, &template.Data.ID)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, []events.Type{events.TypeEntityTemplateChanged}, f.publisher.types())
	assert.Contains(t, f.cache.invalidated, created.ID)
}

func TestService_GetStepsDoesNotCacheListRacedByWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createLead(t, ctx, nil)

	// a transition commits after the read loaded the steps but before the
	// read fills the cache
	var hookErr error
	f.store.hook = func(ctx context.Context) {
		_, hookErr = f.service.TransitionStep(ctx, created.Steps[0].ID, models.StepStatusCompleted, workflow.StepFields{})
	}
	f.store.armed.Store(true)

	first, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, hookErr)
	assert.Equal(t, models.StepStatusPending, first.Data[0].Status)

	_, ok := f.cache.cached(created.ID)
	assert.False(t, ok, "stale list must not be cached")

	second, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, second.Data[0].Status)
	assert.Zero(t, f.cache.hits)

	// with no write in between the fill sticks
	third, err := f.service.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.Equal(t, models.StepStatusCompleted, third.Data[0].Status)
}

func TestService_OutageOnRowsOnlyInPrimarySurfacesUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	template, err := f.service.CreateTemplate(ctx, workflow.TemplateInput{
		Name: "Two Step",
		Steps: []workflow.TemplateStepInput{
			{Name: "Intro", Weight: weight(40)},
			{Name: "Close", Weight: weight(60)},
		},
	})
	require.NoError(t, err)
	created := f.createLead(t, ctx, &template.Data.ID)
	stepID := created.Steps[0].ID
	f.publisher.reset()

	f.storeDown()

	name := "Renamed"
	tests := []struct {
		name string
		call func() (bool, error)
	}{
		{"GetEntity", func() (bool, error) {
			res, err := f.service.GetEntity(ctx, created.ID)
			return res.Degraded, err
		}},
		{"GetTemplate", func() (bool, error) {
			res, err := f.service.GetTemplate(ctx, template.Data.ID)
			return res.Degraded, err
		}},
		{"TransitionStep", func() (bool, error) {
			res, err := f.service.TransitionStep(ctx, stepID, models.StepStatusCompleted, workflow.StepFields{})
			return res.Degraded, err
		}},
		{"UpdateStep", func() (bool, error) {
			res, err := f.service.UpdateStep(ctx, stepID, workflow.StepPatch{Name: &name})
			return res.Degraded, err
		}},
		{"DeleteStep", func() (bool, error) {
			res, err := f.service.DeleteStep(ctx, stepID)
			return res.Degraded, err
		}},
		{"ReorderSteps", func() (bool, error) {
			res, err := f.service.ReorderSteps(ctx, created.ID, []models.OrderChange{
				{StepID: created.Steps[0].ID, NewOrder: 2},
				{StepID: created.Steps[1].ID, NewOrder: 1},
			})
			return res.Degraded, err
		}},
		{"ChangeEntityTemplate", func() (bool, error) {
			res, err := f.service.ChangeEntityTemplate(ctx, created.ID, nil)
			return res.Degraded, err
		}},
		{"SyncWeights", func() (bool, error) {
			res, err := f.service.SyncWeights(ctx, created.ID)
			return res.Degraded, err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			degraded, err := tt.call()
			assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
			assert.NotErrorIs(t, err, apperrors.ErrNotFound)
			assert.False(t, degraded)
		})
	}

	// list reads still answer from the fallback
	entities, err := f.service.ListEntities(ctx, models.EntityFilter{})
	require.NoError(t, err)
	assert.True(t, entities.Degraded)

	assert.Empty(t, f.publisher.events)

	// nothing was lost in the primary
	entity, err := f.primary.GetEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, entity.ID)
}
