package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fallback"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resilience"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// flakyStore fails every transaction and read while err is set.
type flakyStore struct {
	workflow.Store
	err atomic.Pointer[error]
}

func (s *flakyStore) fail(err error) {
	s.err.Store(&err)
}

func (s *flakyStore) current() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.current(); err != nil {
		return err
	}
	return s.Store.WithinTx(ctx, fn)
}

func (s *flakyStore) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	if err := s.current(); err != nil {
		return nil, err
	}
	return s.Store.GetEntity(ctx, id)
}

func (s *flakyStore) ListEntities(ctx context.Context, filter models.EntityFilter) ([]models.Entity, error) {
	if err := s.current(); err != nil {
		return nil, err
	}
	return s.Store.ListEntities(ctx, filter)
}

type healerFunc func(ctx context.Context) error

func (f healerFunc) Ensure(ctx context.Context) error {
	return f(ctx)
}

type harness struct {
	primaryStore *flakyStore
	primary      *workflow.Engine
	fallback     *workflow.Engine
	probeErr     atomic.Pointer[error]
	heals        atomic.Int32
}

func newHarness(t *testing.T, config resilience.Config, heal func(h *harness) error) (*harness, *resilience.Layer) {
	t.Helper()
	h := &harness{primaryStore: &flakyStore{Store: fallback.NewStore(testLogger())}}
	h.primary = workflow.NewEngine(h.primaryStore, testLogger())
	h.fallback = workflow.NewEngine(fallback.NewStore(testLogger()), testLogger())

	prober := resilience.ProberFunc(func(ctx context.Context) error {
		if p := h.probeErr.Load(); p != nil {
			return *p
		}
		return nil
	})

	var healer resilience.Healer
	if heal != nil {
		healer = healerFunc(func(ctx context.Context) error {
			h.heals.Add(1)
			return heal(h)
		})
	}
	return h, resilience.NewLayer(h.primary, h.fallback, prober, healer, config, testLogger())
}

func listEntities(ctx context.Context, engine *workflow.Engine, _ bool) ([]models.Entity, error) {
	return engine.ListEntities(ctx, models.EntityFilter{})
}

func createLead(name string) resilience.Op[*models.EntityWithSteps] {
	return func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.EntityWithSteps, error) {
		return engine.CreateEntity(ctx, workflow.EntityInput{Kind: models.EntityKindLead, Name: name})
	}
}

func TestExecute_HealthyPrimary(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{}, nil)
	ctx := context.Background()

	created, degraded, err := resilience.Execute(ctx, layer, "CreateEntity", resilience.PolicyDegrade, createLead("Acme"))
	require.NoError(t, err)
	assert.False(t, degraded)

	_, err = h.primary.GetEntity(ctx, created.ID)
	assert.NoError(t, err)
	_, err = h.fallback.GetEntity(ctx, created.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExecute_ProbeFailureDegradesToFallback(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{}, nil)
	ctx := context.Background()
	down := errors.New("dial tcp: connection refused")
	h.probeErr.Store(&down)

	created, degraded, err := resilience.Execute(ctx, layer, "CreateEntity", resilience.PolicyDegrade, createLead("Acme"))
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Len(t, created.Steps, 10)

	// reads are served from the same stand-in
	entities, degraded, err := resilience.Execute(ctx, layer, "ListEntities", resilience.PolicyDegrade, listEntities)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, entities, 1)
	assert.Equal(t, created.ID, entities[0].ID)

	primaryEntities, err := h.primary.ListEntities(ctx, models.EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, primaryEntities)
}

func TestExecute_SurfacePolicyReturnsUnavailable(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{}, nil)
	ctx := context.Background()
	down := errors.New("connection reset by peer")
	h.probeErr.Store(&down)

	var ran bool
	_, degraded, err := resilience.Execute(ctx, layer, "CreateTemplate", resilience.PolicySurface,
		func(ctx context.Context, engine *workflow.Engine, _ bool) (*models.Template, error) {
			ran = true
			return engine.CreateTemplate(ctx, workflow.TemplateInput{Name: "T"})
		})

	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, down)
	assert.False(t, degraded)
	assert.False(t, ran)
}

func TestExecute_PrimaryFailureAfterProbeDegrades(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{}, nil)
	h.primaryStore.fail(&pq.Error{Code: "08006", Message: "connection failure"})

	_, degraded, err := resilience.Execute(context.Background(), layer, "ListEntities", resilience.PolicyDegrade, listEntities)
	require.NoError(t, err)
	assert.True(t, degraded)
}

func TestExecute_DomainErrorsPassThrough(t *testing.T) {
	_, layer := newHarness(t, resilience.Config{}, nil)
	var fallbackCalls int

	_, degraded, err := resilience.Execute(context.Background(), layer, "GetEntity", resilience.PolicyDegrade,
		func(ctx context.Context, engine *workflow.Engine, degraded bool) (*models.Entity, error) {
			if degraded {
				fallbackCalls++
			}
			return engine.GetEntity(ctx, uuid.New())
		})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, degraded)
	assert.Zero(t, fallbackCalls)
}

func TestExecute_FallbackNotFoundSurfacesUnavailable(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{}, nil)
	ctx := context.Background()

	created, degraded, err := resilience.Execute(ctx, layer, "CreateEntity", resilience.PolicyDegrade, createLead("Acme"))
	require.NoError(t, err)
	require.False(t, degraded)

	down := errors.New("dial tcp: connection refused")
	h.probeErr.Store(&down)

	var fallbackCalls int
	_, degraded, err = resilience.Execute(ctx, layer, "GetEntity", resilience.PolicyDegrade,
		func(ctx context.Context, engine *workflow.Engine, degraded bool) (*models.Entity, error) {
			if degraded {
				fallbackCalls++
			}
			return engine.GetEntity(ctx, created.ID)
		})

	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.True(t, degraded)
	assert.Equal(t, 1, fallbackCalls)

	var engineErr *apperrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, true, engineErr.Meta["degraded"])
}

func TestExecute_DriftHealsAndRetriesOnce(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{HealOnDrift: true}, func(h *harness) error {
		h.primaryStore.fail(nil)
		return nil
	})
	h.primaryStore.fail(&pq.Error{Code: "42703", Message: `column "assignee" does not exist`})

	created, degraded, err := resilience.Execute(context.Background(), layer, "CreateEntity", resilience.PolicyDegrade, createLead("Acme"))
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, int32(1), h.heals.Load())

	_, err = h.primary.GetEntity(context.Background(), created.ID)
	assert.NoError(t, err)
}

func TestExecute_DriftWithoutHealingDegrades(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{HealOnDrift: false}, func(h *harness) error { return nil })
	h.primaryStore.fail(&pq.Error{Code: "42P01", Message: `relation "pipeline_steps" does not exist`})

	_, degraded, err := resilience.Execute(context.Background(), layer, "ListEntities", resilience.PolicyDegrade, listEntities)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Zero(t, h.heals.Load())
}

func TestExecute_DriftPersistingAfterHealSurfaces(t *testing.T) {
	h, layer := newHarness(t, resilience.Config{HealOnDrift: true}, func(h *harness) error { return nil })
	h.primaryStore.fail(&pq.Error{Code: "42703", Message: "still missing"})

	_, degraded, err := resilience.Execute(context.Background(), layer, "UpdateTemplateStep", resilience.PolicySurface,
		func(ctx context.Context, engine *workflow.Engine, _ bool) ([]models.Entity, error) {
			return engine.ListEntities(ctx, models.EntityFilter{})
		})

	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.False(t, degraded)
	assert.Equal(t, int32(1), h.heals.Load())
}

func TestExecute_SlowProbeTimesOut(t *testing.T) {
	primary := workflow.NewEngine(fallback.NewStore(testLogger()), testLogger())
	stand := workflow.NewEngine(fallback.NewStore(testLogger()), testLogger())
	prober := resilience.ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	layer := resilience.NewLayer(primary, stand, prober, nil, resilience.Config{ProbeTimeout: 10 * time.Millisecond}, testLogger())

	start := time.Now()
	_, degraded, err := resilience.Execute(context.Background(), layer, "ListEntities", resilience.PolicyDegrade, listEntities)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_NoFallbackSurfaces(t *testing.T) {
	primary := workflow.NewEngine(fallback.NewStore(testLogger()), testLogger())
	down := errors.New("down")
	prober := resilience.ProberFunc(func(ctx context.Context) error { return down })
	layer := resilience.NewLayer(primary, nil, prober, nil, resilience.Config{}, testLogger())

	_, _, err := resilience.Execute(context.Background(), layer, "ListEntities", resilience.PolicyDegrade, listEntities)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}
