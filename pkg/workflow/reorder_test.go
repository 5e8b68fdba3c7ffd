package workflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func TestReorder_SwapWithoutTransientDuplicates(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Two Step", 20, 80)
	created := createEntity(t, engine, &template.ID)
	first := stepAt(t, created.Steps, 1)
	second := stepAt(t, created.Steps, 2)

	stop := make(chan struct{})
	var (
		wg         sync.WaitGroup
		duplicates int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			steps, err := store.ListSteps(ctx, created.ID)
			if err != nil {
				continue
			}
			seen := map[int]bool{}
			for _, s := range steps {
				if seen[s.Order] || s.Order <= 0 {
					duplicates++
				}
				seen[s.Order] = true
			}
		}
	}()

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: first.ID, NewOrder: 2},
		{StepID: second.ID, NewOrder: 1},
	})
	close(stop)
	wg.Wait()

	require.NoError(t, err)
	assert.Zero(t, duplicates)
	assert.Equal(t, map[uuid.UUID]int{first.ID: 2, second.ID: 1}, ordersByID(result.Steps))

	steps, err := engine.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, steps[0].ID)
	assert.Equal(t, first.ID, steps[1].ID)
}

func TestReorder_SyncsTemplateOrder(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Three Step", 20, 30, 50)
	created := createEntity(t, engine, &template.ID)

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: stepAt(t, created.Steps, 1).ID, NewOrder: 3},
		{StepID: stepAt(t, created.Steps, 3).ID, NewOrder: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TemplateSynced)
	assert.Empty(t, result.Mismatches)

	updated, err := engine.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Steps[2].Name, updated.Steps[0].Name)
	assert.Equal(t, template.Steps[1].Name, updated.Steps[1].Name)
	assert.Equal(t, template.Steps[0].Name, updated.Steps[2].Name)

	// future instantiations inherit the new order
	next := createEntity(t, engine, &template.ID)
	assert.Equal(t, template.Steps[2].Name, stepAt(t, next.Steps, 1).Name)
	assert.Equal(t, 50.0, *stepAt(t, next.Steps, 1).Weight)
}

func TestReorder_RenamedStepIsAMismatchNotAFailure(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Two Step", 20, 80)
	created := createEntity(t, engine, &template.ID)
	first := stepAt(t, created.Steps, 1)
	second := stepAt(t, created.Steps, 2)

	renamed := "Kickoff workshop"
	_, err := engine.UpdateStep(ctx, first.ID, workflow.StepPatch{Name: &renamed})
	require.NoError(t, err)

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: first.ID, NewOrder: 2},
		{StepID: second.ID, NewOrder: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{first.ID: 2, second.ID: 1}, ordersByID(result.Steps))

	require.NotEmpty(t, result.Mismatches)
	assert.Equal(t, first.ID, result.Mismatches[0].StepID)
	assert.Zero(t, result.TemplateSynced)

	// the template keeps its order since the sync would have collided
	unchanged, err := engine.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Steps[0].Name, unchanged.Steps[0].Name)
	assert.Equal(t, 1, unchanged.Steps[0].Order)
}

func TestReorder_MatchesNamesCaseInsensitively(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Two Step", 20, 80)
	created := createEntity(t, engine, &template.ID)
	first := stepAt(t, created.Steps, 1)

	shouted := "  " + strings.ToUpper(first.Name) + " "
	_, err := engine.UpdateStep(ctx, first.ID, workflow.StepPatch{Name: &shouted})
	require.NoError(t, err)

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: first.ID, NewOrder: 2},
		{StepID: stepAt(t, created.Steps, 2).ID, NewOrder: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Mismatches)
	assert.Equal(t, 2, result.TemplateSynced)
}

func TestReorder_DefaultStepsDoNotTouchTemplates(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	created := createEntity(t, engine, nil)

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: stepAt(t, created.Steps, 1).ID, NewOrder: 11},
	})
	require.NoError(t, err)
	assert.Nil(t, result.TemplateID)
	assert.Zero(t, result.TemplateSynced)
	assert.Equal(t, 11, result.Steps[len(result.Steps)-1].Order)
}

func TestReorder_Validation(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	created := createEntity(t, engine, nil)
	other := createEntity(t, engine, nil)
	first := stepAt(t, created.Steps, 1)
	second := stepAt(t, created.Steps, 2)

	tests := []struct {
		name    string
		changes []models.OrderChange
		kind    apperrors.Kind
	}{
		{name: "empty batch", changes: nil, kind: apperrors.KindValidation},
		{name: "non-positive order", changes: []models.OrderChange{{StepID: first.ID, NewOrder: 0}}, kind: apperrors.KindValidation},
		{name: "collides with an unmoved step", changes: []models.OrderChange{{StepID: first.ID, NewOrder: 3}}, kind: apperrors.KindValidation},
		{
			name: "two steps to one order",
			changes: []models.OrderChange{
				{StepID: first.ID, NewOrder: 20},
				{StepID: second.ID, NewOrder: 20},
			},
			kind: apperrors.KindValidation,
		},
		{
			name: "same step twice",
			changes: []models.OrderChange{
				{StepID: first.ID, NewOrder: 20},
				{StepID: first.ID, NewOrder: 21},
			},
			kind: apperrors.KindValidation,
		},
		{name: "step of another entity", changes: []models.OrderChange{{StepID: other.Steps[0].ID, NewOrder: 20}}, kind: apperrors.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Reorder(ctx, created.ID, tt.changes)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind), "got %v", err)

			steps, err := engine.GetSteps(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, ordersByID(created.Steps), ordersByID(steps))
		})
	}

	_, err := engine.Reorder(ctx, uuid.New(), []models.OrderChange{{StepID: first.ID, NewOrder: 2}})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type idMatcher struct {
	ids map[uuid.UUID]string
}

func (m idMatcher) Match(ts models.TemplateStep, step models.Step) bool {
	return m.ids[step.ID] == ts.Name
}

func TestReorder_UsesInjectedMatcher(t *testing.T) {
	matcher := idMatcher{ids: map[uuid.UUID]string{}}
	engine, _ := newEngine(t, workflow.WithMatcher(matcher))
	ctx := context.Background()
	template := createTemplate(t, engine, "Two Step", 20, 80)
	created := createEntity(t, engine, &template.ID)
	second := stepAt(t, created.Steps, 2)

	// the injected matcher pairs the second instance step with the first blueprint
	matcher.ids[second.ID] = template.Steps[0].Name

	result, err := engine.Reorder(ctx, created.ID, []models.OrderChange{
		{StepID: second.ID, NewOrder: 3},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Mismatches)
	assert.Equal(t, 1, result.TemplateSynced)

	updated, err := engine.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Steps[1].Name, updated.Steps[0].Name)
	assert.Equal(t, 2, updated.Steps[0].Order)
	assert.Equal(t, template.Steps[0].Name, updated.Steps[1].Name)
	assert.Equal(t, 3, updated.Steps[1].Order)
}
