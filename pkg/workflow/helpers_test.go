package workflow_test

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/fallback"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newEngine(t *testing.T, opts ...workflow.Option) (*workflow.Engine, *fallback.Store) {
	t.Helper()
	store := fallback.NewStore(testLogger())
	return workflow.NewEngine(store, testLogger(), opts...), store
}

func weight(w float64) *float64 {
	return &w
}

func createTemplate(t *testing.T, engine *workflow.Engine, name string, weights ...float64) *models.Template {
	t.Helper()
	input := workflow.TemplateInput{Name: name}
	for i, w := range weights {
		input.Steps = append(input.Steps, workflow.TemplateStepInput{
			Name:   stepName(name, i+1),
			Order:  i + 1,
			Weight: weight(w),
		})
	}
	template, err := engine.CreateTemplate(context.Background(), input)
	require.NoError(t, err)
	return template
}

func stepName(template string, order int) string {
	return template + " step " + string(rune('A'+order-1))
}

func createEntity(t *testing.T, engine *workflow.Engine, templateID *uuid.UUID) *models.EntityWithSteps {
	t.Helper()
	entity, err := engine.CreateEntity(context.Background(), workflow.EntityInput{
		Kind:       models.EntityKindLead,
		Name:       "Test Lead",
		TemplateID: templateID,
	})
	require.NoError(t, err)
	return entity
}

func stepAt(t *testing.T, steps []models.Step, order int) models.Step {
	t.Helper()
	for _, s := range steps {
		if s.Order == order {
			return s
		}
	}
	t.Fatalf("no step at order %d", order)
	return models.Step{}
}

func ordersByID(steps []models.Step) map[uuid.UUID]int {
	orders := make(map[uuid.UUID]int, len(steps))
	for _, s := range steps {
		orders[s.ID] = s.Order
	}
	return orders
}
