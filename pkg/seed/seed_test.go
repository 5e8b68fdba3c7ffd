package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/fallback"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/seed"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func newEngine() *workflow.Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return workflow.NewEngine(fallback.NewStore(logger), logger)
}

func TestDefault_TemplatesTotalOneHundred(t *testing.T) {
	fixtures := seed.Default()
	require.Len(t, fixtures.Templates, 2)

	for _, tf := range fixtures.Templates {
		total := 0.0
		for _, s := range tf.Steps {
			require.NotNil(t, s.Weight, tf.Name)
			total += *s.Weight
		}
		assert.Equal(t, 100.0, total, tf.Name)
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	engine := newEngine()
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	summary, err := seed.Apply(ctx, engine, seed.Default(), logger)
	require.NoError(t, err)
	assert.Equal(t, seed.Summary{TemplatesCreated: 2, EntitiesCreated: 3}, summary)

	summary, err = seed.Apply(ctx, engine, seed.Default(), logger)
	require.NoError(t, err)
	assert.Equal(t, seed.Summary{TemplatesSkipped: 2, EntitiesSkipped: 3}, summary)

	entities, err := engine.ListEntities(ctx, models.EntityFilter{})
	require.NoError(t, err)
	require.Len(t, entities, 3)

	probabilities := map[string]int{}
	for _, e := range entities {
		probabilities[e.Name] = e.Probability
	}
	assert.Equal(t, 25, probabilities["Acme Corp Platform Deal"])
	assert.Equal(t, 5, probabilities["Globex Renewal"])
	assert.Equal(t, 0, probabilities["Northwind Ventures"])
}

func TestApply_UnknownTemplateReference(t *testing.T) {
	fixtures, err := seed.Parse([]byte(`
entities:
  - kind: lead
    name: Orphan
    template: Missing Pipeline
`))
	require.NoError(t, err)

	_, err = seed.Apply(context.Background(), newEngine(), fixtures, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	assert.ErrorContains(t, err, "Missing Pipeline")
}

func TestApply_InactiveTemplateAndStatus(t *testing.T) {
	engine := newEngine()
	ctx := context.Background()
	fixtures, err := seed.Parse([]byte(`
templates:
  - name: Retired
    inactive: true
    steps:
      - { name: Only, weight: 100 }
entities:
  - kind: vc
    name: Closed Fund
    status: won
`))
	require.NoError(t, err)

	_, err = seed.Apply(ctx, engine, fixtures, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)

	active, err := engine.ListTemplates(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	entities, err := engine.ListEntities(ctx, models.EntityFilter{})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, models.EntityStatusWon, entities[0].Status)
	assert.Equal(t, "VC-0001", entities[0].Code)
}

func TestParse_Errors(t *testing.T) {
	_, err := seed.Parse([]byte("   "))
	assert.Error(t, err)

	_, err = seed.Parse([]byte("templates: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - name: One\n"), 0o600))

	fixtures, err := seed.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, fixtures.Templates, 1)
	assert.Equal(t, "One", fixtures.Templates[0].Name)

	_, err = seed.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
