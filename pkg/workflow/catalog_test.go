package workflow_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func TestCreateTemplate_AssignsMissingOrders(t *testing.T) {
	engine, _ := newEngine(t)

	template, err := engine.CreateTemplate(context.Background(), workflow.TemplateInput{
		Name: "  Partner Onboarding ",
		Steps: []workflow.TemplateStepInput{
			{Name: "Kickoff", Weight: weight(25)},
			{Name: "Legal", Order: 3, Weight: weight(25)},
			{Name: "Integration", Weight: weight(50)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Partner Onboarding", template.Name)
	assert.True(t, template.IsActive)
	require.Len(t, template.Steps, 3)
	assert.Equal(t, "Legal", template.Steps[0].Name)
	assert.Equal(t, 3, template.Steps[0].Order)
	assert.Equal(t, "Kickoff", template.Steps[1].Name)
	assert.Equal(t, 4, template.Steps[1].Order)
	assert.Equal(t, "Integration", template.Steps[2].Name)
	assert.Equal(t, 5, template.Steps[2].Order)
	assert.Equal(t, 100.0, template.WeightTotal())
}

func TestCreateTemplate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input workflow.TemplateInput
	}{
		{name: "missing name", input: workflow.TemplateInput{Name: " "}},
		{name: "step without name", input: workflow.TemplateInput{Name: "T", Steps: []workflow.TemplateStepInput{{Name: ""}}}},
		{name: "negative weight", input: workflow.TemplateInput{Name: "T", Steps: []workflow.TemplateStepInput{{Name: "A", Weight: weight(-1)}}}},
		{name: "weight above 100", input: workflow.TemplateInput{Name: "T", Steps: []workflow.TemplateStepInput{{Name: "A", Weight: weight(101)}}}},
		{
			name: "duplicate orders",
			input: workflow.TemplateInput{Name: "T", Steps: []workflow.TemplateStepInput{
				{Name: "A", Order: 1},
				{Name: "B", Order: 1},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newEngine(t)
			_, err := engine.CreateTemplate(context.Background(), tt.input)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestCreateTemplate_ToleratesPartialWeights(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Partial", 10, 15)
	assert.Equal(t, 25.0, template.WeightTotal())

	created := createEntity(t, engine, &template.ID)
	for _, s := range created.Steps {
		_, err := engine.TransitionStep(ctx, s.ID, models.StepStatusCompleted, workflow.StepFields{})
		require.NoError(t, err)
	}

	entity, err := engine.GetEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, entity.Probability)
}

func TestAddTemplateStep(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Growing", 50, 50)

	step, err := engine.AddTemplateStep(ctx, template.ID, workflow.TemplateStepInput{Name: "Retro", Weight: weight(0)})
	require.NoError(t, err)
	assert.Equal(t, 3, step.Order)

	_, err = engine.AddTemplateStep(ctx, template.ID, workflow.TemplateStepInput{Name: "Clash", Order: 1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.AddTemplateStep(ctx, uuid.New(), workflow.TemplateStepInput{Name: "Lost"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	updated, err := engine.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Len(t, updated.Steps, 3)
}

func TestUpdateTemplateStep(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	template := createTemplate(t, engine, "Editable", 40, 60)
	target := template.Steps[0]

	name := "Qualification"
	step, err := engine.UpdateTemplateStep(ctx, template.ID, target.ID, workflow.TemplateStepPatch{
		Name:   &name,
		Weight: weight(45),
	})
	require.NoError(t, err)
	assert.Equal(t, "Qualification", step.Name)
	assert.Equal(t, 45.0, *step.Weight)
	assert.Equal(t, 1, step.Order)

	taken := 2
	_, err = engine.UpdateTemplateStep(ctx, template.ID, target.ID, workflow.TemplateStepPatch{Order: &taken})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.UpdateTemplateStep(ctx, template.ID, uuid.New(), workflow.TemplateStepPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeactivateTemplate(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	active := createTemplate(t, engine, "Active", 100)
	retired := createTemplate(t, engine, "Retired", 100)
	created := createEntity(t, engine, &retired.ID)

	require.NoError(t, engine.DeactivateTemplate(ctx, retired.ID))

	templates, err := engine.ListTemplates(ctx, true)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, active.ID, templates[0].ID)

	templates, err = engine.ListTemplates(ctx, false)
	require.NoError(t, err)
	assert.Len(t, templates, 2)

	// existing entities keep their steps
	steps, err := engine.GetSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	assert.ErrorIs(t, engine.DeactivateTemplate(ctx, uuid.New()), apperrors.ErrNotFound)
}

func TestMatcher_NameOrder(t *testing.T) {
	matcher := workflow.NameOrderMatcher{}
	ts := models.TemplateStep{Name: "Discovery Call", Order: 2}

	assert.True(t, matcher.Match(ts, models.Step{Name: "  discovery CALL ", Order: 2}))
	assert.False(t, matcher.Match(ts, models.Step{Name: "Discovery Call", Order: 3}))
	assert.False(t, matcher.Match(ts, models.Step{Name: "Discovery", Order: 2}))
}
