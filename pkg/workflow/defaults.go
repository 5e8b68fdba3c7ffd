package workflow

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/google/uuid"
)

type defaultStep struct {
	name        string
	description string
	weight      float64
	days        int
}

// used whenever an entity has no template or its template has no steps
var defaultSequence = []defaultStep{
	{"Initial Contact", "First outreach and introduction", 5, 2},
	{"Discovery Call", "Understand goals, timeline and stakeholders", 10, 5},
	{"Needs Assessment", "Document requirements and fit", 10, 5},
	{"Proposal Preparation", "Draft the proposal or term sheet", 10, 7},
	{"Proposal Sent", "Proposal delivered to the counterparty", 10, 2},
	{"Follow-up", "Answer questions and collect feedback", 10, 5},
	{"Negotiation", "Agree on terms", 15, 10},
	{"Contract Review", "Legal review of the agreement", 10, 7},
	{"Final Approval", "Sign-off by both sides", 10, 3},
	{"Closed / Onboarding", "Kick-off and handover", 10, 5},
}

// DefaultTemplateSteps returns the built-in sequence as template steps with
// orders 1..10. The weights total 100.
func DefaultTemplateSteps() []models.TemplateStep {
	steps := make([]models.TemplateStep, len(defaultSequence))
	for i, d := range defaultSequence {
		description := d.description
		weight := d.weight
		days := d.days
		steps[i] = models.TemplateStep{
			Name:              d.name,
			Description:       &description,
			Order:             i + 1,
			EstimatedDuration: &days,
			Weight:            &weight,
		}
	}
	return steps
}

// DefaultSteps materializes the default sequence for an entity without
// persisting it. Degraded reads serve it for entities the stand-in store has
// never seen.
func DefaultSteps(entityID uuid.UUID, now time.Time) []models.Step {
	return materialize(entityID, DefaultTemplateSteps(), now)
}

func materialize(entityID uuid.UUID, blueprint []models.TemplateStep, now time.Time) []models.Step {
	steps := make([]models.Step, 0, len(blueprint))
	for _, ts := range blueprint {
		steps = append(steps, models.Step{
			ID:                uuid.New(),
			EntityID:          entityID,
			Name:              ts.Name,
			Description:       copyString(ts.Description),
			Status:            models.StepStatusPending,
			Order:             ts.Order,
			Weight:            copyFloat(ts.Weight),
			EstimatedDuration: copyInt(ts.EstimatedDuration),
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return steps
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
