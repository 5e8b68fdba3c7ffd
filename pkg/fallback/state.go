package fallback

import (
	"maps"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// state is one consistent snapshot of the stand-in data. Values are stored by
// value and replaced wholesale on update, so a shallow map copy is a full
// snapshot.
type state struct {
	templates     map[uuid.UUID]models.Template
	templateSteps map[uuid.UUID]models.TemplateStep
	entities      map[uuid.UUID]models.Entity
	steps         map[uuid.UUID]models.Step
	sequences     map[models.EntityKind]int64
}

func newState() *state {
	return &state{
		templates:     map[uuid.UUID]models.Template{},
		templateSteps: map[uuid.UUID]models.TemplateStep{},
		entities:      map[uuid.UUID]models.Entity{},
		steps:         map[uuid.UUID]models.Step{},
		sequences:     map[models.EntityKind]int64{},
	}
}

func (s *state) clone() *state {
	return &state{
		templates:     maps.Clone(s.templates),
		templateSteps: maps.Clone(s.templateSteps),
		entities:      maps.Clone(s.entities),
		steps:         maps.Clone(s.steps),
		sequences:     maps.Clone(s.sequences),
	}
}

func (s *state) stepsOf(entityID uuid.UUID) []models.Step {
	var steps []models.Step
	for _, step := range s.steps {
		if step.EntityID == entityID {
			steps = append(steps, step)
		}
	}
	return steps
}

func (s *state) templateStepsOf(templateID uuid.UUID) []models.TemplateStep {
	var steps []models.TemplateStep
	for _, step := range s.templateSteps {
		if step.TemplateID == templateID {
			steps = append(steps, step)
		}
	}
	return steps
}
