// Package seed loads template and entity fixtures from YAML and applies them
// through the workflow engine. The embedded defaults populate the in-memory
// stand-in store; `fern seed` applies a file to the primary store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type Fixtures struct {
	Templates []TemplateFixture `yaml:"templates"`
	Entities  []EntityFixture   `yaml:"entities"`
}

type TemplateFixture struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Inactive    bool          `yaml:"inactive"`
	Steps       []StepFixture `yaml:"steps"`
}

type StepFixture struct {
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Order             int      `yaml:"order"`
	EstimatedDuration *int     `yaml:"estimated_duration"`
	Weight            *float64 `yaml:"weight"`
}

type EntityFixture struct {
	Kind     models.EntityKind `yaml:"kind"`
	Name     string            `yaml:"name"`
	Company  string            `yaml:"company"`
	Status   string            `yaml:"status"`
	Template string            `yaml:"template"`
	// CompletedSteps marks the first N steps completed.
	CompletedSteps int            `yaml:"completed_steps"`
	Metadata       map[string]any `yaml:"metadata"`
}

// Summary counts what Apply created and skipped.
type Summary struct {
	TemplatesCreated int
	TemplatesSkipped int
	EntitiesCreated  int
	EntitiesSkipped  int
}

func Parse(data []byte) (*Fixtures, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("seed: fixture payload is empty")
	}
	var fixtures Fixtures
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("seed: decode fixtures: %w", err)
	}
	return &fixtures, nil
}

func LoadFile(path string) (*Fixtures, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	fixtures, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("seed: %s: %w", path, err)
	}
	return fixtures, nil
}

// Default returns the built-in fixture set.
func Default() *Fixtures {
	fixtures, err := Parse(defaultFixtures)
	if err != nil {
		panic(err)
	}
	return fixtures
}

// Apply creates the fixtures through the engine. Templates are matched by name
// and entities by kind and name, so applying the same file twice is a no-op.
func Apply(ctx context.Context, engine *workflow.Engine, fixtures *Fixtures, logger ectologger.Logger) (Summary, error) {
	var summary Summary

	existing, err := engine.ListTemplates(ctx, false)
	if err != nil {
		return summary, err
	}
	templateIDs := map[string]uuid.UUID{}
	for _, t := range existing {
		templateIDs[t.Name] = t.ID
	}

	for _, tf := range fixtures.Templates {
		if _, ok := templateIDs[tf.Name]; ok {
			summary.TemplatesSkipped++
			continue
		}

		template, err := engine.CreateTemplate(ctx, tf.input())
		if err != nil {
			return summary, fmt.Errorf("seed: template %q: %w", tf.Name, err)
		}
		if tf.Inactive {
			if err := engine.DeactivateTemplate(ctx, template.ID); err != nil {
				return summary, fmt.Errorf("seed: deactivate template %q: %w", tf.Name, err)
			}
		}
		templateIDs[tf.Name] = template.ID
		summary.TemplatesCreated++
	}

	entities, err := engine.ListEntities(ctx, models.EntityFilter{})
	if err != nil {
		return summary, err
	}
	seen := map[string]bool{}
	for _, e := range entities {
		seen[entityKey(e.Kind, e.Name)] = true
	}

	for _, ef := range fixtures.Entities {
		if seen[entityKey(ef.Kind, ef.Name)] {
			summary.EntitiesSkipped++
			continue
		}
		if err := applyEntity(ctx, engine, ef, templateIDs); err != nil {
			return summary, fmt.Errorf("seed: entity %q: %w", ef.Name, err)
		}
		seen[entityKey(ef.Kind, ef.Name)] = true
		summary.EntitiesCreated++
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"templates_created": summary.TemplatesCreated,
		"templates_skipped": summary.TemplatesSkipped,
		"entities_created":  summary.EntitiesCreated,
		"entities_skipped":  summary.EntitiesSkipped,
	}).Info("Applied fixtures")
	return summary, nil
}

func applyEntity(ctx context.Context, engine *workflow.Engine, ef EntityFixture, templateIDs map[string]uuid.UUID) error {
	input := workflow.EntityInput{
		Kind:     ef.Kind,
		Name:     ef.Name,
		Metadata: ef.Metadata,
	}
	if ef.Company != "" {
		company := ef.Company
		input.Company = &company
	}
	if ef.Template != "" {
		id, ok := templateIDs[ef.Template]
		if !ok {
			return fmt.Errorf("unknown template %q", ef.Template)
		}
		input.TemplateID = &id
	}

	created, err := engine.CreateEntity(ctx, input)
	if err != nil {
		return err
	}

	for i := 0; i < ef.CompletedSteps && i < len(created.Steps); i++ {
		if _, err := engine.TransitionStep(ctx, created.Steps[i].ID, models.StepStatusCompleted, workflow.StepFields{}); err != nil {
			return err
		}
	}

	if ef.Status != "" && models.EntityStatus(ef.Status) != created.Status {
		if _, err := engine.UpdateEntityStatus(ctx, created.ID, models.EntityStatus(ef.Status)); err != nil {
			return err
		}
	}
	return nil
}

func (tf TemplateFixture) input() workflow.TemplateInput {
	input := workflow.TemplateInput{Name: tf.Name}
	if tf.Description != "" {
		description := tf.Description
		input.Description = &description
	}
	for _, sf := range tf.Steps {
		step := workflow.TemplateStepInput{
			Name:              sf.Name,
			Order:             sf.Order,
			EstimatedDuration: sf.EstimatedDuration,
			Weight:            sf.Weight,
		}
		if sf.Description != "" {
			description := sf.Description
			step.Description = &description
		}
		input.Steps = append(input.Steps, step)
	}
	return input
}

func entityKey(kind models.EntityKind, name string) string {
	return string(kind) + "/" + workflow.NormalizeName(name)
}
