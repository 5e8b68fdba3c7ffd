package workflow

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// StepMatcher decides whether an instance step was materialized from a
// template step. Instance steps carry no foreign key to their blueprint.
type StepMatcher interface {
	Match(templateStep models.TemplateStep, step models.Step) bool
}

// NameOrderMatcher matches on equal order and trimmed, case-folded name.
type NameOrderMatcher struct{}

func (NameOrderMatcher) Match(templateStep models.TemplateStep, step models.Step) bool {
	return templateStep.Order == step.Order && NormalizeName(templateStep.Name) == NormalizeName(step.Name)
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// findMatch returns the index of the first template step matching step, or -1.
func findMatch(matcher StepMatcher, templateSteps []models.TemplateStep, step models.Step) int {
	for i, ts := range templateSteps {
		if matcher.Match(ts, step) {
			return i
		}
	}
	return -1
}
