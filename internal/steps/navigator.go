package steps

import (
	"math"

	"betterphone/internal/domain"
)

// Index returns the position of a step within the registry order.
func (r *Registry) Index(stepID string) (int, bool) {
	i, ok := r.positions[stepID]
	return i, ok
}

// Next returns the registry's natural successor, or nil at the terminal step
// or for an unknown id.
func (r *Registry) Next(stepID string) *StepDefinition {
	i, ok := r.positions[stepID]
	if !ok || i >= len(r.Steps)-1 {
		return nil
	}
	step := r.Steps[i+1]
	return &step
}

// Previous returns the preceding step, or nil at the first step or for an
// unknown id.
func (r *Registry) Previous(stepID string) *StepDefinition {
	i, ok := r.positions[stepID]
	if !ok || i == 0 {
		return nil
	}
	step := r.Steps[i-1]
	return &step
}

// Progress returns completion percentage 0..100 for a step, 0 for unknown
// ids. Registries always have at least two entries, so the division is safe.
func (r *Registry) Progress(stepID string) int {
	i, ok := r.positions[stepID]
	if !ok {
		return 0
	}
	return int(math.Round(float64(i) / float64(len(r.Steps)-1) * 100))
}

// Destination resolves where a forward transition from stepID lands, given
// the answers recorded so far. The only branch rule is the qualification
// gate: its disqualifying answer routes to the terminal not-a-fit page
// regardless of registry order. Everything else follows the natural order.
func (r *Registry) Destination(stepID string, answers map[string]domain.StepAnswer) *StepDefinition {
	if stepID == r.GateStepID {
		if ans, ok := answers[r.GateStepID]; ok && ans.Choice == r.DisqualifyAnswer {
			step := r.DisqualifiedStep
			return &step
		}
	}
	return r.Next(stepID)
}
