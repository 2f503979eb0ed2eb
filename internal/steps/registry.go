package steps

import "betterphone/internal/domain"

// StepType classifies a survey step.
type StepType string

const (
	TypeGate     StepType = "gate"
	TypeVoice    StepType = "voice"
	TypeCheckbox StepType = "checkbox"
	TypeRanking  StepType = "ranking"
	TypeForm     StepType = "form"
	TypeText     StepType = "text"
	TypeChoice   StepType = "choice"
	TypeEmail    StepType = "email"
	TypeThankYou StepType = "thank-you"
)

// StepDefinition is one entry of a survey flow. Registries are immutable and
// defined at build time; slice order defines the default linear traversal.
type StepDefinition struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Type        StepType `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	HasVoice    bool     `json:"hasVoice,omitempty"`
}

// Registry holds the ordered steps of one survey variant plus its single
// branch rule: the qualification gate that can route to a terminal
// disqualification page.
type Registry struct {
	Variant          domain.Variant
	Steps            []StepDefinition
	GateStepID       string
	DisqualifyAnswer string
	DisqualifiedStep StepDefinition
	positions        map[string]int
}

func newRegistry(variant domain.Variant, gateID, disqualifyAnswer string, disqualified StepDefinition, steps []StepDefinition) *Registry {
	positions := make(map[string]int, len(steps))
	for i, step := range steps {
		positions[step.ID] = i
	}
	return &Registry{
		Variant:          variant,
		Steps:            steps,
		GateStepID:       gateID,
		DisqualifyAnswer: disqualifyAnswer,
		DisqualifiedStep: disqualified,
		positions:        positions,
	}
}

// parentRegistry is the parent flow. The gate asks whether the family feels
// the smartphone pain at all; a "no" disqualifies.
var parentRegistry = newRegistry(
	domain.VariantParent,
	"pain-check",
	"no",
	StepDefinition{
		ID:    "not-a-fit",
		Path:  "/survey/not-a-fit",
		Type:  TypeThankYou,
		Title: "Thanks for your honesty",
	},
	[]StepDefinition{
		{ID: "pain-check", Path: "/survey/pain-check", Type: TypeGate, Title: "Is your child's phone a source of conflict at home?"},
		{ID: "biggest-challenge", Path: "/survey/step/1", Type: TypeVoice, Title: "What's the biggest challenge?", Description: "Tell us in your own words", HasVoice: true},
		{ID: "current-phone", Path: "/survey/step/2", Type: TypeChoice, Title: "What phone does your child use today?"},
		{ID: "concerns", Path: "/survey/step/3", Type: TypeCheckbox, Title: "Which of these worry you most?"},
		{ID: "feature-ranking", Path: "/survey/step/4", Type: TypeRanking, Title: "Rank what matters in a kid-safe phone"},
		{ID: "tell-us-more", Path: "/survey/step/5", Type: TypeText, Title: "Anything else we should know?"},
		{ID: "family-details", Path: "/survey/step/6", Type: TypeForm, Title: "A bit about your family"},
		{ID: "email-capture", Path: "/survey/email", Type: TypeEmail, Title: "Want early access?"},
		{ID: "thank-you", Path: "/survey/thank-you", Type: TypeThankYou, Title: "Thank you"},
	},
)

// schoolAdminRegistry is the school administrator flow.
var schoolAdminRegistry = newRegistry(
	domain.VariantSchoolAdmin,
	"policy-pain",
	"no",
	StepDefinition{
		ID:    "not-a-fit",
		Path:  "/school-admin/not-a-fit",
		Type:  TypeThankYou,
		Title: "Thanks for letting us know",
	},
	[]StepDefinition{
		{ID: "policy-pain", Path: "/school-admin/policy-pain", Type: TypeGate, Title: "Are phones a discipline problem at your school?"},
		{ID: "policy-today", Path: "/school-admin/step/1", Type: TypeChoice, Title: "What's your phone policy today?"},
		{ID: "enforcement-story", Path: "/school-admin/step/2", Type: TypeVoice, Title: "How does enforcement actually go?", HasVoice: true},
		{ID: "incident-types", Path: "/school-admin/step/3", Type: TypeCheckbox, Title: "What incidents do phones cause?"},
		{ID: "solution-ranking", Path: "/school-admin/step/4", Type: TypeRanking, Title: "Rank potential solutions"},
		{ID: "school-details", Path: "/school-admin/step/5", Type: TypeForm, Title: "About your school"},
		{ID: "email-capture", Path: "/school-admin/email", Type: TypeEmail, Title: "Stay in the loop?"},
		{ID: "thank-you", Path: "/school-admin/thank-you", Type: TypeThankYou, Title: "Thank you"},
	},
)

// ForVariant returns the registry of a survey variant.
func ForVariant(variant domain.Variant) (*Registry, bool) {
	switch variant {
	case domain.VariantParent:
		return parentRegistry, true
	case domain.VariantSchoolAdmin:
		return schoolAdminRegistry, true
	default:
		return nil, false
	}
}

// Find returns the step definition for an id.
func (r *Registry) Find(stepID string) (StepDefinition, bool) {
	if stepID == r.DisqualifiedStep.ID {
		return r.DisqualifiedStep, true
	}
	i, ok := r.positions[stepID]
	if !ok {
		return StepDefinition{}, false
	}
	return r.Steps[i], true
}

// First returns the opening step of the flow.
func (r *Registry) First() StepDefinition {
	return r.Steps[0]
}

// Terminal reports whether the step ends the flow.
func (r *Registry) Terminal(stepID string) bool {
	if stepID == r.DisqualifiedStep.ID {
		return true
	}
	i, ok := r.positions[stepID]
	return ok && i == len(r.Steps)-1
}
