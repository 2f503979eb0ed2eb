// Package session holds the server-side mirror of one respondent's survey
// state. The browser keeps its own copy in local storage; this type defines
// the merge semantics both sides agree on.
package session

import (
	"strings"
	"time"

	"betterphone/internal/domain"
)

// Update is a partial state change sent by the client alongside a save.
// Nil/zero fields are left untouched; per-step answers are replaced
// wholesale (shallow merge, no deep merging of nested objects).
type Update struct {
	CurrentStepID string
	Answers       map[string]domain.StepAnswer
	Email         *string
	EmailOptIn    *bool
	Completed     *bool
	Seq           int64
}

// New returns a fresh session for a variant, positioned at the first step.
func New(id string, variant domain.Variant, firstStepID string, now time.Time) domain.SurveySession {
	return domain.SurveySession{
		ID:            id,
		Variant:       variant,
		CurrentStepID: firstStepID,
		Answers:       map[string]domain.StepAnswer{},
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Merge applies a partial update to a session. Top-level fields overwrite,
// step answers replace their whole entry, and keys absent from the update
// are preserved. Returns the merged session; the input is not mutated.
func Merge(sess domain.SurveySession, update Update, now time.Time) domain.SurveySession {
	merged := sess
	merged.Answers = make(map[string]domain.StepAnswer, len(sess.Answers)+len(update.Answers))
	for stepID, ans := range sess.Answers {
		merged.Answers[stepID] = ans
	}
	for stepID, ans := range update.Answers {
		merged.Answers[stepID] = ans
	}
	if strings.TrimSpace(update.CurrentStepID) != "" {
		merged.CurrentStepID = update.CurrentStepID
	}
	if update.Email != nil {
		merged.Email = strings.TrimSpace(*update.Email)
	}
	if update.EmailOptIn != nil {
		merged.EmailOptIn = *update.EmailOptIn
	}
	if update.Completed != nil {
		merged.Completed = *update.Completed
	}
	if update.Seq > merged.Seq {
		merged.Seq = update.Seq
	}
	merged.UpdatedAt = now.UTC()
	return merged
}

// ValidEmail does a light syntactic check. The email step is the only
// hard-validated field in either flow; everything else is skippable.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if strings.ContainsAny(email, " \t") {
		return false
	}
	dot := strings.LastIndexByte(email[at:], '.')
	return dot > 1 && at+dot < len(email)-1
}
