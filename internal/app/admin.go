package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"betterphone/internal/domain"
	"betterphone/internal/stats"
	"betterphone/internal/steps"
	"betterphone/internal/store"
)

// DashboardStats is the full admin stats payload.
type DashboardStats struct {
	TotalSessions  int                                    `json:"totalSessions"`
	CompletedCount int                                    `json:"completedCount"`
	VoiceCount     int                                    `json:"voiceCount"`
	Funnels        map[domain.Variant][]stats.FunnelEntry `json:"funnels"`
	Urgency        stats.UrgencyBuckets                   `json:"urgency"`
	Daily          []stats.DayStat                        `json:"daily"`
}

// Stats aggregates the dashboard numbers. The two store reads are independent
// and fan out concurrently.
func (a *App) Stats(ctx context.Context) (DashboardStats, error) {
	var (
		sessions   []domain.SurveySession
		recordings []domain.VoiceRecording
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = a.store.AllSessions()
		return err
	})
	g.Go(func() error {
		var err error
		recordings, err = a.store.ListExtractedRecordings()
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, fmt.Errorf("load stats: %w", err)
	}

	out := DashboardStats{
		TotalSessions: len(sessions),
		Funnels:       make(map[domain.Variant][]stats.FunnelEntry, 2),
		Urgency:       stats.UrgencyHistogram(recordings),
		Daily:         stats.DailySeries(sessions, time.Now(), 30),
	}
	for _, sess := range sessions {
		if sess.Completed {
			out.CompletedCount++
		}
		for _, ans := range sess.Answers {
			if ans.Kind == domain.AnswerVoice && ans.RecordingID != "" {
				out.VoiceCount++
				break
			}
		}
	}
	for _, variant := range []domain.Variant{domain.VariantParent, domain.VariantSchoolAdmin} {
		reg, _ := steps.ForVariant(variant)
		out.Funnels[variant] = stats.Funnel(reg, sessions)
	}
	return out, nil
}

// ListResponses pages sessions for the admin table, each enriched with its
// tags and recordings.
func (a *App) ListResponses(filter store.SessionFilter) ([]ResponseRow, int, error) {
	sessions, total, err := a.store.ListSessions(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	rows := make([]ResponseRow, 0, len(sessions))
	for _, sess := range sessions {
		row, err := a.buildResponseRow(sess)
		if err != nil {
			return nil, 0, err
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

// ResponseRow is one admin-view session with its attachments.
type ResponseRow struct {
	Session    domain.SurveySession    `json:"session"`
	Tags       []domain.Tag            `json:"tags"`
	Recordings []domain.VoiceRecording `json:"recordings"`
	Notes      []domain.Note           `json:"notes,omitempty"`
}

func (a *App) buildResponseRow(sess domain.SurveySession) (ResponseRow, error) {
	tags, err := a.store.TagsBySession(sess.ID)
	if err != nil {
		return ResponseRow{}, fmt.Errorf("load tags: %w", err)
	}
	recs, err := a.store.ListRecordingsBySession(sess.ID)
	if err != nil {
		return ResponseRow{}, fmt.Errorf("load recordings: %w", err)
	}
	return ResponseRow{Session: sess, Tags: tags, Recordings: recs}, nil
}

// Compare returns side-by-side rows for 2 or 3 sessions.
func (a *App) Compare(ids []string) ([]ResponseRow, error) {
	if len(ids) < 2 || len(ids) > 3 {
		return nil, fmt.Errorf("%w: compare takes 2 or 3 session ids", ErrInvalidInput)
	}
	rows := make([]ResponseRow, 0, len(ids))
	for _, id := range ids {
		sess, found, err := a.store.GetSession(id)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		row, err := a.buildResponseRow(sess)
		if err != nil {
			return nil, err
		}
		notes, err := a.store.ListNotesBySession(id)
		if err != nil {
			return nil, fmt.Errorf("load notes: %w", err)
		}
		row.Notes = notes
		rows = append(rows, row)
	}
	return rows, nil
}

// Bulk actions over a set of sessions.
const (
	BulkDelete = "delete"
	BulkExport = "export"
	BulkTag    = "tag"
)

// Bulk runs one admin bulk action. Export returns the full rows; delete and
// tag return nil rows. Blob deletes are best-effort: a missing object must
// not keep the database rows alive.
func (a *App) Bulk(ctx context.Context, action string, sessionIDs []string, tagID string) ([]ResponseRow, error) {
	if len(sessionIDs) == 0 {
		return nil, fmt.Errorf("%w: sessionIds required", ErrInvalidInput)
	}
	switch action {
	case BulkDelete:
		return nil, a.bulkDelete(ctx, sessionIDs)
	case BulkExport:
		rows := make([]ResponseRow, 0, len(sessionIDs))
		for _, id := range sessionIDs {
			sess, found, err := a.store.GetSession(id)
			if err != nil {
				return nil, fmt.Errorf("load session: %w", err)
			}
			if !found {
				continue
			}
			row, err := a.buildResponseRow(sess)
			if err != nil {
				return nil, err
			}
			notes, err := a.store.ListNotesBySession(id)
			if err != nil {
				return nil, fmt.Errorf("load notes: %w", err)
			}
			row.Notes = notes
			rows = append(rows, row)
		}
		return rows, nil
	case BulkTag:
		if tagID == "" {
			return nil, fmt.Errorf("%w: tagId required for tag action", ErrInvalidInput)
		}
		for _, id := range sessionIDs {
			if err := a.store.AssignTag(id, tagID); err != nil {
				return nil, fmt.Errorf("assign tag: %w", err)
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown bulk action %q", ErrInvalidInput, action)
	}
}

func (a *App) bulkDelete(ctx context.Context, sessionIDs []string) error {
	for _, id := range sessionIDs {
		recs, err := a.store.ListRecordingsBySession(id)
		if err != nil {
			return fmt.Errorf("list recordings: %w", err)
		}
		for _, rec := range recs {
			if rec.StorageKey == "" {
				continue
			}
			if err := a.objects.Delete(ctx, rec.StorageKey); err != nil {
				slog.Warn("blob delete failed", "recording_id", rec.ID, "err", err)
			}
		}
	}
	if err := a.store.DeleteSessions(sessionIDs); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// Insights returns the cached aggregate insight document. When force is set
// or nothing is cached, a fresh document is generated over the extracted
// corpus and cached.
func (a *App) Insights(ctx context.Context, force bool) (string, error) {
	if a.cache == nil || a.insights == nil {
		return "", errors.New("insight generation not configured")
	}
	if !force {
		if doc, ok, err := a.cache.GetAggregate(ctx); err == nil && ok {
			return doc, nil
		} else if err != nil {
			slog.Warn("insight cache read failed", "err", err)
		}
	}
	corpus, err := a.buildCorpus()
	if err != nil {
		return "", err
	}
	if corpus == "" {
		return "", fmt.Errorf("%w: no responses to analyze", ErrNotFound)
	}
	doc, err := a.insights.AggregateInsights(ctx, corpus)
	if err != nil {
		return "", fmt.Errorf("generate insights: %w", err)
	}
	if err := a.cache.SetAggregate(ctx, doc); err != nil {
		slog.Warn("insight cache write failed", "err", err)
	}
	return doc, nil
}

// ResponseSummary returns an LLM summary of one session, cached per session.
func (a *App) ResponseSummary(ctx context.Context, sessionID string) (string, error) {
	if a.cache == nil || a.insights == nil {
		return "", errors.New("insight generation not configured")
	}
	if summary, ok, err := a.cache.GetSummary(ctx, sessionID); err == nil && ok {
		return summary, nil
	} else if err != nil {
		slog.Warn("summary cache read failed", "err", err)
	}
	sess, found, err := a.store.GetSession(sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	recs, err := a.store.ListRecordingsBySession(sessionID)
	if err != nil {
		return "", fmt.Errorf("load recordings: %w", err)
	}
	summary, err := a.insights.SummarizeResponse(ctx, renderResponse(sess, recs))
	if err != nil {
		return "", fmt.Errorf("summarize response: %w", err)
	}
	if err := a.cache.SetSummary(ctx, sessionID, summary); err != nil {
		slog.Warn("summary cache write failed", "err", err)
	}
	return summary, nil
}

// buildCorpus renders a sample of responses into the prompt body for
// aggregate insight generation. Capped so the prompt stays within model
// limits on large datasets.
const corpusSampleLimit = 100

func (a *App) buildCorpus() (string, error) {
	recs, err := a.store.ListExtractedRecordings()
	if err != nil {
		return "", fmt.Errorf("load recordings: %w", err)
	}
	var b strings.Builder
	for i, rec := range recs {
		if i >= corpusSampleLimit {
			break
		}
		fmt.Fprintf(&b, "Response %d (urgency %d, sentiment %s):\n%s\n\n",
			i+1, rec.Extracted.UrgencyScore, rec.Extracted.Sentiment, rec.Transcript)
	}
	return strings.TrimSpace(b.String()), nil
}

func renderResponse(sess domain.SurveySession, recs []domain.VoiceRecording) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Variant: %s\n", sess.Variant)
	reg, ok := steps.ForVariant(sess.Variant)
	for stepID, ans := range sess.Answers {
		title := stepID
		if ok {
			if def, found := reg.Find(stepID); found {
				title = def.Title
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", title, renderAnswer(ans))
	}
	for _, rec := range recs {
		if rec.Transcript != "" {
			fmt.Fprintf(&b, "Voice (%s): %s\n", rec.StepID, rec.Transcript)
		}
	}
	return b.String()
}

func renderAnswer(ans domain.StepAnswer) string {
	switch ans.Kind {
	case domain.AnswerText:
		return ans.Text
	case domain.AnswerChoice:
		return ans.Choice
	case domain.AnswerMulti:
		return strings.Join(ans.Choices, ", ")
	case domain.AnswerRanking:
		return strings.Join(ans.Ranking, " > ")
	case domain.AnswerForm:
		parts := make([]string, 0, len(ans.Fields))
		for k, v := range ans.Fields {
			parts = append(parts, k+"="+v)
		}
		return strings.Join(parts, ", ")
	case domain.AnswerEmail:
		return ans.Email
	case domain.AnswerVoice:
		return "(voice recording)"
	default:
		return ""
	}
}

// Tags and notes are thin passthroughs with id generation and input checks.

func (a *App) CreateTag(name, color string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, fmt.Errorf("%w: tag name required", ErrInvalidInput)
	}
	tag := domain.Tag{ID: uuid.NewString(), Name: name, Color: color, CreatedAt: time.Now().UTC()}
	if err := a.store.CreateTag(tag); err != nil {
		return domain.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

func (a *App) ListTags() ([]domain.Tag, error) {
	return a.store.ListTags()
}

func (a *App) DeleteTag(id string) error {
	if err := a.store.DeleteTag(id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

func (a *App) AssignTag(sessionID, tagID string) error {
	if err := a.store.AssignTag(sessionID, tagID); err != nil {
		return fmt.Errorf("assign tag: %w", err)
	}
	return nil
}

func (a *App) CreateNote(sessionID, author, body string) (domain.Note, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Note{}, fmt.Errorf("%w: note body required", ErrInvalidInput)
	}
	if _, found, err := a.store.GetSession(sessionID); err != nil {
		return domain.Note{}, fmt.Errorf("load session: %w", err)
	} else if !found {
		return domain.Note{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	note := domain.Note{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Author:    strings.TrimSpace(author),
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateNote(note); err != nil {
		return domain.Note{}, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

func (a *App) ListNotes(sessionID string) ([]domain.Note, error) {
	return a.store.ListNotesBySession(sessionID)
}

func (a *App) DeleteNote(id string) error {
	if err := a.store.DeleteNote(id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}
