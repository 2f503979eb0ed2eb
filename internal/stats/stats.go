// Package stats computes the dashboard aggregates: per-variant funnels,
// urgency histograms and a daily time series. All functions are pure over
// in-memory slices; the caller fans out the store reads.
package stats

import (
	"time"

	"betterphone/internal/domain"
	"betterphone/internal/steps"
)

// FunnelEntry is one step of a variant funnel.
type FunnelEntry struct {
	StepID string `json:"stepId"`
	Title  string `json:"title"`
	Count  int    `json:"count"`
}

// Funnel counts, for each step of the registry in order, how many sessions
// reached that step or a later one. The result is monotone non-increasing.
// Disqualified sessions sit at the gate step; completed sessions count at
// every step.
func Funnel(reg *steps.Registry, sessions []domain.SurveySession) []FunnelEntry {
	reached := make([]int, len(reg.Steps))
	for _, sess := range sessions {
		if sess.Variant != reg.Variant {
			continue
		}
		idx := sessionIndex(reg, sess)
		if idx < 0 {
			continue
		}
		for i := 0; i <= idx && i < len(reached); i++ {
			reached[i]++
		}
	}
	entries := make([]FunnelEntry, len(reg.Steps))
	for i, step := range reg.Steps {
		entries[i] = FunnelEntry{StepID: step.ID, Title: step.Title, Count: reached[i]}
	}
	return entries
}

func sessionIndex(reg *steps.Registry, sess domain.SurveySession) int {
	if sess.Completed {
		return len(reg.Steps) - 1
	}
	if sess.CurrentStepID == reg.DisqualifiedStep.ID {
		i, _ := reg.Index(reg.GateStepID)
		return i
	}
	if i, ok := reg.Index(sess.CurrentStepID); ok {
		return i
	}
	// Unknown current step still proves the session started.
	return 0
}

// UrgencyBuckets groups extracted urgency scores into the dashboard's four
// severity bands.
type UrgencyBuckets struct {
	Low      int `json:"low"`      // 1..3
	Medium   int `json:"medium"`   // 4..6
	High     int `json:"high"`     // 7..8
	Critical int `json:"critical"` // 9..10
}

// UrgencyHistogram buckets the urgency scores of recordings that completed
// extraction. Recordings without extracted data are skipped.
func UrgencyHistogram(recordings []domain.VoiceRecording) UrgencyBuckets {
	var b UrgencyBuckets
	for _, rec := range recordings {
		if rec.Extracted == nil {
			continue
		}
		switch score := rec.Extracted.UrgencyScore; {
		case score >= 1 && score <= 3:
			b.Low++
		case score >= 4 && score <= 6:
			b.Medium++
		case score >= 7 && score <= 8:
			b.High++
		case score >= 9 && score <= 10:
			b.Critical++
		}
	}
	return b
}

// DayStat is one day of the starts/completions series.
type DayStat struct {
	Date        string `json:"date"` // YYYY-MM-DD, UTC
	Starts      int    `json:"starts"`
	Completions int    `json:"completions"`
}

// DailySeries builds the last `days` days of session starts and completions,
// oldest first, ending on the day containing now. Days with no activity are
// present with zero counts. Starts are dated by CreatedAt; completions by
// UpdatedAt of completed sessions.
func DailySeries(sessions []domain.SurveySession, now time.Time, days int) []DayStat {
	if days <= 0 {
		days = 30
	}
	end := now.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(days - 1))

	index := make(map[string]int, days)
	series := make([]DayStat, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		series[i] = DayStat{Date: date}
		index[date] = i
	}
	for _, sess := range sessions {
		if i, ok := index[sess.CreatedAt.UTC().Format("2006-01-02")]; ok {
			series[i].Starts++
		}
		if sess.Completed {
			if i, ok := index[sess.UpdatedAt.UTC().Format("2006-01-02")]; ok {
				series[i].Completions++
			}
		}
	}
	return series
}
