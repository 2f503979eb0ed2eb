// Package ai wraps the OpenAI API for transcription, structured extraction
// and insight generation over survey responses.
package ai

import (
	"context"
	"io"

	"betterphone/internal/domain"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Extractor pulls structured marketing signals out of a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (domain.ExtractedData, error)
}

// InsightGenerator produces free-form analysis documents for the dashboard.
type InsightGenerator interface {
	AggregateInsights(ctx context.Context, corpus string) (string, error)
	SummarizeResponse(ctx context.Context, response string) (string, error)
}
