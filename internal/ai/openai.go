package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"betterphone/internal/domain"
)

const (
	extractSystemPrompt = `You analyze voice responses from a survey about a simplified phone for children.
Given a transcript, respond with ONLY a JSON object with these fields:
  "urgencyScore": integer 1-10, how urgently the speaker wants a solution
  "painPoints": array of short strings naming the speaker's concerns
  "summary": one or two sentences summarizing the response
  "sentiment": one of "positive", "neutral", "negative"
No prose, no markdown, just the JSON object.`

	aggregateSystemPrompt = `You are a marketing analyst. You are given a corpus of survey responses
about a simplified phone for children, collected from parents and school administrators.
Write a concise analysis covering: recurring pain points, overall sentiment,
differences between the two audiences, and the 3 strongest marketing angles.
Use plain prose with short headers.`

	summarySystemPrompt = `Summarize the following single survey response in 2-3 sentences,
highlighting what the respondent cares about most. Plain prose only.`
)

// Client implements Transcriber, Extractor and InsightGenerator on the
// OpenAI API.
type Client struct {
	api             *openai.Client
	chatModel       string
	transcribeModel string
}

// NewClient builds an OpenAI-backed client. Empty models fall back to
// gpt-4o-mini for chat and whisper-1 for transcription.
func NewClient(apiKey, chatModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key required")
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	return &Client{
		api:             openai.NewClient(apiKey),
		chatModel:       chatModel,
		transcribeModel: openai.Whisper1,
	}, nil
}

// Transcribe runs Whisper over the audio stream. The filename is only used
// by the API to sniff the container format.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("create transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Extract asks the chat model for structured signals and parses its reply.
func (c *Client) Extract(ctx context.Context, transcript string) (domain.ExtractedData, error) {
	content, err := c.complete(ctx, extractSystemPrompt, transcript)
	if err != nil {
		return domain.ExtractedData{}, err
	}
	return ParseExtraction(content)
}

// AggregateInsights generates the dashboard-wide analysis document.
func (c *Client) AggregateInsights(ctx context.Context, corpus string) (string, error) {
	return c.complete(ctx, aggregateSystemPrompt, corpus)
}

// SummarizeResponse generates a short per-response summary.
func (c *Client) SummarizeResponse(ctx context.Context, response string) (string, error) {
	return c.complete(ctx, summarySystemPrompt, response)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ParseExtraction decodes the model's JSON reply. Models occasionally wrap
// the object in a markdown fence despite instructions, so fences are
// stripped first. The urgency score is clamped to 1..10.
func ParseExtraction(content string) (domain.ExtractedData, error) {
	content = stripFence(content)
	var data domain.ExtractedData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return domain.ExtractedData{}, fmt.Errorf("parse extraction reply: %w", err)
	}
	if data.UrgencyScore < 1 {
		data.UrgencyScore = 1
	}
	if data.UrgencyScore > 10 {
		data.UrgencyScore = 10
	}
	switch data.Sentiment {
	case "positive", "neutral", "negative":
	default:
		data.Sentiment = "neutral"
	}
	return data, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
