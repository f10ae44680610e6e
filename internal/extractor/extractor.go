// Package extractor wraps the external LLM call. The extractor is
// treated as opaque and untrusted: it either returns the literal DROP
// sentinel, one JSON object shaped like a candidate event, or something
// malformed. Transport failures are recoverable (the caller defers the
// email); malformed output is reported distinctly from an intentional
// abstention so extractor quality drift stays visible in logs.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"email-event-digest/internal/config"
	"email-event-digest/internal/models"
)

const dropSentinel = "DROP"

// Result is one extraction outcome. Exactly one of Dropped, Malformed,
// or Candidate is meaningful.
type Result struct {
	Dropped   bool
	Malformed bool
	Candidate *models.CandidateEvent
}

// EventExtractor is the pipeline's view of the external extractor.
type EventExtractor interface {
	Extract(ctx context.Context, email models.EmailMessage) (Result, error)
}

const promptTemplate = `You extract calendar events from emails. Respond with exactly one of:
- the literal string DROP if the email does not announce a single concrete event
- one JSON object with the fields: title, description, organizer, contacts
  (list of {name, email}), date_start (YYYY-MM-DD), time_start (HH:MM, 24h),
  time_end, timezone, location, urls (list), food_type, food_quantity_hint,
  food_cuisine, category, confidence ({category, cuisine, overall}, each 0-1)

Use null for unknown fields. Never invent dates. Allowed categories: %s.
Allowed cuisines: %s.

Email received at: %s (%s)
Subject: %s

%s`

// OpenAIExtractor talks to an OpenAI-compatible chat completion API.
type OpenAIExtractor struct {
	client     *openai.Client
	cfg        config.ExtractorConfig
	categories []string
	cuisines   []string
}

// New creates an OpenAIExtractor from configuration. BaseURL may point
// at any OpenAI-compatible gateway.
func New(cfg config.ExtractorConfig, categories, cuisines []string) *OpenAIExtractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIExtractor{
		client:     openai.NewClientWithConfig(clientCfg),
		cfg:        cfg,
		categories: categories,
		cuisines:   cuisines,
	}
}

// Extract runs one extraction with bounded retry on transport errors.
// A non-nil error means the call never succeeded and the email should be
// retried on a future run.
func (e *OpenAIExtractor) Extract(ctx context.Context, email models.EmailMessage) (Result, error) {
	prompt := fmt.Sprintf(promptTemplate,
		strings.Join(e.categories, ", "),
		strings.Join(e.cuisines, ", "),
		email.ReceivedAt.Format(time.RFC3339),
		email.ReceivedAt.Location().String(),
		email.Subject,
		email.Body,
	)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
			}
			logrus.Debugf("Retrying extraction for %s (attempt %d)", email.ID, attempt+1)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       e.cfg.Model,
			Temperature: 0.1,
			MaxTokens:   1500,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion response")
			continue
		}
		return Parse(resp.Choices[0].Message.Content), nil
	}
	return Result{}, fmt.Errorf("extractor call failed after %d attempts: %w", e.cfg.MaxRetries+1, lastErr)
}

// Parse classifies raw extractor output into sentinel, candidate, or
// malformed. Code fences and surrounding quotes are tolerated; anything
// that is not the sentinel or a single object is malformed.
func Parse(raw string) Result {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == dropSentinel || text == `"`+dropSentinel+`"` {
		return Result{Dropped: true}
	}

	if !strings.HasPrefix(text, "{") {
		return Result{Malformed: true}
	}
	var cand models.CandidateEvent
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&cand); err != nil {
		return Result{Malformed: true}
	}
	// A second JSON value after the object means the extractor emitted
	// multiple objects; that breaks the single-object contract.
	if dec.More() {
		return Result{Malformed: true}
	}
	return Result{Candidate: &cand}
}
