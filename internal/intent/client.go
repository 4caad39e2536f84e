package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/44xclub/voicesched/internal/domain"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	defaultTimeout  = 8 * time.Second
	defaultDuration = 60
)

const systemPromptTemplate = `You translate a spoken scheduling instruction into exactly one JSON action.
The user's timezone is %s and their current local time is %s.
Respond with a single JSON object and nothing else:
{
  "intent": "create_block" | "reschedule_block" | "cancel_block",
  "create_block": {"date_local": "YYYY-MM-DD", "start_time_local": "HH:MM", "duration_minutes": int, "title": string, "notes": string, "workout_items": [string]},
  "reschedule_block": {"target": {"block_id": string} | {"selector": {"date_local": "YYYY-MM-DD", "start_time_local": "HH:MM"}}, "new_time": {"date_local": "YYYY-MM-DD", "start_time_local": "HH:MM"}},
  "cancel_block": {"target": ...},
  "confidence": float between 0 and 1,
  "needs_clarification": bool
}
Include only the payload matching the intent. Resolve relative dates
("today", "tomorrow", "in an hour") against the current local time given above.`

// Config holds configuration for the HTTP intent parser client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	DefaultDuration int
}

// Client calls an OpenAI-compatible chat completions endpoint and validates
// the result into a domain.ParseResult.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	model           string
	timeout         time.Duration
	defaultDuration int
}

// NewClient creates an intent parser client. Zero-value config fields fall
// back to sane defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaultDuration
	}
	return &Client{
		httpClient:      &http.Client{},
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		timeout:         cfg.Timeout,
		defaultDuration: cfg.DefaultDuration,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// wireResult mirrors the model's JSON. Confidence and needs_clarification
// are pointers so an omitted field is distinguishable from a zero value.
type wireResult struct {
	Intent             string                  `json:"intent"`
	Create             *domain.CreateBlock     `json:"create_block"`
	Reschedule         *domain.RescheduleBlock `json:"reschedule_block"`
	Cancel             *domain.CancelBlock     `json:"cancel_block"`
	Confidence         *float64                `json:"confidence"`
	NeedsClarification *bool                   `json:"needs_clarification"`
}

// Parse sends the transcript to the model and validates the structured
// result. nowLocal is computed by the caller in the user's timezone so
// relative expressions resolve without the parser needing timezone logic.
func (c *Client) Parse(ctx context.Context, transcript, timezone, nowLocal string) (*domain.ParseResult, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, timezone, nowLocal)},
			{Role: "user", Content: transcript},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close chat response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(raw)}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, &MalformedResponseError{Reason: "no choices in response"}
	}

	return ValidateRaw([]byte(chat.Choices[0].Message.Content), c.defaultDuration)
}

// ValidateRaw decodes and validates model output into a ParseResult,
// independent of the model's own judgement. A missing confidence defaults
// to 0 and a missing needs_clarification defaults to true: absent signals
// are read as least-confident, never silently confident.
func ValidateRaw(raw []byte, defaultDurationMinutes int) (*domain.ParseResult, error) {
	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid JSON: " + err.Error()}
	}

	action := domain.ProposedAction{
		Intent:     domain.Intent(wire.Intent),
		Create:     wire.Create,
		Reschedule: wire.Reschedule,
		Cancel:     wire.Cancel,
	}
	if !action.Intent.Valid() {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("unknown intent %q", wire.Intent)}
	}
	if err := action.Validate(defaultDurationMinutes); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error()}
	}

	result := &domain.ParseResult{
		Action:             action,
		Confidence:         0,
		NeedsClarification: true,
	}
	if wire.Confidence != nil {
		conf := *wire.Confidence
		if conf < 0 || conf > 1 {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("confidence %v out of range", conf)}
		}
		result.Confidence = conf
	}
	if wire.NeedsClarification != nil {
		result.NeedsClarification = *wire.NeedsClarification
	}
	return result, nil
}
