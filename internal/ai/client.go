package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/snfwatch/billwatch/internal/models"
)

// ErrUnavailable is returned when the scoring service is not configured or cannot be reached
var ErrUnavailable = errors.New("ai scoring service unavailable")

const maxExcerptChars = 4000

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	endpoint string
	model    string
	apiKey   string
	client   *resty.Client
}

// ScoreRequest is the context sent for one change
type ScoreRequest struct {
	Metadata    models.BillMetadata
	Status      string
	DiffExcerpt string
	Domains     []string
}

// ScoreResponse is the structured answer expected from the model
type ScoreResponse struct {
	Label        string             `json:"label"`
	DomainScores map[string]float64 `json:"domain_scores"`
	Confidence   float64            `json:"confidence"`
	Urgency      string             `json:"urgency"`
	Rationale    string             `json:"rationale"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient creates a client; an empty API key leaves the client unavailable
func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   resty.New().SetTimeout(30 * time.Second),
	}
}

// Available reports whether the client is configured
func (c *Client) Available() bool {
	return c != nil && c.apiKey != "" && c.endpoint != "" && c.model != ""
}

// Score asks the model to grade a bill change
func (c *Client) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	content, err := c.chat(ctx, scoringPrompt, buildScoringContext(req), 500)
	if err != nil {
		return nil, err
	}

	var out ScoreResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse scoring response: %w", err)
	}
	return &out, nil
}

// InterpretStatus asks the model to place a status string on the canonical stage list
func (c *Client) InterpretStatus(ctx context.Context, status string) (string, error) {
	content, err := c.chat(ctx, stagePrompt, "Status: "+status, 50)
	if err != nil {
		return "", err
	}

	var out struct {
		Stage string `json:"stage"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", fmt.Errorf("failed to parse stage response: %w", err)
	}
	return out.Stage, nil
}

// Ping sends a minimal request to verify credentials and connectivity
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.chat(ctx, `Reply with the JSON object {"ok": true}.`, "ping", 10)
	return err
}

func (c *Client) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	var result chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature:    0.1,
			MaxTokens:      maxTokens,
			ResponseFormat: &responseFormat{Type: "json_object"},
		}).
		SetResult(&result).
		Post(c.endpoint)

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.IsError() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 512 {
			body = body[:512]
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode(), body)
		}
		return "", fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode(), body)
	}

	if len(result.Choices) == 0 {
		return "", errors.New("scoring service returned no choices")
	}

	return stripFences(result.Choices[0].Message.Content), nil
}

// stripFences removes a markdown code fence around a JSON answer
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildScoringContext(req ScoreRequest) string {
	var b strings.Builder
	meta := req.Metadata

	fmt.Fprintf(&b, "Bill: %s\n", fallback(meta.Number, meta.BillID))
	fmt.Fprintf(&b, "Title: %s\n", fallback(meta.Title, "Unknown"))
	if meta.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s\n", meta.Jurisdiction)
	}
	if req.Status != "" {
		fmt.Fprintf(&b, "Current status: %s\n", req.Status)
	}
	if meta.Relevance != nil {
		fmt.Fprintf(&b, "Relevance score: %.0f/100\n", *meta.Relevance)
	}
	if meta.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", truncate(meta.Summary, 500))
	}
	fmt.Fprintf(&b, "Requested domains: %s\n", strings.Join(req.Domains, ", "))
	fmt.Fprintf(&b, "\nChanged text:\n%s\n", truncate(req.DiffExcerpt, maxExcerptChars))

	return b.String()
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const scoringPrompt = `You analyse legislative changes for skilled nursing facility operators.
Return only a JSON object with these fields:
  "label": one of "minor", "moderate", "significant", "critical"
  "domain_scores": an object mapping each requested domain to a score from 0 to 10
  "confidence": a number from 0 to 1
  "urgency": one of "immediate", "short_term", "long_term", "none"
  "rationale": one or two sentences explaining the grade`

const stagePrompt = `Map the legislative status to exactly one stage.
Allowed stages: introduced, committee, reported, floor_vote, passed_chamber, other_chamber,
passed_both, sent_to_executive, enacted, vetoed, failed, withdrawn, unknown.
Return only a JSON object of the form {"stage": "<stage>"}.`
