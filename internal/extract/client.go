package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

const systemPrompt = `You are a structured extraction system for a dental practice-management screen.
Extract section data from the provided page text.

RULES:
1. Extract ONLY information explicitly visible in the text - never infer or assume
2. Omit fields you cannot see; use null for fields you saw but could not read
3. Use lower_snake_case field names inside each section
4. Return ONLY the JSON object, no additional text

SECTIONS: profile, insurance, billing, recare, charting, forms, claims, perio, appointments

JSON SCHEMA:
{
  "sections": {
    "insurance": {"carrier": "...", "member_id": "...", "verified_at": "..."},
    "billing": {"balance": 480.0, "aging": {"current": 120.0, "over_90": 300.0}}
  },
  "today_visit": {
    "time": "9:00 AM",
    "provider": "Dr. Lee",
    "kind": "hygiene",
    "procedure_codes": ["D1110", "D0120"]
  }
}`

// ClientConfig holds configuration for the extraction service client.
type ClientConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	TimeoutSecs int
	MaxRetries  int
}

// Client talks to an OpenAI-compatible chat completion endpoint and parses
// its JSON answer into a Result. It implements Service.
type Client struct {
	config ClientConfig
	http   *http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type extractionPayload struct {
	Sections   map[string]map[string]any `json:"sections"`
	TodayVisit *profile.Visit            `json:"today_visit"`
}

// HTTPError carries status and Retry-After context for retry decisions.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewClient creates an extraction client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 30
	}
	return &Client{
		config: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
	}
}

// Extract sends the cleaned text (and the benefits card as a contextual
// hint, when available) to the extraction service. Retries with exponential
// backoff, honoring Retry-After on 429s.
func (c *Client) Extract(ctx context.Context, cleanedText string, hint *artifact.Artifact) (*Result, error) {
	if c.config.Endpoint == "" {
		return nil, fmt.Errorf("extraction service not configured")
	}

	user := fmt.Sprintf("Extract section data from this screen text:\n\n---\n%s\n---\n\nReturn JSON matching the schema.", cleanedText)
	if hint != nil {
		if b, err := json.Marshal(hint); err == nil {
			user += "\n\nKnown benefits card for context (do not echo it back):\n" + string(b)
		}
	}

	req := chatRequest{
		Model:       c.config.Model,
		Temperature: 0.1,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		res, err := c.attempt(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == 429 && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("extraction failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, req chatRequest) (*Result, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}

	res := &Result{
		Sections:   make(map[profile.SectionName]map[string]any),
		TodayVisit: payload.TodayVisit,
		Provenance: ProvenanceModel,
	}
	for name, fields := range payload.Sections {
		sec := profile.SectionName(strings.ToLower(strings.TrimSpace(name)))
		if !profile.KnownSection(sec) {
			continue // the service is best-effort; drop hallucinated sections
		}
		res.Sections[sec] = fields
	}
	return res, nil
}

func (c *Client) send(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody), RetryAfter: retryAfter}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	return &chatResp, nil
}
