package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/orian/sqlmedic/heal"
)

// AdvisoryClient implements heal.SemanticAdvisor over an
// OpenAI-compatible chat-completions endpoint. The model's answer is
// treated as untrusted: any transport, shape, or parse failure is
// returned as an error so the validator falls back to rule-based-only.
type AdvisoryClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAdvisoryClient creates an advisory client. The request timeout is a
// backstop; per-call deadlines come from the caller's context.
func NewAdvisoryClient(baseURL, apiKey, model string) *AdvisoryClient {
	return &AdvisoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

const advisoryPrompt = `You are a SQL reviewer. Compare the two queries below and decide whether they return the same result set for every possible database state.
Respond with only a JSON object: {"equivalent": true|false, "confidence": 0.0-1.0, "explanation": "..."}.

Original:
%s

Rewritten:
%s`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// parsedAdvisory is the typed shape expected inside the model's answer.
type parsedAdvisory struct {
	Equivalent  bool    `json:"equivalent"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// CompareQueries asks the advisory model for a semantic-equivalence
// opinion on the rewrite.
func (c *AdvisoryClient) CompareQueries(ctx context.Context, original, rewritten string) (*heal.AdvisoryOpinion, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(advisoryPrompt, original, rewritten)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode advisory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisory service returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read advisory response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("malformed advisory response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("advisory response has no choices")
	}

	parsed, err := parseAdvisoryContent(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &heal.AdvisoryOpinion{
		Equivalent:  parsed.Equivalent,
		Confidence:  parsed.Confidence,
		Explanation: parsed.Explanation,
	}, nil
}

// parseAdvisoryContent extracts and decodes the JSON object from a model
// answer that may wrap it in prose or a code fence.
func parseAdvisoryContent(content string) (*parsedAdvisory, error) {
	payload, ok := extractJSONPayload(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in advisory answer")
	}

	var parsed parsedAdvisory
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode advisory answer: %w", err)
	}
	return &parsed, nil
}

// extractJSONPayload returns the substring from the first '{' or '[' to
// the matching last '}' or ']'.
func extractJSONPayload(content string) (string, bool) {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return "", false
	}

	closer := "}"
	if content[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(content, closer)
	if end <= start {
		return "", false
	}
	return content[start : end+1], true
}
