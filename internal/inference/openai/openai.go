// Package openai implements the inference collaborator against the OpenAI
// chat completions API. The provider asks the model for the ledger entries
// needed to satisfy the next transition guard and expects a single JSON
// object matching reasoning.Proposal.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maitre-labs/raison/internal/reasoning"
)

const apiURL = "https://api.openai.com/v1/chat/completions"

// Provider calls OpenAI for step proposals.
type Provider struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// New creates a Provider. The overall call deadline is enforced by the
// executor's context; the client timeout is a backstop.
func New(apiKey, model string, temperature float64, maxTokens int, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ProposeStep implements reasoning.Provider.
func (p *Provider) ProposeStep(ctx context.Context, in reasoning.StepInput) (reasoning.Proposal, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return reasoning.Proposal{}, err
	}
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    p.temperature,
		MaxTokens:      p.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return reasoning.Proposal{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return reasoning.Proposal{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return reasoning.Proposal{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return reasoning.Proposal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return reasoning.Proposal{}, fmt.Errorf("openai returned %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return reasoning.Proposal{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return reasoning.Proposal{}, fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return reasoning.Proposal{}, fmt.Errorf("openai returned no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	content = stripCodeFence(content)
	var prop reasoning.Proposal
	if err := json.Unmarshal([]byte(content), &prop); err != nil {
		return reasoning.Proposal{}, fmt.Errorf("model returned invalid proposal JSON: %w", err)
	}
	return prop, nil
}

const systemPrompt = `You are the reasoning step of a legal-case analysis engine.
Given a workspace, its ledger, and the target state, respond with a single JSON
object with any of these fields: facts, contexts, obligations, missing, risks,
actions (arrays of entries), no_obligations, gap_analysis_done, no_risk,
no_action_needed (booleans), uncertainty, quality (0..1), explanation (string).
Produce only the entries required for the target transition. Respond with JSON only.`

func buildPrompt(in reasoning.StepInput) (string, error) {
	snapshot, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal step input: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Target transition: %s -> %s\n\n", in.Workspace.CurrentState, in.Target)
	b.WriteString("Workspace snapshot:\n")
	b.Write(snapshot)
	return b.String(), nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
