package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"solana-trade-exec/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"

	maxResponseBody = 1 << 20
)

const overridePromptTemplate = `You are the risk management advisor for an automated trading desk.

A daily %s limit has been breached and enforcement will liquidate every
open position unless you advise otherwise.

For each position, weigh recent price action, position size relative to
the portfolio, and whether the move that triggered the limit looks like
a reversal or a continuation.

For loss limits be extremely conservative: advise an override only with
strong reversal evidence across all positions (90%%+ confidence).
For gain limits you may be more lenient: continued momentum in most
positions is enough (60%%+ confidence).

Portfolio: total %.2f USD, baseline %.2f USD.
Positions:
%s
%s
Respond with exactly one of:
OVERRIDE: <reason per position>
RESPECT_LIMIT: <reason per position>
Include "confidence: NN%%" in your reasoning.`

// Client asks an OpenAI-compatible chat completion endpoint for an
// override verdict.
type Client struct {
	http    *http.Client
	baseURL string
	model   string
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible API.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds an advisor backed by a chat completion API.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultBaseURL,
		model:   defaultModel,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decide renders the override prompt, calls the model and parses the
// verdict out of the reply.
func (c *Client) Decide(ctx context.Context, limitType domain.LimitType, pctx domain.PositionContext) (domain.OverrideDecision, error) {
	prompt := buildPrompt(limitType, pctx)

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.OverrideDecision{}, fmt.Errorf("advisory: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.OverrideDecision{}, fmt.Errorf("advisory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.OverrideDecision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.OverrideDecision{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OverrideDecision{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.OverrideDecision{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if parsed.Error != nil {
		return domain.OverrideDecision{}, fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return domain.OverrideDecision{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	return ParseDecision(limitType, parsed.Choices[0].Message.Content), nil
}

func buildPrompt(limitType domain.LimitType, pctx domain.PositionContext) string {
	var positions strings.Builder
	for _, p := range pctx.Positions {
		fmt.Fprintf(&positions, "- %s: qty %.6f at %.6f USD (%.2f USD)\n",
			p.Token, p.Quantity, p.Price, p.USDValue())
	}
	notes := ""
	if pctx.Notes != "" {
		notes = "Context: " + pctx.Notes + "\n"
	}
	return fmt.Sprintf(overridePromptTemplate,
		limitType, pctx.TotalUSD, pctx.Baseline, positions.String(), notes)
}

// ParseDecision extracts the verdict from a model reply. Anything
// that does not clearly say OVERRIDE is treated as a vote to respect
// the limit.
func ParseDecision(limitType domain.LimitType, text string) domain.OverrideDecision {
	d := domain.OverrideDecision{
		LimitType: limitType,
		Verdict:   domain.VerdictRespect,
		Rationale: strings.TrimSpace(text),
		Timestamp: time.Now().UTC(),
		CacheTTL:  domain.DefaultDecisionTTL,
	}
	upper := strings.ToUpper(text)

	// RESPECT_LIMIT contains no OVERRIDE substring, so a plain
	// containment check on OVERRIDE is unambiguous.
	if strings.Contains(upper, "OVERRIDE") && !strings.HasPrefix(strings.TrimSpace(upper), "RESPECT_LIMIT") {
		d.Verdict = domain.VerdictOverride
	}
	d.Confidence = parseConfidence(upper)

	// A loss override needs near certainty; a gain override can ride
	// momentum at lower confidence. Demote overrides below the bar.
	if d.Verdict == domain.VerdictOverride {
		threshold := 0.60
		if limitType == domain.LimitTypeLoss {
			threshold = 0.90
		}
		if d.Confidence > 0 && d.Confidence < threshold {
			d.Verdict = domain.VerdictRespect
		}
	}
	return d
}

// parseConfidence pulls the first "confidence: NN%" out of the reply.
// Returns 0 when the model did not state one.
func parseConfidence(upper string) float64 {
	idx := strings.Index(upper, "CONFIDENCE")
	if idx < 0 {
		return 0
	}
	rest := upper[idx+len("CONFIDENCE"):]
	rest = strings.TrimLeft(rest, ": ")
	var pct float64
	if _, err := fmt.Sscanf(rest, "%f", &pct); err != nil {
		return 0
	}
	if pct > 1 {
		pct /= 100
	}
	if pct < 0 || pct > 1 {
		return 0
	}
	return pct
}
