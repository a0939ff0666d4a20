// Package advisor is the guardrail around every outbound call to a
// language model: it builds a schema-constrained prompt, enforces a hard
// per-call timeout, strips markdown fences, repairs near-valid JSON,
// validates it against a typed shape, and filters every referenced id
// down to the set actually sent in the request. No call is ever
// mandatory — a caller that gets an error treats the advisor as
// unavailable and returns its deterministic result unchanged.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"ledgercore/internal/money"
)

// DefaultTimeout bounds an ordinary advisor call. StoryTimeout is the
// longer budget narrative regeneration gets.
const (
	DefaultTimeout = 15 * time.Second
	StoryTimeout   = 60 * time.Second
)

// ErrUnavailable is returned (never propagated to the caller's caller)
// whenever the advisor could not produce a usable result for any
// reason — no provider configured, timeout, transport failure, or a
// response that didn't parse as JSON even after repair.
var ErrUnavailable = errors.New("advisor: unavailable")

// Provider is anything that can turn a system+user prompt pair into a
// raw text completion. Swappable per tenant/environment; nil means "no
// advisor configured" and every call short-circuits to unavailable.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Ask invokes provider under a watchdog timeout, strips code fences,
// repairs malformed JSON, and unmarshals into out. Any failure at any
// stage returns ErrUnavailable (wrapped) rather than a partial result.
func Ask(ctx context.Context, provider Provider, systemPrompt, userPrompt string, timeout time.Duration, out any) error {
	if provider == nil {
		return ErrUnavailable
	}
	raw, err := callWithTimeout(ctx, provider, timeout, systemPrompt, userPrompt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := parseJSON(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func callWithTimeout(ctx context.Context, provider Provider, timeout time.Duration, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := provider.Generate(ctx, systemPrompt, userPrompt)
		ch <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

// stripFences removes a leading/trailing ``` or ```json code fence, the
// most common way a chat model wraps JSON it was asked to emit bare.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if last := strings.TrimSpace(lines[len(lines)-1]); strings.HasPrefix(last, "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseJSON tries a direct unmarshal first and falls back to
// github.com/RealAlexandreAI/json-repair before giving up, since advisor
// output is routinely missing a closing brace or uses single quotes.
func parseJSON(raw string, out any) error {
	raw = stripFences(raw)
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	return json.Unmarshal([]byte(repaired), out)
}

// FilterIDs keeps only the ids present in allowed, enforcing the
// advisor whitelist rule: any id a model response references that was
// not in the bounded input set sent to it is silently dropped.
func FilterIDs(ids []string, allowed map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out
}

// ---- critic ----

// HighRiskThreshold is the absolute amount above which the critic is
// invoked regardless of the is_bulk_adjustment flag.
const HighRiskThreshold = money.Cents(500000) // $5,000.00

// CriticVerdict is the critic's advisory conclusion. It never blocks
// posting; callers persist it alongside the transaction for display.
type CriticVerdict string

const (
	VerdictOK   CriticVerdict = "ok"
	VerdictWarn CriticVerdict = "warn"
	VerdictFail CriticVerdict = "fail"
)

// CriticRequest carries the bounded set of fields the critic prompt is
// allowed to see; memo and accounts come straight from the transaction
// and target accounts being allocated.
type CriticRequest struct {
	Amount           money.Cents
	Currency         string
	Accounts         []string
	Memo             string
	Source           string
	IsBulkAdjustment bool
}

// CriticResult is the sanitized, persisted output of a critic call.
type CriticResult struct {
	Verdict   CriticVerdict `json:"verdict"`
	Reasons   []string      `json:"reasons"`
	CalledLLM bool          `json:"called_llm"`
}

// Critic runs the high-risk advisory check. At or below threshold (and
// not a bulk adjustment) it returns an ok verdict without invoking
// provider at all (called_llm=false). Above threshold, or for a bulk
// adjustment, it calls the advisor; on any failure it returns nil
// so the caller persists no verdict rather than a fabricated one.
func Critic(ctx context.Context, provider Provider, req CriticRequest) *CriticResult {
	if req.Amount.Abs() <= HighRiskThreshold && !req.IsBulkAdjustment {
		return &CriticResult{Verdict: VerdictOK, CalledLLM: false}
	}
	if provider == nil {
		return nil
	}

	system := "You are a bookkeeping risk critic. Given a proposed posting, " +
		"return a JSON object {\"verdict\": \"ok\"|\"warn\"|\"fail\", \"reasons\": [string]}. " +
		"Do not invent account codes or amounts; cite only what is given to you."
	user := fmt.Sprintf(
		"amount=%s currency=%s accounts=%s memo=%q source=%q is_bulk_adjustment=%t",
		req.Amount, req.Currency, strings.Join(req.Accounts, ","), req.Memo, req.Source, req.IsBulkAdjustment,
	)

	var parsed struct {
		Verdict string   `json:"verdict"`
		Reasons []string `json:"reasons"`
	}
	if err := Ask(ctx, provider, system, user, DefaultTimeout, &parsed); err != nil {
		log.Printf("advisor: critic call failed, proceeding without verdict: %v", err)
		return nil
	}

	verdict := CriticVerdict(parsed.Verdict)
	switch verdict {
	case VerdictOK, VerdictWarn, VerdictFail:
	default:
		verdict = VerdictOK
	}
	return &CriticResult{Verdict: verdict, Reasons: parsed.Reasons, CalledLLM: true}
}

// ---- HTTP transport ----

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPProvider is a plain chat-completion client for any OpenAI-shaped
// endpoint (the provider's own base URL and model name are supplied by
// configuration, not hardcoded).
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a bounded-timeout client;
// the per-call watchdog in Ask layers a tighter deadline on top via ctx.
func NewHTTPProvider(baseURL, apiKey, model string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *HTTPProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if p.APIKey == "" {
		return "", errors.New("advisor: no API key configured")
	}
	body, err := json.Marshal(chatRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("advisor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	res, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor: request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("advisor: read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisor: status %d: %s", res.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("advisor: unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("advisor: no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
