package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antigravity-dev/cortex/internal/config"
)

// AnthropicBackend normalizes Anthropic's Messages API to the gateway's
// uniform Response shape.
type AnthropicBackend struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicBackend builds a backend from one configured provider entry.
func NewAnthropicBackend(name string, p config.Provider, timeout time.Duration) *AnthropicBackend {
	base := p.BaseURL
	if base == "" {
		base = "https://api.anthropic.com/v1/messages"
	}
	return &AnthropicBackend{
		name:    name,
		apiKey:  p.APIKey,
		model:   p.Model,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *AnthropicBackend) Name() string { return b.name }

func (b *AnthropicBackend) Configured() bool {
	return !config.IsPlaceholder(b.apiKey) && !config.IsPlaceholder(b.model)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicToolSpec `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens"`
}

type anthropicToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	StopReason string                `json:"stop_reason"`
	Content    []anthropicRespBlock  `json:"content"`
	Error      *anthropicErrorDetail `json:"error,omitempty"`
}

type anthropicRespBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (b *AnthropicBackend) Send(ctx context.Context, messages []Message, tools []ToolSpec, systemPrompt string) (Response, error) {
	req := anthropicRequest{
		Model:     b.model,
		System:    systemPrompt,
		MaxTokens: 4096,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: blocksToAnthropicContent(m.Content)})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building anthropic request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransientError{Err: fmt.Errorf("anthropic request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, &TransientError{Err: fmt.Errorf("reading anthropic response: %w", err)}
	}

	if retryable, retryAfter := classifyHTTPStatus(httpResp); retryable {
		return Response{}, &TransientError{Err: fmt.Errorf("anthropic http %d: %s", httpResp.StatusCode, string(respBody)), RetryAfter: retryAfter}
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("anthropic http %d: %s", httpResp.StatusCode, string(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("parsing anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("anthropic error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	return Response{
		StopReason: anthropicStopReason(parsed.StopReason),
		Content:    anthropicBlocksToContent(parsed.Content),
	}, nil
}

func blocksToAnthropicContent(blocks []ContentBlock) any {
	if len(blocks) == 1 && blocks[0].ToolUse == nil {
		return blocks[0].Text
	}
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		if b.ToolUse != nil {
			out = append(out, map[string]any{
				"type":        "tool_result",
				"tool_use_id": b.ToolUse.ToolUseID,
				"content":     b.Text,
			})
			continue
		}
		out = append(out, map[string]any{"type": "text", "text": b.Text})
	}
	return out
}

func anthropicBlocksToContent(blocks []anthropicRespBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "tool_use":
			out = append(out, ContentBlock{ToolUse: &ToolUse{ToolUseID: b.ID, Name: b.Name, Input: b.Input}})
		default:
			out = append(out, ContentBlock{Text: b.Text})
		}
	}
	return out
}

func anthropicStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "end_turn", "stop_sequence":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

// classifyHTTPStatus reports whether resp's status is retryable (429 or
// 5xx) and, for 429, honors a Retry-After header if present.
func classifyHTTPStatus(resp *http.Response) (retryable bool, retryAfter time.Duration) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := time.ParseDuration(v + "s"); err == nil {
				retryAfter = secs
			}
		}
		return true, retryAfter
	case resp.StatusCode >= 500:
		return true, 0
	default:
		return false, 0
	}
}

var _ Backend = (*AnthropicBackend)(nil)
