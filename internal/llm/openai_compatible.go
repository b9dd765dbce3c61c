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

// OpenAICompatibleBackend normalizes the OpenAI chat-completions wire
// format — also spoken by Ollama and most self-hosted local servers — to
// the gateway's uniform Response shape.
type OpenAICompatibleBackend struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAICompatibleBackend builds a backend from one configured provider
// entry. Configured checks only the model: no backend of this kind,
// Ollama or not, is gated on an API key, so a missing or placeholder key
// does not mark it unconfigured (the authorization header is simply not
// sent); only a missing or placeholder model does.
func NewOpenAICompatibleBackend(name string, p config.Provider, timeout time.Duration) *OpenAICompatibleBackend {
	base := p.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAICompatibleBackend{
		name:    name,
		apiKey:  p.APIKey,
		model:   p.Model,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *OpenAICompatibleBackend) Name() string { return b.name }

func (b *OpenAICompatibleBackend) Configured() bool {
	if config.IsPlaceholder(b.model) {
		return false
	}
	return true
}

type oaiMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []oaiToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiToolSpec `json:"function"`
}

type oaiToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

type oaiChoice struct {
	FinishReason string     `json:"finish_reason"`
	Message      oaiMessage `json:"message"`
}

type oaiResponse struct {
	Choices []oaiChoice  `json:"choices"`
	Error   *oaiErrorObj `json:"error,omitempty"`
}

type oaiErrorObj struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (b *OpenAICompatibleBackend) Send(ctx context.Context, messages []Message, tools []ToolSpec, systemPrompt string) (Response, error) {
	req := oaiRequest{Model: b.model}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, oaiMessage{Role: string(m.Role), Content: concatText(m.Content)})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, oaiTool{Type: "function", Function: oaiToolSpec{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling chat-completions request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building chat-completions request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	if !config.IsPlaceholder(b.apiKey) {
		httpReq.Header.Set("authorization", "Bearer "+b.apiKey)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransientError{Err: fmt.Errorf("chat-completions request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, &TransientError{Err: fmt.Errorf("reading chat-completions response: %w", err)}
	}

	if retryable, retryAfter := classifyHTTPStatus(httpResp); retryable {
		return Response{}, &TransientError{Err: fmt.Errorf("chat-completions http %d: %s", httpResp.StatusCode, string(respBody)), RetryAfter: retryAfter}
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("chat-completions http %d: %s", httpResp.StatusCode, string(respBody))
	}

	var parsed oaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("parsing chat-completions response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("chat-completions error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("chat-completions response had no choices")
	}

	choice := parsed.Choices[0]
	return Response{
		StopReason: oaiStopReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
		Content:    oaiMessageToContent(choice.Message),
	}, nil
}

func concatText(blocks []ContentBlock) string {
	out := ""
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

func oaiMessageToContent(m oaiMessage) []ContentBlock {
	var out []ContentBlock
	if m.Content != "" {
		out = append(out, ContentBlock{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out = append(out, ContentBlock{ToolUse: &ToolUse{ToolUseID: tc.ID, Name: tc.Function.Name, Input: args}})
	}
	return out
}

func oaiStopReason(finish string, hasToolCalls bool) StopReason {
	if hasToolCalls || finish == "tool_calls" {
		return StopToolUse
	}
	return StopEndTurn
}

var _ Backend = (*OpenAICompatibleBackend)(nil)
