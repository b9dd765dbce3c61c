// Package dragon implements the interactive Dragon session (§4.10): one
// agent loop per connected client, bound to a distinguished set of
// Dragon tools that mutate persisted project state, streaming typed
// events to the session transport.
package dragon

import (
	"context"
	"strings"

	"github.com/antigravity-dev/cortex/internal/agentloop"
	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/tools"
)

// SystemPrompt is the default instruction set for the Dragon agent loop.
// A real deployment may extend this with portfolio-level context.
const SystemPrompt = `You are Dragon, the orchestrator for one user's project workspace.
You write and approve specifications, register existing projects, inspect verification
results, and report project status. Periodic background workers (Wyrm, Wyvern, Drake,
and the verifier) carry each approved project through its lifecycle; you do not run them
directly. Use the provided tools for every mutation — never assume an effect happened
without calling the tool that performs it.`

// Session is one Dragon agent loop bound to a single client.
type Session struct {
	ID   string
	Loop *agentloop.Loop
	Sink Sink
}

// New builds a Session: it registers the Dragon tool set, converts it
// to the provider-facing spec list, and wires an agent loop over it.
func New(id string, gateway llm.Gateway, deps Deps, workingDir string) *Session {
	deps.Session = id
	toolset := BuildToolSet(deps)
	registry := tools.NewRegistry(toolset...)
	dispatcher := tools.NewDispatcher(registry)
	specs := tools.ToolSpecs(registry.All())

	loop := agentloop.New(gateway, dispatcher, specs, SystemPrompt, workingDir, agentloop.DefaultMaxIterations)

	s := deps.Sink
	if s == nil {
		s = discardSink{}
	}
	return &Session{ID: id, Loop: loop, Sink: s}
}

// Handle runs one turn of the Dragon agent loop for a user message,
// replaying the resulting transcript as typed events (§6.5) before
// returning the loop's result.
func (s *Session) Handle(ctx context.Context, userMessage string) agentloop.Result {
	result := s.Loop.Run(ctx, userMessage)
	s.emitTranscript(result)

	if result.Failed() {
		s.Sink.Emit(Event{Type: EventError, SessionID: s.ID, Message: result.Text})
	}
	return result
}

// emitTranscript walks the loop's transcript, emitting an assistant_text
// event for every text block, a tool_call event for every tool-use block
// the model requested, and a tool_result event for every dispatched
// result the loop folded back in (agentloop formats these as
// "[tool_result name(id)]: output" user-message text blocks — see
// agentloop.executeTools).
func (s *Session) emitTranscript(result agentloop.Result) {
	for _, msg := range result.Transcript {
		for _, block := range msg.Content {
			switch {
			case msg.Role == llm.RoleAssistant && block.ToolUse != nil:
				s.Sink.Emit(Event{
					Type: EventToolCall, SessionID: s.ID,
					Tool: block.ToolUse.Name, InputSummary: summarizeInput(block.ToolUse.Input),
				})
			case msg.Role == llm.RoleAssistant && block.Text != "":
				s.Sink.Emit(Event{Type: EventAssistantText, SessionID: s.ID, Text: block.Text})
			case msg.Role == llm.RoleUser && strings.HasPrefix(block.Text, "[tool_result "):
				name, resultText := parseToolResult(block.Text)
				s.Sink.Emit(Event{Type: EventToolResult, SessionID: s.ID, Tool: name, ResultSummary: resultText})
			}
		}
	}
}

func summarizeInput(input map[string]any) string {
	var b strings.Builder
	first := true
	for k, v := range input {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(toDisplayString(v))
	}
	return b.String()
}

func toDisplayString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseToolResult splits agentloop's "[tool_result name(id)]: output"
// formatted text block back into the tool name and its result text.
func parseToolResult(text string) (name, result string) {
	rest := strings.TrimPrefix(text, "[tool_result ")
	paren := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, "]: ")
	if paren < 0 || closeIdx < 0 || paren > closeIdx {
		return "", text
	}
	name = rest[:paren]
	result = rest[closeIdx+len("]: "):]
	return name, result
}

// sessionPrompter adapts a Sink to tools.Prompter, emitting a prompt
// event for ask_user calls issued from within a Dragon session.
type sessionPrompter struct {
	sessionID string
	sink      Sink
}

// NewPrompter builds the tools.Prompter a Dragon session's ask_user tool
// posts through.
func NewPrompter(sessionID string, sink Sink) tools.Prompter {
	return sessionPrompter{sessionID: sessionID, sink: sink}
}

func (p sessionPrompter) PostPrompt(promptID, question string) {
	p.sink.Emit(Event{Type: EventPrompt, SessionID: p.sessionID, PromptID: promptID, Question: question})
}
