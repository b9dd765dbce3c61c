// Package agentloop implements the bounded multi-turn provider/tool loop
// described in §4.3: call the provider, execute any tool calls in the
// reply, feed results back, and repeat until the provider ends its turn,
// errors, or the iteration bound is reached.
package agentloop

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/tools"
)

// Outcome is the loop's terminal state, distinct from "did the text look
// like an error" — callers branch on this, never on heuristics, per the
// failure-detection contract (§4.11).
type Outcome int

const (
	// OutcomeSuccess means the provider ended its turn normally.
	OutcomeSuccess Outcome = iota
	// OutcomeError means the provider returned StopError or StopNotConfigured.
	OutcomeError
	// OutcomeMaxIterations means the bound was reached without EndTurn.
	OutcomeMaxIterations
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeError:
		return "Error"
	case OutcomeMaxIterations:
		return "MaxIterations"
	default:
		return "Unknown"
	}
}

// Result is what a completed agent loop run produces.
type Result struct {
	Outcome    Outcome
	Text       string
	Iterations int
	// Transcript is the full message history including tool round trips,
	// for callers (e.g. Kobold) that persist it or feed it to a caller
	// who wants the whole conversation, not just the final text.
	Transcript []llm.Message
}

// Failed reports whether the outcome should be treated as a failure by
// downstream callers (§4.11: "marking the loop result as failed so
// downstream callers can detect it without scanning text heuristically").
func (r Result) Failed() bool {
	return r.Outcome == OutcomeError || r.Outcome == OutcomeMaxIterations
}

// DefaultMaxIterations is the §4.3 default for most agents.
const DefaultMaxIterations = 10

// KoboldMaxIterations is the §4.3 default specifically for Kobold workers.
const KoboldMaxIterations = 30

// ToolExecutor runs a single tool call and returns its result text.
type ToolExecutor interface {
	Dispatch(ctx context.Context, workingDir, name string, input map[string]any) (string, error)
}

// Loop runs the bounded think/act/observe cycle against one Gateway.
type Loop struct {
	Gateway       llm.Gateway
	Tools         ToolExecutor
	ToolSpecs     []llm.ToolSpec
	SystemPrompt  string
	WorkingDir    string
	MaxIterations int
}

// New builds a Loop, defaulting MaxIterations to DefaultMaxIterations
// when unset.
func New(gateway llm.Gateway, toolExec ToolExecutor, toolSpecs []llm.ToolSpec, systemPrompt, workingDir string, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		Gateway:       gateway,
		Tools:         toolExec,
		ToolSpecs:     toolSpecs,
		SystemPrompt:  systemPrompt,
		WorkingDir:    workingDir,
		MaxIterations: maxIterations,
	}
}

// Run executes the loop starting from an opening user message.
func (l *Loop) Run(ctx context.Context, opening string) Result {
	messages := []llm.Message{llm.TextMessage(llm.RoleUser, opening)}

	for iter := 1; iter <= l.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: OutcomeError, Text: err.Error(), Iterations: iter - 1, Transcript: messages}
		}

		resp := l.Gateway.SendMessage(ctx, messages, l.ToolSpecs, l.SystemPrompt)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		switch resp.StopReason {
		case llm.StopError, llm.StopNotConfigured:
			return Result{Outcome: OutcomeError, Text: resp.Text(), Iterations: iter, Transcript: messages}
		case llm.StopEndTurn:
			return Result{Outcome: OutcomeSuccess, Text: resp.Text(), Iterations: iter, Transcript: messages}
		case llm.StopToolUse:
			calls := resp.ToolCalls()
			if len(calls) == 0 {
				// A ToolUse stop reason with no parsed tool-use blocks is
				// treated as end of turn: there is nothing further to act on.
				return Result{Outcome: OutcomeSuccess, Text: resp.Text(), Iterations: iter, Transcript: messages}
			}
			resultMsg := l.executeTools(ctx, calls)
			messages = append(messages, resultMsg)
		default:
			return Result{Outcome: OutcomeError, Text: fmt.Sprintf("unrecognized stop reason %q", resp.StopReason), Iterations: iter, Transcript: messages}
		}
	}

	return Result{Outcome: OutcomeMaxIterations, Text: "max iterations reached without end of turn", Iterations: l.MaxIterations, Transcript: messages}
}

// executeTools runs every tool call in registered (call) order and packs
// all results into a single user message, per §4.3 step 3.
func (l *Loop) executeTools(ctx context.Context, calls []llm.ToolUse) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(calls))
	for _, call := range calls {
		out, err := l.Tools.Dispatch(ctx, l.WorkingDir, call.Name, call.Input)
		if err != nil {
			out = fmt.Sprintf("tool error: %v", err)
		}
		blocks = append(blocks, llm.ContentBlock{Text: fmt.Sprintf("[tool_result %s(%s)]: %s", call.Name, call.ToolUseID, out)})
	}
	return llm.Message{Role: llm.RoleUser, Content: blocks}
}

var _ ToolExecutor = (*tools.Dispatcher)(nil)
