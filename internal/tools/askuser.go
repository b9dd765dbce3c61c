package tools

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoResponseMarker is returned by AskUser when a prompt times out without
// an answer (§4.2, §9: "Timeout resolves the future to a sentinel").
const NoResponseMarker = "[no response: prompt timed out]"

// DefaultAskUserTimeout is the §4.2 default.
const DefaultAskUserTimeout = 5 * time.Minute

// Prompter posts a prompt to the session layer; the session transport
// later resolves it via PromptBroker.Resolve once the client answers.
type Prompter interface {
	PostPrompt(promptID, question string)
}

// PromptBroker implements the ask_user promise/future: a prompt is
// registered with a freshly minted id, the transport resolves it by id
// when the client answers, and the waiting call either receives the
// answer or times out to NoResponseMarker (§9 design note).
type PromptBroker struct {
	mu      sync.Mutex
	pending map[string]chan string
}

// NewPromptBroker builds an empty broker.
func NewPromptBroker() *PromptBroker {
	return &PromptBroker{pending: make(map[string]chan string)}
}

// Register allocates a promptId and its answer channel.
func (b *PromptBroker) Register() (promptID string, answer chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	promptID = uuid.NewString()
	ch := make(chan string, 1)
	b.pending[promptID] = ch
	return promptID, ch
}

// Resolve delivers an answer for a pending promptId; called by the
// session transport when a prompt_response event arrives. No-op if the
// prompt already timed out or was never registered.
func (b *PromptBroker) Resolve(promptID, answer string) {
	b.mu.Lock()
	ch, ok := b.pending[promptID]
	if ok {
		delete(b.pending, promptID)
	}
	b.mu.Unlock()
	if ok {
		ch <- answer
	}
}

func (b *PromptBroker) forget(promptID string) {
	b.mu.Lock()
	delete(b.pending, promptID)
	b.mu.Unlock()
}

// AskUserTool is the ask_user tool: posts a prompt to the bound Prompter
// and blocks, cooperatively and cancellably, until answered or timed out.
type AskUserTool struct {
	Broker   *PromptBroker
	Poster   Prompter
	Timeout  time.Duration
}

func (AskUserTool) Name() string { return "ask_user" }
func (AskUserTool) Description() string {
	return "Asks the connected user a question and waits for their reply."
}
func (AskUserTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]PropertySchema{"question": {Type: "string"}},
		Required:   []string{"question"},
	}
}

func (t AskUserTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	question := input["question"].(string)
	promptID, answer := t.Broker.Register()
	t.Poster.PostPrompt(promptID, question)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultAskUserTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case a := <-answer:
		return a, nil
	case <-timer.C:
		t.Broker.forget(promptID)
		return NoResponseMarker, nil
	case <-ctx.Done():
		t.Broker.forget(promptID)
		return NoResponseMarker, nil
	}
}
