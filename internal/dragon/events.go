package dragon

// EventType names one of the typed events Dragon streams to its session
// transport (§6.5).
type EventType string

const (
	EventAssistantText         EventType = "assistant_text"
	EventToolCall              EventType = "tool_call"
	EventToolResult            EventType = "tool_result"
	EventPrompt                EventType = "prompt"
	EventSpecificationCreated  EventType = "specification_created"
	EventError                 EventType = "error"
)

// Event is one typed event in the session stream. Only the fields
// relevant to Type are populated; the transport (out of scope here)
// serializes whichever are set.
type Event struct {
	Type          EventType
	SessionID     string
	Text          string // assistant_text
	Tool          string // tool_call, tool_result
	InputSummary  string // tool_call
	ResultSummary string // tool_result
	PromptID      string // prompt
	Question      string // prompt
	Context       string // prompt
	ProjectName   string // specification_created
	Path          string // specification_created
	Message       string // error
}

// Sink receives a session's event stream.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// discardSink is used when a Session is built without an explicit Sink.
type discardSink struct{}

func (discardSink) Emit(Event) {}
