// Package wyrm implements the Wyrm pre-analyzer (§4.7): an agent loop
// that reads a project's specification, emits a JSON recommendation
// document, and transitions the project to WyrmAssigned. Wyrm is
// permitted to hallucinate — verification happens downstream — so the
// core validates only that the JSON parses and carries the two
// minimum-required fields.
package wyrm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/cortex/internal/agentloop"
)

// Recommendation is the minimum shape the core requires of Wyrm's
// output (§4.7: "the core only validates that the JSON parses and
// contains at minimum detectedLanguages and suggestedAgentTypes").
// Everything else Wyrm emits passes through Raw untouched, since
// Wyvern and Dragon may use fields the core itself never inspects.
type Recommendation struct {
	DetectedLanguages []string       `json:"detectedLanguages"`
	SuggestedAgentTypes []string     `json:"suggestedAgentTypes"`
	VerificationSteps []VerificationStep `json:"verificationSteps,omitempty"`
	Raw               map[string]any `json:"-"`
}

// VerificationStep mirrors the shape internal/verifier consumes when a
// project's Wyrm recommendation supplies explicit steps (§4.8).
type VerificationStep struct {
	Name             string `json:"name"`
	Command          string `json:"command"`
	TimeoutSeconds   int    `json:"timeoutSeconds,omitempty"`
	SuccessCriterion string `json:"successCriterion"`
}

// ErrMissingField is returned when the emitted JSON parses but lacks a
// required field (§4.7).
type ErrMissingField struct{ Field string }

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("wyrm recommendation missing required field %q", e.Field)
}

// Parse validates and decodes Wyrm's raw JSON output.
func Parse(raw []byte) (Recommendation, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Recommendation{}, fmt.Errorf("parsing wyrm recommendation: %w", err)
	}

	var rec Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Recommendation{}, fmt.Errorf("parsing wyrm recommendation: %w", err)
	}
	rec.Raw = generic

	if len(rec.DetectedLanguages) == 0 {
		return Recommendation{}, &ErrMissingField{Field: "detectedLanguages"}
	}
	if len(rec.SuggestedAgentTypes) == 0 {
		return Recommendation{}, &ErrMissingField{Field: "suggestedAgentTypes"}
	}
	return rec, nil
}

// RunContext is everything Run needs: the loop to run, the opening
// prompt built from the specification text, and a sink the caller uses
// to persist wyrm-recommendation.json and advance project state — kept
// as callbacks so this package has no dependency on internal/projects
// or the filesystem directly.
type RunContext struct {
	Loop          *agentloop.Loop
	OpeningPrompt func(specification string) string
	Specification string
	Persist       func(raw []byte) error
	MarkAssigned  func() error
}

// Run executes Wyrm's agent loop, parses and validates its output,
// persists the raw recommendation JSON, and transitions the project.
// A parse/validation failure or a persist/transition failure is
// returned; neither corrupts the project state since Persist and
// MarkAssigned are only called in sequence after validation succeeds.
func Run(ctx context.Context, rc RunContext) (Recommendation, error) {
	opening := rc.Specification
	if rc.OpeningPrompt != nil {
		opening = rc.OpeningPrompt(rc.Specification)
	}

	result := rc.Loop.Run(ctx, opening)
	if result.Failed() {
		return Recommendation{}, fmt.Errorf("wyrm agent loop failed: %s", result.Text)
	}

	rec, err := Parse([]byte(result.Text))
	if err != nil {
		return Recommendation{}, err
	}

	if rc.Persist != nil {
		if err := rc.Persist([]byte(result.Text)); err != nil {
			return Recommendation{}, fmt.Errorf("persisting wyrm recommendation: %w", err)
		}
	}
	if rc.MarkAssigned != nil {
		if err := rc.MarkAssigned(); err != nil {
			return Recommendation{}, fmt.Errorf("transitioning project to WyrmAssigned: %w", err)
		}
	}

	return rec, nil
}
