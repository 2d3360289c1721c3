package plan

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Defaults supplies values a decoded plan document may omit.
type Defaults struct {
	Mode             Mode
	MaxRetries       int
	FallbackExecutor string
}

// planDocument is the wire shape of a planning result. Decoding is strict:
// unknown fields and schema violations reject the whole document rather
// than producing a partially parsed plan.
type planDocument struct {
	Query string         `json:"query"`
	Mode  string         `json:"mode" validate:"omitempty,oneof=sequential parallel conditional"`
	Steps []stepDocument `json:"steps" validate:"required,min=1,dive"`
}

type stepDocument struct {
	ID          string         `json:"id" validate:"required"`
	Description string         `json:"description"`
	Executor    string         `json:"executor" validate:"required"`
	DependsOn   []string       `json:"depends_on"`
	Input       map[string]any `json:"input"`
	MaxRetries  *int           `json:"max_retries" validate:"omitempty,min=0,max=10"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates a JSON plan document. It either succeeds
// fully or returns an error; it never yields a partial plan.
func Decode(data []byte, query string, defaults Defaults) (*Plan, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var doc planDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, maestroerrors.NewValidationError("plan", "malformed plan document", err)
	}
	if decoder.More() {
		return nil, maestroerrors.NewValidationError("plan", "trailing content after plan document", nil)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, maestroerrors.NewValidationError("plan", "plan document failed schema validation", err)
	}

	mode := defaults.Mode
	if doc.Mode != "" {
		mode = Mode(doc.Mode)
	}
	if doc.Query != "" {
		query = doc.Query
	}

	steps := make([]*Step, 0, len(doc.Steps))
	for _, sd := range doc.Steps {
		step := NewStep(sd.ID, sd.Description, sd.Executor, sd.DependsOn)
		step.Input = sd.Input
		step.MaxRetries = defaults.MaxRetries
		if sd.MaxRetries != nil {
			step.MaxRetries = *sd.MaxRetries
		}
		steps = append(steps, step)
	}

	return New(query, mode, steps)
}

// DecodeOrDefault parses a plan document, deterministically falling back to
// a single-step plan handled by the fallback executor when the document is
// malformed or fails validation. This is the entry point for untrusted,
// machine-generated planner output, where a degraded plan beats no answer.
// Hand-authored documents are better served by Decode, which surfaces the
// error to the author instead of masking it.
func DecodeOrDefault(data []byte, query string, defaults Defaults) *Plan {
	decoded, err := Decode(data, query, defaults)
	if err == nil {
		return decoded
	}
	return DefaultPlan(query, defaults)
}

// DefaultPlan builds the documented fallback plan: one sequential step
// that hands the whole query to the fallback executor.
func DefaultPlan(query string, defaults Defaults) *Plan {
	step := NewStep("respond", fmt.Sprintf("answer query: %s", query), defaults.FallbackExecutor, nil)
	step.MaxRetries = defaults.MaxRetries

	fallback, err := New(query, ModeSequential, []*Step{step})
	if err != nil {
		// Only reachable with an empty fallback executor name, which is a
		// programmer error in wiring, not an input error.
		panic(err)
	}
	return fallback
}
