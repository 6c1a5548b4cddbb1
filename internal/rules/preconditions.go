// Package rules provides the reward sequence validator and the CEL-Go based
// save precondition engine.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/ladder/internal/domain"
)

// Check is a save precondition. Expression must evaluate to true for the
// program to be saveable; otherwise Title and Message are reported.
type Check struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Expression string `json:"expression"`
}

// Violation is a failed precondition.
type Violation struct {
	CheckID string `json:"checkId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Error implements error so a single violation can be surfaced directly.
func (v Violation) Error() string {
	return v.Title + ": " + v.Message
}

// Precondition check IDs.
const (
	CheckSequence          = "sequence"
	CheckRewards           = "rewards"
	CheckName              = "name"
	CheckDescription       = "description"
	CheckDescriptionLength = "description_length"
	CheckPIN               = "pin"
	CheckPINNumeric        = "pin_numeric"
)

// DefaultChecks returns the save preconditions in reporting order.
func DefaultChecks() []Check {
	return []Check{
		{
			ID:         CheckSequence,
			Title:      "Validation Error",
			Message:    "Please fix the sequential reward requirements before saving.",
			Expression: "sequence_error_count == 0",
		},
		{
			ID:         CheckRewards,
			Title:      "No Rewards",
			Message:    "Please add at least one reward before saving.",
			Expression: "reward_count > 0",
		},
		{
			ID:         CheckName,
			Title:      "Program Name Required",
			Message:    "Please enter a unique program name.",
			Expression: `name.trim() != "" && name != default_name`,
		},
		{
			ID:         CheckDescription,
			Title:      "Description Required",
			Message:    "Please enter a program description.",
			Expression: `description.trim() != ""`,
		},
		{
			ID:         CheckDescriptionLength,
			Title:      "Description Too Long",
			Message:    fmt.Sprintf("Program description must be at most %d characters.", domain.MaxDescriptionLength),
			Expression: "size(description) <= max_description",
		},
		{
			ID:         CheckPIN,
			Title:      "PIN Required",
			Message:    "Please set a PIN for the program before saving.",
			Expression: `pin.trim() != ""`,
		},
		{
			ID:         CheckPINNumeric,
			Title:      "Invalid PIN",
			Message:    "PIN must contain digits only.",
			Expression: `pin.trim() == "" || pin.matches('^[0-9]+$')`,
		},
	}
}

// PreconditionEngine evaluates compiled save preconditions against a program.
type PreconditionEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledCheck
}

type compiledCheck struct {
	check   Check
	program cel.Program
}

// PreconditionInput is the data a precondition can see.
type PreconditionInput struct {
	Program        domain.Program
	SequenceErrors ValidationErrors
}

// NewPreconditionEngine creates an engine with the given checks compiled.
// A nil checks slice loads DefaultChecks.
func NewPreconditionEngine(checks []Check) (*PreconditionEngine, error) {
	env, err := cel.NewEnv(
		ext.Strings(),
		cel.Variable("name", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("pin", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("reward_count", cel.IntType),
		cel.Variable("sequence_error_count", cel.IntType),
		cel.Variable("default_name", cel.StringType),
		cel.Variable("max_description", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &PreconditionEngine{env: env}

	if checks == nil {
		checks = DefaultChecks()
	}
	if err := e.Load(checks); err != nil {
		return nil, err
	}
	return e, nil
}

// Load compiles checks and replaces the loaded set. On error the previous set is kept.
func (e *PreconditionEngine) Load(checks []Check) error {
	compiled := make([]*compiledCheck, 0, len(checks))
	for _, c := range checks {
		cc, err := e.compile(c)
		if err != nil {
			return err
		}
		compiled = append(compiled, cc)
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// Validate compiles a check without loading it.
func (e *PreconditionEngine) Validate(c Check) error {
	_, err := e.compile(c)
	return err
}

// Checks returns the loaded checks in evaluation order.
func (e *PreconditionEngine) Checks() []Check {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Check, len(e.compiled))
	for i, cc := range e.compiled {
		out[i] = cc.check
	}
	return out
}

// Evaluate runs every check in order and returns one violation per failed check.
// A check that errors at evaluation time counts as failed.
func (e *PreconditionEngine) Evaluate(input PreconditionInput) []Violation {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	p := input.Program
	activation := map[string]any{
		"name":                 p.Name,
		"description":          p.Description,
		"pin":                  p.PIN,
		"status":               p.Status,
		"reward_count":         int64(len(p.Rewards)),
		"sequence_error_count": int64(len(input.SequenceErrors)),
		"default_name":         domain.DefaultProgramName,
		"max_description":      int64(domain.MaxDescriptionLength),
	}

	var violations []Violation
	for _, cc := range compiled {
		out, _, err := cc.program.Eval(activation)
		if err == nil {
			if passed, ok := out.(types.Bool); ok && bool(passed) {
				continue
			}
		}
		violations = append(violations, Violation{
			CheckID: cc.check.ID,
			Title:   cc.check.Title,
			Message: cc.check.Message,
		})
	}
	return violations
}

func (e *PreconditionEngine) compile(c Check) (*compiledCheck, error) {
	ast, issues := e.env.Compile(c.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check %s: %w", c.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("check %s: expression must return bool, got %s", c.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for check %s: %w", c.ID, err)
	}

	return &compiledCheck{check: c, program: program}, nil
}
