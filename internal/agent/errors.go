package agent

import "fmt"

// ModelUnavailableError is returned when the language model cannot be
// reached or returns an unusable answer.
type ModelUnavailableError struct {
	Phase string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable during %s call: %v", e.Phase, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// UnknownToolError is reported when the model requests a tool that is not
// in the dispatch table.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ToolExecutionError wraps argument, validation and collaborator failures
// of a single tool call.
type ToolExecutionError struct {
	Tool ToolName
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IllegalTransitionError is returned by Next for a state/event pair that has
// no edge in the turn state machine.
type IllegalTransitionError struct {
	From  State
	Event EventKind
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s on %s", e.From, e.Event)
}
