package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered. The dispatcher reports it in that call's output slot.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
