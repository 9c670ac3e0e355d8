package agent

import "fmt"

// ValidateEvent checks event payload invariants before publish boundaries.
func ValidateEvent(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("%w: field=type reason=empty", ErrEventInvalid)
	}
	if event.RunID == "" {
		return fmt.Errorf("%w: field=run_id reason=empty type=%s", ErrEventInvalid, event.Type)
	}
	if event.Step < 0 {
		return fmt.Errorf("%w: field=step reason=negative value=%d type=%s", ErrEventInvalid, event.Step, event.Type)
	}

	switch event.Type {
	case EventTypeAssistantMessage:
		if event.Message == nil {
			return eventFieldError(event, "message", "nil")
		}
	case EventTypeToolResult:
		switch {
		case event.ToolResult == nil:
			return eventFieldError(event, "tool_result", "nil")
		case event.ToolResult.CallID == "":
			return eventFieldError(event, "tool_result.call_id", "empty")
		case event.ToolResult.Name == "":
			return eventFieldError(event, "tool_result.name", "empty")
		}
	case EventTypeRunFailed, EventTypeRateLimited, EventTypeTruncated:
		if event.Description == "" {
			return eventFieldError(event, "description", "empty")
		}
	}
	return nil
}

func eventFieldError(event Event, field, reason string) error {
	return fmt.Errorf(
		"%w: field=%s reason=%s type=%s run_id=%q step=%d",
		ErrEventInvalid,
		field,
		reason,
		event.Type,
		event.RunID,
		event.Step,
	)
}
