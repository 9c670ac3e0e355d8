package agent

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

func indexToolDefinitions(definitions []ToolDefinition) map[string]ToolDefinition {
	out := make(map[string]ToolDefinition, len(definitions))
	for i := range definitions {
		out[definitions[i].Name] = definitions[i]
	}
	return out
}

func validateToolCallArguments(call ToolCall, definition ToolDefinition) error {
	return ValidateToolArguments(definition.InputSchema, call.Arguments)
}

// ValidateToolArguments checks arguments against a JSON schema. An empty
// schema accepts anything.
func ValidateToolArguments(schema map[string]any, arguments map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("arguments do not match schema: %s", strings.Join(problems, "; "))
}

func normalizedToolErrorResult(call ToolCall, reason ToolFailureReason, err error) ToolResult {
	message := string(reason)
	if err != nil {
		message = fmt.Sprintf("%s: %s", reason, err.Error())
	}
	return ToolResult{
		CallID:        call.ID,
		Name:          call.Name,
		Content:       message,
		IsError:       true,
		FailureReason: reason,
	}
}
