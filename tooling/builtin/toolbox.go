// Package builtin implements the local tools that run in-process instead of
// on a tool server. The set is closed: read_file and list_files, both
// confined to a sandbox root.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/Gurpartap/reportagent/agent"
)

const (
	ToolReadFile  = "read_file"
	ToolListFiles = "list_files"

	maxListEntries = 1000
)

// ReadFileInput is the argument object of read_file.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"description=File path relative to the sandbox root"`
}

// ListFilesInput is the argument object of list_files.
type ListFilesInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory relative to the sandbox root; defaults to the root"`
}

// Toolbox executes the built-in tools.
type Toolbox struct {
	policy      Policy
	definitions []agent.ToolDefinition
}

func New(policy Policy) (*Toolbox, error) {
	readSchema, err := inputSchema(&ReadFileInput{})
	if err != nil {
		return nil, fmt.Errorf("new toolbox: %s schema: %w", ToolReadFile, err)
	}
	listSchema, err := inputSchema(&ListFilesInput{})
	if err != nil {
		return nil, fmt.Errorf("new toolbox: %s schema: %w", ToolListFiles, err)
	}

	return &Toolbox{
		policy: policy,
		definitions: []agent.ToolDefinition{
			{
				Name:        ToolListFiles,
				Description: "List the entries of a directory within the sandbox root. Directories end with a slash.",
				InputSchema: listSchema,
			},
			{
				Name:        ToolReadFile,
				Description: "Read a UTF-8 text file within the sandbox root.",
				InputSchema: readSchema,
			},
		},
	}, nil
}

// inputSchema reflects an inline object schema suitable for a tool
// definition.
func inputSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	encoded, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return nil, err
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

func (b *Toolbox) Definitions() []agent.ToolDefinition {
	return agent.CloneToolDefinitions(b.definitions)
}

// Has reports whether name is one of the built-in tools.
func (b *Toolbox) Has(name string) bool {
	return slices.ContainsFunc(b.definitions, func(def agent.ToolDefinition) bool {
		return def.Name == name
	})
}

func (b *Toolbox) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return agent.ToolResult{}, err
	}

	var (
		content string
		err     error
	)
	switch call.Name {
	case ToolReadFile:
		var input ReadFileInput
		if err = decodeArguments(call.Arguments, &input); err == nil {
			content, err = b.readFile(input)
		}
	case ToolListFiles:
		var input ListFilesInput
		if err = decodeArguments(call.Arguments, &input); err == nil {
			content, err = b.listFiles(input)
		}
	default:
		return agent.ToolResult{}, agent.Errorf(agent.KindToolNotFound, "execute", "builtin tool %q does not exist", call.Name)
	}
	if err != nil {
		return agent.ToolResult{}, agent.NewError(agent.KindToolInvocation, call.Name, err)
	}

	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
	}, nil
}

func decodeArguments(arguments map[string]any, out any) error {
	if arguments == nil {
		return nil
	}
	encoded, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArgumentInvalid, err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("%w: %v", ErrArgumentInvalid, err)
	}
	return nil
}

func (b *Toolbox) readFile(input ReadFileInput) (string, error) {
	resolved, err := b.policy.ResolvePath(input.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", input.Path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read %q: path is a directory", input.Path)
	}
	if info.Size() > b.policy.maxReadSize {
		return "", fmt.Errorf("read %q: file size %d exceeds limit %d", input.Path, info.Size(), b.policy.maxReadSize)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", input.Path, err)
	}
	return string(content), nil
}

func (b *Toolbox) listFiles(input ListFilesInput) (string, error) {
	path := input.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	resolved, err := b.policy.ResolvePath(path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %q: %w", path, err)
	}

	var out strings.Builder
	for i, entry := range entries {
		if i == maxListEntries {
			fmt.Fprintf(&out, "[%d more entries not shown]\n", len(entries)-maxListEntries)
			break
		}
		out.WriteString(entry.Name())
		if entry.IsDir() {
			out.WriteByte('/')
		}
		out.WriteByte('\n')
	}
	if out.Len() == 0 {
		return fmt.Sprintf("%s is empty", b.policy.relative(resolved)), nil
	}
	return out.String(), nil
}
