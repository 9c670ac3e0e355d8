// Package agentdef reads agent definition files. One YAML file describes
// one agent:
//
//	name: revenue
//	description: Quarterly revenue summary
//	instructions: |
//	  Summarize revenue for the quarter using the reports tools.
//	parameters:
//	  quarter: Q3
package agentdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Gurpartap/reportagent/agent"
)

var (
	ErrNotFound          = errors.New("agent definition not found")
	ErrDuplicateName     = errors.New("agent name is defined more than once")
	ErrInstructionsEmpty = errors.New("instructions are required")
)

type Definition struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description,omitempty"`
	Instructions string            `yaml:"instructions"`
	Parameters   map[string]string `yaml:"parameters,omitempty"`

	// Path is the file the definition was read from.
	Path string `yaml:"-"`
}

// Load reads one definition. A missing name defaults to the file name
// without its extension. Unknown keys are rejected.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("load agent: %w", err)
	}

	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return Definition{}, fmt.Errorf("load agent %s: %w", path, err)
	}

	def.Path = path
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if strings.TrimSpace(def.Instructions) == "" {
		return Definition{}, fmt.Errorf("load agent %s: %w", path, ErrInstructionsEmpty)
	}
	return def, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, sorted by name.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	var defs []Definition
	byName := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
		default:
			continue
		}
		def, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if first, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("load agents: %w: %q in %s and %s", ErrDuplicateName, def.Name, first, def.Path)
		}
		byName[def.Name] = def.Path
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func Find(defs []Definition, name string) (Definition, error) {
	for _, def := range defs {
		if def.Name == name {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Prompt renders the first user message the agent is started with.
func (d Definition) Prompt() string {
	return agent.BuildPrompt(d.Instructions, d.Parameters)
}

// Request builds the engine request. Overrides replace or add parameters.
func (d Definition) Request(overrides map[string]string) agent.AgentRequest {
	params := maps.Clone(d.Parameters)
	if len(overrides) > 0 && params == nil {
		params = make(map[string]string, len(overrides))
	}
	maps.Copy(params, overrides)
	return agent.AgentRequest{
		Name:         d.Name,
		Instructions: d.Instructions,
		Parameters:   params,
	}
}
