package agent

import "time"

// RunID is the stable identifier for one agent execution.
type RunID string

// LoopState is the orchestration state of a run.
type LoopState string

const (
	LoopStateAwaitingModel  LoopState = "awaiting_model"
	LoopStateExecutingTools LoopState = "executing_tools"
	LoopStateDone           LoopState = "done"
	LoopStateFailed         LoopState = "failed"
)

// AgentRequest names an agent and supplies its task.
type AgentRequest struct {
	Name         string
	Instructions string
	Parameters   map[string]string
}

// RunResult is created once per agent run and handed to the report generator.
type RunResult struct {
	RunID     RunID         `json:"run_id"`
	AgentName string        `json:"agent_name"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Usage     Usage         `json:"usage"`
	Turns     int           `json:"turns"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
