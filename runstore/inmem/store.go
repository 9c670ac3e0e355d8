package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Gurpartap/reportagent/agent"
)

// ErrResultExists is returned when a run id is saved twice.
var ErrResultExists = errors.New("run result already stored")

// Store keeps finished run results in memory for the report generator.
// Results are write-once per run id.
type Store struct {
	mu      sync.RWMutex
	results map[agent.RunID]agent.RunResult
}

var _ agent.ResultStore = (*Store)(nil)

func New() *Store {
	return &Store{results: map[agent.RunID]agent.RunResult{}}
}

func (s *Store) Save(_ context.Context, result agent.RunResult) error {
	if result.RunID == "" {
		return errors.New("save run result: run id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.RunID]; exists {
		return fmt.Errorf("%w: run %q", ErrResultExists, result.RunID)
	}
	s.results[result.RunID] = result
	return nil
}

func (s *Store) Load(_ context.Context, runID agent.RunID) (agent.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[runID]
	if !ok {
		return agent.RunResult{}, fmt.Errorf("%w: %q", agent.ErrRunNotFound, runID)
	}
	return result, nil
}

// ByAgent returns every stored result for an agent, oldest first.
func (s *Store) ByAgent(name string) []agent.RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []agent.RunResult
	for _, result := range s.results {
		if result.AgentName == name {
			out = append(out, result)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
