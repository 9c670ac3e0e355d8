package inmem

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Gurpartap/reportagent/agent"
)

// UUIDGenerator issues random run IDs of the form "<prefix>-<uuid>".
type UUIDGenerator struct {
	prefix string
}

var _ agent.IDGenerator = (*UUIDGenerator)(nil)

func NewUUIDGenerator(prefix string) *UUIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &UUIDGenerator{prefix: prefix}
}

func (g *UUIDGenerator) NewRunID(_ context.Context) (agent.RunID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	return agent.RunID(g.prefix + "-" + id.String()), nil
}

// SequenceGenerator issues deterministic run IDs for tests.
type SequenceGenerator struct {
	prefix string
	next   atomic.Uint64
}

var _ agent.IDGenerator = (*SequenceGenerator)(nil)

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) NewRunID(_ context.Context) (agent.RunID, error) {
	return agent.RunID(fmt.Sprintf("%s-%04d", g.prefix, g.next.Add(1))), nil
}
