// Package slogsink writes run events to a slog.Logger.
package slogsink

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Gurpartap/reportagent/agent"
)

// Sink logs every event. Rate-limit waits, truncations and failed runs are
// logged at Info so they show without --verbose; the rest at Debug.
type Sink struct {
	logger *slog.Logger
	// structured passes the event as a value for JSON handlers instead of a
	// pre-encoded string.
	structured bool
}

var _ agent.EventSink = (*Sink)(nil)

func New(logger *slog.Logger, structured bool) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{logger: logger, structured: structured}
}

func (s *Sink) Publish(ctx context.Context, event agent.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	level := slog.LevelDebug
	switch event.Type {
	case agent.EventTypeRateLimited, agent.EventTypeTruncated, agent.EventTypeRunFailed:
		level = slog.LevelInfo
	}
	if !s.logger.Enabled(ctx, level) {
		return nil
	}

	attrs := []any{
		slog.String("type", string(event.Type)),
		slog.String("run_id", string(event.RunID)),
		slog.Int("step", event.Step),
	}
	if s.structured {
		attrs = append(attrs, slog.Any("event", event))
	} else {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		attrs = append(attrs, slog.String("event", string(payload)))
	}
	s.logger.Log(ctx, level, "run event", attrs...)
	return nil
}
