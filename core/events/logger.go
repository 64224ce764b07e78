package events

import (
	"log/slog"

	"d2dtreasury/core/types"
)

type attributed interface {
	Event() *types.Event
}

// LogEmitter writes every emitted event to a structured logger. It stands in
// for an external event bus in single-process deployments.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log.With("component", "events")}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(event Event) {
	if l == nil || event == nil {
		return
	}
	args := []any{"type", event.EventType()}
	if carrier, ok := event.(attributed); ok {
		if evt := carrier.Event(); evt != nil {
			for key, value := range evt.Attributes {
				args = append(args, key, value)
			}
		}
	}
	l.log.Info("event emitted", args...)
}
