// Package audit emits an event for every change made to the settings record or
// the host configuration through the settings proxy. Emission is fail-open:
// callers log publisher errors and carry on.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type Action string

const (
	ActionSettingChanged   Action = "setting_changed"
	ActionSettingDeleted   Action = "setting_deleted"
	ActionSettingsReverted Action = "settings_reverted"
)

// Event describes one change. App is empty for project-level settings; Name
// is empty for reverts.
type Event struct {
	Action    Action    `json:"action"`
	App       string    `json:"app,omitempty"`
	Name      string    `json:"name,omitempty"`
	Target    string    `json:"target"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "settings audit",
		"action", event.Action,
		"app", event.App,
		"name", event.Name,
		"target", event.Target,
		"request_id", event.RequestID,
	)
	return nil
}
