// Package queue defines delivery notifications published after a session finishes.
package queue

import (
	"context"

	"github.com/husmancristian/ta-collector/pkg/models"
)

// DeliveredEvent is the routing key of a finished delivery.
const DeliveredEvent = "run.delivered"

// SinkOutcome summarizes one sink of a delivery.
type SinkOutcome struct {
	Sink     string   `json:"sink"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
	Locators []string `json:"locators,omitempty"`
}

// Delivery is the body of a run.delivered message.
type Delivery struct {
	RunID   string         `json:"run_id"`
	Project string         `json:"project,omitempty"`
	Sinks   []SinkOutcome  `json:"sinks"`
	Summary models.Summary `json:"summary"`
}

// Notifier publishes delivery notifications.
type Notifier interface {
	// Notify publishes d. Implementations must not block past ctx.
	Notify(ctx context.Context, d Delivery) error

	// Close releases any resources held by the notifier (e.g., connections).
	Close() error
}
