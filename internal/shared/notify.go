package shared

import (
	"context"
	"time"
)

// NotificationKind mirrors the success/failure toasts shown to users.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyFailure NotificationKind = "failure"
	NotifyInfo    NotificationKind = "info"
)

// Notification is a fire-and-forget signal about an operation.
type Notification struct {
	ID       string           `json:"id"`
	Kind     NotificationKind `json:"kind"`
	ActorID  string           `json:"actor_id,omitempty"`
	Event    string           `json:"event"`
	Entity   string           `json:"entity,omitempty"`
	EntityID int64            `json:"entity_id,omitempty"`
	Message  string           `json:"message"`
	At       time.Time        `json:"at"`
}

// Notifier delivers notifications. Implementations must not block the caller
// on delivery and must not report delivery failures as operation failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Notification) {}
