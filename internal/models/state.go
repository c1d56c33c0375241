package models

import (
	"time"
)

// DedupeState is the persisted per-symbol notification memory.
type DedupeState struct {
	PreviousLevel     AlertLevel `json:"previous_level"`
	PreviousCrossTime int64      `json:"previous_cross_time"`
}

// NotificationKind labels what a delivered notification announced.
type NotificationKind string

const (
	KindLevelChange NotificationKind = "level_change"
	KindCross       NotificationKind = "cross"
)

// NotificationRecord is an audit row for a delivered notification.
type NotificationRecord struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Kind      NotificationKind `json:"kind"`
	Level     AlertLevel       `json:"level"`
	CrossTime int64            `json:"cross_time,omitempty"`
	SentAt    time.Time        `json:"sent_at"`
}

// HealthStatus is the delivery health reported by a notifier.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	LastError           string    `json:"last_error,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
