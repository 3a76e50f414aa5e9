package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationKind identifies the booking transition a notification reports.
type NotificationKind string

const (
	NotificationBookingJoin      NotificationKind = "booking_join"
	NotificationBookingRequest   NotificationKind = "booking_request"
	NotificationBookingApproved  NotificationKind = "booking_approved"
	NotificationBookingRejected  NotificationKind = "booking_rejected"
	NotificationBookingWithdrawn NotificationKind = "booking_withdrawn"
	NotificationBookingCancelled NotificationKind = "booking_cancelled"
)

// Notification is a user-targeted message handed to the side-effect dispatcher.
// ID is deterministic per transition so consumers can drop duplicates.
type Notification struct {
	ID      string            `json:"id"`
	UserID  string            `json:"user_id"`
	Kind    NotificationKind  `json:"kind"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
}

// PayloadJSON encodes Payload for storage.
func (n Notification) PayloadJSON() (json.RawMessage, error) {
	if len(n.Payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(n.Payload)
}

// PointsCredit asks the rewards ledger to credit a user.
type PointsCredit struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// EffectID builds the dedupe id for a side effect, e.g. kind:bookingID:userID:version.
// The same committed transition always yields the same id.
func EffectID(kind string, refs ...any) string {
	parts := make([]string, 0, len(refs)+1)
	parts = append(parts, kind)
	for _, r := range refs {
		parts = append(parts, fmt.Sprint(r))
	}
	return strings.Join(parts, ":")
}
