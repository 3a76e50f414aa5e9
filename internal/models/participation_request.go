package models

import "time"

// RequestStatus is the resolution state of a participation request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// ParticipationRequest records one user's attempt to join a booking that needs host approval.
type ParticipationRequest struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"booking_id"`
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Status      RequestStatus `json:"status"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// Clone returns a copy safe to mutate inside a ledger transaction.
func (r *ParticipationRequest) Clone() *ParticipationRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// Resolve moves a pending request to a terminal status.
func (r *ParticipationRequest) Resolve(status RequestStatus, at time.Time) {
	r.Status = status
	r.ResolvedAt = &at
}
