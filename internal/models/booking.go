package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusOpen      BookingStatus = "open"
	BookingStatusFull      BookingStatus = "full"
	BookingStatusClosed    BookingStatus = "closed"
	BookingStatusCompleted BookingStatus = "completed"
)

// Terminal reports whether no further membership changes are allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusClosed || s == BookingStatusCompleted
}

// MemberRole distinguishes the host from joined players.
type MemberRole string

const (
	MemberRoleHost   MemberRole = "host"
	MemberRoleMember MemberRole = "member"
)

// Capacity is the seat budget of a booking. Max never changes after creation.
type Capacity struct {
	Max     int `json:"max"`
	Current int `json:"current"`
}

// Member is one user counted against a booking's capacity.
type Member struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        MemberRole `json:"role"`
}

// Booking is a hosted golf meetup with a fixed number of seats.
type Booking struct {
	ID               string        `json:"id"`
	HostID           string        `json:"host_id"`
	Title            string        `json:"title"`
	CourseName       string        `json:"course_name,omitempty"`
	TeeTime          *time.Time    `json:"tee_time,omitempty"`
	Capacity         Capacity      `json:"capacity"`
	Members          []Member      `json:"members"`
	Status           BookingStatus `json:"status"`
	RequiresApproval bool          `json:"requires_approval"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
	Version          int64         `json:"version"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so a transaction can mutate it without touching the stored record.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.Members = append([]Member(nil), b.Members...)
	if b.TeeTime != nil {
		t := *b.TeeTime
		out.TeeTime = &t
	}
	if b.ClosedAt != nil {
		t := *b.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

// HasMember reports whether userID currently holds a seat.
func (b *Booking) HasMember(userID string) bool {
	return b.memberIndex(userID) >= 0
}

// IsHost reports whether userID owns the booking.
func (b *Booking) IsHost(userID string) bool {
	return userID != "" && b.HostID == userID
}

// Remaining returns the number of free seats.
func (b *Booking) Remaining() int {
	return b.Capacity.Max - b.Capacity.Current
}

// AddMember appends m and keeps current and the open/full status in sync.
// Callers validate capacity and duplicates first.
func (b *Booking) AddMember(m Member) {
	b.Members = append(b.Members, m)
	b.Capacity.Current = len(b.Members)
	b.syncStatus()
}

// RemoveMember drops userID and reopens a full booking. It returns false when
// userID is not a member.
func (b *Booking) RemoveMember(userID string) bool {
	i := b.memberIndex(userID)
	if i < 0 {
		return false
	}
	b.Members = append(b.Members[:i], b.Members[i+1:]...)
	b.Capacity.Current = len(b.Members)
	b.syncStatus()
	return true
}

// syncStatus derives open/full from the counters. Terminal states are left alone.
func (b *Booking) syncStatus() {
	if b.Status.Terminal() {
		return
	}
	if b.Capacity.Current >= b.Capacity.Max {
		b.Status = BookingStatusFull
	} else {
		b.Status = BookingStatusOpen
	}
}

func (b *Booking) memberIndex(userID string) int {
	for i, m := range b.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// MemberIDs returns the user ids of all members in seat order.
func (b *Booking) MemberIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}
