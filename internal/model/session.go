package model

import (
	"strconv"
	"time"
)

// SessionState is the lifecycle state of a live broadcast.
type SessionState string

const (
	SessionScheduled SessionState = "SCHEDULED"
	SessionLive      SessionState = "LIVE"
	SessionEnded     SessionState = "ENDED"
)

// Session identifies one live broadcast owned by a seller.  It is created
// Scheduled, becomes Live once the room reports participants and is Ended
// when closed by its owner or after the room stayed empty past the grace
// period.
//
// Fields:
//
//	ID        – primary key identifier.
//	ShopID    – shop the broadcast sells for.
//	SellerID  – account that owns the session.
//	Title     – human readable title.
//	RoomName  – external room name, always RoomNameFor(ID).
//	State     – SCHEDULED, LIVE or ENDED.
//	IdleSince – first sweep that saw an empty room while LIVE; nil otherwise.
//	LiveAt    – when the session first went live.
//	EndedAt   – when the session ended.
type Session struct {
	ID        uint64       `json:"id"`
	ShopID    uint64       `json:"shop_id"`
	SellerID  uint64       `json:"seller_id"`
	Title     string       `json:"title"`
	RoomName  string       `json:"room"`
	State     SessionState `json:"state"`
	IdleSince *time.Time   `json:"-"`
	LiveAt    *time.Time   `json:"live_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RoomNameFor derives the deterministic room name of a session.
func RoomNameFor(sessionID uint64) string {
	return "session-" + strconv.FormatUint(sessionID, 10)
}

// OwnedBy reports whether actor is the seller of the session.
func (s *Session) OwnedBy(actor uint64) bool {
	return s != nil && actor != 0 && s.SellerID == actor
}

// Ended reports whether the session is closed.
func (s *Session) Ended() bool { return s.State == SessionEnded }
