package token

import "time"

// Role names the three participant flavors a session hands out.
type Role string

const (
	RolePublisher  Role = "publisher"  // seller broadcasting
	RoleSubscriber Role = "subscriber" // viewer consuming media
	RoleData       Role = "data"       // chat-only participant, no media
)

// Capabilities is the boolean permission set embedded in a participant
// token.
type Capabilities struct {
	CanPublish           bool
	CanSubscribe         bool
	CanSendData          bool
	CanUpdateOwnMetadata bool
	Hidden               bool
}

// AdminCapabilities are the server-side permissions carried by the token
// that authenticates calls to the room provider.
type AdminCapabilities struct {
	RoomCreate bool
	RoomAdmin  bool
	RoomList   bool
}

// FullAdmin grants every server permission.
var FullAdmin = AdminCapabilities{RoomCreate: true, RoomAdmin: true, RoomList: true}

// Preset returns the fixed capability set for a role.
func Preset(role Role) (Capabilities, bool) {
	switch role {
	case RolePublisher:
		return Capabilities{CanPublish: true, CanSubscribe: true, CanSendData: true}, true
	case RoleSubscriber:
		return Capabilities{CanPublish: false, CanSubscribe: true}, true
	case RoleData:
		return Capabilities{CanSendData: true, CanUpdateOwnMetadata: true, Hidden: false}, true
	}
	return Capabilities{}, false
}

// VideoGrant is the nested scope object.  Participant capability flags are
// always serialized; admin flags only when set.
type VideoGrant struct {
	Room                 string `json:"room"`
	RoomJoin             bool   `json:"roomJoin,omitempty"`
	RoomCreate           bool   `json:"roomCreate,omitempty"`
	RoomList             bool   `json:"roomList,omitempty"`
	RoomAdmin            bool   `json:"roomAdmin,omitempty"`
	CanPublish           bool   `json:"canPublish"`
	CanSubscribe         bool   `json:"canSubscribe"`
	CanPublishData       bool   `json:"canPublishData"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata"`
	Hidden               bool   `json:"hidden"`
}

// AccessClaims is the second token segment.  It is rebuilt per request and
// never stored.
type AccessClaims struct {
	Issuer    string     `json:"iss"`
	Subject   string     `json:"sub"`
	IssuedAt  int64      `json:"iat"`
	NotBefore int64      `json:"nbf"`
	ExpiresAt int64      `json:"exp"`
	Video     VideoGrant `json:"video"`
}

// ParticipantClaims builds the claim set for a room participant.
func ParticipantClaims(issuer, identity, room string, caps Capabilities, now time.Time, ttl time.Duration) AccessClaims {
	return AccessClaims{
		Issuer:    issuer,
		Subject:   identity,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Video: VideoGrant{
			Room:                 room,
			RoomJoin:             true,
			CanPublish:           caps.CanPublish,
			CanSubscribe:         caps.CanSubscribe,
			CanPublishData:       caps.CanSendData,
			CanUpdateOwnMetadata: caps.CanUpdateOwnMetadata,
			Hidden:               caps.Hidden,
		},
	}
}

// ServerClaims builds the claim set for a server capability token.  The
// subject is the issuer itself.
func ServerClaims(issuer, room string, admin AdminCapabilities, now time.Time, ttl time.Duration) AccessClaims {
	return AccessClaims{
		Issuer:    issuer,
		Subject:   issuer,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Video: VideoGrant{
			Room:       room,
			RoomCreate: admin.RoomCreate,
			RoomList:   admin.RoomList,
			RoomAdmin:  admin.RoomAdmin,
		},
	}
}
