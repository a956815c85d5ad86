// Package service holds the use cases that sit on top of the commerce core:
// session lifecycle, the join flow and the background sweeper.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/commerce"
	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/repository"
	"github.com/iliyamo/live-commerce/internal/room"
	"github.com/iliyamo/live-commerce/internal/token"
)

// Data message topics.
const (
	TopicSystem = "system"
)

// maxTitleLen matches live_sessions.title.
const maxTitleLen = 255

// ParticipantTokens mints participant tokens for a role preset.
type ParticipantTokens interface {
	IssueRoleToken(room, identity string, role token.Role, ttl time.Duration) (token.Token, error)
}

// JoinRequest asks for a room token.  Identity defaults to the caller's
// account id and Role to subscriber.
type JoinRequest struct {
	Identity string
	Role     token.Role
}

// JoinResult is what a client needs to connect to the room.
type JoinResult struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sessions manages the lifecycle of live sessions and hands out room
// tokens.
type Sessions struct {
	store   repository.SessionStore
	rooms   room.Gateway
	tokens  ParticipantTokens
	locker  commerce.Locker
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewSessions creates the session service.  timeout bounds each room
// provider call; locker must be the one the catalog uses.
func NewSessions(store repository.SessionStore, rooms room.Gateway, tokens ParticipantTokens, locker commerce.Locker, timeout time.Duration, log zerolog.Logger) *Sessions {
	return &Sessions{
		store:   store,
		rooms:   rooms,
		tokens:  tokens,
		locker:  locker,
		timeout: timeout,
		log:     log.With().Str("component", "sessions").Logger(),
		now:     time.Now,
	}
}

func (s *Sessions) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Sessions) load(ctx context.Context, id uint64) (*model.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, commerce.NotFound(commerce.ReasonSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return sess, nil
}

func (s *Sessions) owned(ctx context.Context, id, actor uint64, verb string) (*model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(actor) {
		return nil, commerce.Unauthorized(commerce.ReasonNotOwner, "only session owner may "+verb)
	}
	return sess, nil
}

// Create schedules a broadcast for shopID owned by actor.
func (s *Sessions) Create(ctx context.Context, actor, shopID uint64, title string) (*model.Session, error) {
	title = strings.TrimSpace(title)
	switch {
	case actor == 0:
		return nil, commerce.Unauthorized(commerce.ReasonNotOwner, "an authenticated seller is required")
	case shopID == 0:
		return nil, commerce.Validation(commerce.ReasonInvalidInput, "shop_id is required")
	case title == "":
		return nil, commerce.Validation(commerce.ReasonInvalidInput, "title is required")
	case len(title) > maxTitleLen:
		return nil, commerce.Validation(commerce.ReasonInvalidInput, "title is too long")
	}
	sess := &model.Session{ShopID: shopID, SellerID: actor, Title: title, State: model.SessionScheduled}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info().Uint64("session_id", sess.ID).Uint64("shop_id", shopID).Str("room", sess.RoomName).Msg("session scheduled")
	return sess, nil
}

// Get returns a session.
func (s *Sessions) Get(ctx context.Context, id uint64) (*model.Session, error) {
	return s.load(ctx, id)
}

// Join ensures the room exists and mints a token for the caller.  The
// participant identity is "acct-<identity>", stable for a given account, so
// asking again never creates a second participant.
func (s *Sessions) Join(ctx context.Context, sessionID, actor uint64, req JoinRequest) (*JoinResult, error) {
	role := req.Role
	if role == "" {
		role = token.RoleSubscriber
	}
	if _, ok := token.Preset(role); !ok {
		return nil, commerce.Validation(commerce.ReasonInvalidInput, "role must be publisher, subscriber or data")
	}
	account := strconv.FormatUint(actor, 10)
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		identity = account
	}
	if actor == 0 || identity != account {
		return nil, commerce.Unauthorized(commerce.ReasonNotOwner, "identity must match the authenticated account")
	}

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, commerce.Conflict(commerce.ReasonSessionEnded, "session has ended")
	}
	if role == token.RolePublisher && !sess.OwnedBy(actor) {
		return nil, commerce.Unauthorized(commerce.ReasonNotOwner, "only session owner may publish")
	}

	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rooms.EnsureRoom(rctx, sess.RoomName); err != nil {
		return nil, commerce.Upstream("room provider unavailable", err)
	}

	participant := "acct-" + identity
	tok, err := s.tokens.IssueRoleToken(sess.RoomName, participant, role, 0)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	metrics.TokensIssued.WithLabelValues(string(role)).Inc()

	if sess.State == model.SessionScheduled {
		s.markLive(ctx, sessionID, "join")
	}
	return &JoinResult{
		Token:     tok.Value,
		Room:      sess.RoomName,
		Identity:  participant,
		Role:      string(role),
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

// markLive moves a Scheduled session to Live.  Failures are logged only;
// the sweeper retries the transition from the participant count.
func (s *Sessions) markLive(ctx context.Context, id uint64, cause string) {
	err := s.locker.WithLock(ctx, id, func(ctx context.Context) error {
		sess, err := s.load(ctx, id)
		if err != nil || sess.State != model.SessionScheduled {
			return err
		}
		now := s.now().UTC()
		sess.State = model.SessionLive
		sess.LiveAt = &now
		sess.IdleSince = nil
		if err := s.store.UpdateState(ctx, sess); err != nil {
			return err
		}
		metrics.SessionTransitions.WithLabelValues(string(model.SessionLive), cause).Inc()
		s.log.Info().Uint64("session_id", id).Str("cause", cause).Msg("session live")
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("session_id", id).Msg("mark session live")
	}
}

// Close ends the session and deletes its room.  Closing an Ended session
// returns it unchanged.
func (s *Sessions) Close(ctx context.Context, id, actor uint64) (*model.Session, error) {
	if _, err := s.owned(ctx, id, actor, "close the session"); err != nil {
		return nil, err
	}
	var (
		out    *model.Session
		closed bool
	)
	err := s.locker.WithLock(ctx, id, func(ctx context.Context) error {
		sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		out = sess
		if sess.Ended() {
			return nil
		}
		now := s.now().UTC()
		sess.State = model.SessionEnded
		sess.EndedAt = &now
		sess.IdleSince = nil
		if err := s.store.UpdateState(ctx, sess); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		closed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		metrics.SessionTransitions.WithLabelValues(string(model.SessionEnded), "closed").Inc()
		s.log.Info().Uint64("session_id", id).Msg("session closed")
		s.deleteRoom(ctx, out.RoomName)
	}
	return out, nil
}

// deleteRoom is best effort; the provider drops idle rooms on its own.
func (s *Sessions) deleteRoom(ctx context.Context, name string) {
	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rooms.DeleteRoom(rctx, name); err != nil {
		s.log.Warn().Err(err).Str("room", name).Msg("delete room")
	}
}

// Announcement is the payload of a system data message.
type Announcement struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// Announce sends a system message to everyone in the room.
func (s *Sessions) Announce(ctx context.Context, id, actor uint64, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return commerce.Validation(commerce.ReasonInvalidInput, "message is required")
	}
	sess, err := s.owned(ctx, id, actor, "send announcements")
	if err != nil {
		return err
	}
	if sess.Ended() {
		return commerce.Conflict(commerce.ReasonSessionEnded, "session has ended")
	}
	body, err := json.Marshal(Announcement{Type: "announcement", Message: message, SentAt: s.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rooms.SendData(rctx, sess.RoomName, body, TopicSystem); err != nil {
		return commerce.Upstream("room provider unavailable", err)
	}
	return nil
}
