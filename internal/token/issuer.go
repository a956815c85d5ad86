package token

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultParticipantTTL = 24 * time.Hour
	DefaultServerTTL      = time.Hour
)

var (
	ErrMissingAPIKey   = errors.New("token: api key is not configured")
	ErrMissingRoom     = errors.New("token: room is required")
	ErrMissingIdentity = errors.New("token: identity is required")
)

// Token is a signed token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer builds claim sets for the three participant flavors and for server
// calls, and hands them to the Signer.
type Issuer struct {
	signer         *Signer
	apiKey         string
	participantTTL time.Duration
	serverTTL      time.Duration
	now            func() time.Time
	log            zerolog.Logger
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithTTLs overrides the default lifetimes.  Non-positive values keep the
// defaults.
func WithTTLs(participant, server time.Duration) Option {
	return func(i *Issuer) {
		if participant > 0 {
			i.participantTTL = participant
		}
		if server > 0 {
			i.serverTTL = server
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(i *Issuer) { i.log = log.With().Str("component", "token-issuer").Logger() }
}

// NewIssuer returns an Issuer signing as apiKey.
func NewIssuer(signer *Signer, apiKey string, opts ...Option) (*Issuer, error) {
	if signer == nil {
		return nil, ErrMissingSecret
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	i := &Issuer{
		signer:         signer,
		apiKey:         apiKey,
		participantTTL: DefaultParticipantTTL,
		serverTTL:      DefaultServerTTL,
		now:            time.Now,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssueParticipantToken mints a token letting identity join room with caps.
// A non-positive ttl means the configured participant default.
func (i *Issuer) IssueParticipantToken(room, identity string, caps Capabilities, ttl time.Duration) (Token, error) {
	if room == "" {
		return Token{}, ErrMissingRoom
	}
	if identity == "" {
		return Token{}, ErrMissingIdentity
	}
	if ttl <= 0 {
		ttl = i.participantTTL
	}
	now := i.now().UTC()
	claims := ParticipantClaims(i.apiKey, identity, room, caps, now, ttl)
	return i.sign(claims)
}

// IssueRoleToken is IssueParticipantToken with the preset for role.
func (i *Issuer) IssueRoleToken(room, identity string, role Role, ttl time.Duration) (Token, error) {
	caps, ok := Preset(role)
	if !ok {
		return Token{}, errors.New("token: unknown role " + string(role))
	}
	tok, err := i.IssueParticipantToken(room, identity, caps, ttl)
	if err != nil {
		return Token{}, err
	}
	i.log.Debug().Str("room", room).Str("identity", identity).Str("role", string(role)).Msg("participant token issued")
	return tok, nil
}

// IssueServerCapabilityToken mints the short-lived token attached to each
// room provider call.  room may be empty for calls not scoped to a room.
func (i *Issuer) IssueServerCapabilityToken(room string, admin AdminCapabilities, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		ttl = i.serverTTL
	}
	now := i.now().UTC()
	return i.sign(ServerClaims(i.apiKey, room, admin, now, ttl))
}

func (i *Issuer) sign(claims AccessClaims) (Token, error) {
	value, err := i.signer.Encode(DefaultHeader, claims)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: value, ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC()}, nil
}
