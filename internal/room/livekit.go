package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/token"
)

const twirpPrefix = "/twirp/livekit.RoomService/"

// ServerTokens mints the per-call server capability token.
type ServerTokens interface {
	IssueServerCapabilityToken(room string, admin token.AdminCapabilities, ttl time.Duration) (token.Token, error)
}

// LiveKitGateway is a Gateway over the LiveKit RoomService twirp API.
// Requests and responses are the livekit protocol messages in their JSON
// form.  Every call carries a freshly minted server token.
type LiveKitGateway struct {
	baseURL      string
	tokens       ServerTokens
	client       *http.Client
	emptyTimeout time.Duration
	retryDelay   time.Duration
	log          zerolog.Logger
}

// LiveKitOption configures a LiveKitGateway.
type LiveKitOption func(*LiveKitGateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) LiveKitOption { return func(g *LiveKitGateway) { g.client = c } }

// WithEmptyTimeout sets how long the provider keeps an empty room around.
func WithEmptyTimeout(d time.Duration) LiveKitOption {
	return func(g *LiveKitGateway) { g.emptyTimeout = d }
}

// WithRetryDelay sets the pause before the single retry of idempotent reads.
func WithRetryDelay(d time.Duration) LiveKitOption { return func(g *LiveKitGateway) { g.retryDelay = d } }

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) LiveKitOption {
	return func(g *LiveKitGateway) { g.log = l.With().Str("component", "room_gateway").Logger() }
}

// NewLiveKitGateway creates a gateway for the server at url.  ws:// and
// wss:// urls are rewritten to their http counterparts.
func NewLiveKitGateway(url string, tokens ServerTokens, opts ...LiveKitOption) *LiveKitGateway {
	g := &LiveKitGateway{
		baseURL:      httpURL(url),
		tokens:       tokens,
		client:       &http.Client{Timeout: 10 * time.Second},
		emptyTimeout: 10 * time.Minute,
		retryDelay:   200 * time.Millisecond,
		log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func httpURL(u string) string {
	u = strings.TrimRight(u, "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

type twirpError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// call posts req to method and decodes the reply into resp.
func (g *LiveKitGateway) call(ctx context.Context, method, room string, admin token.AdminCapabilities, req, resp proto.Message) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.RoomCalls.WithLabelValues(method, result).Inc()
		metrics.RoomCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	tok, err := g.tokens.IssueServerCapabilityToken(room, admin, 0)
	if err != nil {
		return &ProviderError{Op: method, Err: err}
	}
	metrics.TokensIssued.WithLabelValues("server").Inc()

	body, err := protojson.Marshal(req)
	if err != nil {
		return &ProviderError{Op: method, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+twirpPrefix+method, bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Op: method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.Value)

	res, err := g.client.Do(httpReq)
	if err != nil {
		return &ProviderError{Op: method, Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &ProviderError{Op: method, Status: res.StatusCode, Err: err}
	}
	if res.StatusCode != http.StatusOK {
		var te twirpError
		_ = json.Unmarshal(raw, &te)
		return &ProviderError{Op: method, Status: res.StatusCode, Code: te.Code, Msg: te.Msg}
	}
	if resp == nil {
		return nil
	}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(raw, resp); err != nil {
		return &ProviderError{Op: method, Status: res.StatusCode, Err: err}
	}
	return nil
}

func hasCode(err error, codes ...string) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	for _, c := range codes {
		if pe.Code == c {
			return true
		}
	}
	return false
}

// retryOnce runs op and repeats it a single time after the retry delay when
// the failure is retryable.
func (g *LiveKitGateway) retryOnce(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(g.retryDelay), 1), ctx)
	return backoff.Retry(func() error {
		err := op()
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// EnsureRoom creates the room.  "already_exists" counts as success, so the
// call is safe to repeat.
func (g *LiveKitGateway) EnsureRoom(ctx context.Context, name string) error {
	req := &livekit.CreateRoomRequest{
		Name:         name,
		EmptyTimeout: uint32(g.emptyTimeout / time.Second),
	}
	err := g.call(ctx, "CreateRoom", name, token.AdminCapabilities{RoomCreate: true}, req, &livekit.Room{})
	if err != nil && hasCode(err, "already_exists") {
		return nil
	}
	return err
}

// ParticipantCount lists the room's participants.  A transient failure is
// retried once.
func (g *LiveKitGateway) ParticipantCount(ctx context.Context, name string) (int, error) {
	var resp livekit.ListParticipantsResponse
	err := g.retryOnce(ctx, func() error {
		resp.Reset()
		return g.call(ctx, "ListParticipants", name, token.AdminCapabilities{RoomAdmin: true},
			&livekit.ListParticipantsRequest{Room: name}, &resp)
	})
	if err != nil {
		if hasCode(err, "not_found") {
			return 0, nil
		}
		return 0, err
	}
	return len(resp.GetParticipants()), nil
}

// DeleteRoom removes the room.  Failures are logged and returned but never
// retried here; the provider drops idle rooms after the empty timeout
// anyway.
func (g *LiveKitGateway) DeleteRoom(ctx context.Context, name string) error {
	err := g.call(ctx, "DeleteRoom", name, token.AdminCapabilities{RoomCreate: true},
		&livekit.DeleteRoomRequest{Room: name}, &livekit.DeleteRoomResponse{})
	if err != nil && hasCode(err, "not_found") {
		return nil
	}
	if err != nil {
		g.log.Warn().Err(err).Str("room", name).Msg("delete room failed")
	}
	return err
}

// SendData delivers payload reliably to every participant.  The payload is
// base64 encoded by the JSON mapping of the bytes field.
func (g *LiveKitGateway) SendData(ctx context.Context, name string, payload []byte, topic string) error {
	req := &livekit.SendDataRequest{
		Room: name,
		Data: payload,
		Kind: livekit.DataPacket_RELIABLE,
	}
	if topic != "" {
		req.Topic = proto.String(topic)
	}
	return g.call(ctx, "SendData", name, token.AdminCapabilities{RoomAdmin: true}, req, &livekit.SendDataResponse{})
}

var _ Gateway = (*LiveKitGateway)(nil)
