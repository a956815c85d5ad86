package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-commerce/internal/token"
)

const testSecret = "provider-secret"

type providerCall struct {
	Method string
	Body   map[string]any
	Claims jwt.MapClaims
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []providerCall
	replies map[string][]func(w http.ResponseWriter)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{replies: make(map[string][]func(w http.ResponseWriter))}
}

func (f *fakeProvider) reply(method string, fn func(w http.ResponseWriter)) {
	f.replies[method] = append(f.replies[method], fn)
}

func jsonReply(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, twirpPrefix)
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte(testSecret), nil }); err != nil {
		jsonReply(http.StatusUnauthorized, `{"code":"unauthenticated","msg":"bad token"}`)(w)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, providerCall{Method: method, Body: body, Claims: claims})
	var fn func(w http.ResponseWriter)
	if q := f.replies[method]; len(q) > 0 {
		fn = q[0]
		if len(q) > 1 {
			f.replies[method] = q[1:]
		}
	}
	f.mu.Unlock()

	if fn == nil {
		jsonReply(http.StatusOK, `{}`)(w)
		return
	}
	fn(w)
}

func (f *fakeProvider) recorded() []providerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providerCall(nil), f.calls...)
}

func newGateway(t *testing.T, p *fakeProvider) *LiveKitGateway {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	signer, err := token.NewSigner(testSecret)
	require.NoError(t, err)
	issuer, err := token.NewIssuer(signer, "APIkey")
	require.NoError(t, err)
	return NewLiveKitGateway(srv.URL, issuer, WithRetryDelay(time.Millisecond), WithEmptyTimeout(5*time.Minute))
}

func TestEnsureRoomSendsCreateRequest(t *testing.T) {
	p := newFakeProvider()
	g := newGateway(t, p)

	require.NoError(t, g.EnsureRoom(context.Background(), "session-42"))

	calls := p.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "CreateRoom", calls[0].Method)
	require.Equal(t, "session-42", calls[0].Body["name"])
	require.EqualValues(t, 300, calls[0].Body["emptyTimeout"])
	require.Equal(t, "APIkey", calls[0].Claims["iss"])
	video := calls[0].Claims["video"].(map[string]any)
	require.Equal(t, true, video["roomCreate"])
}

func TestEnsureRoomAlreadyExistsIsSuccess(t *testing.T) {
	p := newFakeProvider()
	p.reply("CreateRoom", jsonReply(http.StatusConflict, `{"code":"already_exists","msg":"room exists"}`))
	g := newGateway(t, p)

	require.NoError(t, g.EnsureRoom(context.Background(), "session-1"))
}

func TestEnsureRoomFailureIsUnavailable(t *testing.T) {
	p := newFakeProvider()
	p.reply("CreateRoom", jsonReply(http.StatusInternalServerError, `{"code":"internal","msg":"boom"}`))
	g := newGateway(t, p)

	err := g.EnsureRoom(context.Background(), "session-1")
	require.ErrorIs(t, err, ErrUnavailable)
	// writes are never retried
	require.Len(t, p.recorded(), 1)
}

func TestParticipantCount(t *testing.T) {
	p := newFakeProvider()
	p.reply("ListParticipants", jsonReply(http.StatusOK, `{"participants":[{"identity":"acct-1"},{"identity":"acct-2"}]}`))
	g := newGateway(t, p)

	n, err := g.ParticipantCount(context.Background(), "session-9")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	video := p.recorded()[0].Claims["video"].(map[string]any)
	assert.Equal(t, "session-9", video["room"])
	assert.Equal(t, true, video["roomAdmin"])
}

func TestParticipantCountRetriesOnce(t *testing.T) {
	p := newFakeProvider()
	p.reply("ListParticipants", jsonReply(http.StatusServiceUnavailable, `{"code":"unavailable","msg":"busy"}`))
	p.reply("ListParticipants", jsonReply(http.StatusOK, `{"participants":[{"identity":"acct-1"}]}`))
	g := newGateway(t, p)

	n, err := g.ParticipantCount(context.Background(), "session-9")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, p.recorded(), 2)
}

func TestParticipantCountGivesUpAfterOneRetry(t *testing.T) {
	p := newFakeProvider()
	fail := jsonReply(http.StatusServiceUnavailable, `{"code":"unavailable","msg":"busy"}`)
	p.reply("ListParticipants", fail)
	p.reply("ListParticipants", fail)
	p.reply("ListParticipants", jsonReply(http.StatusOK, `{}`))
	g := newGateway(t, p)

	_, err := g.ParticipantCount(context.Background(), "session-9")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Len(t, p.recorded(), 2)
}

func TestParticipantCountAbsentRoomIsZero(t *testing.T) {
	p := newFakeProvider()
	p.reply("ListParticipants", jsonReply(http.StatusNotFound, `{"code":"not_found","msg":"requested room does not exist"}`))
	g := newGateway(t, p)

	n, err := g.ParticipantCount(context.Background(), "session-9")
	require.NoError(t, err)
	require.Zero(t, n)
	// a not_found answer is final
	require.Len(t, p.recorded(), 1)
}

func TestDeleteRoom(t *testing.T) {
	p := newFakeProvider()
	p.reply("DeleteRoom", jsonReply(http.StatusNotFound, `{"code":"not_found","msg":"gone"}`))
	p.reply("DeleteRoom", jsonReply(http.StatusBadGateway, `{}`))
	g := newGateway(t, p)

	require.NoError(t, g.DeleteRoom(context.Background(), "session-3"))
	err := g.DeleteRoom(context.Background(), "session-3")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusBadGateway, pe.Status)
}

func TestSendDataEncodesPayload(t *testing.T) {
	p := newFakeProvider()
	g := newGateway(t, p)

	require.NoError(t, g.SendData(context.Background(), "session-5", []byte(`{"type":"product.pinned"}`), "commerce"))

	call := p.recorded()[0]
	require.Equal(t, "SendData", call.Method)
	require.Equal(t, "session-5", call.Body["room"])
	require.Equal(t, "commerce", call.Body["topic"])
	// RELIABLE is the zero enum value, so protojson leaves it out
	require.NotContains(t, call.Body, "kind")
	data, err := base64.StdEncoding.DecodeString(call.Body["data"].(string))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"product.pinned"}`, string(data))
}

func TestUnreachableProvider(t *testing.T) {
	signer, err := token.NewSigner(testSecret)
	require.NoError(t, err)
	issuer, err := token.NewIssuer(signer, "APIkey")
	require.NoError(t, err)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewLiveKitGateway(url, issuer, WithRetryDelay(time.Millisecond))
	_, err = g.ParticipantCount(context.Background(), "session-1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPURL(t *testing.T) {
	assert.Equal(t, "https://lk.example.com", httpURL("wss://lk.example.com/"))
	assert.Equal(t, "http://localhost:7880", httpURL("ws://localhost:7880"))
	assert.Equal(t, "http://localhost:7880", httpURL("http://localhost:7880"))
}
