package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-commerce/internal/commerce"
	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/repository"
	"github.com/iliyamo/live-commerce/internal/room"
)

type sweepFixture struct {
	store   *repository.MemoryStore
	rooms   *room.MemoryGateway
	sweeper *Sweeper
	now     time.Time
}

func newSweepFixture() *sweepFixture {
	f := &sweepFixture{
		store: repository.NewMemoryStore(),
		rooms: room.NewMemoryGateway(),
		now:   time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
	}
	f.sweeper = NewSweeper(f.store, f.rooms, commerce.NewKeyedMutex(time.Second), time.Hour, 5*time.Minute, 10, time.Second, zerolog.Nop())
	f.sweeper.now = func() time.Time { return f.now }
	return f
}

func (f *sweepFixture) session(t *testing.T) *model.Session {
	t.Helper()
	s := &model.Session{ShopID: 1, SellerID: 1, Title: "t"}
	require.NoError(t, f.store.Create(context.Background(), s))
	require.NoError(t, f.rooms.EnsureRoom(context.Background(), s.RoomName))
	return s
}

func (f *sweepFixture) state(t *testing.T, id uint64) *model.Session {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestSweepScheduledGoesLive(t *testing.T) {
	f := newSweepFixture()
	waiting := f.session(t)
	joined := f.session(t)
	f.rooms.Join(joined.RoomName, 2)

	stats := f.sweeper.Sweep(context.Background())
	require.Equal(t, 2, stats.Checked)
	require.Equal(t, 1, stats.Live)
	require.Equal(t, model.SessionScheduled, f.state(t, waiting.ID).State)
	require.Equal(t, model.SessionLive, f.state(t, joined.ID).State)
}

func TestSweepEndsIdleSessionAfterGrace(t *testing.T) {
	f := newSweepFixture()
	s := f.session(t)
	f.rooms.Join(s.RoomName, 1)
	f.sweeper.Sweep(context.Background())

	// everyone leaves
	f.rooms.Join(s.RoomName, -1)
	stats := f.sweeper.Sweep(context.Background())
	require.Equal(t, 1, stats.Idle)
	require.NotNil(t, f.state(t, s.ID).IdleSince)

	f.now = f.now.Add(4 * time.Minute)
	f.sweeper.Sweep(context.Background())
	require.Equal(t, model.SessionLive, f.state(t, s.ID).State)

	f.now = f.now.Add(time.Minute)
	stats = f.sweeper.Sweep(context.Background())
	require.Equal(t, 1, stats.Ended)
	got := f.state(t, s.ID)
	require.Equal(t, model.SessionEnded, got.State)
	require.NotNil(t, got.EndedAt)
	require.False(t, f.rooms.Exists(s.RoomName))

	// ended sessions are no longer swept
	require.Zero(t, f.sweeper.Sweep(context.Background()).Checked)
}

func TestSweepPagesPastStuckScheduledSessions(t *testing.T) {
	f := newSweepFixture()
	f.sweeper.batch = 2
	// nobody ever joins these two, so they stay Scheduled
	f.session(t)
	f.session(t)
	live := f.session(t)
	cur := f.state(t, live.ID)
	cur.State = model.SessionLive
	require.NoError(t, f.store.UpdateState(context.Background(), cur))

	require.Equal(t, 2, f.sweeper.Sweep(context.Background()).Checked)
	require.Equal(t, 1, f.sweeper.Sweep(context.Background()).Checked)
	require.NotNil(t, f.state(t, live.ID).IdleSince)

	for i := 0; i < 20 && f.state(t, live.ID).State != model.SessionEnded; i++ {
		f.now = f.now.Add(time.Minute)
		f.sweeper.Sweep(context.Background())
	}
	require.Equal(t, model.SessionEnded, f.state(t, live.ID).State)
	require.False(t, f.rooms.Exists(live.RoomName))

	// with the live session gone the walk wraps back to the first page
	require.Equal(t, 2, f.sweeper.Sweep(context.Background()).Checked)
	require.Equal(t, 2, f.sweeper.Sweep(context.Background()).Checked)
}

func TestSweepParticipantReturnClearsIdle(t *testing.T) {
	f := newSweepFixture()
	s := f.session(t)
	f.rooms.Join(s.RoomName, 1)
	f.sweeper.Sweep(context.Background())
	f.rooms.Join(s.RoomName, -1)
	f.sweeper.Sweep(context.Background())
	require.NotNil(t, f.state(t, s.ID).IdleSince)

	f.rooms.Join(s.RoomName, 1)
	f.now = f.now.Add(10 * time.Minute)
	f.sweeper.Sweep(context.Background())
	got := f.state(t, s.ID)
	require.Equal(t, model.SessionLive, got.State)
	require.Nil(t, got.IdleSince)
}

func TestSweepProviderFailure(t *testing.T) {
	f := newSweepFixture()
	f.session(t)
	f.rooms.Fail = errors.New("unreachable")

	stats := f.sweeper.Sweep(context.Background())
	require.Equal(t, 1, stats.Errors)
}

func TestSweeperStartStop(t *testing.T) {
	f := newSweepFixture()
	f.sweeper.interval = 5 * time.Millisecond
	s := f.session(t)
	f.rooms.Join(s.RoomName, 1)

	f.sweeper.Start(context.Background())
	f.sweeper.Start(context.Background())
	require.Eventually(t, func() bool {
		return f.state(t, s.ID).State == model.SessionLive
	}, time.Second, 5*time.Millisecond)
	f.sweeper.Stop()
	f.sweeper.Stop()
}
