package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/commerce"
	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/repository"
	"github.com/iliyamo/live-commerce/internal/room"
)

// SweepStats summarizes one sweep.
type SweepStats struct {
	Checked int
	Live    int
	Idle    int
	Ended   int
	Errors  int
}

// Sweeper polls the room provider for open sessions and moves them along
// their lifecycle:
//   - SCHEDULED -> LIVE when the room has participants
//   - LIVE -> ENDED when the room stayed empty past the grace period, after
//     which the room is deleted
//
// It runs next to request handling and takes the same per-session lock.
type Sweeper struct {
	store     repository.SessionStore
	rooms     room.Gateway
	locker    commerce.Locker
	interval  time.Duration
	grace     time.Duration
	batch     int
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
	mu        sync.Mutex
	cursor    uint64
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSweeper creates a sweeper.  batch bounds the sessions checked per
// tick; timeout bounds each provider call.
func NewSweeper(store repository.SessionStore, rooms room.Gateway, locker commerce.Locker, interval, grace time.Duration, batch int, timeout time.Duration, log zerolog.Logger) *Sweeper {
	if batch < 1 {
		batch = 1
	}
	return &Sweeper{
		store:    store,
		rooms:    rooms,
		locker:   locker,
		interval: interval,
		grace:    grace,
		batch:    batch,
		timeout:  timeout,
		log:      log.With().Str("component", "session-sweeper").Logger(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in background.
// Safe to call multiple times - only the first call starts the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.log.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("session sweeper started")
	})
}

// Stop gracefully shuts down the sweeper.
// Safe to call multiple times - only the first call stops the sweeper.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.Info().Msg("session sweeper stopped")
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			stats := s.Sweep(ctx)
			if stats.Live+stats.Ended+stats.Errors > 0 {
				s.log.Info().
					Int("checked", stats.Checked).
					Int("live", stats.Live).
					Int("idle", stats.Idle).
					Int("ended", stats.Ended).
					Int("errors", stats.Errors).
					Msg("sweep cycle")
			}
		}
	}
}

// Sweep checks the next page of up to batch open sessions.  Successive
// sweeps walk all open sessions in id order and wrap around at the end.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SweepStats
	sessions, err := s.nextPage(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list open sessions")
		stats.Errors++
		return stats
	}
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return stats
		}
		stats.Checked++
		s.check(ctx, sess, &stats)
	}
	return stats
}

// nextPage must be called with s.mu held.
func (s *Sweeper) nextPage(ctx context.Context) ([]*model.Session, error) {
	sessions, err := s.store.ListOpen(ctx, s.cursor, s.batch)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 && s.cursor != 0 {
		s.cursor = 0
		if sessions, err = s.store.ListOpen(ctx, 0, s.batch); err != nil {
			return nil, err
		}
	}
	if len(sessions) < s.batch {
		s.cursor = 0
	} else {
		s.cursor = sessions[len(sessions)-1].ID
	}
	return sessions, nil
}

func (s *Sweeper) participantCount(ctx context.Context, name string) (int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.rooms.ParticipantCount(ctx, name)
}

func (s *Sweeper) check(ctx context.Context, sess *model.Session, stats *SweepStats) {
	count, err := s.participantCount(ctx, sess.RoomName)
	if err != nil {
		s.log.Warn().Err(err).Str("room", sess.RoomName).Msg("participant count")
		stats.Errors++
		return
	}

	var ended bool
	err = s.locker.WithLock(ctx, sess.ID, func(ctx context.Context) error {
		cur, err := s.store.Get(ctx, sess.ID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		switch cur.State {
		case model.SessionScheduled:
			if count == 0 {
				return nil
			}
			cur.State = model.SessionLive
			cur.LiveAt = &now
			cur.IdleSince = nil
			stats.Live++
			metrics.SessionTransitions.WithLabelValues(string(model.SessionLive), "sweep").Inc()
		case model.SessionLive:
			switch {
			case count > 0 && cur.IdleSince == nil:
				return nil
			case count > 0:
				cur.IdleSince = nil
			case cur.IdleSince == nil:
				cur.IdleSince = &now
				stats.Idle++
			case now.Sub(*cur.IdleSince) >= s.grace:
				cur.State = model.SessionEnded
				cur.EndedAt = &now
				cur.IdleSince = nil
				ended = true
				stats.Ended++
				metrics.SessionTransitions.WithLabelValues(string(model.SessionEnded), "idle").Inc()
			default:
				stats.Idle++
				return nil
			}
		default:
			return nil
		}
		return s.store.UpdateState(ctx, cur)
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("session_id", sess.ID).Msg("sweep session")
		stats.Errors++
		return
	}
	if ended {
		s.log.Info().Uint64("session_id", sess.ID).Str("room", sess.RoomName).Msg("idle session ended")
		dctx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := s.rooms.DeleteRoom(dctx, sess.RoomName); err != nil {
			s.log.Warn().Err(err).Str("room", sess.RoomName).Msg("delete room")
		}
	}
}
