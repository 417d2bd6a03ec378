package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EvictFunc is called for each session the sweeper expires.
type EvictFunc func(Session)

// Sweeper evicts sessions left in AwaitingChoice longer than a TTL.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	onEvict  EvictFunc
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSweeper creates a sweeper. A zero ttl disables eviction.
func NewSweeper(store *Store, ttl, interval time.Duration, onEvict EvictFunc, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		onEvict:  onEvict,
		log:      log.With().Str("component", "session-sweeper").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one eviction pass and returns the number of sessions removed.
func (s *Sweeper) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	expired := s.store.Expire(s.ttl)
	for _, sess := range expired {
		s.log.Info().
			Str("user_id", sess.UserID).
			Str("media_key", sess.Media.Key).
			Dur("age", time.Since(sess.CreatedAt)).
			Msg("session expired awaiting choice")
		if s.onEvict != nil {
			s.onEvict(sess)
		}
	}
	return len(expired)
}
