package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/flow"
)

// ControllerFactory builds the flow for one browser session on top of its remote camera.
type ControllerFactory func(sessionID string, dev capture.Device) *flow.Controller

type session struct {
	id     string
	ctrl   *flow.Controller
	remote *capture.Remote

	lastSeen time.Time
}

// Sessions maps browser cookies to flows and closes flows that went quiet.
type Sessions struct {
	ttl     time.Duration
	factory ControllerFactory
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
	m  map[string]*session
}

func NewSessions(ttl time.Duration, factory ControllerFactory, log *zap.Logger) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sessions{
		ttl:     ttl,
		factory: factory,
		log:     log,
		now:     time.Now,
		m:       make(map[string]*session),
	}
}

func (s *Sessions) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if ok {
		sess.lastSeen = s.now()
	}
	return sess, ok
}

func (s *Sessions) create() *session {
	id := uuid.NewString()
	remote := capture.NewRemote()
	sess := &session{
		id:     id,
		ctrl:   s.factory(id, remote),
		remote: remote,
	}

	s.mu.Lock()
	sess.lastSeen = s.now()
	s.m[id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Sweep closes and forgets sessions idle for longer than the TTL.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.m {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.ctrl.Close()
	}
	if len(expired) > 0 {
		s.log.Info("sessions expired", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps until ctx is done, then closes every remaining session.
func (s *Sessions) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *Sessions) closeAll() {
	s.mu.Lock()
	all := make([]*session, 0, len(s.m))
	for id, sess := range s.m {
		all = append(all, sess)
		delete(s.m, id)
	}
	s.mu.Unlock()
	for _, sess := range all {
		sess.ctrl.Close()
	}
}
