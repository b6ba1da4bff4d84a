package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

var ErrNoFrame = errors.New("no frame received yet")

// Remote is a camera that lives on the other side of a connection (a browser
// tab, a chat). The remote party settles Open with Grant or Deny and pushes
// preview frames; Stopped tells it when to drop its own tracks.
type Remote struct {
	mu          sync.Mutex
	decided     chan struct{}
	decideOnce  *sync.Once
	err         error
	frame       image.Image
	stopped     bool
	constraints Constraints
}

func NewRemote() *Remote {
	r := &Remote{}
	r.Rearm()
	return r
}

// Rearm forgets the previous permission answer and frame. Call it before a new activation.
func (r *Remote) Rearm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decided = make(chan struct{})
	r.decideOnce = &sync.Once{}
	r.err = nil
	r.frame = nil
	r.stopped = false
}

func (r *Remote) Grant() { r.decide(nil) }

func (r *Remote) Deny(reason error) {
	if reason == nil {
		reason = errors.New("permission denied")
	}
	r.decide(reason)
}

func (r *Remote) decide(err error) {
	r.mu.Lock()
	once, ch := r.decideOnce, r.decided
	r.mu.Unlock()
	once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(ch)
	})
}

// Push replaces the latest preview frame.
func (r *Remote) Push(frame image.Image) {
	r.mu.Lock()
	r.frame = frame
	r.mu.Unlock()
}

// Constraints returns what the last Open asked for.
func (r *Remote) Constraints() Constraints {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constraints
}

func (r *Remote) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Remote) Open(ctx context.Context, c Constraints) (Stream, error) {
	r.mu.Lock()
	r.constraints = c
	ch := r.decided
	r.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, r.err)
	}
	r.stopped = false
	return &remoteStream{r: r}, nil
}

type remoteStream struct {
	r *Remote
}

func (s *remoteStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.stopped {
		return nil, ErrNotActive
	}
	if s.r.frame == nil {
		return nil, ErrNoFrame
	}
	return s.r.frame, nil
}

func (s *remoteStream) Stop() {
	s.r.mu.Lock()
	s.r.stopped = true
	s.r.frame = nil
	s.r.mu.Unlock()
}
