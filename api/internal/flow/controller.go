package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/rating"
)

// RecordTimeout bounds one history write.
const RecordTimeout = 5 * time.Second

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrClosed            = errors.New("controller closed")
)

// Recorder keeps a history of successful ratings. Failures are logged only.
type Recorder interface {
	Record(ctx context.Context, sessionID, channel string, img capture.Image, r rating.BeautyRating) error
}

type Options struct {
	SessionID string
	Channel   string // "web" | "telegram"

	Device   capture.Device
	Analyzer rating.Analyzer
	Recorder Recorder
	Logger   *zap.Logger

	// OnChange is called after every transition, outside the controller lock.
	OnChange func(State)
	// Go runs activation and analysis off the caller's goroutine. Defaults to `go f()`.
	Go func(func())
}

// Controller owns the single state of one user flow and the capture component
// that is alive while the flow is Capturing.
type Controller struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	state  State
	comp   *capture.Component
	notice string
	seq    uint64
	closed bool
}

func NewController(opts Options) *Controller {
	if opts.Go == nil {
		opts.Go = func(f func()) { go f() }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_id", opts.SessionID), zap.String("channel", opts.Channel))
	return &Controller{opts: opts, log: log, state: Idle{}}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start moves Idle -> Capturing and activates a fresh capture component.
func (c *Controller) Start() error {
	c.mu.Lock()
	if err := c.checkLocked(PhaseIdle, "start"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.beginCaptureLocked()
	return nil
}

// Restart is Reset followed by Start in one step: Result or Error -> Capturing.
// Observers see only the Capturing state.
func (c *Controller) Restart() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state.(type) {
	case Result, Failed:
	default:
		err := fmt.Errorf("%w: restart from %s", ErrInvalidTransition, c.state.Phase())
		c.mu.Unlock()
		return err
	}
	c.setLocked(Idle{})
	c.beginCaptureLocked()
	return nil
}

// beginCaptureLocked enters Capturing with a fresh component and unlocks c.mu.
func (c *Controller) beginCaptureLocked() {
	c.seq++
	seq := c.seq
	c.notice = ""
	comp := capture.New(c.opts.Device, capture.Listener{
		OnCapture:     func(img capture.Image) { c.captured(seq, img) },
		OnCancel:      func() { c.cancelled(seq) },
		OnUnavailable: func(err error) { c.unavailable(seq, err) },
	})
	c.comp = comp
	st := c.setLocked(Capturing{})
	c.mu.Unlock()

	c.notify(st)
	c.opts.Go(func() { comp.Activate(context.Background()) })
}

// Capture asks the active component for a snapshot.
func (c *Controller) Capture(ctx context.Context) error {
	comp, err := c.activeComponent("capture")
	if err != nil {
		return err
	}
	return comp.Capture(ctx)
}

// Cancel backs out of Capturing; the component reports back and the flow returns to Idle.
func (c *Controller) Cancel() error {
	comp, err := c.activeComponent("cancel")
	if err != nil {
		return err
	}
	comp.Cancel()
	return nil
}

// Reset moves Result or Error back to Idle, dropping image, rating and error.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state.(type) {
	case Result, Failed:
	default:
		err := fmt.Errorf("%w: reset from %s", ErrInvalidTransition, c.state.Phase())
		c.mu.Unlock()
		return err
	}
	st := c.setLocked(Idle{})
	c.mu.Unlock()

	c.notify(st)
	return nil
}

// Close tears down an active capture session. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.seq++
	comp := c.comp
	c.comp = nil
	c.mu.Unlock()

	if comp != nil {
		comp.Deactivate()
	}
}

func (c *Controller) activeComponent(op string) (*capture.Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(PhaseCapturing, op); err != nil {
		return nil, err
	}
	if c.comp == nil {
		return nil, fmt.Errorf("%w: %s without a capture session", ErrInvalidTransition, op)
	}
	return c.comp, nil
}

func (c *Controller) captured(seq uint64, img capture.Image) {
	c.mu.Lock()
	if !c.currentLocked(seq, PhaseCapturing) {
		c.mu.Unlock()
		return
	}
	c.comp = nil
	st := c.setLocked(Analyzing{Image: img})
	c.mu.Unlock()

	c.notify(st)
	c.opts.Go(func() { c.analyze(seq, img) })
}

func (c *Controller) unavailable(seq uint64, err error) {
	c.log.Warn("camera unavailable", zap.Error(err))
	c.mu.Lock()
	if c.currentLocked(seq, PhaseCapturing) {
		c.notice = capture.UnavailableNotice
	}
	c.mu.Unlock()
}

func (c *Controller) cancelled(seq uint64) {
	c.mu.Lock()
	if !c.currentLocked(seq, PhaseCapturing) {
		c.mu.Unlock()
		return
	}
	c.comp = nil
	st := c.setLocked(Idle{Notice: c.notice})
	c.notice = ""
	c.mu.Unlock()

	c.notify(st)
}

func (c *Controller) analyze(seq uint64, img capture.Image) {
	r, err := c.opts.Analyzer.Analyze(context.Background(), img)

	c.mu.Lock()
	if !c.currentLocked(seq, PhaseAnalyzing) {
		c.mu.Unlock()
		return
	}
	var st State
	if err != nil {
		st = c.setLocked(Failed{Image: img, Message: rating.Message(err)})
	} else {
		st = c.setLocked(Result{Image: img, Rating: r})
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("analysis failed", zap.Error(err))
		c.notify(st)
		return
	}
	c.log.Info("analysis done", zap.Float64("rating", r.Rating), zap.String("title", r.Title))
	c.notify(st)
	c.record(img, r)
}

// record writes history after the user has seen the result; a slow store only delays itself.
func (c *Controller) record(img capture.Image, r rating.BeautyRating) {
	if c.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), RecordTimeout)
	defer cancel()
	if err := c.opts.Recorder.Record(ctx, c.opts.SessionID, c.opts.Channel, img, r); err != nil {
		c.log.Warn("rating history write failed", zap.Error(err))
	}
}

func (c *Controller) checkLocked(want Phase, op string) error {
	if c.closed {
		return ErrClosed
	}
	if got := c.state.Phase(); got != want {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, got)
	}
	return nil
}

func (c *Controller) currentLocked(seq uint64, want Phase) bool {
	return !c.closed && seq == c.seq && c.state.Phase() == want
}

func (c *Controller) setLocked(s State) State {
	c.log.Debug("transition", zap.Stringer("from", c.state.Phase()), zap.Stringer("to", s.Phase()))
	c.state = s
	return s
}

func (c *Controller) notify(s State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(s)
	}
}
