package capture

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	// ErrDeviceUnavailable covers both a denied permission and a missing or failing device.
	ErrDeviceUnavailable = errors.New("camera unavailable")
	ErrNotActive         = errors.New("capture session is not active")
)

// UnavailableNotice is shown to the user before the session is cancelled.
const UnavailableNotice = "Unable to access the camera. Make sure you have granted camera permission."

// Constraints are preferences, not requirements: a device may deliver another resolution.
type Constraints struct {
	FacingMode  string `json:"facingMode"`
	IdealWidth  int    `json:"idealWidth"`
	IdealHeight int    `json:"idealHeight"`
}

var DefaultConstraints = Constraints{FacingMode: "user", IdealWidth: 640, IdealHeight: 480}

type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

type Stream interface {
	// Frame samples the current video frame.
	Frame(ctx context.Context) (image.Image, error)
	// Stop releases every track of the stream.
	Stop()
}

// Listener receives the single outcome of an activation.
type Listener struct {
	OnCapture     func(Image)
	OnCancel      func()
	OnUnavailable func(err error)
}

// Component owns one camera stream for the lifetime of one activation.
// It emits at most one of OnCapture / OnCancel and stops the stream exactly once.
type Component struct {
	dev Device
	l   Listener

	mu        sync.Mutex
	stream    Stream
	cancel    context.CancelFunc
	activated bool
	done      bool
	released  bool

	ready     chan struct{}
	readyOnce sync.Once
}

func New(dev Device, l Listener) *Component {
	return &Component{dev: dev, l: l, ready: make(chan struct{})}
}

// Activate makes a single attempt to open the device. It blocks until the
// device answers, the component is torn down, or ctx is done.
func (c *Component) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.activated || c.done {
		c.mu.Unlock()
		return
	}
	c.activated = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	stream, err := c.dev.Open(ctx, DefaultConstraints)

	c.mu.Lock()
	if c.done {
		// cancelled or torn down while the device was still answering
		c.mu.Unlock()
		if err == nil && stream != nil {
			stream.Stop()
		}
		c.markReady()
		return
	}
	if err != nil || stream == nil {
		if err == nil {
			err = ErrDeviceUnavailable
		}
		c.done = true
		c.mu.Unlock()
		cancel()
		c.markReady()
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = errors.Join(ErrDeviceUnavailable, err)
		}
		if c.l.OnUnavailable != nil {
			c.l.OnUnavailable(err)
		}
		c.emitCancel()
		return
	}
	c.stream = stream
	c.mu.Unlock()
	c.markReady()
}

// Capture waits for activation to settle, samples a frame, compresses it and
// hands it to OnCapture. The stream is stopped before the image is emitted.
// A failed sample leaves the session active so the user can try again.
func (c *Component) Capture(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	if c.done || c.stream == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	stream := c.stream
	c.mu.Unlock()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return err
	}
	img, err := EncodeJPEG(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.done = true
	c.mu.Unlock()

	c.release()
	if c.l.OnCapture != nil {
		c.l.OnCapture(img)
	}
	return nil
}

// Cancel is the user backing out: stop the stream and emit OnCancel, no image.
func (c *Component) Cancel() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()

	c.release()
	c.markReady()
	c.emitCancel()
}

// Deactivate tears the component down without emitting anything.
func (c *Component) Deactivate() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()

	c.release()
	c.markReady()
}

func (c *Component) release() {
	c.mu.Lock()
	stream := c.stream
	cancel := c.cancel
	if c.released {
		stream = nil
	}
	if stream != nil {
		c.released = true
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Stop()
	}
}

func (c *Component) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Component) emitCancel() {
	if c.l.OnCancel != nil {
		c.l.OnCancel()
	}
}
