package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	mu    sync.Mutex
	frame image.Image
	err   error
	stops int
}

func (s *fakeStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.err
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeDevice struct {
	stream *fakeStream
	err    error
	got    Constraints
	opens  int
}

func (d *fakeDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.opens++
	d.got = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type recorder struct {
	mu          sync.Mutex
	images      []Image
	cancels     int
	unavailable []error
}

func (r *recorder) listener() Listener {
	return Listener{
		OnCapture: func(img Image) {
			r.mu.Lock()
			r.images = append(r.images, img)
			r.mu.Unlock()
		},
		OnCancel: func() {
			r.mu.Lock()
			r.cancels++
			r.mu.Unlock()
		},
		OnUnavailable: func(err error) {
			r.mu.Lock()
			r.unavailable = append(r.unavailable, err)
			r.mu.Unlock()
		},
	}
}

func solidFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 90, A: 255})
		}
	}
	return img
}

func TestActivateRequestsFrontCameraAt640x480(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	var rec recorder
	c := New(dev, rec.listener())
	c.Activate(context.Background())

	if dev.got != DefaultConstraints {
		t.Fatalf("constraints = %+v", dev.got)
	}
	if dev.got.FacingMode != "user" || dev.got.IdealWidth != 640 || dev.got.IdealHeight != 480 {
		t.Fatalf("unexpected defaults %+v", dev.got)
	}
}

func TestDeniedDeviceCancelsExactlyOnce(t *testing.T) {
	dev := &fakeDevice{err: errors.New("NotAllowedError")}
	var rec recorder
	c := New(dev, rec.listener())

	c.Activate(context.Background())
	// later intents must not emit again
	c.Cancel()
	c.Deactivate()
	if err := c.Capture(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("capture after denial: %v", err)
	}

	if rec.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", rec.cancels)
	}
	if len(rec.images) != 0 {
		t.Fatalf("images emitted: %d", len(rec.images))
	}
	if len(rec.unavailable) != 1 || !errors.Is(rec.unavailable[0], ErrDeviceUnavailable) {
		t.Fatalf("unavailable = %v", rec.unavailable)
	}
	if dev.opens != 1 {
		t.Fatalf("opens = %d, want a single attempt", dev.opens)
	}
}

func TestCaptureEmitsJPEGAndStopsStream(t *testing.T) {
	stream := &fakeStream{frame: solidFrame(64, 48)}
	var rec recorder
	c := New(&fakeDevice{stream: stream}, rec.listener())
	c.Activate(context.Background())

	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(rec.images) != 1 {
		t.Fatalf("images = %d", len(rec.images))
	}
	img := rec.images[0]
	if img.MIMEType != "image/jpeg" || len(img.Data) < 2 || img.Data[0] != 0xFF || img.Data[1] != 0xD8 {
		t.Fatalf("not a jpeg: %s %x", img.MIMEType, img.Data[:2])
	}
	if stream.stopCount() != 1 {
		t.Fatalf("stops = %d", stream.stopCount())
	}

	c.Deactivate()
	c.Cancel()
	if stream.stopCount() != 1 {
		t.Fatalf("stream stopped again: %d", stream.stopCount())
	}
	if rec.cancels != 0 {
		t.Fatalf("cancel emitted after capture")
	}
}

func TestFailedSampleKeepsSessionActive(t *testing.T) {
	stream := &fakeStream{err: ErrNoFrame}
	var rec recorder
	c := New(&fakeDevice{stream: stream}, rec.listener())
	c.Activate(context.Background())

	if err := c.Capture(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("err = %v", err)
	}
	if stream.stopCount() != 0 {
		t.Fatal("stream released on a failed sample")
	}

	stream.mu.Lock()
	stream.err, stream.frame = nil, solidFrame(8, 8)
	stream.mu.Unlock()
	if err := c.Capture(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(rec.images) != 1 || stream.stopCount() != 1 {
		t.Fatalf("images=%d stops=%d", len(rec.images), stream.stopCount())
	}
}

func TestCancelStopsStreamWithoutImage(t *testing.T) {
	stream := &fakeStream{frame: solidFrame(8, 8)}
	var rec recorder
	c := New(&fakeDevice{stream: stream}, rec.listener())
	c.Activate(context.Background())

	c.Cancel()
	c.Cancel()

	if rec.cancels != 1 || len(rec.images) != 0 {
		t.Fatalf("cancels=%d images=%d", rec.cancels, len(rec.images))
	}
	if stream.stopCount() != 1 {
		t.Fatalf("stops = %d", stream.stopCount())
	}
}

func TestDeactivateReleasesOnceWithoutEmitting(t *testing.T) {
	stream := &fakeStream{}
	var rec recorder
	c := New(&fakeDevice{stream: stream}, rec.listener())
	c.Activate(context.Background())

	c.Deactivate()
	c.Deactivate()

	if stream.stopCount() != 1 {
		t.Fatalf("stops = %d", stream.stopCount())
	}
	if rec.cancels != 0 || len(rec.images) != 0 {
		t.Fatalf("teardown emitted: cancels=%d images=%d", rec.cancels, len(rec.images))
	}
}

func TestStreamOpenedAfterTeardownIsStopped(t *testing.T) {
	remote := NewRemote()
	var rec recorder
	c := New(remote, rec.listener())

	done := make(chan struct{})
	go func() {
		c.Activate(context.Background())
		close(done)
	}()

	c.Deactivate()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("activation did not return after teardown")
	}
	if rec.cancels != 0 || len(rec.unavailable) != 0 {
		t.Fatalf("teardown emitted: cancels=%d unavailable=%v", rec.cancels, rec.unavailable)
	}
}

func TestCaptureWaitsForActivation(t *testing.T) {
	remote := NewRemote()
	remote.Push(solidFrame(16, 16))
	var rec recorder
	c := New(remote, rec.listener())
	go c.Activate(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- c.Capture(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	remote.Grant()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("capture: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture never completed")
	}
	if len(rec.images) != 1 {
		t.Fatalf("images = %d", len(rec.images))
	}
	if !remote.Stopped() {
		t.Fatal("remote not told to stop its tracks")
	}
}

func TestCaptureHonoursContext(t *testing.T) {
	c := New(NewRemote(), Listener{})
	go c.Activate(context.Background())
	defer c.Deactivate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Capture(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
