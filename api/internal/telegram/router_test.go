package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/flow"
	"beauty-rater/api/internal/rating"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	updates  func() ([]tgbotapi.Update, error)
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (b *fakeBot) GetUpdates(tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	return b.updates()
}

func (b *fakeBot) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		return nil, err
	}
	return &upd, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

func (b *fakeBot) last() string {
	t := b.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type stubAnalyzer struct {
	result rating.BeautyRating
	err    error
	calls  int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, img capture.Image) (rating.BeautyRating, error) {
	s.calls++
	return s.result, s.err
}

type stubRecorder struct{ channels []string }

func (s *stubRecorder) Record(ctx context.Context, sessionID, channel string, img capture.Image, r rating.BeautyRating) error {
	s.channels = append(s.channels, channel)
	return nil
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newRouter(t *testing.T, a rating.Analyzer) (*Router, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	photo := jpegBytes(t, 16, 16)
	r := &Router{
		Bot:      bot,
		Analyzer: a,
		Go:       func(f func()) { f() },
		Fetch: func(ctx context.Context, url string) ([]byte, error) {
			if strings.HasSuffix(url, "/broken") {
				return []byte("not an image"), nil
			}
			return photo, nil
		},
	}
	t.Cleanup(r.Close)
	return r, bot
}

const chatID = 42

func command(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func photo(fileID string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{{FileID: "thumb"}, {FileID: fileID}},
	}}
}

func phase(r *Router) flow.Phase {
	return r.chatFor(chatID).ctrl.State().Phase()
}

func TestStartThenPhotoRates(t *testing.T) {
	a := &stubAnalyzer{result: rating.BeautyRating{Rating: 8.4, Title: "Luminous", Analysis: "Great symmetry."}}
	rec := &stubRecorder{}
	r, bot := newRouter(t, a)
	r.Recorder = rec

	r.HandleUpdate(command("/start"))
	if phase(r) != flow.PhaseCapturing {
		t.Fatalf("phase = %s", phase(r))
	}
	if !strings.Contains(bot.last(), "selfie") {
		t.Fatalf("start reply = %q", bot.last())
	}

	r.HandleUpdate(photo("big"))
	if phase(r) != flow.PhaseResult {
		t.Fatalf("phase = %s", phase(r))
	}
	got := bot.last()
	for _, want := range []string{"8.4 / 10", "Luminous", "Great symmetry."} {
		if !strings.Contains(got, want) {
			t.Errorf("result %q missing %q", got, want)
		}
	}
	if a.calls != 1 {
		t.Fatalf("analyzer calls = %d", a.calls)
	}
	if len(rec.channels) != 1 || rec.channels[0] != Channel {
		t.Fatalf("recorded = %v", rec.channels)
	}

	r.HandleUpdate(command("/reset"))
	if phase(r) != flow.PhaseIdle {
		t.Fatalf("phase after reset = %s", phase(r))
	}
}

func TestPhotoWithoutStartOpensSession(t *testing.T) {
	a := &stubAnalyzer{result: rating.BeautyRating{Rating: 6, Title: "T", Analysis: "A"}}
	r, bot := newRouter(t, a)

	r.HandleUpdate(photo("big"))
	if phase(r) != flow.PhaseResult {
		t.Fatalf("phase = %s", phase(r))
	}
	// a new photo after a result starts over without an idle message in between
	before := len(bot.texts())
	r.HandleUpdate(photo("big"))
	if phase(r) != flow.PhaseResult || a.calls != 2 {
		t.Fatalf("phase = %s calls = %d", phase(r), a.calls)
	}
	for _, text := range bot.texts()[before:] {
		if strings.Contains(text, "/start to begin") {
			t.Fatalf("idle message sent on restart: %q", text)
		}
	}
	if n := len(bot.texts()) - before; n != 3 {
		t.Fatalf("messages on restart = %d, want capturing, analyzing, result", n)
	}
}

func TestAnalysisFailureIsReported(t *testing.T) {
	r, bot := newRouter(t, &stubAnalyzer{err: errors.New("quota exceeded")})
	r.HandleUpdate(command("/start"))
	r.HandleUpdate(photo("big"))

	if phase(r) != flow.PhaseError {
		t.Fatalf("phase = %s", phase(r))
	}
	if !strings.Contains(bot.last(), "unable to analyze image: quota exceeded") {
		t.Fatalf("reply = %q", bot.last())
	}
}

func TestUnreadablePhotoKeepsCapturing(t *testing.T) {
	a := &stubAnalyzer{}
	r, bot := newRouter(t, a)
	r.HandleUpdate(command("/start"))
	r.HandleUpdate(photo("broken"))

	if phase(r) != flow.PhaseCapturing {
		t.Fatalf("phase = %s", phase(r))
	}
	if a.calls != 0 {
		t.Fatal("analyzer called for a broken photo")
	}
	if !strings.Contains(bot.last(), "another one") {
		t.Fatalf("reply = %q", bot.last())
	}
}

func TestCancelAndRefusals(t *testing.T) {
	r, bot := newRouter(t, &stubAnalyzer{})

	r.HandleUpdate(command("/cancel"))
	if bot.last() != nothingToCancel {
		t.Fatalf("cancel from idle = %q", bot.last())
	}
	r.HandleUpdate(command("/reset"))
	if !strings.HasPrefix(bot.last(), "Nothing to reset.") {
		t.Fatalf("reset from idle = %q", bot.last())
	}

	r.HandleUpdate(command("/start"))
	r.HandleUpdate(command("/cancel"))
	if phase(r) != flow.PhaseIdle {
		t.Fatalf("phase after cancel = %s", phase(r))
	}
	if !strings.Contains(bot.last(), "/start to begin") {
		t.Fatalf("idle reply = %q", bot.last())
	}
}

func TestCallbackButtons(t *testing.T) {
	r, bot := newRouter(t, &stubAnalyzer{})
	cb := func(data string) tgbotapi.Update {
		return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		}}
	}

	r.HandleUpdate(cb(cbCancel))
	if bot.last() != nothingToCancel {
		t.Fatalf("cancel button from idle = %q", bot.last())
	}

	r.HandleUpdate(cb(cbStart))
	if phase(r) != flow.PhaseCapturing {
		t.Fatalf("phase = %s", phase(r))
	}
	r.HandleUpdate(cb(cbCancel))
	if phase(r) != flow.PhaseIdle {
		t.Fatalf("phase = %s", phase(r))
	}
	if len(bot.requests) != 3 {
		t.Fatalf("callback answers = %d", len(bot.requests))
	}
}

func TestServeWebhook(t *testing.T) {
	r, bot := newRouter(t, &stubAnalyzer{})
	body, _ := json.Marshal(command("/help"))

	w := httptest.NewRecorder()
	r.ServeWebhook(w, httptest.NewRequest(http.MethodPost, WebhookPath("tok"), bytes.NewReader(body)))
	if w.Code != http.StatusOK || bot.last() != helpText {
		t.Fatalf("code = %d reply = %q", w.Code, bot.last())
	}

	w = httptest.NewRecorder()
	r.ServeWebhook(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad body code = %d", w.Code)
	}
}

func TestRunPollingHandlesUpdatesUntilCancelled(t *testing.T) {
	r, bot := newRouter(t, &stubAnalyzer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	bot.updates = func() ([]tgbotapi.Update, error) {
		calls++
		if calls == 1 {
			upd := command("/help")
			upd.UpdateID = 7
			return []tgbotapi.Update{upd}, nil
		}
		cancel()
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		r.RunPolling(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop")
	}
	if bot.last() != helpText {
		t.Fatalf("reply = %q", bot.last())
	}
}

func TestRetryDelayFromError(t *testing.T) {
	cases := []struct {
		err  error
		want time.Duration
	}{
		{nil, 0},
		{errors.New("Too Many Requests: retry after 9"), 9 * time.Second},
		{errors.New("too many requests"), 3 * time.Second},
		{errors.New("boom"), time.Second},
	}
	for _, c := range cases {
		if got := retryDelayFromError(c.err); got != c.want {
			t.Errorf("retryDelayFromError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestWebhookPathIsStable(t *testing.T) {
	a, b := WebhookPath("123:abc"), WebhookPath("123:abc")
	if a != b || !strings.HasPrefix(a, "/webhook/") || len(a) != len("/webhook/")+16 {
		t.Fatalf("path = %q", a)
	}
	if strings.Contains(a, "abc") {
		t.Fatal("token leaked into path")
	}
}

func TestBoundPixelsScalesLargePhotos(t *testing.T) {
	big := image.NewRGBA(image.Rect(0, 0, 2560, 1920))
	got := boundPixels(big).Bounds()
	if got.Dx()*got.Dy() > maxPixels+got.Dx()+got.Dy() {
		t.Fatalf("bounds = %v", got)
	}
	small := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if boundPixels(small) != image.Image(small) {
		t.Fatal("small image was rescaled")
	}
}
