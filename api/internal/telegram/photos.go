package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"beauty-rater/api/internal/flow"
	"beauty-rater/api/internal/logging"
)

const (
	defaultCaptureTimeout = 30 * time.Second
	// maxPixels bounds what is sent for analysis; larger photos are scaled down.
	maxPixels = 1280 * 960
)

// acceptPhoto treats the photo as the snapshot of the chat's camera.
func (r *Router) acceptPhoto(c *chat, msg tgbotapi.Message) {
	if c.ctrl.State().Phase() == flow.PhaseAnalyzing {
		r.send(c.id, startRefusal(c.ctrl.State()))
		return
	}
	if err := r.ensureCapturing(c); err != nil {
		r.send(c.id, startRefusal(c.ctrl.State()))
		return
	}

	timeout := r.CaptureTimeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	frame, err := r.fetchPhoto(ctx, msg.Photo)
	if err != nil {
		logging.WithOperation(r.logger(), "telegram.photo", fmt.Sprint(c.id)).Warn("photo fetch failed", zap.Error(err))
		r.send(c.id, "Couldn't read that photo, please send another one.")
		return
	}
	c.remote.Push(frame)
	if err := c.ctrl.Capture(ctx); err != nil {
		logging.WithOperation(r.logger(), "telegram.capture", fmt.Sprint(c.id)).Warn("capture failed", zap.Error(err))
		r.send(c.id, "Couldn't take that photo, please send another one.")
	}
}

// fetchPhoto downloads the largest size Telegram offers and decodes it.
func (r *Router) fetchPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) (image.Image, error) {
	ph := sizes[len(sizes)-1]
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		return nil, err
	}
	fetch := r.Fetch
	if fetch == nil {
		fetch = download
	}
	b, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, err := decodeStrict(b)
	if err != nil {
		return nil, err
	}
	return boundPixels(img), nil
}

func decodeStrict(b []byte) (image.Image, error) {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return jpeg.Decode(bytes.NewReader(b))
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return png.Decode(bytes.NewReader(b))
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

func boundPixels(img image.Image) image.Image {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total <= maxPixels {
		return img
	}
	scale := math.Sqrt(float64(maxPixels) / float64(total))
	newW := max(int(float64(b.Dx())*scale+0.5), 1)
	newH := max(int(float64(b.Dy())*scale+0.5), 1)
	return scaleDownNN(img, newW, newH)
}

func scaleDownNN(src image.Image, newW, newH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW := sb.Dx()
	srcH := sb.Dy()
	for y := 0; y < newH; y++ {
		sy := sb.Min.Y + (y*srcH)/newH
		for x := 0; x < newW; x++ {
			sx := sb.Min.X + (x*srcW)/newW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
