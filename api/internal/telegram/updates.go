package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WebhookPath is the secret path updates are posted to.
func WebhookPath(token string) string {
	return "/webhook/" + shortHash(token)
}

// SetWebhook registers baseURL+WebhookPath with Telegram.
func (r *Router) SetWebhook(baseURL, token string) error {
	public := strings.TrimRight(baseURL, "/") + WebhookPath(token)
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	_, err = r.Bot.Request(wh)
	return err
}

// ServeWebhook decodes one update from a webhook request and handles it.
func (r *Router) ServeWebhook(w http.ResponseWriter, req *http.Request) {
	upd, err := r.Bot.HandleUpdate(req)
	if err != nil {
		r.logger().Warn("webhook decode failed", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	r.HandleUpdate(*upd)
	w.WriteHeader(http.StatusOK)
}

// RunPolling long-polls until ctx is done, backing off on errors.
func (r *Router) RunPolling(ctx context.Context) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger().Info("polling stopped")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := r.Bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			r.logger().Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			if !sleep(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			r.HandleUpdate(upd)
		}

		if len(updates) == 0 && !sleep(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") {
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

// shortHash is FNV-1a as 16 hex chars; stable per token, not a secret by itself.
func shortHash(s string) string {
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
