package telegram

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/flow"
	"beauty-rater/api/internal/rating"
	"beauty-rater/api/internal/view"
)

const Channel = "telegram"

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Router drives one flow per chat. A chat is its own camera: the next photo
// sent while capturing is the snapshot.
type Router struct {
	Bot      Bot
	Analyzer rating.Analyzer
	Recorder flow.Recorder
	Log      *zap.Logger

	// Fetch downloads a file by URL. Defaults to a plain HTTP GET.
	Fetch func(ctx context.Context, url string) ([]byte, error)
	// Go is handed to every flow controller. Defaults to `go f()`.
	Go func(func())

	CaptureTimeout time.Duration

	chats sync.Map // chatID -> *chat
}

type chat struct {
	id     int64
	ctrl   *flow.Controller
	remote *capture.Remote

	mu sync.Mutex // serialises updates of one chat
}

func (r *Router) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Router) chatFor(chatID int64) *chat {
	if v, ok := r.chats.Load(chatID); ok {
		return v.(*chat)
	}
	remote := capture.NewRemote()
	c := &chat{id: chatID, remote: remote}
	c.ctrl = flow.NewController(flow.Options{
		SessionID: strconv.FormatInt(chatID, 10),
		Channel:   Channel,
		Device:    remote,
		Analyzer:  r.Analyzer,
		Recorder:  r.Recorder,
		Logger:    r.Log,
		OnChange:  func(st flow.State) { r.sendState(chatID, st) },
		Go:        r.Go,
	})
	actual, loaded := r.chats.LoadOrStore(chatID, c)
	if loaded {
		c.ctrl.Close()
	}
	return actual.(*chat)
}

// HandleUpdate is shared by webhook and polling modes.
func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	c := r.chatFor(msg.Chat.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case msg.IsCommand():
		r.handleCommand(c, msg.Command())
	case len(msg.Photo) > 0:
		r.acceptPhoto(c, *msg)
	default:
		r.send(c.id, helpText)
	}
}

func (r *Router) handleCommand(c *chat, cmd string) {
	switch cmd {
	case "start":
		r.start(c)
	case "cancel":
		r.cancel(c)
	case "reset":
		if err := c.ctrl.Reset(); err != nil {
			r.send(c.id, resetRefusal(c.ctrl.State()))
		}
	case "help":
		r.send(c.id, helpText)
	default:
		r.send(c.id, "Unknown command. "+helpText)
	}
}

func (r *Router) handleCallback(cq tgbotapi.CallbackQuery) {
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cq.ID, ""))
	if cq.Message == nil {
		return
	}
	c := r.chatFor(cq.Message.Chat.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cq.Data {
	case cbStart:
		r.start(c)
	case cbCancel:
		r.cancel(c)
	case cbReset:
		if err := c.ctrl.Reset(); err != nil {
			r.send(c.id, resetRefusal(c.ctrl.State()))
		}
	}
}

func (r *Router) cancel(c *chat) {
	if err := c.ctrl.Cancel(); err != nil {
		r.send(c.id, nothingToCancel)
	}
}

// start opens a capture session. The chat always grants its "camera".
func (r *Router) start(c *chat) {
	if err := r.ensureCapturing(c); err != nil {
		r.send(c.id, startRefusal(c.ctrl.State()))
	}
}

// ensureCapturing brings the chat into Capturing from Idle, Result or Error.
func (r *Router) ensureCapturing(c *chat) error {
	phase := c.ctrl.State().Phase()
	if phase == flow.PhaseCapturing {
		return nil
	}
	c.remote.Rearm()
	c.remote.Grant()
	if phase == flow.PhaseResult || phase == flow.PhaseError {
		return c.ctrl.Restart()
	}
	return c.ctrl.Start()
}

func (r *Router) sendState(chatID int64, st flow.State) {
	msg := tgbotapi.NewMessage(chatID, view.Text(st))
	if kb, ok := keyboardFor(st.Phase()); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := r.Bot.Send(msg); err != nil {
		r.logger().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.logger().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// Close releases every chat's flow.
func (r *Router) Close() {
	r.chats.Range(func(k, v any) bool {
		v.(*chat).ctrl.Close()
		r.chats.Delete(k)
		return true
	})
}
