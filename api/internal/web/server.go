package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/flow"
	"beauty-rater/api/internal/logging"
	"beauty-rater/api/internal/store"
	"beauty-rater/api/internal/view"
)

const (
	// MaxUploadSize bounds a snapshot upload (data URL included).
	MaxUploadSize = 10 << 20
	CookieName    = "beauty_session"

	captureTimeout = 10 * time.Second
)

//go:embed assets
var assets embed.FS

// History is the read side of the rating store, scoped to one session.
type History interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]store.RatingRow, error)
}

type Server struct {
	log      *zap.Logger
	sessions *Sessions
	history  History
}

// NewServer wires the HTTP front end. history may be nil when no database is configured.
func NewServer(log *zap.Logger, sessions *Sessions, history History) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, sessions: sessions, history: history}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(assets, "assets/*.tmpl")))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/static/app.js", serveAsset("assets/app.js", "application/javascript; charset=utf-8"))

	r.Use(s.sessionMiddleware())
	r.GET("/", s.index)

	api := r.Group("/api")
	api.GET("/state", s.getState)
	api.POST("/start", s.start)
	api.POST("/camera", s.camera)
	api.POST("/capture", s.capture)
	api.POST("/cancel", s.cancel)
	api.POST("/reset", s.reset)
	api.GET("/ratings", s.ratings)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func serveAsset(name, contentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := assets.ReadFile(name)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, contentType, b)
	}
}

func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := c.Cookie(CookieName); err == nil {
			if sess, ok := s.sessions.get(id); ok {
				c.Set("session", sess)
				c.Next()
				return
			}
		}
		sess := s.sessions.create()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, sess.id, 0, "/", "", false, true)
		c.Set("session", sess)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *session {
	return c.MustGet("session").(*session)
}

type cameraInfo struct {
	Constraints capture.Constraints `json:"constraints"`
	Released    bool                `json:"released"`
}

type stateResponse struct {
	Phase  string      `json:"phase"`
	Page   view.Page   `json:"page"`
	Camera *cameraInfo `json:"camera,omitempty"`
}

func stateOf(sess *session) stateResponse {
	st := sess.ctrl.State()
	resp := stateResponse{Phase: st.Phase().String(), Page: view.Render(st)}
	if st.Phase() == flow.PhaseCapturing {
		cons := sess.remote.Constraints()
		if cons == (capture.Constraints{}) {
			cons = capture.DefaultConstraints
		}
		resp.Camera = &cameraInfo{Constraints: cons, Released: sess.remote.Stopped()}
	}
	return resp
}

type pageData struct {
	view.Page
	// ImageSrc is our own base64 JPEG; html/template would otherwise reject the data: scheme.
	ImageSrc   template.URL
	Disclaimer string
}

func (s *Server) index(c *gin.Context) {
	page := view.Render(sessionFrom(c).ctrl.State())
	c.HTML(http.StatusOK, "index.html.tmpl", pageData{
		Page:       page,
		ImageSrc:   template.URL(page.ImageURL),
		Disclaimer: view.Disclaimer,
	})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, stateOf(sessionFrom(c)))
}

func (s *Server) start(c *gin.Context) {
	sess := sessionFrom(c)
	if sess.ctrl.State().Phase() != flow.PhaseIdle {
		s.fail(c, sess, "start", flow.ErrInvalidTransition)
		return
	}
	sess.remote.Rearm()
	if err := sess.ctrl.Start(); err != nil {
		s.fail(c, sess, "start", err)
		return
	}
	c.JSON(http.StatusOK, stateOf(sess))
}

type cameraRequest struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error"`
}

// camera receives the browser's getUserMedia outcome.
func (s *Server) camera(c *gin.Context) {
	sess := sessionFrom(c)
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera report"})
		return
	}
	if sess.ctrl.State().Phase() != flow.PhaseCapturing {
		s.fail(c, sess, "camera", flow.ErrInvalidTransition)
		return
	}
	if req.Granted {
		sess.remote.Grant()
	} else {
		var reason error
		if req.Error != "" {
			reason = errors.New(req.Error)
		}
		sess.remote.Deny(reason)
	}
	c.JSON(http.StatusOK, stateOf(sess))
}

type captureRequest struct {
	Image string `json:"image" binding:"required"`
}

func (s *Server) capture(c *gin.Context) {
	sess := sessionFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "snapshot too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing snapshot"})
		return
	}
	img, err := capture.ParseDataURL(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := img.Decode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot is not a decodable image"})
		return
	}

	sess.remote.Push(frame)
	ctx, cancel := context.WithTimeout(c.Request.Context(), captureTimeout)
	defer cancel()
	if err := sess.ctrl.Capture(ctx); err != nil {
		s.fail(c, sess, "capture", err)
		return
	}
	c.JSON(http.StatusOK, stateOf(sess))
}

func (s *Server) cancel(c *gin.Context) {
	sess := sessionFrom(c)
	if err := sess.ctrl.Cancel(); err != nil {
		s.fail(c, sess, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, stateOf(sess))
}

func (s *Server) reset(c *gin.Context) {
	sess := sessionFrom(c)
	if err := sess.ctrl.Reset(); err != nil {
		s.fail(c, sess, "reset", err)
		return
	}
	c.JSON(http.StatusOK, stateOf(sess))
}

// ratings lists the caller's own past results.
func (s *Server) ratings(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not enabled"})
		return
	}
	rows, err := s.history.Recent(c.Request.Context(), sessionFrom(c).id, 20)
	if err != nil {
		s.log.Error("history read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ratings": rows})
}

func (s *Server) fail(c *gin.Context, sess *session, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.WithOperation(s.log, op, sess.id).Error("request failed", zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error(), "phase": sess.ctrl.State().Phase().String()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, flow.ErrClosed),
		errors.Is(err, capture.ErrNotActive),
		errors.Is(err, capture.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
