// Package http exposes the session controls and live views over gin.
package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/adapters/rtc"
	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/app/lifecycle"
	"github.com/dkeye/mentor/internal/app/orch"
	"github.com/dkeye/mentor/internal/app/sfu"
	"github.com/dkeye/mentor/internal/config"
	"github.com/dkeye/mentor/internal/core"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/whiteboard"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps are the live components the router exposes.
type Deps struct {
	Orch   *orch.Orchestrator
	Hub    *app.Hub
	Board  *whiteboard.Renderer
	Raster *whiteboard.RasterCanvas
	Vector *whiteboard.VectorCanvas
	Relay  *sfu.Relay
	RTCAPI *webrtc.API
	WebRTC webrtc.Configuration
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MentorSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{ctx: ctx, d: d, defaults: cfg.SessionDefaults()}

	api := r.Group("/api")
	api.GET("/session", h.getSession)
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.endSession)

	api.GET("/chat", h.getChat)
	api.POST("/chat", h.postChat)
	api.POST("/hand", h.raiseHand)

	api.POST("/speaking", h.startSpeaking)
	api.DELETE("/speaking", h.stopSpeaking)
	api.POST("/audio", h.audioControls)

	api.POST("/broadcast", h.broadcast)
	api.GET("/participants", h.participants)

	api.GET("/me", h.getMe)
	api.POST("/me", h.rename)

	api.GET("/whiteboard.png", h.whiteboardPNG)
	api.GET("/whiteboard.svg", h.whiteboardSVG)
	api.POST("/whiteboard/clear", h.whiteboardClear)

	api.POST("/avatar/toggle", h.toggleAvatar)
	api.POST("/avatar/offer", h.avatarOffer)

	api.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type handlers struct {
	ctx      context.Context
	d        Deps
	defaults domain.SessionConfig
}

func clientID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("client_token"))
}

// statusFor maps client errors to HTTP status codes.
func statusFor(err error) int {
	var (
		createErr *core.SessionCreationError
		connErr   *core.ConnectionError
		notConn   *core.NotConnectedError
	)
	switch {
	case errors.Is(err, orch.ErrEmptyMessage), errors.Is(err, orch.ErrSessionType),
		errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong):
		return stdhttp.StatusBadRequest
	case errors.Is(err, orch.ErrVoiceDisabled):
		return stdhttp.StatusForbidden
	case errors.Is(err, orch.ErrRateLimited):
		return stdhttp.StatusTooManyRequests
	case errors.Is(err, orch.ErrNoSession), errors.Is(err, orch.ErrSessionEnded),
		errors.Is(err, lifecycle.ErrInvalidTransition), errors.As(err, &notConn):
		return stdhttp.StatusConflict
	case errors.As(err, &createErr), errors.As(err, &connErr):
		return stdhttp.StatusBadGateway
	}
	return stdhttp.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= stdhttp.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) getSession(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.d.Orch.Snapshot())
}

type createRequest struct {
	Type        domain.SessionType    `json:"sessionType"`
	ContextPage string                `json:"contextPage"`
	Config      *domain.SessionConfig `json:"config"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cfg := h.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if req.Type == "" {
		req.Type = h.defaults.SessionType
	}

	sess, err := h.d.Orch.Create(c.Request.Context(), orch.CreateParams{
		Type:        req.Type,
		ContextPage: req.ContextPage,
		Config:      cfg,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, sess)
}

func (h *handlers) endSession(c *gin.Context) {
	if err := h.d.Orch.End(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) getChat(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.d.Orch.Chat.Entries())
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *handlers) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "missing or invalid message"})
		return
	}
	entry, err := h.d.Orch.SendChat(clientID(c), req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, entry)
}

type handRequest struct {
	Raised bool `json:"raised"`
}

func (h *handlers) raiseHand(c *gin.Context) {
	var req handRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.d.Orch.RaiseHand(req.Raised)
	c.JSON(stdhttp.StatusOK, h.d.Orch.Machine.Flags())
}

func (h *handlers) startSpeaking(c *gin.Context) {
	// capture outlives the request
	if err := h.d.Orch.StartSpeaking(h.ctx); err != nil {
		fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, h.d.Orch.Machine.Flags())
}

func (h *handlers) stopSpeaking(c *gin.Context) {
	if err := h.d.Orch.StopSpeaking(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, h.d.Orch.Machine.Flags())
}

type audioRequest struct {
	Muted  *bool    `json:"muted"`
	Volume *float64 `json:"volume"`
	Flush  bool     `json:"flush"`
}

func (h *handlers) audioControls(c *gin.Context) {
	var req audioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Muted != nil {
		h.d.Orch.SetMuted(*req.Muted)
	}
	if req.Volume != nil {
		h.d.Orch.SetVolume(*req.Volume)
	}
	if req.Flush {
		h.d.Orch.FlushAudio()
	}
	snap := h.d.Orch.Snapshot()
	c.JSON(stdhttp.StatusOK, gin.H{"muted": snap.Muted, "volume": snap.Volume, "pending": snap.AudioPending})
}

func (h *handlers) broadcast(c *gin.Context) {
	if err := h.d.Orch.StartBroadcast(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(stdhttp.StatusAccepted)
}

func (h *handlers) participants(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.d.Orch.Roster.Snapshot())
}

func (h *handlers) getMe(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.d.Orch.Users.GetOrCreateUser(clientID(c)))
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *handlers) rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	uid := clientID(c)
	if err := h.d.Orch.Users.UpdateUsername(uid, req.Name); err != nil {
		fail(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set("name", req.Name)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
	c.JSON(stdhttp.StatusOK, h.d.Orch.Users.GetOrCreateUser(uid))
}

func (h *handlers) whiteboardPNG(c *gin.Context) {
	if h.d.Raster == nil {
		c.Status(stdhttp.StatusNotFound)
		return
	}
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store")
	if err := h.d.Raster.EncodePNG(c.Writer); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("encode whiteboard")
	}
}

func (h *handlers) whiteboardSVG(c *gin.Context) {
	if h.d.Vector == nil {
		c.Status(stdhttp.StatusNotFound)
		return
	}
	c.Header("Content-Type", "image/svg+xml")
	c.Header("Cache-Control", "no-store")
	h.d.Vector.WriteSVG(c.Writer)
}

func (h *handlers) whiteboardClear(c *gin.Context) {
	if h.d.Board != nil {
		h.d.Board.Clear()
	}
	h.d.Orch.Notify(app.Event{Kind: app.EventWhiteboard, Data: gin.H{"cleared": true}})
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) toggleAvatar(c *gin.Context) {
	enabled, err := h.d.Orch.ToggleAvatar()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"enabled": enabled})
}

// avatarOffer answers a browser offer and attaches it to the avatar relay.
func (h *handlers) avatarOffer(c *gin.Context) {
	if h.d.Relay == nil {
		c.JSON(stdhttp.StatusServiceUnavailable, gin.H{"error": "avatar feed disabled"})
		return
	}
	var offer webrtc.SessionDescription
	if err := c.ShouldBindJSON(&offer); err != nil || offer.SDP == "" {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid offer"})
		return
	}

	id := sfu.ViewerID(c.GetString("client_token") + ":" + uuid.NewString()[:8])
	vc, err := rtc.NewViewerConnection(h.d.RTCAPI, h.d.WebRTC, id)
	if err != nil {
		fail(c, err)
		return
	}
	answer, err := vc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		vc.Close()
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.d.Relay.AddViewer(id, vc)
	vc.OnClosed(func() { h.d.Relay.MarkViewerDelete(id) })
	log.Info().Str("module", "adapters.http").Str("viewer", string(id)).Msg("avatar viewer attached")
	c.JSON(stdhttp.StatusOK, answer)
}

// events streams client events as SSE, starting with a snapshot.
func (h *handlers) events(c *gin.Context) {
	ch, cancel := h.d.Hub.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("snapshot", h.d.Orch.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Kind), e.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-h.ctx.Done():
			return false
		}
	})
}
