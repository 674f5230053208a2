package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/backend"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/config"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/session"
	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// FallbackTTS produces spoken audio for calls that never get a session, e.g.
// when the caller's number matches no interview.
type FallbackTTS interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Handlers wires the HTTP and WebSocket surface to the session engine.
type Handlers struct {
	cfg        config.Config
	store      interview.Store
	outcome    session.OutcomePipeline
	phrases    *session.PhraseSet
	classifier session.Classifier
	fallback   FallbackTTS

	// newBackend builds the realtime transport for one call; swappable in
	// tests.
	newBackend func() backend.Transport

	upgrader websocket.Upgrader
}

func NewHandlers(cfg config.Config, store interview.Store, oc session.OutcomePipeline, phrases *session.PhraseSet, classifier session.Classifier, fallback FallbackTTS) *Handlers {
	h := &Handlers{
		cfg:        cfg,
		store:      store,
		outcome:    oc,
		phrases:    phrases,
		classifier: classifier,
		fallback:   fallback,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	h.newBackend = func() backend.Transport {
		return backend.NewOpenAIRealtime(cfg.OpenAIKey, cfg.OpenAIRealtimeModel)
	}
	return h
}

func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	e.GET("/plivo/inbound_call", h.inboundCall)
	e.POST("/plivo/inbound_call", h.inboundCall)
	e.GET("/plivo/stream", h.stream)

	e.POST("/interviews", h.createInterview)
	e.GET("/interviews/:id", h.getInterview)
	e.PATCH("/interviews/:id", h.updateInterview)
	e.DELETE("/interviews/:id", h.deleteInterview)
}

// inboundCall answers Plivo's call webhook with stream XML pointing the media
// WebSocket back at this server.
func (h *Handlers) inboundCall(c echo.Context) error {
	callUUID := c.FormValue("CallUUID")
	from := c.FormValue("From")
	if callUUID == "" {
		callUUID = c.QueryParam("CallUUID")
	}
	if from == "" {
		from = c.QueryParam("From")
	}
	logger.Base().Info("incoming call", zap.String("callId", callUUID), zap.String("from", from))

	host := h.cfg.PublicHost
	if host == "" {
		host = c.Request().Host
	}
	q := url.Values{"from_number": {from}, "call_uuid": {callUUID}}
	streamURL := "wss://" + host + "/plivo/stream?" + q.Encode()
	xml, err := plivo.AnswerXML(streamURL)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build answer")
	}
	return c.Blob(http.StatusOK, "application/xml", []byte(xml))
}

// stream upgrades Plivo's media WebSocket and runs one interview session on
// it. The handler returns when the session is closed.
func (h *Handlers) stream(c echo.Context) error {
	fromNumber := c.QueryParam("from_number")
	callUUID := c.QueryParam("call_uuid")

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	tel := plivo.NewStreamConn(conn)
	defer tel.Close()

	ctx := c.Request().Context()
	phone := normalizePhone(fromNumber)

	iv, err := h.store.GetByPhone(ctx, phone)
	if err != nil {
		logger.Base().Error("interview lookup failed", zap.String("phone", phone), zap.Error(err))
	}
	if iv == nil {
		logger.Base().Warn("no interview for caller", zap.String("phone", phone))
		h.announce(ctx, tel, "No interview found for your phone number. Goodbye.")
		return nil
	}

	s := session.New(session.Params{
		CallID:     callUUID,
		FromNumber: phone,
		Interview:  iv,
		Profile:    h.cfg.Agent,
		Backend:    h.newBackend(),
		Telephony:  tel,
		Detector:   session.NewEndDetector(h.phrases, h.classifier),
		Outcome:    h.outcome,
	})
	s.Run(ctx)
	return nil
}

// announce plays a locally synthesized message, leaves time for playback,
// then hangs up.
func (h *Handlers) announce(ctx context.Context, tel *plivo.StreamConn, text string) {
	if h.fallback == nil {
		return
	}
	audio, err := h.fallback.Synthesize(ctx, text)
	if err != nil {
		logger.Base().Warn("fallback announcement synthesis failed", zap.Error(err))
		return
	}
	if err := tel.PlayAudio(audio); err != nil {
		logger.Base().Warn("fallback announcement playback failed", zap.Error(err))
		return
	}
	grace := h.cfg.Agent.EndingGrace
	if grace <= 0 {
		grace = 8 * time.Second
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}
}

func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") {
		return raw
	}
	return "+" + raw
}

func (h *Handlers) createInterview(c echo.Context) error {
	var iv interview.Interview
	if err := c.Bind(&iv); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if iv.PhoneNumber == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "phone_number is required"})
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	created, err := h.store.Create(c.Request().Context(), iv)
	if err != nil {
		logger.Base().Error("interview create failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "create failed"})
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handlers) getInterview(c echo.Context) error {
	iv, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		logger.Base().Error("interview get failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	if iv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return c.JSON(http.StatusOK, iv)
}

func (h *Handlers) updateInterview(c echo.Context) error {
	var patch interview.Update
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	iv, err := h.store.Update(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		logger.Base().Error("interview update failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
	}
	if iv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return c.JSON(http.StatusOK, iv)
}

func (h *Handlers) deleteInterview(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		logger.Base().Error("interview delete failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
