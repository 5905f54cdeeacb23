package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"verifykit/internal/app"
	"verifykit/internal/captcha"
	"verifykit/internal/domain"
)

type WSHandler struct {
	service  *app.VerifyService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.VerifyService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type pointerPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type submitPayload struct {
	Input string `json:"input"`
}

type rectPayload struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type movedPayload struct {
	Distance float64 `json:"distance"`
}

type resultPayload struct {
	Success    bool  `json:"success"`
	DurationMS int64 `json:"durationMs"`
	Complete   bool  `json:"complete"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and bridges widget input and
// session events. A connection either creates a session from ?profileId= and
// owns it, or attaches to an existing ?sessionId=.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	profileID := r.URL.Query().Get("profileId")
	sessionID := r.URL.Query().Get("sessionId")
	if profileID == "" && sessionID == "" {
		http.Error(w, "missing profileId or sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var view app.View
	if sessionID != "" {
		view, err = h.service.View(ctx, sessionID)
	} else {
		view, err = h.service.Create(ctx, profileID)
		if err == nil {
			defer h.service.Close(context.Background(), view.SessionID)
		}
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: errorCode(err)}})
		return
	}
	sessionID = view.SessionID
	log := h.logger.With(zap.String("session", sessionID))

	events, cancel, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: errorCode(err)}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// single writer: gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "challenge", Payload: view}
	log.Debug("ws connected", zap.String("mode", string(view.Mode)))

read:
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		for _, msg := range h.handle(ctx, sessionID, inbound) {
			select {
			case send <- msg:
			case <-writerDone:
				break read
			}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
	log.Debug("ws disconnected")
}

func (h *WSHandler) handle(ctx context.Context, sessionID string, in inboundMessage) []outboundMessage[any] {
	fail := func(err error) []outboundMessage[any] {
		return []outboundMessage[any]{{Type: "error", Payload: errorPayload{Message: err.Error(), Code: errorCode(err)}}}
	}
	invalid := func() []outboundMessage[any] {
		return []outboundMessage[any]{{Type: "error", Payload: errorPayload{Message: "invalid " + in.Type + " payload", Code: "bad_request"}}}
	}
	result := func(out domain.Outcome, complete bool) []outboundMessage[any] {
		return []outboundMessage[any]{{Type: "result", Payload: resultPayload{
			Success:    out.Success,
			DurationMS: out.Duration.Milliseconds(),
			Complete:   complete,
		}}}
	}

	switch in.Type {
	case "press", "move", "click":
		var p pointerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return invalid()
		}
		switch in.Type {
		case "press":
			if _, err := h.service.Press(ctx, sessionID, p.X); err != nil {
				return fail(err)
			}
			return nil
		case "move":
			d, err := h.service.Move(ctx, sessionID, p.X)
			if err != nil {
				return fail(err)
			}
			return []outboundMessage[any]{{Type: "moved", Payload: movedPayload{Distance: d}}}
		default:
			out, done, err := h.service.Click(ctx, sessionID, p.X, p.Y)
			if err != nil {
				return fail(err)
			}
			if !done {
				return nil
			}
			return result(out, true)
		}
	case "release":
		out, done, err := h.service.Release(ctx, sessionID)
		if err != nil {
			return fail(err)
		}
		if !done {
			return nil
		}
		return result(out, true)
	case "submit":
		var p submitPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return invalid()
		}
		out, err := h.service.Verify(ctx, sessionID, p.Input)
		if err != nil {
			return fail(err)
		}
		return result(out, true)
	case "rect":
		var p rectPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return invalid()
		}
		if err := h.service.SetRect(ctx, sessionID, captcha.Rect{Left: p.Left, Top: p.Top, Width: p.Width, Height: p.Height}); err != nil {
			return fail(err)
		}
		return nil
	case "refresh", "view":
		var (
			v   app.View
			err error
		)
		if in.Type == "refresh" {
			v, err = h.service.Refresh(ctx, sessionID)
		} else {
			v, err = h.service.View(ctx, sessionID)
		}
		if err != nil {
			return fail(err)
		}
		return []outboundMessage[any]{{Type: "challenge", Payload: v}}
	}
	return []outboundMessage[any]{{Type: "error", Payload: errorPayload{Message: "unsupported message type", Code: "bad_request"}}}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrProfileNotFound):
		return "profile_not_found"
	case errors.Is(err, domain.ErrWrongMode):
		return "wrong_mode"
	case errors.Is(err, domain.ErrUnsupportedMode):
		return "unsupported_mode"
	}
	var cfgErr *captcha.ConfigError
	if errors.As(err, &cfgErr) {
		return "invalid_config"
	}
	return "internal"
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// readTimeout bounds how long a silent client keeps its connection.
const readTimeout = 2 * time.Minute
