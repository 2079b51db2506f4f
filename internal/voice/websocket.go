package voice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/identity"
	"github.com/ashureev/focus-coach/internal/orchestrator"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Client -> server message types.
const (
	MsgCaptureStarted = "capture_started"
	MsgTranscript     = "transcript"
	MsgQuickAction    = "quick_action"
	MsgReplay         = "replay"
	MsgSpeechStarted  = "speech_started"
	MsgSpeechEnded    = "speech_ended"
	MsgPing           = "ping"
)

// Server -> client message types.
const (
	MsgState        = "state"
	MsgCoaching     = "coaching"
	MsgSpeak        = "speak"
	MsgStopSpeaking = "stop_speaking"
	MsgPong         = "pong"
	MsgError        = "error"
)

// Message is the JSON frame exchanged in both directions.
type Message struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Action   string          `json:"action,omitempty"`
	State    string          `json:"state,omitempty"`
	Seq      uint64          `json:"seq,omitempty"`
	PlayID   uint64          `json:"play_id,omitempty"`
	Response *coach.Response `json:"response,omitempty"`
}

// Config configures the WebSocket handler.
type Config struct {
	Catalog          orchestrator.Catalog
	VoiceDelay       time.Duration
	QuickActionDelay time.Duration
	AllowedOrigin    string
	IsDev            bool
}

// WebSocketHandler serves GET /ws/voice.
type WebSocketHandler struct {
	coacher orchestrator.Coacher
	sm      *SessionManager
	cfg     Config
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(coacher orchestrator.Coacher, sm *SessionManager, cfg Config) *WebSocketHandler {
	return &WebSocketHandler{coacher: coacher, sm: sm, cfg: cfg}
}

// sender serializes frames onto the connection.
type sender struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s sender) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// remoteSpeaker asks the client to synthesize speech. The client reports
// playback progress with speech_started and speech_ended, echoing play_id.
type remoteSpeaker struct {
	out func(Message) error
}

func (r remoteSpeaker) Speak(playID uint64, text string) error {
	return r.out(Message{Type: MsgSpeak, Content: text, PlayID: playID})
}

func (r remoteSpeaker) Stop() {
	if err := r.out(Message{Type: MsgStopSpeaking}); err != nil {
		slog.Debug("Failed to send stop_speaking", "error", err)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Voice connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &Conn{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		closeFn: func(reason string) {
			_ = ws.Close(websocket.StatusNormalClosure, reason)
		},
	}
	h.sm.Register(conn)
	defer h.sm.Unregister(conn)

	out := sender{ctx: ctx, conn: ws}.send
	session := h.newSession(ctx, conn, out)
	defer session.Close()

	h.readLoop(ctx, ws, conn, session, out)
	slog.Info("Voice session ended", "user_id", userID, "conn_id", conn.ID, "duration", time.Since(conn.ConnectedAt))
}

func (h *WebSocketHandler) newSession(ctx context.Context, conn *Conn, out func(Message) error) *orchestrator.Session {
	logger := slog.With("user_id", conn.UserID, "conn_id", conn.ID)
	return orchestrator.NewSession(h.coacher, remoteSpeaker{out: out}, orchestrator.Options{
		Catalog:          h.cfg.Catalog,
		VoiceDelay:       h.cfg.VoiceDelay,
		QuickActionDelay: h.cfg.QuickActionDelay,
		Context: func() *coach.Context {
			return identity.CoachingContext(ctx)
		},
		Listener: func(ev orchestrator.Event) {
			msg, ok := eventMessage(ev)
			if !ok {
				return
			}
			if err := out(msg); err != nil {
				logger.Debug("Failed to deliver session event", "type", msg.Type, "error", err)
			}
		},
		Logger: logger,
	})
}

// eventMessage maps a session event to the frame sent to the client.
// Speech is delivered by remoteSpeaker, so speak events have no frame.
func eventMessage(ev orchestrator.Event) (Message, bool) {
	switch ev.Type {
	case orchestrator.EventState:
		return Message{Type: MsgState, State: string(ev.State), Seq: ev.Seq}, true
	case orchestrator.EventResponse:
		return Message{Type: MsgCoaching, Seq: ev.Seq, Response: ev.Response}, true
	case orchestrator.EventError:
		return Message{Type: MsgError, Seq: ev.Seq, Content: "coaching is temporarily unavailable"}, true
	}
	return Message{}, false
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, session *orchestrator.Session, out func(Message) error) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", conn.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", conn.UserID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := out(Message{Type: MsgError, Content: "invalid message"}); err != nil {
				return
			}
			continue
		}
		if err := dispatch(session, msg, out); err != nil {
			slog.Debug("Failed to answer voice message", "type", msg.Type, "error", err)
			return
		}
	}
}

// dispatch applies one client message to the session.
func dispatch(session *orchestrator.Session, msg Message, out func(Message) error) error {
	switch msg.Type {
	case MsgCaptureStarted:
		session.VoiceCaptureStarted()
	case MsgTranscript:
		session.VoiceCaptureCompleted(msg.Content)
	case MsgQuickAction:
		if !session.QuickAction(msg.Action) {
			return out(Message{Type: MsgError, Content: "busy", State: string(session.Snapshot().State)})
		}
	case MsgReplay:
		session.ReplayLastResponse()
	case MsgSpeechStarted:
		session.SpeechStarted(msg.PlayID)
	case MsgSpeechEnded:
		session.SpeechFinished(msg.PlayID)
	case MsgPing:
		return out(Message{Type: MsgPong})
	default:
		return out(Message{Type: MsgError, Content: "unknown message type: " + msg.Type})
	}
	return nil
}
