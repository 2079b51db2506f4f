package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/identity"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCoacher struct {
	mu   sync.Mutex
	reqs []coach.Request
}

func (s *stubCoacher) Coach(_ context.Context, req coach.Request) (coach.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return coach.Response{CoachingResponse: "Pick one thing.", Encouragement: "You can do this."}, nil
}

func (s *stubCoacher) requests() []coach.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coach.Request(nil), s.reqs...)
}

func startServer(t *testing.T, coacher *stubCoacher) (*websocket.Conn, *SessionManager) {
	t.Helper()
	sm := NewSessionManager()
	h := NewWebSocketHandler(coacher, sm, Config{
		VoiceDelay:       time.Millisecond,
		QuickActionDelay: time.Millisecond,
		IsDev:            true,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), "anon_user")))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws, sm
}

func send(t *testing.T, ws *websocket.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

// readUntil reads frames until one of type want arrives and returns every
// frame read, the last being the match.
func readUntil(t *testing.T, ws *websocket.Conn, want string) []Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seen []Message
	for {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err, "waiting for %q after %+v", want, seen)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		seen = append(seen, msg)
		if msg.Type == want {
			return seen
		}
	}
}

func TestVoiceSessionTranscriptRoundTrip(t *testing.T) {
	coacher := &stubCoacher{}
	ws, sm := startServer(t, coacher)

	send(t, ws, Message{Type: MsgPing})
	readUntil(t, ws, MsgPong)
	assert.Equal(t, 1, sm.Count())

	send(t, ws, Message{Type: MsgCaptureStarted})
	send(t, ws, Message{Type: MsgTranscript, Content: "I keep putting off my taxes"})

	frames := readUntil(t, ws, MsgSpeak)
	var types []string
	for _, f := range frames {
		types = append(types, f.Type+":"+f.State)
	}
	assert.Equal(t, []string{"state:awaiting_ai", "coaching:", "state:idle", "state:speaking", "speak:"}, types)
	speak := frames[len(frames)-1]
	assert.Equal(t, "Pick one thing. You can do this.", speak.Content)
	assert.NotZero(t, speak.PlayID)
	require.NotNil(t, frames[1].Response)

	reqs := coacher.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, coach.KindVoiceNote, reqs[0].Kind)
	assert.Equal(t, "anon_user", reqs[0].Context.UserID)
	assert.True(t, reqs[0].Context.IncludeHistoricalData)

	send(t, ws, Message{Type: MsgSpeechEnded, PlayID: speak.PlayID})
	frames = readUntil(t, ws, MsgState)
	assert.Equal(t, "idle", frames[len(frames)-1].State)
}

func TestVoiceSessionQuickActionAndReplay(t *testing.T) {
	coacher := &stubCoacher{}
	ws, _ := startServer(t, coacher)

	send(t, ws, Message{Type: MsgQuickAction, Action: "breakDown"})
	readUntil(t, ws, MsgSpeak)
	require.Len(t, coacher.requests(), 1)
	assert.Contains(t, coacher.requests()[0].Input, "broken down")

	// Speaking: replay stops playback.
	send(t, ws, Message{Type: MsgReplay})
	readUntil(t, ws, MsgStopSpeaking)

	// Idle: replay speaks the last response again without a new request.
	send(t, ws, Message{Type: MsgReplay})
	readUntil(t, ws, MsgSpeak)
	assert.Len(t, coacher.requests(), 1)

	// Quick actions are refused while speaking.
	send(t, ws, Message{Type: MsgQuickAction, Action: "overwhelmed"})
	frames := readUntil(t, ws, MsgError)
	assert.Equal(t, "busy", frames[len(frames)-1].Content)
}

func TestVoiceSessionIgnoresStaleSpeechEnded(t *testing.T) {
	coacher := &stubCoacher{}
	ws, _ := startServer(t, coacher)

	send(t, ws, Message{Type: MsgQuickAction, Action: "overwhelmed"})
	frames := readUntil(t, ws, MsgSpeak)
	first := frames[len(frames)-1].PlayID

	send(t, ws, Message{Type: MsgReplay})
	readUntil(t, ws, MsgStopSpeaking)
	send(t, ws, Message{Type: MsgReplay})
	frames = readUntil(t, ws, MsgSpeak)
	current := frames[len(frames)-1].PlayID
	require.NotEqual(t, first, current)

	// The first playback was stopped; its late completion must not free
	// the session while the replay is still audible.
	send(t, ws, Message{Type: MsgSpeechEnded, PlayID: first})
	send(t, ws, Message{Type: MsgQuickAction, Action: "breakDown"})
	frames = readUntil(t, ws, MsgError)
	assert.Equal(t, "busy", frames[len(frames)-1].Content)
	assert.Equal(t, "speaking", frames[len(frames)-1].State)
	assert.Len(t, coacher.requests(), 1)

	send(t, ws, Message{Type: MsgSpeechEnded, PlayID: current})
	frames = readUntil(t, ws, MsgState)
	assert.Equal(t, "idle", frames[len(frames)-1].State)
}

func TestVoiceSessionRejectsUnknownMessages(t *testing.T) {
	ws, _ := startServer(t, &stubCoacher{})

	send(t, ws, Message{Type: "dance"})
	frames := readUntil(t, ws, MsgError)
	assert.Contains(t, frames[len(frames)-1].Content, "dance")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))
	frames = readUntil(t, ws, MsgError)
	assert.Equal(t, "invalid message", frames[len(frames)-1].Content)
}

func TestCheckOrigin(t *testing.T) {
	h := NewWebSocketHandler(&stubCoacher{}, NewSessionManager(), Config{AllowedOrigin: "https://coach.example"})

	r := httptest.NewRequest(http.MethodGet, "/ws/voice", nil)
	r.Header.Set("Origin", "https://coach.example")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))

	r.Header.Del("Origin")
	assert.True(t, h.checkOrigin(r))
}
