// Package orchestrator serializes the voice, coaching, and speech steps of a
// single user session so that coaching requests never overlap and spoken
// playback never talks over itself.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/focus-coach/internal/coach"
)

// State is the coarse session state.
type State string

const (
	StateIdle       State = "idle"
	StateAwaitingAI State = "awaiting_ai"
	StateSpeaking   State = "speaking"
)

// Playback tracks the speech output within StateSpeaking.
type Playback string

const (
	PlaybackIdle         Playback = "idle"
	PlaybackSynthesizing Playback = "synthesizing"
	PlaybackSpeaking     Playback = "speaking"
)

// Default delays between a response arriving and playback starting, giving
// the UI a chance to render first.
const (
	DefaultVoiceDelay       = 500 * time.Millisecond
	DefaultQuickActionDelay = 200 * time.Millisecond
)

// Coacher issues a coaching request.
type Coacher interface {
	Coach(ctx context.Context, req coach.Request) (coach.Response, error)
}

// Speaker plays text aloud. Speak must not call back into the Session
// synchronously; progress is reported through Session.SpeechStarted and
// Session.SpeechFinished with the same play id.
type Speaker interface {
	Speak(playID uint64, text string) error
	Stop()
}

// EventType identifies a session notification.
type EventType string

const (
	EventState     EventType = "state"
	EventResponse  EventType = "response"
	EventDiscarded EventType = "discarded"
	EventSpeak     EventType = "speak"
	EventError     EventType = "error"
)

// Event is delivered to the session listener after every transition.
type Event struct {
	Type     EventType
	State    State
	Seq      uint64
	PlayID   uint64
	Response *coach.Response
	Text     string
	Err      error
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	Catalog          Catalog
	VoiceDelay       time.Duration
	QuickActionDelay time.Duration
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
	// Context returns the situational context attached to each request.
	Context  func() *coach.Context
	Listener func(Event)
	Logger   *slog.Logger
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	State          State
	Playback       Playback
	LastTranscript string
	Seq            uint64
	PlayID         uint64
	LastResponse   *coach.Response
	Listening      bool
}

// Session owns all per-session orchestration state. State only changes
// through its exported transition methods.
type Session struct {
	coacher Coacher
	speaker Speaker
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          State
	playback       Playback
	lastTranscript string
	lastResponse   *coach.Response
	listening      bool
	seq            uint64
	playID         uint64
	cancelInFlight context.CancelFunc
	closed         bool
}

// effects are side effects collected under the lock and run after it is
// released, so collaborators never run while the session is locked.
type effects []func()

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

// NewSession creates an idle session.
func NewSession(coacher Coacher, speaker Speaker, opts Options) *Session {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.VoiceDelay <= 0 {
		opts.VoiceDelay = DefaultVoiceDelay
	}
	if opts.QuickActionDelay <= 0 {
		opts.QuickActionDelay = DefaultQuickActionDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Context == nil {
		opts.Context = func() *coach.Context {
			return &coach.Context{IncludeHistoricalData: true}
		}
	}
	if opts.Listener == nil {
		opts.Listener = func(Event) {}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		coacher:  coacher,
		speaker:  speaker,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		playback: PlaybackIdle,
	}
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:          s.state,
		Playback:       s.playback,
		LastTranscript: s.lastTranscript,
		Seq:            s.seq,
		PlayID:         s.playID,
		Listening:      s.listening,
	}
	if s.lastResponse != nil {
		r := *s.lastResponse
		snap.LastResponse = &r
	}
	return snap
}

// VoiceCaptureStarted stops any playback, supersedes an outstanding
// request, and clears the last processed transcript so a repeated
// utterance is processed again. A response still waiting out its playback
// delay is dropped along with the last response.
func (s *Session) VoiceCaptureStarted() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var fx effects
	switch s.state {
	case StateSpeaking:
		fx = append(fx, s.stopPlaybackLocked()...)
	case StateAwaitingAI:
		s.supersedeLocked()
		s.state = StateIdle
		fx = append(fx, s.stateEventLocked())
	}
	s.playID++
	s.lastTranscript = ""
	s.lastResponse = nil
	s.listening = true
	s.mu.Unlock()

	fx.run()
}

// VoiceCaptureCompleted submits transcript unless it repeats the last
// processed transcript or a request is already outstanding. Playback in
// progress is interrupted. It reports whether a request was issued.
func (s *Session) VoiceCaptureCompleted(transcript string) bool {
	input := strings.TrimSpace(transcript)

	s.mu.Lock()
	s.listening = false
	if s.closed || input == "" || input == s.lastTranscript || s.state == StateAwaitingAI {
		state, last := s.state, s.lastTranscript
		s.mu.Unlock()
		s.logger.Debug("Skipping voice input",
			"state", state,
			"duplicate", input != "" && input == last,
			"empty", input == "",
		)
		return false
	}

	var fx effects
	if s.state == StateSpeaking {
		fx = append(fx, s.stopPlaybackLocked()...)
	}
	s.lastTranscript = input
	fx = append(fx, s.dispatchLocked(input, s.opts.VoiceDelay)...)
	s.mu.Unlock()

	fx.run()
	return true
}

// QuickAction submits the catalog phrase for action. Unlike voice input it
// is refused unless the session is idle. It reports whether a request was
// issued.
func (s *Session) QuickAction(action string) bool {
	s.mu.Lock()
	if s.closed || s.state != StateIdle || strings.TrimSpace(action) == "" {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("Skipping quick action - system busy", "action", action, "state", state)
		return false
	}
	fx := s.dispatchLocked(s.opts.Catalog.Phrase(action), s.opts.QuickActionDelay)
	s.mu.Unlock()

	fx.run()
	return true
}

// ReplayLastResponse toggles playback of the last response: it stops speech
// in progress, otherwise speaks the last response again. It reports whether
// anything changed.
func (s *Session) ReplayLastResponse() bool {
	s.mu.Lock()
	var fx effects
	switch {
	case s.closed:
	case s.state == StateSpeaking:
		fx = s.stopPlaybackLocked()
	case s.state == StateIdle && s.lastResponse != nil:
		fx = s.startPlaybackLocked(s.lastResponse.SpokenText())
	}
	s.mu.Unlock()

	fx.run()
	return len(fx) > 0
}

// SpeechStarted records that audio for playID began playing. Reports for
// a stopped or replaced playback are ignored.
func (s *Session) SpeechStarted(playID uint64) {
	s.mu.Lock()
	if s.state == StateSpeaking && s.playID == playID {
		s.playback = PlaybackSpeaking
	}
	s.mu.Unlock()
}

// SpeechFinished records that playback playID ended on its own. Reports
// for a stopped or replaced playback are ignored.
func (s *Session) SpeechFinished(playID uint64) {
	s.mu.Lock()
	var fx effects
	if s.state == StateSpeaking && s.playID == playID {
		s.state = StateIdle
		s.playback = PlaybackIdle
		fx = append(fx, s.stateEventLocked())
	}
	s.mu.Unlock()

	fx.run()
}

// Close cancels any outstanding request, stops playback, and waits for
// in-flight work to finish. Responses arriving afterwards are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var fx effects
	if s.state == StateSpeaking {
		fx = append(fx, s.stopPlaybackLocked()...)
	}
	s.supersedeLocked()
	s.state = StateIdle
	s.mu.Unlock()

	fx.run()
	s.cancel()
	s.wg.Wait()
}

func (s *Session) dispatchLocked(input string, delay time.Duration) effects {
	s.seq++
	seq := s.seq
	s.state = StateAwaitingAI

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelInFlight = cancel

	req := coach.Request{
		Input:   input,
		Kind:    coach.KindVoiceNote,
		Context: s.opts.Context(),
	}

	s.wg.Add(1)
	return effects{
		s.stateEventLocked(),
		func() { go s.run(ctx, cancel, seq, req, delay) },
	}
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, seq uint64, req coach.Request, delay time.Duration) {
	defer s.wg.Done()
	defer cancel()

	resp, err := s.coacher.Coach(ctx, req)
	s.complete(seq, resp, err, delay)
}

func (s *Session) complete(seq uint64, resp coach.Response, err error, delay time.Duration) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		current := s.seq
		s.mu.Unlock()
		s.logger.Debug("Discarding superseded coaching response", "seq", seq, "current", current)
		s.opts.Listener(Event{Type: EventDiscarded, Seq: seq})
		return
	}

	s.cancelInFlight = nil
	s.state = StateIdle
	if err != nil {
		fx := effects{
			func() { s.opts.Listener(Event{Type: EventError, Seq: seq, Err: err}) },
			s.stateEventLocked(),
		}
		s.mu.Unlock()
		s.logger.Warn("Coaching request failed", "seq", seq, "error", err)
		fx.run()
		return
	}

	r := resp
	s.lastResponse = &r
	gen := s.playID
	fx := effects{
		func() { s.opts.Listener(Event{Type: EventResponse, Seq: seq, Response: &r}) },
		s.stateEventLocked(),
		func() { s.opts.AfterFunc(delay, func() { s.playIfCurrent(seq, gen) }) },
	}
	s.mu.Unlock()

	fx.run()
}

// playIfCurrent starts playback for request seq unless it was superseded,
// playback generation gen was invalidated, or the session is no longer idle.
func (s *Session) playIfCurrent(seq, gen uint64) {
	s.mu.Lock()
	if s.closed || seq != s.seq || gen != s.playID || s.state != StateIdle || s.lastResponse == nil {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("Skipping playback", "seq", seq, "state", state)
		return
	}
	fx := s.startPlaybackLocked(s.lastResponse.SpokenText())
	s.mu.Unlock()

	fx.run()
}

func (s *Session) startPlaybackLocked(text string) effects {
	s.state = StateSpeaking
	s.playback = PlaybackSynthesizing
	s.playID++
	id := s.playID
	seq := s.seq

	return effects{
		s.stateEventLocked(),
		func() { s.opts.Listener(Event{Type: EventSpeak, State: StateSpeaking, Seq: seq, PlayID: id, Text: text}) },
		func() {
			if err := s.speaker.Speak(id, text); err != nil {
				s.playbackFailed(id, err)
			}
		},
	}
}

func (s *Session) playbackFailed(id uint64, err error) {
	s.mu.Lock()
	var fx effects
	if s.state == StateSpeaking && s.playID == id {
		s.state = StateIdle
		s.playback = PlaybackIdle
		fx = effects{
			func() { s.opts.Listener(Event{Type: EventError, Err: err}) },
			s.stateEventLocked(),
		}
	}
	s.mu.Unlock()

	s.logger.Warn("Speech playback failed", "error", err)
	fx.run()
}

func (s *Session) stopPlaybackLocked() effects {
	s.state = StateIdle
	s.playback = PlaybackIdle
	s.playID++
	return effects{
		s.speaker.Stop,
		s.stateEventLocked(),
	}
}

func (s *Session) supersedeLocked() {
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}
	s.seq++
}

// stateEventLocked captures the current state for delivery after unlock.
func (s *Session) stateEventLocked() func() {
	ev := Event{Type: EventState, State: s.state, Seq: s.seq}
	return func() { s.opts.Listener(ev) }
}
