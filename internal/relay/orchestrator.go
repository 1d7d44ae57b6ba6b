package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/persona"
	"github.com/voxlink/voxlink/internal/protocol"
	"github.com/voxlink/voxlink/internal/realtime"
)

var (
	ErrPersonaNotFound   = errors.New("relay: persona not found")
	ErrNoPersonaSelected = errors.New("relay: no persona selected")
)

const conversationStyle = "\n\nIMPORTANT: You are having a natural voice conversation. " +
	"Respond conversationally and authentically. Keep responses engaging but concise (1-2 sentences). " +
	"Always acknowledge what the user says and continue the conversation naturally."

const greetingStyle = "Speak this greeting message naturally with the persona's characteristic voice and tone. Be warm and engaging."

const replyStyle = "Respond to what the user just said in a natural, conversational way."

// Session is the slice of an upstream realtime session the relay needs.
type Session interface {
	OnEvent(eventType string, h realtime.Handler)
	UpdateSession(realtime.SessionConfig) error
	AppendAudioBase64(audio string) error
	CommitInput() error
	ClearInput() error
	CancelResponse() error
	CreateConversationItem(item realtime.ConversationItem) error
	CreateResponse(params realtime.ResponseParams) error
	Connected() bool
}

// SessionProvider hands out per-client upstream sessions.
type SessionProvider interface {
	Acquire(ctx context.Context, clientID string) (sess Session, created bool, err error)
	Peek(clientID string) (Session, bool)
	Release(clientID string)
}

// ClientHub is the relay's view of the client connection manager.
type ClientHub interface {
	Send(clientID string, msg any) bool
	SetPersona(clientID, personaID string)
	Persona(clientID string) (string, bool)
	Disconnect(clientID string)
}

// RegistrySessions adapts a realtime.Registry to the SessionProvider
// interface.
type RegistrySessions struct {
	Registry *realtime.Registry
}

func (s RegistrySessions) Acquire(ctx context.Context, clientID string) (Session, bool, error) {
	c, created, err := s.Registry.Acquire(ctx, clientID)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

func (s RegistrySessions) Peek(clientID string) (Session, bool) {
	c, ok := s.Registry.Peek(clientID)
	if !ok {
		return nil, false
	}
	return c, true
}

func (s RegistrySessions) Release(clientID string) {
	s.Registry.Release(clientID)
}

type phase int

const (
	phaseIdle phase = iota
	phasePersonaSelected
	phaseConversationActive
)

type clientState struct {
	phase         phase
	cfg           realtime.SessionConfig
	sess          Session
	startedAt     time.Time
	sawFirstDelta bool
}

// Orchestrator drives the conversation lifecycle for every connected client:
// persona selection, session setup, audio fan-in, and response fan-out.
type Orchestrator struct {
	log      *zap.Logger
	metrics  *observability.Metrics
	catalog  *persona.Catalog
	sessions SessionProvider
	hub      ClientHub

	// routes is the dispatch table for upstream events: event type to the
	// relay operation for the session's owning client.
	routes map[string]func(clientID string, ev realtime.Event)

	mu     sync.Mutex
	states map[string]*clientState
}

func NewOrchestrator(log *zap.Logger, metrics *observability.Metrics, catalog *persona.Catalog, sessions SessionProvider, h ClientHub) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		log:      log,
		metrics:  metrics,
		catalog:  catalog,
		sessions: sessions,
		hub:      h,
		states:   make(map[string]*clientState),
	}
	o.routes = map[string]func(string, realtime.Event){
		realtime.EventAudioDelta: o.relayAudioDelta,
		realtime.EventAudioDone:  func(clientID string, _ realtime.Event) { o.relayAudioDone(clientID) },
		realtime.EventError:      o.relayUpstreamError,
	}
	return o
}

// HandleMessage routes one parsed client message to its operation.
func (o *Orchestrator) HandleMessage(ctx context.Context, clientID string, msg any) error {
	if t, ok := protocol.MessageTypeOf(msg); ok {
		o.metrics.ObserveWSMessage("in", string(t))
	}

	switch m := msg.(type) {
	case protocol.SelectPersona:
		return o.SelectPersona(ctx, clientID, m.PersonaID)
	case protocol.StartConversation:
		return o.StartConversation(ctx, clientID)
	case protocol.AudioStreamData:
		return o.StreamAudio(ctx, clientID, m.AudioData)
	case protocol.AudioMessage:
		return o.ProcessAudioMessage(ctx, clientID, m.AudioData)
	case protocol.CommitAudioInput:
		return o.CommitAudioInput(ctx, clientID)
	case protocol.EndConversation:
		return o.EndConversation(clientID)
	default:
		return fmt.Errorf("relay: unhandled message %T", msg)
	}
}

// SelectPersona binds a catalog persona to the client and confirms it.
func (o *Orchestrator) SelectPersona(_ context.Context, clientID, personaID string) error {
	p, ok := o.catalog.Get(personaID)
	if !ok {
		o.metrics.ObserveRelayError("persona_not_found")
		o.sendError(clientID, "Unknown persona: "+personaID)
		return fmt.Errorf("%w: %s", ErrPersonaNotFound, personaID)
	}

	o.hub.SetPersona(clientID, p.ID)
	o.mu.Lock()
	st := o.state(clientID)
	if st.phase == phaseIdle {
		st.phase = phasePersonaSelected
	}
	o.mu.Unlock()

	o.hub.Send(clientID, protocol.PersonaSelected{
		Type:    protocol.TypePersonaSelected,
		Persona: p.Public(),
		Message: fmt.Sprintf("Voice chat with %s is ready!", p.Name),
	})
	o.log.Info("persona selected", zap.String("client_id", clientID), zap.String("persona_id", p.ID))
	return nil
}

// StartConversation opens (or reuses) the client's upstream session,
// configures it for continuous voice conversation, and triggers the persona's
// spoken greeting.
func (o *Orchestrator) StartConversation(ctx context.Context, clientID string) error {
	p, err := o.selectedPersona(clientID)
	if err != nil {
		o.metrics.ObserveRelayError("no_persona_selected")
		o.sendError(clientID, "Please select a persona first.")
		return err
	}

	sess, created, err := o.sessions.Acquire(ctx, clientID)
	if err != nil {
		o.metrics.ObserveRelayError("upstream_connect")
		o.sendError(clientID, "Error starting conversation: "+err.Error())
		return err
	}
	if created {
		o.registerHandlers(clientID, sess)
	}

	cfg := conversationConfig(p)
	if err := sess.UpdateSession(cfg); err != nil {
		o.sendError(clientID, "Error starting conversation: "+err.Error())
		return err
	}
	if err := sess.ClearInput(); err != nil {
		o.sendError(clientID, "Error starting conversation: "+err.Error())
		return err
	}
	if err := o.sendGreeting(sess, p); err != nil {
		o.sendError(clientID, "Error starting conversation: "+err.Error())
		return err
	}

	o.mu.Lock()
	st := o.state(clientID)
	st.phase = phaseConversationActive
	st.cfg = cfg
	st.startedAt = time.Now()
	st.sawFirstDelta = false
	o.mu.Unlock()

	o.hub.Send(clientID, protocol.ConversationStarted{
		Type:    protocol.TypeConversationStarted,
		Message: "Conversation started - speak naturally!",
	})
	o.log.Info("conversation started",
		zap.String("client_id", clientID),
		zap.String("persona_id", p.ID))
	return nil
}

// StreamAudio forwards one microphone chunk into the upstream input buffer.
// Chunks arriving before a persona is chosen are dropped silently; chunks
// arriving with no live session produce a retryable client error.
func (o *Orchestrator) StreamAudio(_ context.Context, clientID, audioB64 string) error {
	if _, ok := o.hub.Persona(clientID); !ok {
		return nil
	}

	sess, ok := o.sessions.Peek(clientID)
	if !ok || !sess.Connected() {
		o.metrics.ObserveRelayError("upstream_unavailable")
		o.sendError(clientID, "Voice service not connected. Please try again.")
		return nil
	}

	if err := sess.AppendAudioBase64(audioB64); err != nil {
		o.metrics.ObserveRelayError("audio_forward")
		o.sendError(clientID, "Audio processing error: "+err.Error())
		return err
	}
	o.metrics.AddForwardedAudioBytes(base64.StdEncoding.DecodedLen(len(audioB64)))
	return nil
}

// CommitAudioInput finalizes the buffered user speech and asks for a reply.
// Used when the client signals end of speech manually instead of relying on
// server-side turn detection.
func (o *Orchestrator) CommitAudioInput(_ context.Context, clientID string) error {
	sess, ok := o.sessions.Peek(clientID)
	if !ok {
		return nil
	}

	if err := sess.CommitInput(); err != nil {
		o.sendError(clientID, "Error processing speech: "+err.Error())
		return err
	}
	if err := sess.CreateResponse(realtime.ResponseParams{
		Modalities:   []string{"audio"},
		Instructions: replyStyle,
	}); err != nil {
		o.sendError(clientID, "Error processing speech: "+err.Error())
		return err
	}
	return nil
}

// ProcessAudioMessage handles the single-shot flow: one complete utterance in,
// one spoken reply out, with snappier turn detection than continuous mode.
func (o *Orchestrator) ProcessAudioMessage(ctx context.Context, clientID, audioB64 string) error {
	p, err := o.selectedPersona(clientID)
	if err != nil {
		o.metrics.ObserveRelayError("no_persona_selected")
		o.sendError(clientID, "Please select a persona first.")
		return err
	}

	sess, created, err := o.sessions.Acquire(ctx, clientID)
	if err != nil {
		o.metrics.ObserveRelayError("upstream_connect")
		o.sendError(clientID, "Audio processing error: "+err.Error())
		return err
	}
	if created {
		o.registerHandlers(clientID, sess)
	}

	cfg := singleShotConfig(p)
	if err := sess.UpdateSession(cfg); err != nil {
		o.sendError(clientID, "Audio processing error: "+err.Error())
		return err
	}

	item := realtime.ConversationItem{
		ID:   fmt.Sprintf("audio_%d", time.Now().UnixMicro()),
		Type: "message",
		Role: "user",
		Content: []realtime.ContentPart{
			{Type: "input_audio", Audio: audioB64},
		},
	}
	if err := sess.CreateConversationItem(item); err != nil {
		o.sendError(clientID, "Audio processing error: "+err.Error())
		return err
	}
	if err := sess.CreateResponse(realtime.ResponseParams{
		Modalities:   []string{"text", "audio"},
		Instructions: p.Prompt,
	}); err != nil {
		o.sendError(clientID, "Audio processing error: "+err.Error())
		return err
	}

	o.mu.Lock()
	st := o.state(clientID)
	st.phase = phaseConversationActive
	st.cfg = cfg
	st.startedAt = time.Now()
	st.sawFirstDelta = false
	o.mu.Unlock()
	o.metrics.AddForwardedAudioBytes(base64.StdEncoding.DecodedLen(len(audioB64)))
	return nil
}

// EndConversation disables turn detection so the session goes quiet, keeping
// the connection and persona for a later restart.
func (o *Orchestrator) EndConversation(clientID string) error {
	sess, ok := o.sessions.Peek(clientID)
	if !ok {
		return nil
	}

	o.mu.Lock()
	st := o.state(clientID)
	cfg := st.cfg
	if st.phase != phaseConversationActive {
		cfg = realtime.DefaultSessionConfig()
	}
	cfg.TurnDetection = nil
	st.phase = phasePersonaSelected
	st.cfg = cfg
	o.mu.Unlock()

	if err := sess.UpdateSession(cfg); err != nil {
		o.log.Error("end conversation", zap.String("client_id", clientID), zap.Error(err))
		return err
	}

	o.hub.Send(clientID, protocol.ConversationEnded{
		Type:    protocol.TypeConversationEnded,
		Message: "Conversation ended",
	})
	o.log.Info("conversation ended", zap.String("client_id", clientID))
	return nil
}

// CleanupClient releases everything tied to a departed client: its upstream
// session, conversation state, and hub registration.
func (o *Orchestrator) CleanupClient(clientID string) {
	o.sessions.Release(clientID)
	o.mu.Lock()
	delete(o.states, clientID)
	o.mu.Unlock()
	o.hub.Disconnect(clientID)
}

// state returns the entry for clientID, creating it. Caller holds o.mu.
func (o *Orchestrator) state(clientID string) *clientState {
	st, ok := o.states[clientID]
	if !ok {
		st = &clientState{}
		o.states[clientID] = st
	}
	return st
}

func (o *Orchestrator) selectedPersona(clientID string) (persona.Persona, error) {
	personaID, ok := o.hub.Persona(clientID)
	if !ok {
		return persona.Persona{}, ErrNoPersonaSelected
	}
	p, ok := o.catalog.Get(personaID)
	if !ok {
		return persona.Persona{}, fmt.Errorf("%w: %s", ErrPersonaNotFound, personaID)
	}
	return p, nil
}

func (o *Orchestrator) sendError(clientID, message string) {
	o.hub.Send(clientID, protocol.ErrorMessage{
		Type:    protocol.TypeError,
		Message: message,
	})
}

func (o *Orchestrator) sendGreeting(sess Session, p persona.Persona) error {
	item := realtime.ConversationItem{
		ID:   fmt.Sprintf("greeting_%d", time.Now().UnixMicro()),
		Type: "message",
		Role: "assistant",
		Content: []realtime.ContentPart{
			{Type: "text", Text: p.GreetingOrDefault()},
		},
	}
	if err := sess.CreateConversationItem(item); err != nil {
		return err
	}
	return sess.CreateResponse(realtime.ResponseParams{
		Modalities:   []string{"audio"},
		Instructions: greetingStyle,
	})
}

// registerHandlers wires a freshly created upstream session into the relay
// dispatch table. Ownership lives in the orchestrator's client state and is
// resolved at delivery time, so events arriving after cleanup find no owner
// and are dropped. Called exactly once per session; OnEvent keeps duplicates,
// so a second registration would double every delta.
func (o *Orchestrator) registerHandlers(clientID string, sess Session) {
	o.mu.Lock()
	o.state(clientID).sess = sess
	o.mu.Unlock()

	for eventType, relayFn := range o.routes {
		fn := relayFn
		sess.OnEvent(eventType, func(ev realtime.Event) {
			owner, ok := o.ownerOf(sess)
			if !ok {
				return
			}
			fn(owner, ev)
		})
	}
}

// ownerOf resolves which client currently owns a session.
func (o *Orchestrator) ownerOf(sess Session) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, st := range o.states {
		if st.sess == sess {
			return id, true
		}
	}
	return "", false
}

func (o *Orchestrator) relayAudioDelta(clientID string, ev realtime.Event) {
	delta, err := ev.AudioDeltaPayload()
	if err != nil || delta == "" {
		return
	}
	o.observeFirstDelta(clientID)
	o.hub.Send(clientID, protocol.AudioDelta{
		Type:      protocol.TypeAudioDelta,
		AudioData: delta,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (o *Orchestrator) relayAudioDone(clientID string) {
	o.hub.Send(clientID, protocol.AudioResponseComplete{
		Type:      protocol.TypeAudioResponseComplete,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (o *Orchestrator) relayUpstreamError(clientID string, ev realtime.Event) {
	code, msg, err := ev.ErrorPayload()
	if err != nil {
		o.log.Error("undecodable upstream error event", zap.String("client_id", clientID))
		return
	}
	o.metrics.ObserveRelayError("upstream_" + code)
	o.log.Error("upstream error",
		zap.String("client_id", clientID),
		zap.String("code", code),
		zap.String("message", msg))
	o.sendError(clientID, "Voice service error: "+msg)
}

func (o *Orchestrator) observeFirstDelta(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[clientID]
	if !ok || st.sawFirstDelta || st.startedAt.IsZero() {
		return
	}
	st.sawFirstDelta = true
	o.metrics.ObserveFirstDeltaLatency(time.Since(st.startedAt))
}

// conversationConfig builds the continuous-mode session for a persona: the
// persona prompt plus a voice-conversation style directive, the persona's
// voice, and relaxed turn detection tuned for natural pauses.
func conversationConfig(p persona.Persona) realtime.SessionConfig {
	cfg := realtime.DefaultSessionConfig()
	cfg.Instructions = p.Prompt + conversationStyle
	cfg.Voice = p.VoiceOrDefault()
	cfg.TurnDetection = realtime.ContinuousTurnDetection()
	cfg.MaxResponseOutputTokens = 150
	return cfg
}

// singleShotConfig keeps the baseline voice and tighter turn detection for
// one-utterance exchanges.
func singleShotConfig(p persona.Persona) realtime.SessionConfig {
	cfg := realtime.DefaultSessionConfig()
	cfg.Instructions = p.Prompt
	cfg.TurnDetection = realtime.SingleShotTurnDetection()
	return cfg
}
