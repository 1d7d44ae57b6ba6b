package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxlink/voxlink/internal/persona"
	"github.com/voxlink/voxlink/internal/protocol"
	"github.com/voxlink/voxlink/internal/realtime"
)

type fakeHub struct {
	mu           sync.Mutex
	sent         map[string][]any
	personas     map[string]string
	disconnected []string
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		sent:     make(map[string][]any),
		personas: make(map[string]string),
	}
}

func (h *fakeHub) Send(clientID string, msg any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent[clientID] = append(h.sent[clientID], msg)
	return true
}

func (h *fakeHub) SetPersona(clientID, personaID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.personas[clientID] = personaID
}

func (h *fakeHub) Persona(clientID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.personas[clientID]
	return id, ok
}

func (h *fakeHub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, clientID)
	delete(h.personas, clientID)
}

func (h *fakeHub) messages(clientID string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.sent[clientID]))
	copy(out, h.sent[clientID])
	return out
}

func (h *fakeHub) lastMessage(t *testing.T, clientID string) any {
	t.Helper()
	msgs := h.messages(clientID)
	if len(msgs) == 0 {
		t.Fatalf("no messages sent to %q", clientID)
	}
	return msgs[len(msgs)-1]
}

type fakeSession struct {
	mu            sync.Mutex
	handlers      map[string][]realtime.Handler
	registrations int
	updates       []realtime.SessionConfig
	items         []realtime.ConversationItem
	responses     []realtime.ResponseParams
	appended      []string
	commits       int
	clears        int
	cancels       int
	down          bool
}

func (s *fakeSession) OnEvent(eventType string, h realtime.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[string][]realtime.Handler)
	}
	s.handlers[eventType] = append(s.handlers[eventType], h)
	s.registrations++
}

func (s *fakeSession) UpdateSession(cfg realtime.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, cfg)
	return nil
}

func (s *fakeSession) AppendAudioBase64(audio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, audio)
	return nil
}

func (s *fakeSession) CommitInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *fakeSession) ClearInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

func (s *fakeSession) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *fakeSession) CreateConversationItem(item realtime.ConversationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *fakeSession) CreateResponse(params realtime.ResponseParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, params)
	return nil
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.down
}

func (s *fakeSession) emit(ev realtime.Event) {
	s.mu.Lock()
	handlers := make([]realtime.Handler, len(s.handlers[ev.Type]))
	copy(handlers, s.handlers[ev.Type])
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *fakeSession) lastUpdate(t *testing.T) realtime.SessionConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		t.Fatalf("no session updates recorded")
	}
	return s.updates[len(s.updates)-1]
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	released []string
	fail     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: make(map[string]*fakeSession)}
}

func (p *fakeProvider) Acquire(_ context.Context, clientID string) (Session, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, false, p.fail
	}
	if s, ok := p.sessions[clientID]; ok {
		return s, false, nil
	}
	s := &fakeSession{}
	p.sessions[clientID] = s
	return s, true, nil
}

func (p *fakeProvider) Peek(clientID string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[clientID]
	if !ok {
		return nil, false
	}
	return s, true
}

func (p *fakeProvider) Release(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, clientID)
	delete(p.sessions, clientID)
}

func (p *fakeProvider) session(t *testing.T, clientID string) *fakeSession {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[clientID]
	if !ok {
		t.Fatalf("no session for %q", clientID)
	}
	return s
}

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeHub, *fakeProvider) {
	t.Helper()
	h := newFakeHub()
	p := newFakeProvider()
	o := NewOrchestrator(nil, nil, persona.NewCatalog(persona.Builtin()), p, h)
	return o, h, p
}

func startConversation(t *testing.T, o *Orchestrator, clientID, personaID string) {
	t.Helper()
	ctx := context.Background()
	if err := o.SelectPersona(ctx, clientID, personaID); err != nil {
		t.Fatalf("SelectPersona() error = %v", err)
	}
	if err := o.StartConversation(ctx, clientID); err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
}

func TestSelectPersonaConfirms(t *testing.T) {
	o, h, _ := testOrchestrator(t)

	if err := o.SelectPersona(context.Background(), "alice", "astrologer"); err != nil {
		t.Fatalf("SelectPersona() error = %v", err)
	}

	msg, ok := h.lastMessage(t, "alice").(protocol.PersonaSelected)
	if !ok {
		t.Fatalf("last message = %T, want PersonaSelected", h.lastMessage(t, "alice"))
	}
	if msg.Persona.ID != "astrologer" {
		t.Fatalf("persona id = %q", msg.Persona.ID)
	}
	if msg.Message != "Voice chat with Gold Astrologer is ready!" {
		t.Fatalf("message = %q", msg.Message)
	}
	if id, _ := h.Persona("alice"); id != "astrologer" {
		t.Fatalf("hub persona = %q", id)
	}
}

func TestSelectUnknownPersona(t *testing.T) {
	o, h, _ := testOrchestrator(t)
	ctx := context.Background()

	err := o.SelectPersona(ctx, "alice", "time-traveler")
	if !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("error = %v, want ErrPersonaNotFound", err)
	}
	msg, ok := h.lastMessage(t, "alice").(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("expected error message, got %T", h.lastMessage(t, "alice"))
	}
	if !strings.Contains(msg.Message, "time-traveler") {
		t.Fatalf("error message = %q", msg.Message)
	}

	// A valid selection afterwards still works.
	if err := o.SelectPersona(ctx, "alice", "cars"); err != nil {
		t.Fatalf("recovery SelectPersona() error = %v", err)
	}
}

func TestStartConversationWithoutPersona(t *testing.T) {
	o, h, p := testOrchestrator(t)

	err := o.StartConversation(context.Background(), "alice")
	if !errors.Is(err, ErrNoPersonaSelected) {
		t.Fatalf("error = %v, want ErrNoPersonaSelected", err)
	}
	msg := h.lastMessage(t, "alice").(protocol.ErrorMessage)
	if msg.Message != "Please select a persona first." {
		t.Fatalf("message = %q", msg.Message)
	}
	if len(p.sessions) != 0 {
		t.Fatalf("no upstream session should exist")
	}
}

func TestStartConversationConfiguresSession(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "astrologer")

	sess := p.session(t, "alice")
	cfg := sess.lastUpdate(t)

	astro, _ := persona.NewCatalog(persona.Builtin()).Get("astrologer")
	if !strings.HasPrefix(cfg.Instructions, astro.Prompt) {
		t.Fatalf("instructions must start with the persona prompt")
	}
	if !strings.Contains(cfg.Instructions, "natural voice conversation") {
		t.Fatalf("instructions missing conversation style directive")
	}
	if cfg.Voice != "nova" {
		t.Fatalf("voice = %q, want nova", cfg.Voice)
	}
	td := cfg.TurnDetection
	if td == nil || td.Threshold != 0.6 || td.PrefixPaddingMs != 400 || td.SilenceDurationMs != 1200 {
		t.Fatalf("turn detection = %+v, want continuous profile", td)
	}
	if cfg.MaxResponseOutputTokens != 150 {
		t.Fatalf("max tokens = %d, want 150", cfg.MaxResponseOutputTokens)
	}
	if sess.clears != 1 {
		t.Fatalf("input buffer clears = %d, want 1", sess.clears)
	}

	if len(sess.items) != 1 {
		t.Fatalf("greeting items = %d, want 1", len(sess.items))
	}
	item := sess.items[0]
	if item.Role != "assistant" || !strings.HasPrefix(item.ID, "greeting_") {
		t.Fatalf("greeting item = %+v", item)
	}
	if item.Content[0].Text != astro.Greeting {
		t.Fatalf("greeting text = %q", item.Content[0].Text)
	}
	if len(sess.responses) != 1 || sess.responses[0].Modalities[0] != "audio" {
		t.Fatalf("greeting response = %+v", sess.responses)
	}

	msg := h.lastMessage(t, "alice").(protocol.ConversationStarted)
	if msg.Message != "Conversation started - speak naturally!" {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestStartConversationReusesSession(t *testing.T) {
	o, _, p := testOrchestrator(t)
	startConversation(t, o, "alice", "general")
	sess := p.session(t, "alice")

	if err := o.StartConversation(context.Background(), "alice"); err != nil {
		t.Fatalf("second StartConversation() error = %v", err)
	}
	if got := p.session(t, "alice"); got != sess {
		t.Fatalf("session must be reused")
	}
	// Handlers registered only on creation, so a restart must not double
	// deliveries.
	if sess.registrations != 3 {
		t.Fatalf("handler registrations = %d, want 3", sess.registrations)
	}
}

func TestStartConversationAcquireFailure(t *testing.T) {
	o, h, p := testOrchestrator(t)
	p.fail = fmt.Errorf("dial refused")

	if err := o.SelectPersona(context.Background(), "alice", "health"); err != nil {
		t.Fatalf("SelectPersona() error = %v", err)
	}
	if err := o.StartConversation(context.Background(), "alice"); err == nil {
		t.Fatalf("expected acquire failure to propagate")
	}
	msg := h.lastMessage(t, "alice").(protocol.ErrorMessage)
	if !strings.Contains(msg.Message, "Error starting conversation") {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestStreamAudioForwards(t *testing.T) {
	o, _, p := testOrchestrator(t)
	startConversation(t, o, "alice", "cars")

	chunk := base64.StdEncoding.EncodeToString([]byte("pcm16 frame"))
	if err := o.StreamAudio(context.Background(), "alice", chunk); err != nil {
		t.Fatalf("StreamAudio() error = %v", err)
	}

	sess := p.session(t, "alice")
	if len(sess.appended) != 1 || sess.appended[0] != chunk {
		t.Fatalf("appended = %v", sess.appended)
	}
}

func TestStreamAudioBeforePersonaDropsSilently(t *testing.T) {
	o, h, p := testOrchestrator(t)

	if err := o.StreamAudio(context.Background(), "alice", "QUJD"); err != nil {
		t.Fatalf("StreamAudio() error = %v", err)
	}
	if len(h.messages("alice")) != 0 {
		t.Fatalf("no messages expected, got %v", h.messages("alice"))
	}
	if len(p.sessions) != 0 {
		t.Fatalf("no session should be created for stray audio")
	}
}

func TestStreamAudioWithoutSession(t *testing.T) {
	o, h, _ := testOrchestrator(t)
	if err := o.SelectPersona(context.Background(), "alice", "health"); err != nil {
		t.Fatalf("SelectPersona() error = %v", err)
	}

	if err := o.StreamAudio(context.Background(), "alice", "QUJD"); err != nil {
		t.Fatalf("StreamAudio() error = %v", err)
	}
	msg := h.lastMessage(t, "alice").(protocol.ErrorMessage)
	if msg.Message != "Voice service not connected. Please try again." {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestCommitAudioInput(t *testing.T) {
	o, _, p := testOrchestrator(t)
	startConversation(t, o, "alice", "emotional")
	sess := p.session(t, "alice")

	if err := o.CommitAudioInput(context.Background(), "alice"); err != nil {
		t.Fatalf("CommitAudioInput() error = %v", err)
	}
	if sess.commits != 1 {
		t.Fatalf("commits = %d, want 1", sess.commits)
	}
	last := sess.responses[len(sess.responses)-1]
	if len(last.Modalities) != 1 || last.Modalities[0] != "audio" {
		t.Fatalf("reply modalities = %v", last.Modalities)
	}
	if !strings.Contains(last.Instructions, "Respond to what the user just said") {
		t.Fatalf("reply instructions = %q", last.Instructions)
	}
}

func TestCommitAudioInputWithoutSession(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	if err := o.CommitAudioInput(context.Background(), "nobody"); err != nil {
		t.Fatalf("CommitAudioInput() error = %v, want nil no-op", err)
	}
}

func TestProcessAudioMessageSingleShot(t *testing.T) {
	o, _, p := testOrchestrator(t)
	if err := o.SelectPersona(context.Background(), "alice", "windows"); err != nil {
		t.Fatalf("SelectPersona() error = %v", err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("complete utterance"))
	if err := o.ProcessAudioMessage(context.Background(), "alice", payload); err != nil {
		t.Fatalf("ProcessAudioMessage() error = %v", err)
	}

	sess := p.session(t, "alice")
	cfg := sess.lastUpdate(t)
	win, _ := persona.NewCatalog(persona.Builtin()).Get("windows")
	if cfg.Instructions != win.Prompt {
		t.Fatalf("single-shot instructions must be the bare prompt")
	}
	td := cfg.TurnDetection
	if td == nil || td.Threshold != 0.5 || td.PrefixPaddingMs != 300 || td.SilenceDurationMs != 500 {
		t.Fatalf("turn detection = %+v, want single-shot profile", td)
	}

	if len(sess.items) != 1 {
		t.Fatalf("items = %d, want 1", len(sess.items))
	}
	item := sess.items[0]
	if item.Role != "user" || !strings.HasPrefix(item.ID, "audio_") {
		t.Fatalf("item = %+v", item)
	}
	if item.Content[0].Type != "input_audio" || item.Content[0].Audio != payload {
		t.Fatalf("content = %+v", item.Content[0])
	}
	last := sess.responses[len(sess.responses)-1]
	if len(last.Modalities) != 2 {
		t.Fatalf("modalities = %v, want [text audio]", last.Modalities)
	}
}

func TestEndConversationDisablesTurnDetection(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "astrologer")
	sess := p.session(t, "alice")

	if err := o.EndConversation("alice"); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}

	cfg := sess.lastUpdate(t)
	if cfg.TurnDetection != nil {
		t.Fatalf("turn detection = %+v, want nil", cfg.TurnDetection)
	}
	// The rest of the active configuration is preserved.
	if cfg.Voice != "nova" {
		t.Fatalf("voice = %q, want persona voice retained", cfg.Voice)
	}

	msg := h.lastMessage(t, "alice").(protocol.ConversationEnded)
	if msg.Message != "Conversation ended" {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestEndConversationWithoutSession(t *testing.T) {
	o, h, _ := testOrchestrator(t)
	if err := o.EndConversation("nobody"); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	if len(h.messages("nobody")) != 0 {
		t.Fatalf("no messages expected")
	}
}

func TestAudioDeltaRoundTrip(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "general")
	sess := p.session(t, "alice")

	pcm := []byte{0x00, 0x10, 0x7f, 0xff}
	delta := base64.StdEncoding.EncodeToString(pcm)
	raw := fmt.Sprintf(`{"type":"response.audio.delta","delta":"%s"}`, delta)
	sess.emit(realtime.Event{Type: realtime.EventAudioDelta, Raw: []byte(raw)})

	msg, ok := h.lastMessage(t, "alice").(protocol.AudioDelta)
	if !ok {
		t.Fatalf("last message = %T, want AudioDelta", h.lastMessage(t, "alice"))
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		t.Fatalf("relayed audio not valid base64: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Fatalf("audio bytes corrupted in transit")
	}
	if _, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339Nano: %v", msg.Timestamp, err)
	}

	sess.emit(realtime.Event{Type: realtime.EventAudioDone, Raw: []byte(`{"type":"response.audio.done"}`)})
	done, ok := h.lastMessage(t, "alice").(protocol.AudioResponseComplete)
	if !ok {
		t.Fatalf("last message = %T, want AudioResponseComplete", h.lastMessage(t, "alice"))
	}
	if _, err := time.Parse(time.RFC3339Nano, done.Timestamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339Nano: %v", done.Timestamp, err)
	}
}

func TestClientIsolation(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "astrologer")
	startConversation(t, o, "bob", "cars")

	aliceSess := p.session(t, "alice")
	beforeBob := len(h.messages("bob"))

	aliceSess.emit(realtime.Event{
		Type: realtime.EventAudioDelta,
		Raw:  []byte(`{"type":"response.audio.delta","delta":"QUJD"}`),
	})

	if _, ok := h.lastMessage(t, "alice").(protocol.AudioDelta); !ok {
		t.Fatalf("alice should receive her delta")
	}
	if len(h.messages("bob")) != beforeBob {
		t.Fatalf("bob must not receive alice's audio")
	}
}

func TestUpstreamErrorSurfacedToClient(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "general")
	sess := p.session(t, "alice")

	sess.emit(realtime.Event{
		Type: realtime.EventError,
		Raw:  []byte(`{"type":"error","error":{"code":"rate_limit","message":"slow down"}}`),
	})

	msg, ok := h.lastMessage(t, "alice").(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("last message = %T, want ErrorMessage", h.lastMessage(t, "alice"))
	}
	if !strings.Contains(msg.Message, "slow down") {
		t.Fatalf("message = %q", msg.Message)
	}
}

func TestCleanupClient(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "health")

	o.CleanupClient("alice")

	if len(p.released) != 1 || p.released[0] != "alice" {
		t.Fatalf("released = %v", p.released)
	}
	if len(h.disconnected) != 1 || h.disconnected[0] != "alice" {
		t.Fatalf("disconnected = %v", h.disconnected)
	}

	// Cleanup twice is harmless.
	o.CleanupClient("alice")
}

func TestLateDeltaAfterCleanupDropped(t *testing.T) {
	o, h, p := testOrchestrator(t)
	startConversation(t, o, "alice", "general")
	sess := p.session(t, "alice")

	o.CleanupClient("alice")
	before := len(h.messages("alice"))

	sess.emit(realtime.Event{
		Type: realtime.EventAudioDelta,
		Raw:  []byte(`{"type":"response.audio.delta","delta":"QUJD"}`),
	})

	if got := len(h.messages("alice")); got != before {
		t.Fatalf("delta delivered after cleanup: messages %d -> %d", before, got)
	}
}

func TestHandleMessageDispatch(t *testing.T) {
	o, h, _ := testOrchestrator(t)

	err := o.HandleMessage(context.Background(), "alice", protocol.SelectPersona{
		Type:      protocol.TypeSelectPersona,
		PersonaID: "emotional",
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if _, ok := h.lastMessage(t, "alice").(protocol.PersonaSelected); !ok {
		t.Fatalf("dispatch did not reach SelectPersona")
	}

	if err := o.HandleMessage(context.Background(), "alice", struct{}{}); err == nil {
		t.Fatalf("unknown message type must error")
	}
}
