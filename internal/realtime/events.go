package realtime

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Well-known upstream event types. The protocol has many more; these are the
// ones the relay inspects. Everything else passes through handlers untouched.
const (
	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventAudioDelta           = "response.audio.delta"
	EventAudioDone            = "response.audio.done"
	EventResponseDone         = "response.done"
	EventInputSpeechStarted   = "input_audio_buffer.speech_started"
	EventInputSpeechStopped   = "input_audio_buffer.speech_stopped"
	EventInputCommitted       = "input_audio_buffer.committed"
	EventError                = "error"
	EventRateLimitsUpdated    = "rate_limits.updated"
	EventResponseCreated      = "response.created"
	EventTranscriptDelta      = "response.audio_transcript.delta"
	EventTranscriptDone       = "response.audio_transcript.done"
	EventConversationItemDone = "conversation.item.created"
)

// Event is one frame received from the upstream session. Raw keeps the full
// payload so handlers can decode type-specific fields lazily.
type Event struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     []byte `json:"-"`
}

// Handler receives upstream events in arrival order. Handlers run on the
// session's read goroutine, so they must not block.
type Handler func(Event)

// ParseEvent decodes a received frame. The frame is retained in Raw, so the
// caller must not reuse the byte slice.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("realtime: event missing type")
	}
	ev.Raw = data
	return ev, nil
}

// AudioDeltaPayload extracts the base64 audio chunk from a
// response.audio.delta event.
func (e Event) AudioDeltaPayload() (string, error) {
	var body struct {
		Delta string `json:"delta"`
	}
	if err := sonic.Unmarshal(e.Raw, &body); err != nil {
		return "", fmt.Errorf("realtime: decode audio delta: %w", err)
	}
	return body.Delta, nil
}

// ErrorPayload extracts the structured error from an error event.
func (e Event) ErrorPayload() (code, message string, err error) {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := sonic.Unmarshal(e.Raw, &body); err != nil {
		return "", "", fmt.Errorf("realtime: decode error event: %w", err)
	}
	return body.Error.Code, body.Error.Message, nil
}
