package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voxlink/voxlink/internal/persona"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound (client -> gateway).
	TypeSelectPersona     MessageType = "select_persona"
	TypeStartConversation MessageType = "start_conversation"
	TypeAudioStreamData   MessageType = "audio_stream_data"
	TypeAudioMessage      MessageType = "audio_message"
	TypeCommitAudioInput  MessageType = "commit_audio_input"
	TypeEndConversation   MessageType = "end_conversation"

	// Outbound (gateway -> client).
	TypePersonaSelected       MessageType = "persona_selected"
	TypeConversationStarted   MessageType = "conversation_started"
	TypeAudioDelta            MessageType = "audio_delta"
	TypeAudioResponseComplete MessageType = "audio_response_complete"
	TypeConversationEnded     MessageType = "conversation_ended"
	TypeError                 MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type SelectPersona struct {
	Type      MessageType `json:"type"`
	PersonaID string      `json:"persona_id"`
}

type StartConversation struct {
	Type MessageType `json:"type"`
}

// AudioStreamData carries one base64-encoded chunk of client microphone audio.
type AudioStreamData struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
}

// AudioMessage carries a complete base64-encoded utterance for the
// single-shot flow (one reply per message, no streamed turn detection).
type AudioMessage struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
}

type CommitAudioInput struct {
	Type MessageType `json:"type"`
}

type EndConversation struct {
	Type MessageType `json:"type"`
}

type PersonaSelected struct {
	Type    MessageType    `json:"type"`
	Persona persona.Public `json:"persona"`
	Message string         `json:"message"`
}

type ConversationStarted struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type AudioDelta struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
	Timestamp string      `json:"timestamp"`
}

type AudioResponseComplete struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type ConversationEnded struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes one inbound text frame into its typed message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSelectPersona:
		var msg SelectPersona
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PersonaID == "" {
			return nil, errors.New("invalid select_persona: persona_id is required")
		}
		return msg, nil
	case TypeStartConversation:
		return StartConversation{Type: env.Type}, nil
	case TypeAudioStreamData:
		var msg AudioStreamData
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioData == "" {
			return nil, errors.New("invalid audio_stream_data: audio_data is required")
		}
		return msg, nil
	case TypeAudioMessage:
		var msg AudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioData == "" {
			return nil, errors.New("invalid audio_message: audio_data is required")
		}
		return msg, nil
	case TypeCommitAudioInput:
		return CommitAudioInput{Type: env.Type}, nil
	case TypeEndConversation:
		return EndConversation{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MessageTypeOf reports the discriminator of any protocol message.
func MessageTypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case SelectPersona:
		return m.Type, true
	case StartConversation:
		return m.Type, true
	case AudioStreamData:
		return m.Type, true
	case AudioMessage:
		return m.Type, true
	case CommitAudioInput:
		return m.Type, true
	case EndConversation:
		return m.Type, true
	case PersonaSelected:
		return m.Type, true
	case ConversationStarted:
		return m.Type, true
	case AudioDelta:
		return m.Type, true
	case AudioResponseComplete:
		return m.Type, true
	case ConversationEnded:
		return m.Type, true
	case ErrorMessage:
		return m.Type, true
	default:
		return "", false
	}
}
