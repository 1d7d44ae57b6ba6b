package realtime

// TurnDetection holds server-side voice activity detection tunables.
// Threshold is sensitivity (higher needs clearer speech to end a turn),
// PrefixPaddingMs is audio captured before detected speech start, and
// SilenceDurationMs is how long silence must persist to close a turn.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type AudioTranscription struct {
	Model string `json:"model"`
}

// SessionConfig is the full upstream session object. Partial updates replace
// the whole session server-side, so senders always transmit the complete
// desired configuration. TurnDetection has no omitempty on purpose: a nil
// value serializes as an explicit null, which disables turn detection.
type SessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection"`
	Tools                   []any               `json:"tools"`
	ToolChoice              string              `json:"tool_choice"`
	Temperature             float64             `json:"temperature"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens"`
}

// DefaultSessionConfig is the baseline sent right after connecting, before
// any persona is applied.
func DefaultSessionConfig() SessionConfig {
	td := TurnDetection{
		Type:              "server_vad",
		Threshold:         0.4,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Voice:                   "alloy",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &AudioTranscription{Model: "whisper-1"},
		TurnDetection:           &td,
		Tools:                   []any{},
		ToolChoice:              "none",
		Temperature:             0.85,
		MaxResponseOutputTokens: 100,
	}
}

// ContinuousTurnDetection is the profile for open-ended conversation: less
// sensitive, longer padding and silence so natural pauses do not end turns.
func ContinuousTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.6,
		PrefixPaddingMs:   400,
		SilenceDurationMs: 1200,
	}
}

// SingleShotTurnDetection is the profile for one-shot audio exchanges,
// biased toward snappier turn ends.
func SingleShotTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

type ContentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ResponseParams struct {
	Modalities      []string `json:"modalities"`
	Instructions    string   `json:"instructions,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
}
