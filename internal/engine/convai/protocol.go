package convai

import "encoding/json"

// Server event types.
const (
	typeMetadata       = "conversation_initiation_metadata"
	typeAudio          = "audio"
	typeInterruption   = "interruption"
	typePing           = "ping"
	typeAgentResponse  = "agent_response"
	typeUserTranscript = "user_transcript"
	typeCorrection     = "agent_response_correction"
)

// clientInit opens the conversation.
type clientInit struct {
	Type string `json:"type"`
}

type pong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// serverEvent is the envelope of every server frame. Only the field matching
// Type is populated.
type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
		OutputFormat   string `json:"agent_output_audio_format"`
		InputFormat    string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Audio *struct {
		Audio   string `json:"audio_base_64"`
		EventID int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Interruption *struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	Correction *struct {
		Original  string `json:"original_agent_response"`
		Corrected string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event,omitempty"`
}

func decodeEvent(data []byte) (serverEvent, error) {
	var ev serverEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
