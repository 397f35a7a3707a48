// Package protocol defines the wire formats spoken by the coach agent
// streaming endpoint and the coach backend push channel. Both channels
// carry JSON text frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MimeAudioPCM marks a base64 payload of 16-bit little-endian mono PCM.
	// Client-to-agent audio is 16 kHz; agent-to-client audio is 24 kHz.
	MimeAudioPCM = "audio/pcm"

	// MimeTextPlain marks a UTF-8 text payload. Agent-to-client text
	// arrives as fragments within a turn.
	MimeTextPlain = "text/plain"
)

// TeardownReason is the close reason the client sends when it closes a
// channel on purpose. Peers receiving any other reason should treat the
// close as unexpected.
const TeardownReason = "Client initiated teardown"

// PlanUpdatedAction labels backend pushes carrying a full daily plan.
const PlanUpdatedAction = "PLAN_UPDATED"

// StreamFrame is one frame on the agent streaming channel, in either
// direction. A frame may carry a payload, control flags, or both;
// control flags can co-occur with payload fields.
type StreamFrame struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`

	// Agent-to-client only.
	TurnComplete bool `json:"turn_complete,omitempty"`
	Interrupted  bool `json:"interrupted,omitempty"`
}

// HasPayload reports whether the frame carries payload data.
func (f StreamFrame) HasPayload() bool {
	return f.MimeType != "" && f.Data != ""
}

// AudioFrame builds a client audio frame from already base64-encoded PCM.
func AudioFrame(b64 string) StreamFrame {
	return StreamFrame{MimeType: MimeAudioPCM, Data: b64}
}

// TextFrame builds a client text frame.
func TextFrame(text string) StreamFrame {
	return StreamFrame{MimeType: MimeTextPlain, Data: text}
}

// DecodeStreamFrame parses an inbound agent frame. It rejects frames that
// are not JSON objects but is otherwise permissive: unknown fields are
// ignored so the agent can evolve its envelope.
func DecodeStreamFrame(data []byte) (StreamFrame, error) {
	var frame StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return StreamFrame{}, fmt.Errorf("decode stream frame: %w", err)
	}
	if frame.MimeType != "" {
		switch strings.TrimSpace(frame.MimeType) {
		case MimeAudioPCM, MimeTextPlain:
		default:
			return StreamFrame{}, fmt.Errorf("decode stream frame: unsupported mime type %q", frame.MimeType)
		}
	}
	return frame, nil
}

// PlanPush is one frame on the backend push channel. Data holds the full
// authoritative daily plan; it is decoded by the plan client so this
// package stays free of model types.
type PlanPush struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// DecodePlanPush parses a backend push frame.
func DecodePlanPush(data []byte) (PlanPush, error) {
	var push PlanPush
	if err := json.Unmarshal(data, &push); err != nil {
		return PlanPush{}, fmt.Errorf("decode plan push: %w", err)
	}
	if strings.TrimSpace(push.Action) == "" {
		return PlanPush{}, fmt.Errorf("decode plan push: missing action")
	}
	return push, nil
}
