// Package transcription runs the live transcript feed of a connected call and
// the advisory analysis layered on top of it.
package transcription

import (
	"bytes"
	"encoding/json"

	"engagement_backend/internal/transcription/advisor"
)

// Segment is one utterance from the transcription provider.
type Segment struct {
	Text        string `json:"text"`
	IsFinal     bool   `json:"isFinal"`
	TimestampMs int64  `json:"timestampMs"`
}

// Suggestion is the advisory hint currently shown to the operator.
type Suggestion = advisor.Suggestion

const eventTranscript = "transcript"

// message is the provider wire shape. Field names and order are a contract
// with the provider and its consumers.
type message struct {
	Event   string `json:"event"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// DecodeMessage parses a provider frame. ok is false for events other
// than "transcript".
func DecodeMessage(data []byte) (seg Segment, ok bool, err error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return Segment{}, false, err
	}
	if m.Event != eventTranscript {
		return Segment{}, false, nil
	}
	return Segment{Text: m.Text, IsFinal: m.IsFinal}, true, nil
}

// EncodeMessage renders a transcript frame exactly as the provider sends it.
func EncodeMessage(text string, isFinal bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(message{Event: eventTranscript, Text: text, IsFinal: isFinal}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
