package transcription

import (
	"engagement_backend/internal/calls"
	"engagement_backend/internal/notification/sse"
)

// SSESink pushes segments and suggestions to the operator owning the line.
type SSESink struct {
	sse *sse.Service
}

func NewSSESink(svc *sse.Service) SSESink {
	return SSESink{sse: svc}
}

func (s SSESink) SegmentReceived(call calls.CallInfo, seg Segment) {
	_, userID, err := calls.ParseEndpointKey(call.Endpoint)
	if err != nil {
		return
	}
	s.sse.Publish(userID, sse.Event{Type: sse.EventTranscriptSegment, CallID: call.CallID, Data: seg})
}

func (s SSESink) SuggestionChanged(call calls.CallInfo, suggestion *Suggestion) {
	_, userID, err := calls.ParseEndpointKey(call.Endpoint)
	if err != nil {
		return
	}
	if suggestion == nil {
		s.sse.Publish(userID, sse.Event{Type: sse.EventAdvisoryCleared, CallID: call.CallID})
		return
	}
	s.sse.Publish(userID, sse.Event{Type: sse.EventAdvisorySuggestion, CallID: call.CallID, Data: suggestion})
}
