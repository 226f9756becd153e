// Package sse provides Server-Sent Events support for real-time operator updates.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"engagement_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	// Call events (pushed to the operator owning the line)
	EventCallStatus   EventType = "call_status"
	EventCallDuration EventType = "call_duration"
	EventCallEnded    EventType = "call_ended"

	// Live transcription events
	EventTranscriptSegment  EventType = "transcript_segment"
	EventAdvisorySuggestion EventType = "advisory_suggestion"
	EventAdvisoryCleared    EventType = "advisory_cleared"

	// Lead and nurturing events (pushed to the organization)
	EventLeadUpdated           EventType = "lead_updated"
	EventNurturingEnrolled     EventType = "nurturing_enrolled"
	EventNurturingCancelled    EventType = "nurturing_cancelled"
	EventNurturingTaskExecuted EventType = "nurturing_task_executed"
)

// Event represents an SSE event payload
type Event struct {
	Type    EventType `json:"type"`
	LeadID  uuid.UUID `json:"leadId,omitempty"`
	CallID  uuid.UUID `json:"callId,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	userID uuid.UUID
	orgID  uuid.UUID
	events chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client   // userID -> clients
	orgMap  map[uuid.UUID][]uuid.UUID // orgID -> userIDs
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		orgMap:  make(map[uuid.UUID][]uuid.UUID),
		log:     log.WithComponent("sse"),
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.userID] = append(s.clients[c.userID], c)
	if c.orgID != uuid.Nil && !containsUser(s.orgMap[c.orgID], c.userID) {
		s.orgMap[c.orgID] = append(s.orgMap[c.orgID], c.userID)
	}
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.userID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.clients[c.userID]) == 0 {
		delete(s.clients, c.userID)
		if c.orgID != uuid.Nil {
			s.orgMap[c.orgID] = removeUser(s.orgMap[c.orgID], c.userID)
			if len(s.orgMap[c.orgID]) == 0 {
				delete(s.orgMap, c.orgID)
			}
		}
	}
}

// Publish sends an event to a specific user. Slow clients drop events.
func (s *Service) Publish(userID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[userID] {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full", "user_id", userID.String(), "event", string(event.Type))
		}
	}
}

// PublishToOrganization broadcasts an event to all org members
func (s *Service) PublishToOrganization(orgID uuid.UUID, event Event) {
	s.mu.RLock()
	userIDs := append([]uuid.UUID(nil), s.orgMap[orgID]...)
	s.mu.RUnlock()

	for _, userID := range userIDs {
		s.Publish(userID, event)
	}
}

// ConnectedClients returns the number of open streams for a user.
func (s *Service) ConnectedClients(userID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[userID])
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getUserID func(*gin.Context) (uuid.UUID, bool), getOrgID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orgID, _ := getOrgID(c)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			userID: userID,
			orgID:  orgID,
			events: make(chan Event, 64),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"userId": userID, "orgId": orgID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event := <-cl.events:
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

func containsUser(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeUser(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
