package calls

import (
	"context"

	"engagement_backend/internal/events"
	"engagement_backend/platform/logger"
)

// EventObserver publishes CallEnded for every finished call on an endpoint.
func EventObserver(bus events.Bus, endpoint string, log *logger.Logger) Observer {
	tenantID, userID, err := ParseEndpointKey(endpoint)
	if err != nil {
		if log != nil {
			log.Warn("call events disabled for endpoint", "endpoint", endpoint, "error", err)
		}
		return ObserverFuncs{}
	}

	return ObserverFuncs{
		CallEnd: func(s Session) {
			ev := events.CallEnded{
				BaseEvent:       events.NewBaseEvent(),
				CallID:          s.CallID,
				TenantID:        tenantID,
				UserID:          userID,
				LeadID:          s.LeadID,
				TargetNumber:    s.TargetNumber,
				ProviderCallID:  s.ProviderCallID,
				FinalState:      string(s.State),
				DurationSeconds: s.DurationSeconds,
				LastError:       s.LastError,
			}
			if s.StartedAt != nil {
				ev.StartedAt = *s.StartedAt
			}
			bus.Publish(context.Background(), ev)
		},
	}
}
