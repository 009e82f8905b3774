package deploy

import (
	"encoding/json"
	"time"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/saga"
)

// Event is the progress message streamed to subscribers of a host.
type Event struct {
	Host         string    `json:"host"`
	Step         string    `json:"step,omitempty"`
	Phase        string    `json:"phase"`
	Error        string    `json:"error,omitempty"`
	DeploymentID string    `json:"deploymentId,omitempty"`
	DurationMS   int64     `json:"durationMs,omitempty"`
	At           time.Time `json:"at"`
}

func (s *Service) observe(host string) saga.Observer {
	return func(e saga.Event) {
		s.metrics.step(e)
		event := Event{
			Host:       host,
			Step:       e.Step,
			Phase:      string(e.Phase),
			DurationMS: e.Duration.Milliseconds(),
			At:         s.now().UTC(),
		}
		if e.Err != nil {
			event.Error = apperr.Message(e.Err)
		}
		s.publish(host, event)
	}
}

func (s *Service) publish(host string, event Event) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode deployment event", "host", host, "error", err)
		return
	}
	s.events.Broadcast(host, payload)
}
