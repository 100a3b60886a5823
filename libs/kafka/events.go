package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope wraps every envelope validation failure.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is the header shared by every event on the bus. Payload fields
// are embedded next to it in the same JSON object.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewEnvelope stamps a random event id.
func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), eventType, version, correlationID)
}

func NewEnvelopeWithID(eventID, eventType string, version int, correlationID string) (Envelope, error) {
	env := Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// eventNamespace scopes deterministic event ids to this platform.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tradingplatform/events"))

// DeterministicEventID derives a stable id from parts so that redelivered
// events for the same state transition can be deduplicated downstream.
func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(eventNamespace, []byte(joined)).String()
}

// Validate reports every missing header field at once.
func (e Envelope) Validate() error {
	var missing []string
	if e.EventID == "" {
		missing = append(missing, "event_id is required")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type is required")
	}
	if e.EventVersion <= 0 {
		missing = append(missing, "event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp is required")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(missing, "; "))
	}
	return nil
}
