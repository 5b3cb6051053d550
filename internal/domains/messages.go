package domains

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// MappingEvent is published to the broker after a mapping changes.
type MappingEvent struct {
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	MappingID string `json:"mapping_id"`
	Source    string `json:"source"`
	ActorID   string `json:"actor_id,omitempty"`
}

func NewMappingEvent(eventType, mappingID, source, actorID string) *MappingEvent {
	return &MappingEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MappingID: mappingID,
		Source:    source,
		ActorID:   actorID,
	}
}

const (
	EventMappingCreated = "mapping.created"
	EventMappingUpdated = "mapping.updated"
	EventMappingDeleted = "mapping.deleted"
)

// DeleteResponse confirms a delete.
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}
