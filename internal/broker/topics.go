package broker

const (
	eventTopicRoot    = "mappings"
	requestTopicRoot  = "requests"
	responseTopicRoot = "responses"

	ActionSync = "sync"
)

// BuildTopic builds the topic a mapping event is published on.
// Format: mappings/{event_type} (e.g., mappings/mapping.created)
func BuildTopic(eventType string) string {
	return eventTopicRoot + "/" + eventType
}

// RequestTopic is where a collaborator listens for an action.
func RequestTopic(action string) string {
	return requestTopicRoot + "/" + action
}

// ResponseTopic is where the answer to one request arrives.
func ResponseTopic(requestID string) string {
	return responseTopicRoot + "/" + requestID
}
