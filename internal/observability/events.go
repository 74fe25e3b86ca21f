package observability

// EventEnvelope is the wire shape shared by everything published to the
// carechat events exchange; consumers dispatch on event_type and event_name.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles the AMQP headers that correlate an event with the
// originating request and trace. Empty values are omitted.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := make(map[string]string, 2)
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
