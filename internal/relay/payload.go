package relay

import "encoding/json"

// eventEnvelope is the subset of an event payload the relay needs to read
// back out of the opaque JSON stored in the outbox.
type eventEnvelope struct {
	RoutingKey string `json:"routing_key"`
}

func extractRoutingKey(payload json.RawMessage) (string, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", err
	}
	return env.RoutingKey, nil
}
