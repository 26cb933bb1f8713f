// Package bus implements the worker's two pub/sub sockets: a subscriber that
// receives broadcast commands from the control plane and a publisher that
// emits lifecycle events. It is grounded on
// original_source/job_runner_worker/enqueuer.py and events.py for the wire
// protocol (topic-prefixed frames, exact-topic re-check, inactivity
// reconnect), transported over gorilla/websocket the way
// arkeep-io-arkeep/server/internal/websocket does, since no example repo in
// the retrieval pack vendors a ZeroMQ binding.
package bus

import "encoding/json"

// Frame is the two-part message every bus socket exchanges: a topic string
// and a JSON payload, per spec.md §6.3 ("Frames are two-part messages
// (topic, payload)").
type Frame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// NewFrame marshals payload and wraps it in a Frame for the given topic.
func NewFrame(topic string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Topic: topic, Payload: raw}, nil
}

// BroadcastTopic returns the per-worker inbound topic, per spec.md §6.3:
// "master.broadcast.<api_key>".
func BroadcastTopic(apiKey string) string {
	return "master.broadcast." + apiKey
}

// EventTopic is the single outbound topic every published event carries.
const EventTopic = "worker.event"
