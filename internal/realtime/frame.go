package realtime

import "encoding/json"

// Inbound is what a client sends. Ack, when set, asks for an "ack" frame
// carrying the same number.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack,omitempty"`
}

// Outbound is every frame the server writes.
type Outbound struct {
	Event string `json:"event"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrorPayload is the data of an "error" frame. It is only ever sent to the
// connection that caused it.
type ErrorPayload struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}
