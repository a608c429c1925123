package gateway

import (
	"encoding/json"

	"github.com/eleven-am/see-server/internal/roles"
)

const (
	EventConnected      = "connected"
	EventUseTurnServers = "useTurnServers"
	EventAck            = "ack"
	EventError          = "error"
)

// roleEvents maps the announcement a client sends on connect to the role it
// claims.
var roleEvents = map[string]roles.Role{
	"broadcaster":       roles.Producer,
	"viewer":            roles.Viewer,
	"see_rasp_pi":       roles.RecognitionSink,
	"sidewalk_detector": roles.SidewalkSink,
	"react-app-real":    roles.ControlApp,
	"web-app-handler":   roles.ControlDeviceHandler,
}

// Message is the envelope for everything a client sends. ID is present on
// requests that expect an acknowledgement and on acknowledgements.
type Message struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(m.Data, v)
}

type outboundMessage struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type ConnectedPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
