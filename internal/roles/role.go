package roles

import "errors"

var ErrUnknownRole = errors.New("unknown role")

type Role string

const (
	Producer             Role = "producer"
	RecognitionSink      Role = "recognition_sink"
	SidewalkSink         Role = "sidewalk_sink"
	ControlApp           Role = "control_app"
	ControlDeviceHandler Role = "control_device_handler"
	Viewer               Role = "viewer"
)

var singularRoles = []Role{
	Producer,
	RecognitionSink,
	SidewalkSink,
	ControlApp,
	ControlDeviceHandler,
}

// Singular reports whether at most one connection may hold the role.
func (r Role) Singular() bool {
	for _, s := range singularRoles {
		if s == r {
			return true
		}
	}
	return false
}

func (r Role) Valid() bool {
	return r == Viewer || r.Singular()
}

func (r Role) String() string {
	return string(r)
}

// Conn is a live client connection. Emit delivers a one-way event; Request
// delivers an event tagged with a call id that the peer echoes back in its
// acknowledgement.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
	Request(event, callID string, payload any) error
}

type Reason int

const (
	Superseded Reason = iota
	Disconnected
)

func (r Reason) String() string {
	switch r {
	case Superseded:
		return "superseded"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Release describes a connection losing a role. Successor is set only
// when Reason is Superseded.
type Release struct {
	Conn      Conn
	Role      Role
	Reason    Reason
	Successor Conn
}
