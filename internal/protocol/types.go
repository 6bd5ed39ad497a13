// Package protocol defines the wire message types and JSON payload
// schemas exchanged between the fleet server and connected AGVs, how
// message types map to Go structs, and the framing (the 12-byte
// length/type/seq header, see ParseFrame and EncodeFrame in codec.go).
// internal/reactor treats a frame as an opaque byte slice.
package protocol

// MsgType identifies the wire message type carried in a frame header.
type MsgType int32

// Message type constants, exact values per the wire protocol.
const (
	MsgUnknown     MsgType = 0
	MsgLoginReq    MsgType = 1
	MsgLoginResp   MsgType = 2
	MsgHeartbeat   MsgType = 3
	MsgTaskRequest MsgType = 4
	MsgTaskReport  MsgType = 5
	MsgPathReq     MsgType = 10
	MsgPathResp    MsgType = 11
)

// String returns a human-readable name for logging; unknown values print
// their numeric form rather than panicking.
func (t MsgType) String() string {
	switch t {
	case MsgUnknown:
		return "Unknown"
	case MsgLoginReq:
		return "LoginReq"
	case MsgLoginResp:
		return "LoginResp"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgTaskRequest:
		return "TaskRequest"
	case MsgTaskReport:
		return "TaskReport"
	case MsgPathReq:
		return "PathReq"
	case MsgPathResp:
		return "PathResp"
	default:
		return "MsgType(" + itoa(int32(t)) + ")"
	}
}

func itoa(v int32) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// AgvStatus enumerates vehicle operating states. The zero value is
// Unknown so a missing/malformed enum string never silently becomes a
// valid state.
type AgvStatus string

const (
	StatusUnknown  AgvStatus = ""
	StatusIdle     AgvStatus = "IDLE"
	StatusMoving   AgvStatus = "MOVING"
	StatusPaused   AgvStatus = "PAUSED"
	StatusError    AgvStatus = "ERROR"
	StatusCharging AgvStatus = "CHARGING"
)

// Valid reports whether s is one of the defined AgvStatus values.
func (s AgvStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusMoving, StatusPaused, StatusError, StatusCharging:
		return true
	default:
		return false
	}
}

// ActionType enumerates the action a task asks the vehicle to perform on
// arrival.
type ActionType string

const (
	ActionNone    ActionType = "NONE"
	ActionLiftUp  ActionType = "LIFT_UP"
	ActionPutDown ActionType = "PUT_DOWN"
	ActionCharge  ActionType = "CHARGE"
)

// Valid reports whether a is one of the defined ActionType values.
func (a ActionType) Valid() bool {
	switch a {
	case ActionNone, ActionLiftUp, ActionPutDown, ActionCharge:
		return true
	default:
		return false
	}
}

// Point is an integer grid cell. Equality and ordering are lexicographic
// on (X, Y), matching spec's definition exactly.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Less implements the lexicographic ordering used by map/astar tie-breaks
// and by tests that need a deterministic Point ordering.
func (p Point) Less(o Point) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	return p.Y < o.Y
}
