package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire type names shared by the server and the terminal client.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypeMessage  = "message"
	TypeActivity = "activity"
	TypeSignal   = "signal"

	TypeWelcome  = "welcome"
	TypeRejected = "rejected"
	TypeJoined   = "joined"
	TypeLeft     = "left"
	TypeJoinAck  = "join_ack"
	TypeRoster   = "roster"
	TypeRooms    = "rooms"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownEventType = errors.New("unknown event type")
)

// Event is one inbound unit of work for the Controller. The set of
// implementations is closed: ConnectEvent, JoinEvent, LeaveEvent,
// MessageEvent, ActivityEvent, SignalEvent and DisconnectEvent.
type Event interface {
	eventName() string
}

// ConnectEvent is raised by the transport once a connection is upgraded.
type ConnectEvent struct {
	RemoteAddr string
}

type JoinEvent struct {
	Name string
	Room string
}

type LeaveEvent struct{}

// MessageEvent carries a chat line. Name is whatever the client claimed and
// is never used for the broadcast.
type MessageEvent struct {
	Name       string
	Text       string
	Attachment *Attachment
}

type ActivityEvent struct {
	Name string
}

// SignalEvent carries an opaque peer-to-peer negotiation payload (offers,
// answers, ICE candidates) that is relayed verbatim to the rest of the room.
type SignalEvent struct {
	Payload json.RawMessage
}

type DisconnectEvent struct{}

func (ConnectEvent) eventName() string    { return "connect" }
func (JoinEvent) eventName() string       { return TypeJoin }
func (LeaveEvent) eventName() string      { return TypeLeave }
func (MessageEvent) eventName() string    { return TypeMessage }
func (ActivityEvent) eventName() string   { return TypeActivity }
func (SignalEvent) eventName() string     { return TypeSignal }
func (DisconnectEvent) eventName() string { return "disconnect" }

// Frame is the union of every field that appears on the wire in either
// direction. Inbound frames are decoded through it; the client also uses it
// to read whatever the server sends.
type Frame struct {
	Type       string          `json:"type"`
	Name       string          `json:"name,omitempty"`
	Room       string          `json:"room,omitempty"`
	Text       string          `json:"text,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Attachment *Attachment     `json:"attachment,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
	Users      []RosterEntry   `json:"users,omitempty"`
	Rooms      []string        `json:"rooms,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DecodeEvent turns one inbound text frame into an Event. Connect and
// disconnect come from the transport and cannot be sent as frames.
func DecodeEvent(payload []byte) (Event, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch frame.Type {
	case TypeJoin:
		return JoinEvent{Name: frame.Name, Room: frame.Room}, nil
	case TypeLeave:
		return LeaveEvent{}, nil
	case TypeMessage:
		return MessageEvent{Name: frame.Name, Text: frame.Text, Attachment: frame.Attachment}, nil
	case TypeActivity:
		return ActivityEvent{Name: frame.Name}, nil
	case TypeSignal:
		return SignalEvent{Payload: frame.Payload}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, frame.Type)
	}
}

// Outbound is anything the Dispatcher can deliver.
type Outbound interface {
	outboundType() string
}

type RosterEntry struct {
	Name string `json:"name"`
}

type Welcome struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatMessage is a broadcast chat line. Timestamp is stamped by the server
// and Attachment is null when the message carries no file.
type ChatMessage struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Room       string      `json:"room"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment"`
	Timestamp  time.Time   `json:"timestamp"`
}

type Rejection struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type Activity struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// Presence announces a joined or left member.
type Presence struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Room string `json:"room"`
}

type JoinAck struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Room string `json:"room"`
}

type Roster struct {
	Type  string        `json:"type"`
	Room  string        `json:"room"`
	Users []RosterEntry `json:"users"`
}

// Signal relays a peer negotiation payload, tagged with the sender.
type Signal struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

type RoomList struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

func (Welcome) outboundType() string     { return TypeWelcome }
func (ChatMessage) outboundType() string { return TypeMessage }
func (Rejection) outboundType() string   { return TypeRejected }
func (Activity) outboundType() string    { return TypeActivity }
func (p Presence) outboundType() string  { return p.Type }
func (JoinAck) outboundType() string     { return TypeJoinAck }
func (Roster) outboundType() string      { return TypeRoster }
func (Signal) outboundType() string      { return TypeSignal }
func (RoomList) outboundType() string    { return TypeRooms }

func newWelcome(text string) Welcome {
	return Welcome{Type: TypeWelcome, Text: text}
}

func newRejection(err error) Rejection {
	return Rejection{Type: TypeRejected, Reason: err.Error()}
}

func newPresence(kind string, conn Connection) Presence {
	return Presence{Type: kind, Name: conn.Name, Room: conn.Room}
}

func newRoster(room string, members []Connection) Roster {
	users := make([]RosterEntry, 0, len(members))
	for _, member := range members {
		users = append(users, RosterEntry{Name: member.Name})
	}
	return Roster{Type: TypeRoster, Room: room, Users: users}
}

func newRoomList(rooms []string) RoomList {
	if rooms == nil {
		rooms = []string{}
	}
	return RoomList{Type: TypeRooms, Rooms: rooms}
}

func encodeOutbound(event Outbound) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.outboundType(), err)
	}
	return payload, nil
}
