package internal

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"roomchat/internal/storage"
)

// Identity and message limits, in bytes.
const (
	MaxNameLength    = 50
	MaxRoomLength    = 100
	MaxMessageLength = 5000
	MaxSignalSize    = 64 * 1024
)

// DefaultWelcome is sent to every connection right after it is registered.
const DefaultWelcome = "Welcome to roomchat! Pick a name and a room to start chatting."

// Rejection reasons. The error text is what the client sees.
var (
	ErrNameRequired   = errors.New("name required")
	ErrNameTooLong    = errors.New("name too long")
	ErrRoomRequired   = errors.New("room required")
	ErrRoomTooLong    = errors.New("room name too long")
	ErrInvalidText    = errors.New("invalid characters")
	ErrNotInRoom      = errors.New("not in a room")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrEmptySignal    = errors.New("empty signal")
	ErrSignalTooLarge = errors.New("signal too large")
)

// Controller applies inbound events to the Registry and emits the resulting
// traffic through the Dispatcher. Handle calls are serialized, so every event
// observes the state left by the previous one.
type Controller struct {
	mutex      sync.Mutex
	registry   *Registry
	dispatcher *Dispatcher
	validator  *AttachmentValidator
	metrics    *Metrics
	journal    Journal
	limiter    *RateLimiter
	now        func() time.Time
	welcome    string
}

type ControllerOption func(*Controller)

// WithClock replaces the clock used to stamp messages and audit rows.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

func WithJournal(journal Journal) ControllerOption {
	return func(c *Controller) {
		c.journal = journal
	}
}

// WithRateLimiter bounds message and activity events per connection.
func WithRateLimiter(limiter *RateLimiter) ControllerOption {
	return func(c *Controller) {
		c.limiter = limiter
	}
}

func WithWelcome(text string) ControllerOption {
	return func(c *Controller) {
		c.welcome = text
	}
}

func NewController(registry *Registry, dispatcher *Dispatcher, validator *AttachmentValidator, metrics *Metrics, opts ...ControllerOption) *Controller {
	if validator == nil {
		validator = NewAttachmentValidator(DefaultMaxAttachmentSize, DefaultAllowedTypes)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	controller := &Controller{
		registry:   registry,
		dispatcher: dispatcher,
		validator:  validator,
		metrics:    metrics,
		now:        time.Now,
		welcome:    DefaultWelcome,
	}
	for _, opt := range opts {
		opt(controller)
	}
	return controller
}

// Handle applies one inbound event for connection id. Errors describe
// protocol misuse or rejected input; the client has already been told when a
// rejection applies, so callers only need to log them.
func (c *Controller) Handle(id string, event Event) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch ev := event.(type) {
	case ConnectEvent:
		return c.connect(id, ev)
	case JoinEvent:
		return c.join(id, ev)
	case LeaveEvent:
		return c.leave(id)
	case MessageEvent:
		return c.message(id, ev)
	case ActivityEvent:
		return c.activity(id)
	case SignalEvent:
		return c.signal(id, ev)
	case DisconnectEvent:
		return c.disconnect(id)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}
}

func (c *Controller) connect(id string, ev ConnectEvent) error {
	if _, exists := c.registry.Get(id); exists {
		return nil
	}
	c.registry.Register(id)
	c.metrics.IncConn()
	if c.journal != nil {
		c.journal.Opened(id, ev.RemoteAddr, c.now())
	}
	c.dispatcher.SendTo(id, newWelcome(c.welcome))
	c.dispatcher.SendTo(id, newRoomList(c.registry.ActiveRooms()))
	log.Printf("connection %s registered from %s", id, ev.RemoteAddr)
	return nil
}

func (c *Controller) join(id string, ev JoinEvent) error {
	current, ok := c.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	name := strings.TrimSpace(ev.Name)
	room := strings.TrimSpace(ev.Room)
	if err := validateIdentity(name, room); err != nil {
		c.reject(current, err)
		return err
	}

	if current.Room == room {
		if _, err := c.registry.SetIdentity(id, name, room); err != nil {
			return err
		}
		c.dispatcher.SendTo(id, JoinAck{Type: TypeJoinAck, Name: name, Room: room})
		c.dispatcher.BroadcastRoom(room, newRoster(room, c.registry.MembersOf(room)), "")
		c.record("rename", Connection{ID: id, Name: name, Room: room}, current.Name)
		return nil
	}

	previous, err := c.registry.SetIdentity(id, name, room)
	if err != nil {
		return err
	}
	joined := Connection{ID: id, Name: name, Room: room}
	if previous.InRoom() {
		c.announceDeparture(previous)
	}
	c.dispatcher.BroadcastRoom(room, newPresence(TypeJoined, joined), id)
	c.dispatcher.SendTo(id, JoinAck{Type: TypeJoinAck, Name: name, Room: room})
	c.dispatcher.BroadcastRoom(room, newRoster(room, c.registry.MembersOf(room)), "")
	c.dispatcher.BroadcastAll(newRoomList(c.registry.ActiveRooms()))
	c.metrics.IncJoin()
	c.record(TypeJoin, joined, previous.Room)
	log.Printf("connection %s joined %q as %q", id, room, name)
	return nil
}

func (c *Controller) leave(id string) error {
	current, ok := c.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if !current.InRoom() {
		return nil
	}
	if _, err := c.registry.SetIdentity(id, current.Name, ""); err != nil {
		return err
	}
	c.announceDeparture(current)
	c.dispatcher.BroadcastAll(newRoomList(c.registry.ActiveRooms()))
	c.record(TypeLeave, current, "")
	log.Printf("connection %s left %q", id, current.Room)
	return nil
}

func (c *Controller) message(id string, ev MessageEvent) error {
	sender, ok := c.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if !sender.InRoom() {
		c.reject(sender, ErrNotInRoom)
		return ErrNotInRoom
	}
	if !c.allow(sender) {
		return ErrRateLimited
	}
	if strings.TrimSpace(ev.Text) == "" && ev.Attachment == nil {
		c.reject(sender, ErrEmptyMessage)
		return ErrEmptyMessage
	}
	if len(ev.Text) > MaxMessageLength {
		c.reject(sender, ErrMessageTooLong)
		return ErrMessageTooLong
	}
	if !utf8.ValidString(ev.Text) {
		c.reject(sender, ErrInvalidText)
		return ErrInvalidText
	}

	var attachment *Attachment
	if ev.Attachment != nil {
		if err := c.validator.Validate(ev.Attachment); err != nil {
			c.metrics.IncAttachmentRejected()
			log.Printf("connection %s: attachment %q (%s, %s) rejected: %v",
				id, ev.Attachment.Name, ev.Attachment.Type, humanize.IBytes(uint64(len(ev.Attachment.Data))), err)
			c.reject(sender, err)
			return err
		}
		attachment = &Attachment{
			Name: ev.Attachment.Name,
			Size: int64(len(ev.Attachment.Data)),
			Type: normalizeMediaType(ev.Attachment.Type),
			Data: ev.Attachment.Data,
		}
	}

	c.dispatcher.BroadcastRoom(sender.Room, ChatMessage{
		Type:       TypeMessage,
		Name:       sender.Name,
		Room:       sender.Room,
		Text:       ev.Text,
		Attachment: attachment,
		Timestamp:  c.now().UTC(),
	}, "")
	c.metrics.IncMessage()
	return nil
}

func (c *Controller) activity(id string) error {
	sender, ok := c.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if !sender.InRoom() {
		return ErrNotInRoom
	}
	if c.limiter != nil && !c.limiter.Allow(activityKey(id)) {
		c.metrics.IncRateLimited()
		return ErrRateLimited
	}
	c.dispatcher.BroadcastRoom(sender.Room, Activity{Type: TypeActivity, Name: sender.Name, Room: sender.Room}, id)
	return nil
}

// signal relays a negotiation payload to the sender's room. Signals are not
// rate limited: a single call setup emits a burst of ICE candidates.
func (c *Controller) signal(id string, ev SignalEvent) error {
	sender, ok := c.registry.Get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if !sender.InRoom() {
		return ErrNotInRoom
	}
	payload := bytes.TrimSpace(ev.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		c.reject(sender, ErrEmptySignal)
		return ErrEmptySignal
	}
	if len(payload) > MaxSignalSize {
		c.reject(sender, ErrSignalTooLarge)
		return ErrSignalTooLarge
	}
	c.dispatcher.BroadcastRoom(sender.Room, Signal{Type: TypeSignal, Name: sender.Name, Room: sender.Room, Payload: payload}, id)
	c.metrics.IncSignal()
	return nil
}

func (c *Controller) disconnect(id string) error {
	removed, ok := c.registry.Remove(id)
	c.dispatcher.Detach(id)
	if c.limiter != nil {
		c.limiter.Forget(id)
		c.limiter.Forget(activityKey(id))
	}
	if !ok {
		return nil
	}
	c.metrics.DecConn()
	if removed.InRoom() {
		c.announceDeparture(removed)
		c.dispatcher.BroadcastAll(newRoomList(c.registry.ActiveRooms()))
	}
	c.record("disconnect", removed, "")
	if c.journal != nil {
		c.journal.Closed(id, c.now())
	}
	log.Printf("connection %s disconnected", id)
	return nil
}

// announceDeparture tells the remaining members of conn.Room that conn left
// and refreshes their roster. The registry must already reflect the departure.
func (c *Controller) announceDeparture(conn Connection) {
	c.dispatcher.BroadcastRoom(conn.Room, newPresence(TypeLeft, conn), conn.ID)
	c.dispatcher.BroadcastRoom(conn.Room, newRoster(conn.Room, c.registry.MembersOf(conn.Room)), "")
}

// activityKey gives typing pings their own budget so they never push a
// sender's chat messages over the limit. Excess pings are dropped silently.
func activityKey(id string) string {
	return "activity:" + id
}

func (c *Controller) allow(sender Connection) bool {
	if c.limiter == nil || c.limiter.Allow(sender.ID) {
		return true
	}
	c.metrics.IncRateLimited()
	c.reject(sender, ErrRateLimited)
	return false
}

func (c *Controller) reject(conn Connection, reason error) {
	c.metrics.IncRejection()
	c.dispatcher.SendTo(conn.ID, newRejection(reason))
	c.record(TypeRejected, conn, reason.Error())
}

func (c *Controller) record(kind string, conn Connection, detail string) {
	if c.journal == nil {
		return
	}
	c.journal.Record(storage.AuditEvent{
		ConnectionID: conn.ID,
		Kind:         kind,
		Name:         conn.Name,
		Room:         conn.Room,
		Detail:       detail,
		CreatedAt:    c.now(),
	})
}

func validateIdentity(name, room string) error {
	switch {
	case name == "":
		return ErrNameRequired
	case len(name) > MaxNameLength:
		return ErrNameTooLong
	case room == "":
		return ErrRoomRequired
	case len(room) > MaxRoomLength:
		return ErrRoomTooLong
	case !utf8.ValidString(name), !utf8.ValidString(room):
		return ErrInvalidText
	}
	return nil
}
