package internal

import (
	"io"
	"net/http"
	"time"

	"roomchat/internal/storage"
)

// Default per-IP budget for websocket upgrades.
const (
	DefaultConnectWindow = time.Minute
	DefaultConnectBurst  = 30
)

// ServerOptions configures a Server. Zero values pick the defaults.
type ServerOptions struct {
	MaxAttachmentSize int64
	AllowedTypes      []string
	// Store enables the audit journal when non-nil.
	Store         *storage.Store
	MessageBurst  int
	MessageWindow time.Duration
	ConnectBurst  int
	ConnectWindow time.Duration
	Welcome       string
	Clock         func() time.Time
}

// Server owns one registry and everything wired around it. Each instance is
// independent; nothing is shared through package globals.
type Server struct {
	registry    *Registry
	dispatcher  *Dispatcher
	controller  *Controller
	validator   *AttachmentValidator
	metrics     *Metrics
	store       *storage.Store
	audit       *AuditWriter
	connLimiter *RateLimiter
	readLimit   int64
}

func NewServer(opts ServerOptions) *Server {
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = DefaultRateLimitBurst
	}
	if opts.MessageWindow <= 0 {
		opts.MessageWindow = DefaultRateLimitWindow
	}
	if opts.ConnectBurst <= 0 {
		opts.ConnectBurst = DefaultConnectBurst
	}
	if opts.ConnectWindow <= 0 {
		opts.ConnectWindow = DefaultConnectWindow
	}

	registry := NewRegistry()
	metrics := NewMetrics()
	dispatcher := NewDispatcher(registry, metrics)
	validator := NewAttachmentValidator(opts.MaxAttachmentSize, opts.AllowedTypes)

	controllerOpts := []ControllerOption{
		WithRateLimiter(NewRateLimiter(opts.MessageBurst, opts.MessageWindow)),
	}
	if opts.Welcome != "" {
		controllerOpts = append(controllerOpts, WithWelcome(opts.Welcome))
	}
	if opts.Clock != nil {
		controllerOpts = append(controllerOpts, WithClock(opts.Clock))
	}

	server := &Server{
		registry:    registry,
		dispatcher:  dispatcher,
		validator:   validator,
		metrics:     metrics,
		store:       opts.Store,
		connLimiter: NewRateLimiter(opts.ConnectBurst, opts.ConnectWindow),
		readLimit:   readLimitFor(validator.MaxSize()),
	}
	if opts.Store != nil {
		server.audit = NewAuditWriter(opts.Store, defaultAuditQueue)
		controllerOpts = append(controllerOpts, WithJournal(server.audit))
	}
	server.controller = NewController(registry, dispatcher, validator, metrics, controllerOpts...)
	return server
}

// Controller exposes the session controller, mainly for tests and embedding.
func (s *Server) Controller() *Controller {
	return s.controller
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// Close flushes the audit journal. The store itself is owned by the caller.
func (s *Server) Close() {
	if s.audit != nil {
		s.audit.Close()
	}
}

// CloseConnections closes every live websocket. Each read pump then runs the
// usual disconnect path.
func (s *Server) CloseConnections() {
	for _, sink := range s.dispatcher.Sinks() {
		if closer, ok := sink.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

// readLimitFor sizes the websocket read limit so a frame carrying an
// attachment just over maxAttachment, or a signal just over MaxSignalSize,
// still arrives and can be rejected with a reason instead of a dropped
// connection.
func readLimitFor(maxAttachment int64) int64 {
	return maxAttachment*2 + MaxSignalSize + 64*1024
}
