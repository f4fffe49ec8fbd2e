package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	intrnl "roomchat/internal"
	"roomchat/internal/storage"
)

const pruneInterval = time.Hour

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	chat   *intrnl.Server
	store  *storage.Store
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires handlers, opens the audit store unless it is disabled, and
// starts serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	cfg.Path = NormalizeWSPath(cfg.Path)

	var store *storage.Store
	if !AuditDisabled(cfg.DBPath) {
		if cfg.DBPath == "" {
			return nil, errors.New("database path is required (use \"off\" to disable the audit journal)")
		}
		opened, err := openStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		store = opened
	}

	chat := intrnl.NewServer(intrnl.ServerOptions{
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		AllowedTypes:      cfg.AllowedTypes,
		Store:             store,
		MessageBurst:      cfg.MessageBurst,
		MessageWindow:     cfg.MessageWindow,
	})
	mux := http.NewServeMux()
	registerHandlers(mux, cfg.Path, chat)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(chat.CloseConnections)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		chat.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		chat:   chat,
		store:  store,
		done:   make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	if store != nil && cfg.AuditRetention > 0 {
		go handle.pruneLoop(cfg.AuditRetention)
	}

	go handle.serve(listener)

	return handle, nil
}

func openStore(path string) (*storage.Store, error) {
	if isFilesystemPath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.chat.Close()
	if err := h.store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	h.err = err
}

// pruneLoop drops audit rows of connections that ended more than retention ago.
func (h *ServerHandle) pruneLoop(retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := h.store.PruneBefore(ctx, now.Add(-retention))
			cancel()
			if err != nil {
				log.Printf("audit prune error: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("audit prune removed %d connections", removed)
			}
		}
	}
}

func registerHandlers(mux *http.ServeMux, wsPath string, server *intrnl.Server) {
	mux.HandleFunc(wsPath, server.ServeWS)
	mux.HandleFunc("/health", server.HandleHealth)
	mux.HandleFunc("/rooms", server.HandleRooms)
	mux.HandleFunc("/exists", server.HandleRoomExists)
	mux.HandleFunc("/api/audit", server.HandleAudit)
	mux.Handle("/metrics", server.MetricsHandler())
}
