package internal

import (
	"context"
	"log"
	"sync"
	"time"

	"roomchat/internal/storage"
)

const (
	defaultAuditQueue = 1024
	auditWriteTimeout = 5 * time.Second
)

// Journal receives connection lifecycle facts. Calls must not block the
// caller on I/O.
type Journal interface {
	Opened(id, remoteAddr string, at time.Time)
	Record(event storage.AuditEvent)
	Closed(id string, at time.Time)
}

type auditJob func(ctx context.Context, store *storage.Store) error

// AuditWriter feeds a storage.Store from a single background goroutine so
// the Controller never waits on SQLite. Entries are dropped when the queue is
// full. A connection whose Opened entry was dropped is orphaned: its later
// entries are discarded until Closed, since the store would refuse them.
type AuditWriter struct {
	store    *storage.Store
	mutex    sync.Mutex
	closed   bool
	dropping bool
	dropped  uint64
	orphaned map[string]struct{}
	jobs     chan auditJob
	done     chan struct{}
}

func NewAuditWriter(store *storage.Store, queueSize int) *AuditWriter {
	if queueSize <= 0 {
		queueSize = defaultAuditQueue
	}
	writer := &AuditWriter{
		store:    store,
		orphaned: make(map[string]struct{}),
		jobs:     make(chan auditJob, queueSize),
		done:     make(chan struct{}),
	}
	go writer.run()
	return writer
}

func (w *AuditWriter) Opened(id, remoteAddr string, at time.Time) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.enqueueLocked(func(ctx context.Context, store *storage.Store) error {
		return store.OpenConnection(ctx, id, remoteAddr, at)
	}) {
		w.orphaned[id] = struct{}{}
	}
}

func (w *AuditWriter) Record(event storage.AuditEvent) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, orphan := w.orphaned[event.ConnectionID]; orphan {
		return
	}
	w.enqueueLocked(func(ctx context.Context, store *storage.Store) error {
		_, err := store.RecordEvent(ctx, event)
		return err
	})
}

func (w *AuditWriter) Closed(id string, at time.Time) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, orphan := w.orphaned[id]; orphan {
		delete(w.orphaned, id)
		return
	}
	w.enqueueLocked(func(ctx context.Context, store *storage.Store) error {
		return store.CloseConnection(ctx, id, at)
	})
}

// Dropped reports how many entries were discarded because the queue was full.
func (w *AuditWriter) Dropped() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.dropped
}

// Close stops accepting entries and waits until the queue has drained.
func (w *AuditWriter) Close() {
	w.mutex.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mutex.Unlock()
	<-w.done
}

// enqueueLocked reports whether job was queued. A full queue is logged once
// per run of consecutive drops. Callers hold w.mutex.
func (w *AuditWriter) enqueueLocked(job auditJob) bool {
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job:
		if w.dropping {
			log.Printf("audit: queue drained, %d entries dropped so far", w.dropped)
			w.dropping = false
		}
		return true
	default:
		w.dropped++
		if !w.dropping {
			log.Printf("audit: queue full, dropping entries")
			w.dropping = true
		}
		return false
	}
}

func (w *AuditWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := job(ctx, w.store); err != nil {
			log.Printf("audit: %v", err)
		}
		cancel()
	}
}
