package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	activeConns         atomic.Int64
	joins               atomic.Uint64
	messages            atomic.Uint64
	signals             atomic.Uint64
	rejections          atomic.Uint64
	attachmentsRejected atomic.Uint64
	deliveriesDropped   atomic.Uint64
	rateLimited         atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncJoin() {
	m.joins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncSignal() {
	m.signals.Add(1)
}

func (m *Metrics) IncRejection() {
	m.rejections.Add(1)
}

func (m *Metrics) IncAttachmentRejected() {
	m.attachmentsRejected.Add(1)
}

func (m *Metrics) IncDropped() {
	m.deliveriesDropped.Add(1)
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

// Snapshot returns the current counter values keyed by their JSON names.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"active_connections":   m.activeConns.Load(),
		"joins_total":          m.joins.Load(),
		"messages_total":       m.messages.Load(),
		"signals_total":        m.signals.Load(),
		"rejections_total":     m.rejections.Load(),
		"attachments_rejected": m.attachmentsRejected.Load(),
		"deliveries_dropped":   m.deliveriesDropped.Load(),
		"rate_limited_total":   m.rateLimited.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
