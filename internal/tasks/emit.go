package tasks

import (
	"sync"

	"taskdeck/cli/internal/status"
)

// statusEmitter serializes status delivery for one task so the sink always
// ends on the record's latest status and never sees the same value twice in
// a row.
type statusEmitter struct {
	mu   sync.Mutex
	last status.Status
}

// markStatus records a status mutation. Caller holds Manager.mu for writing.
func (rec *taskRecord) markStatus() uint64 {
	rec.statusSeq++
	return rec.statusSeq
}

// publishStatus delivers snap taken at mutation seq. A snapshot overtaken by a
// newer mutation is dropped; the newer one is delivered by its own call.
func (m *Manager) publishStatus(rec *taskRecord, seq uint64, snap TaskSummary) {
	rec.emit.mu.Lock()
	defer rec.emit.mu.Unlock()
	m.mu.RLock()
	latest := rec.statusSeq
	m.mu.RUnlock()
	if seq != latest || rec.emit.last == snap.Status {
		return
	}
	rec.emit.last = snap.Status
	m.sink.StatusChanged(snap)
}
