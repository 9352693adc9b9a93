package monitor

import (
	"context"
	"sync"
)

// MemoryAuditStore keeps audit records in memory. Used in tests and when no
// database is configured.
type MemoryAuditStore struct {
	mu      sync.Mutex
	alerts  []Alert
	reports []*Report
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (m *MemoryAuditStore) RecordAlert(ctx context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *MemoryAuditStore) RecordReport(ctx context.Context, report *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

// Alerts returns a copy of all recorded alerts, oldest first.
func (m *MemoryAuditStore) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Reports returns a copy of all recorded reports, oldest first.
func (m *MemoryAuditStore) Reports() []*Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Report(nil), m.reports...)
}
