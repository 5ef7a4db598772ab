package server

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/aristath/tierindex/internal/events"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically checks system status and emits an event when it changes
type StatusMonitor struct {
	eventManager   events.Emitter
	systemHandlers *SystemHandlers
	log            zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	lastStatus   string
	lastProblems []string
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(eventManager events.Emitter, systemHandlers *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventManager:   eventManager,
		systemHandlers: systemHandlers,
		log:            log.With().Str("component", "status_monitor").Logger(),
		stop:           make(chan struct{}),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop ends monitoring. Safe to call more than once.
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check emits SYSTEM_STATUS_CHANGED when the status or its problems differ from the last check
func (m *StatusMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap := m.systemHandlers.snapshot(ctx)
	if snap.Status == m.lastStatus && reflect.DeepEqual(snap.Problems, m.lastProblems) {
		return
	}

	previous := m.lastStatus
	m.lastStatus = snap.Status
	m.lastProblems = snap.Problems

	m.log.Info().
		Str("status", snap.Status).
		Str("previous", previous).
		Strs("problems", snap.Problems).
		Msg("System status changed")

	if m.eventManager != nil {
		m.eventManager.EmitTyped(events.SystemStatusChanged, "status_monitor", &events.SystemStatusChangedData{
			Status:   snap.Status,
			Previous: previous,
			Problems: snap.Problems,
		})
	}
}
