package fsm

import (
	"context"
	"strings"
	"sync"
)

// Status describes the protocol-level state of one recognition session.
type Status string

const (
	StatusDisconnected  Status = "DISCONNECTED"
	StatusWaitingConfig Status = "WAITING_CONFIG"
	StatusIdle          Status = "IDLE"
	StatusListening     Status = "LISTENING"
	StatusAborted       Status = "ABORTED"

	StatusRecognized         Status = "RECOGNIZED"
	StatusNoMatch            Status = "NO_MATCH"
	StatusNoSpeech           Status = "NO_SPEECH"
	StatusNoInputTimeout     Status = "NO_INPUT_TIMEOUT"
	StatusRecognitionTimeout Status = "RECOGNITION_TIMEOUT"
	StatusMaxSpeech          Status = "MAX_SPEECH"
	StatusEarlySpeech        Status = "EARLY_SPEECH"
	StatusFailure            Status = "FAILURE"
	StatusCanceled           Status = "CANCELED"
)

var terminal = map[Status]struct{}{
	StatusRecognized:         {},
	StatusNoMatch:            {},
	StatusNoSpeech:           {},
	StatusNoInputTimeout:     {},
	StatusRecognitionTimeout: {},
	StatusMaxSpeech:          {},
	StatusEarlySpeech:        {},
	StatusFailure:            {},
	StatusCanceled:           {},
}

// Terminal reports whether s is a final recognition outcome.
func (s Status) Terminal() bool {
	_, ok := terminal[s]
	return ok
}

// ParseStatus maps a wire value onto a Status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusDisconnected, StatusWaitingConfig, StatusIdle, StatusListening, StatusAborted:
		return s, true
	}
	if s.Terminal() {
		return s, true
	}
	return "", false
}

// Snapshot is a consistent view of the machine. Ack counters only grow, so waiters
// compare against a value captured before sending the request.
type Snapshot struct {
	Status      Status
	GrammarAcks uint64
	CancelAcks  uint64
	Closed      bool
}

// Terminated reports whether the session can no longer make progress.
func (s Snapshot) Terminated() bool {
	return s.Closed || s.Status == StatusAborted
}

// Machine holds session status and wakes every waiter on each change.
type Machine struct {
	mu      sync.RWMutex
	snap    Snapshot
	changed chan struct{}
}

// New creates a closed, disconnected machine.
func New() *Machine {
	return &Machine{
		snap:    Snapshot{Status: StatusDisconnected, Closed: true},
		changed: make(chan struct{}),
	}
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.Snapshot().Status
}

// Transition moves to status.
func (m *Machine) Transition(status Status) {
	m.update(func(s *Snapshot) { s.Status = status })
}

// Open marks a fresh socket that has not finished its handshake. Ack counters
// are kept.
func (m *Machine) Open() {
	m.update(func(s *Snapshot) {
		s.Status = StatusDisconnected
		s.Closed = false
	})
}

// AckGrammar records one successful DEFINE_GRAMMAR.
func (m *Machine) AckGrammar() {
	m.update(func(s *Snapshot) { s.GrammarAcks++ })
}

// AckCancel records a CANCEL_RECOGNITION response and returns to IDLE.
func (m *Machine) AckCancel() {
	m.update(func(s *Snapshot) {
		s.CancelAcks++
		if !s.Closed && s.Status != StatusAborted {
			s.Status = StatusIdle
		}
	})
}

// Abort moves to ABORTED unless the socket is already closed.
func (m *Machine) Abort() {
	m.update(func(s *Snapshot) {
		if !s.Closed {
			s.Status = StatusAborted
		}
	})
}

// Close marks the socket gone.
func (m *Machine) Close() {
	m.update(func(s *Snapshot) {
		s.Status = StatusDisconnected
		s.Closed = true
	})
}

// Wait blocks until pred holds or ctx is done. The last observed snapshot is
// returned in both cases.
func (m *Machine) Wait(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		m.mu.RLock()
		snap, ch := m.snap, m.changed
		m.mu.RUnlock()
		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

func (m *Machine) update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}
