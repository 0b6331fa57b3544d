// Package buffer aggregates finalized transcription turns into time- or
// turn-bounded buffers, the unit of work handed to the LLM agents.
//
// The manager is single-writer by design: only the pipeline's turn-routing
// task calls it, so no internal locking is needed. Callers filter partial
// turns before appending — the manager only ever sees accepted finals.
package buffer

import (
	"strings"
	"time"

	"github.com/MrWong99/auricle/internal/config"
)

// Buffer is a locally-aggregated group of finalized turns. It is mutated
// only by the [Manager] that created it; once IsComplete is set at flush the
// buffer is immutable and ownership transfers to the consumer.
type Buffer struct {
	// ID is the locally-assigned monotonic buffer id, starting at 1.
	ID uint32

	// Texts holds the transcript of each appended turn, in append order.
	Texts []string

	// StartTime is when the first turn was appended; EndTime is set at flush.
	StartTime time.Time
	EndTime   time.Time

	// IsComplete reports whether the buffer has been sealed by a flush.
	IsComplete bool
}

// CombinedText returns the buffer's turns joined with single spaces.
func (b *Buffer) CombinedText() string {
	return strings.Join(b.Texts, " ")
}

// Duration returns the buffer's age at seal time, or against now for an
// unsealed buffer.
func (b *Buffer) Duration(now time.Time) time.Duration {
	if b.IsComplete {
		return b.EndTime.Sub(b.StartTime)
	}
	return now.Sub(b.StartTime)
}

// Manager implements the buffering policy. Not safe for concurrent use;
// the owning task serialises all calls.
type Manager struct {
	mode     config.RefinementMode
	chunkDur time.Duration

	nextID  uint32
	current *Buffer

	// lastEndOfTurn records whether the most recently appended turn ended an
	// utterance; the half-duration flush rule only applies then.
	lastEndOfTurn bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager for the given refinement mode. chunkDuration is only
// consulted in chunked mode. A Manager must not be created in disabled mode;
// the pipeline skips buffering entirely instead.
func New(mode config.RefinementMode, chunkDuration time.Duration, opts ...Option) *Manager {
	m := &Manager{
		mode:     mode,
		chunkDur: chunkDuration,
		nextID:   1,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Append adds the transcript of an accepted final turn to the current buffer,
// creating one when none is open. It returns the sealed buffer when the
// append triggered a flush, or nil when the buffer stays open.
//
// Empty and whitespace-only transcripts are skipped entirely — they neither
// open a buffer nor age an existing one.
//
// Flush rules:
//   - realtime: every append flushes, so each buffer holds exactly one turn.
//   - chunked: flush when the buffer's age reaches the chunk duration, or
//     when the turn ended an utterance and the age reached half of it.
func (m *Manager) Append(text string, endOfTurn bool) *Buffer {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	now := m.now()
	if m.current == nil {
		m.current = &Buffer{
			ID:        m.nextID,
			StartTime: now,
		}
		m.nextID++
	}
	m.current.Texts = append(m.current.Texts, text)
	m.lastEndOfTurn = endOfTurn

	if m.shouldFlush(now) {
		return m.flush(now)
	}
	return nil
}

// Poll re-evaluates the flush rules against the current time without
// appending. The owning task calls it periodically and on every received
// turn message so that an aged buffer is flushed even when no further final
// turns arrive. Returns the sealed buffer or nil.
func (m *Manager) Poll() *Buffer {
	if m.current == nil {
		return nil
	}
	now := m.now()
	if m.shouldFlush(now) {
		return m.flush(now)
	}
	return nil
}

// FlushAll seals and returns the in-progress buffer, or nil when none is
// open. Called on pipeline stop so partial buffers are not lost.
func (m *Manager) FlushAll() *Buffer {
	if m.current == nil {
		return nil
	}
	return m.flush(m.now())
}

// NextID returns the id the next created buffer will receive.
func (m *Manager) NextID() uint32 { return m.nextID }

// shouldFlush applies the mode-specific flush policy to the current buffer.
func (m *Manager) shouldFlush(now time.Time) bool {
	if m.mode == config.RefinementRealtime {
		return true
	}
	age := now.Sub(m.current.StartTime)
	if age >= m.chunkDur {
		return true
	}
	return m.lastEndOfTurn && age >= m.chunkDur/2
}

// flush seals the current buffer and detaches it from the manager.
func (m *Manager) flush(now time.Time) *Buffer {
	b := m.current
	b.EndTime = now
	b.IsComplete = true
	m.current = nil
	return b
}
