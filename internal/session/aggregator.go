// Package session holds the single authoritative record of a live recording:
// accepted turns, enhanced buffers, and running metadata.
//
// The [Aggregator] is the only mutator; every other component interacts with
// it through its append-only methods or receives snapshots by value. Exactly
// one session exists per process at a time — it is created on pipeline start
// and remains snapshot-readable after stop until explicitly cleared.
package session

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// TurnSummary is the per-turn record kept in the session.
type TurnSummary struct {
	// Order is the server-assigned turn sequence number.
	Order uint32 `json:"order"`

	// Text is the final transcript of the turn.
	Text string `json:"text"`

	// Confidence is the end-of-turn confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// EnhancedBuffer pairs a buffer's raw combined text with its LLM-enhanced
// rewrite.
type EnhancedBuffer struct {
	// ID is the buffer id the texts belong to.
	ID uint32 `json:"id"`

	// Raw is the buffer's combined text before enhancement.
	Raw string `json:"raw"`

	// Enhanced is the polished rewrite.
	Enhanced string `json:"enhanced"`
}

// Metadata holds the running counters of a session.
type Metadata struct {
	// DurationS is the elapsed recording time in seconds.
	DurationS float64 `json:"duration_s"`

	// WordCount is the word-split length of the raw transcript.
	WordCount int `json:"word_count"`

	// ChunkCount is the number of PCM chunks streamed so far.
	ChunkCount int `json:"chunk_count"`

	// TurnCount is the number of accepted final turns.
	TurnCount int `json:"turn_count"`

	// SumConfidence and NConfidence accumulate per-turn confidences so the
	// average can be derived without rescanning turns.
	SumConfidence float64 `json:"sum_confidence"`
	NConfidence   int     `json:"n_confidence"`
}

// AverageConfidence returns SumConfidence / NConfidence, or 0 when no
// confidences have been recorded.
func (m Metadata) AverageConfidence() float64 {
	if m.NConfidence == 0 {
		return 0
	}
	return m.SumConfidence / float64(m.NConfidence)
}

// Session is a point-in-time snapshot of the aggregated recording state.
// All slices are copies; callers may retain and mutate them freely.
type Session struct {
	// ProjectID optionally associates the recording with a project.
	ProjectID string `json:"project_id,omitempty"`

	// RawTranscript is the space-joined text of all accepted final turns in
	// turn order.
	RawTranscript string `json:"raw_transcript"`

	// EnhancedTranscript is the space-joined enhanced text of all enhanced
	// buffers in buffer-id order.
	EnhancedTranscript string `json:"enhanced_transcript"`

	// Turns lists the accepted final turns in turn order.
	Turns []TurnSummary `json:"turns"`

	// EnhancedBuffers lists the enhanced buffers in buffer-id order.
	EnhancedBuffers []EnhancedBuffer `json:"enhanced_buffers"`

	// Metadata holds the running counters.
	Metadata Metadata `json:"metadata"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`
}

// Aggregator is the single-writer, many-reader owner of the session state.
// All methods are safe for concurrent use; none holds the lock across any
// blocking operation.
type Aggregator struct {
	mu     sync.Mutex
	active bool
	s      Session

	// now is injectable for deterministic tests.
	now func() time.Time
}

// Option is a functional option for configuring an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an empty, inactive Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start resets the session and marks it active. projectID may be empty.
func (a *Aggregator) Start(projectID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = Session{
		ProjectID: projectID,
		StartedAt: a.now(),
	}
	a.active = true
}

// Active reports whether a session has been started and not yet cleared.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// AddTurn records an accepted final turn. Callers must filter partials and
// duplicate finals; a turn order that is already present is ignored so the
// raw transcript stays append-only per order.
func (a *Aggregator) AddTurn(order uint32, text string, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, found := slices.BinarySearchFunc(a.s.Turns, order, func(t TurnSummary, o uint32) int {
		switch {
		case t.Order < o:
			return -1
		case t.Order > o:
			return 1
		default:
			return 0
		}
	})
	if found {
		return
	}
	a.s.Turns = slices.Insert(a.s.Turns, idx, TurnSummary{
		Order:      order,
		Text:       text,
		Confidence: confidence,
	})

	a.s.RawTranscript = joinTurns(a.s.Turns)
	a.s.Metadata.TurnCount = len(a.s.Turns)
	a.s.Metadata.WordCount = len(strings.Fields(a.s.RawTranscript))
	a.s.Metadata.SumConfidence += confidence
	a.s.Metadata.NConfidence++
}

// AddChunk increments the streamed PCM chunk counter.
func (a *Aggregator) AddChunk() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Metadata.ChunkCount++
}

// AddEnhancedBuffer records an enhanced buffer and rebuilds the enhanced
// transcript by ordered concatenation over all known buffers. Results may
// arrive in any order; re-adding an existing id replaces its texts, so the
// call is idempotent in effect on the enhanced transcript.
func (a *Aggregator) AddEnhancedBuffer(id uint32, raw, enhanced string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, found := slices.BinarySearchFunc(a.s.EnhancedBuffers, id, func(b EnhancedBuffer, want uint32) int {
		switch {
		case b.ID < want:
			return -1
		case b.ID > want:
			return 1
		default:
			return 0
		}
	})
	eb := EnhancedBuffer{ID: id, Raw: raw, Enhanced: enhanced}
	if found {
		a.s.EnhancedBuffers[idx] = eb
	} else {
		a.s.EnhancedBuffers = slices.Insert(a.s.EnhancedBuffers, idx, eb)
	}

	parts := make([]string, len(a.s.EnhancedBuffers))
	for i, b := range a.s.EnhancedBuffers {
		parts[i] = b.Enhanced
	}
	a.s.EnhancedTranscript = strings.Join(parts, " ")
}

// UpdateDuration refreshes the session's elapsed duration.
func (a *Aggregator) UpdateDuration() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.s.StartedAt.IsZero() {
		return
	}
	a.s.Metadata.DurationS = a.now().Sub(a.s.StartedAt).Seconds()
}

// Snapshot returns a deep copy of the current session state.
func (a *Aggregator) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.s
	out.Turns = slices.Clone(a.s.Turns)
	out.EnhancedBuffers = slices.Clone(a.s.EnhancedBuffers)
	return out
}

// Clear discards the session state and marks the aggregator inactive.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = Session{}
	a.active = false
}

// joinTurns space-joins the turn texts in order.
func joinTurns(turns []TurnSummary) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}
