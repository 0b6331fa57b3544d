// Package pipeline wires capture, transcription, buffering and the LLM
// agents into one supervised streaming pipeline.
package pipeline

import (
	"github.com/MrWong99/auricle/internal/agent/intel"
	"github.com/MrWong99/auricle/pkg/types"
)

// EventName identifies a pipeline event delivered to the [Sink].
type EventName string

// The events a running pipeline emits.
const (
	// EventTranscript carries a [TranscriptEvent] for every turn message,
	// partials included.
	EventTranscript EventName = "transcript"

	// EventEnhancedTranscript carries an enhance.EnhancedTranscript per
	// enhanced buffer.
	EventEnhancedTranscript EventName = "enhanced_transcript"

	// EventIntelligenceResult carries an [IntelligenceEvent] per completed
	// analysis.
	EventIntelligenceResult EventName = "intelligence_result"

	// EventTranscriptionStarted fires once the pipeline is running.
	EventTranscriptionStarted EventName = "transcription_started"

	// EventTranscriptionStopped fires once the pipeline has fully stopped.
	EventTranscriptionStopped EventName = "transcription_stopped"

	// EventTranscriptionError carries a string describing a terminal stream
	// failure.
	EventTranscriptionError EventName = "transcription_error"

	// EventSessionCleared fires when the session state is discarded.
	EventSessionCleared EventName = "session_cleared"
)

// TranscriptEvent is the payload of [EventTranscript].
type TranscriptEvent struct {
	types.Turn

	// IsPartial mirrors !EndOfTurn for consumers that key on it directly.
	IsPartial bool `json:"is_partial"`
}

// IntelligenceEvent is the payload of [EventIntelligenceResult].
type IntelligenceEvent struct {
	// BufferID identifies the analysed buffer.
	BufferID uint32 `json:"buffer_id"`

	// Kind names the analysis.
	Kind intel.Kind `json:"kind"`

	// Result is the completed analysis.
	Result *intel.Result `json:"result"`

	// AllComplete is true when this was the last outstanding analysis for
	// the buffer.
	AllComplete bool `json:"all_complete"`
}

// Sink receives pipeline events. Implementations must be safe for concurrent
// use and must not block: events are emitted from hot paths.
type Sink interface {
	Emit(name EventName, payload any)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(name EventName, payload any)

// Emit implements Sink.
func (f SinkFunc) Emit(name EventName, payload any) { f(name, payload) }

// NopSink discards all events.
var NopSink Sink = SinkFunc(func(EventName, any) {})
