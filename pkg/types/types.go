// Package types defines the shared types used across all Auricle packages.
//
// These types form the lingua franca between the capture layer, the STT
// streaming client, the buffer manager, and the enhancement agents. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Turn is one speaker utterance unit produced by the STT service.
//
// The service emits the same TurnOrder repeatedly while the utterance is in
// progress; each message replaces the previous partial. A turn becomes
// authoritative when EndOfTurn is true — after that, no further message for
// the same TurnOrder is accepted by the pipeline.
type Turn struct {
	// TurnOrder is the server-assigned monotonic sequence number of this turn.
	TurnOrder uint32 `json:"turn_order"`

	// Transcript is the current text of the turn. Partial turns carry the
	// best guess so far; final turns carry the committed text.
	Transcript string `json:"transcript"`

	// EndOfTurn reports whether the service has committed to this text.
	EndOfTurn bool `json:"end_of_turn"`

	// Confidence is the service's end-of-turn confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Words contains per-word detail when the service provides it.
	Words []Word `json:"words,omitempty"`
}

// Word holds per-word metadata from STT services that support it.
type Word struct {
	// Text is the recognised word.
	Text string `json:"text"`

	// StartMs and EndMs bound the word on the audio timeline, in milliseconds
	// from session start.
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`

	// Confidence is the per-word recognition confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// IsFinal reports whether the service has committed to this word.
	IsFinal bool `json:"is_final"`
}
