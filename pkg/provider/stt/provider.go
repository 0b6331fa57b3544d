// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform duplex streaming interface. The central abstraction is
// [StreamHandle]: once opened, a stream consumes raw PCM chunks from the
// channel supplied by the caller and emits [types.Turn] values — repeated
// partials while an utterance is in progress and one authoritative final per
// turn.
//
// Implementations must be safe for concurrent use. The Turns channel is
// closed by the implementation when the stream ends, whether cleanly (the
// PCM channel closed and the service acknowledged termination) or on error.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/auricle/pkg/types"
)

// StreamConfig describes the audio format and turn-detection tuning for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. The stream carries signed
	// 16-bit little-endian mono samples at this rate.
	SampleRate int

	// FormatTurns requests formatted (punctuated, cased) final turns from
	// providers that support server-side formatting.
	FormatTurns bool

	// EndOfTurnConfidenceThreshold is the confidence above which the service
	// may commit a turn early. Zero uses the service default.
	EndOfTurnConfidenceThreshold float64

	// MinEndOfTurnSilenceWhenConfident is the minimum trailing silence before
	// a confident end-of-turn is committed. Zero uses the service default.
	MinEndOfTurnSilenceWhenConfident time.Duration

	// MaxTurnSilence is the silence duration after which a turn is committed
	// regardless of confidence. Zero uses the service default.
	MaxTurnSilence time.Duration
}

// StreamHandle represents an open duplex transcription stream.
//
// The handle owns two background roles: an uplink that serialises PCM chunks
// to the service and a downlink that decodes turn messages. Closing the PCM
// channel passed to [Provider.StartStream] initiates a clean shutdown: the
// uplink sends a termination message, and the downlink keeps reading until
// the service acknowledges. All methods are safe for concurrent use.
type StreamHandle interface {
	// Turns returns a read-only channel emitting turn messages in receipt
	// order. Both partials and finals are delivered; callers filter. The
	// channel is closed when the stream ends.
	Turns() <-chan types.Turn

	// Done returns a channel that is closed once both roles have exited and
	// the connection is released.
	Done() <-chan struct{}

	// Err returns the terminal stream error, or nil after a clean shutdown.
	// Only valid after Done is closed.
	Err() error

	// Close aborts the stream immediately without draining. It is safe to
	// call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a duplex transcription stream. The provider consumes
	// PCM chunks from pcm until it is closed, which triggers the clean
	// shutdown sequence. The supplied ctx governs the whole stream lifetime;
	// cancelling it aborts both roles.
	//
	// Returns an error if the connection cannot be established. The caller
	// owns the handle and must either drain Turns or call Close.
	StartStream(ctx context.Context, pcm <-chan []byte, cfg StreamConfig) (StreamHandle, error)
}
