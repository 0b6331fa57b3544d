// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to feed a scripted sequence of turns into the
// pipeline without a live transcription service. The mock consumes the PCM
// channel like a real stream (recording received chunks) and emits the
// scripted turns on its Turns channel.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/types"
)

// Provider is a mock implementation of stt.Provider.
// Zero values cause StartStream to return an empty, immediately-ending stream.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// ScriptedTurns is the sequence of turns the stream emits, in order.
	ScriptedTurns []types.Turn

	// HoldTurns, when non-nil, delays turn emission until the channel is
	// closed. Useful for testing abort-before-first-turn paths.
	HoldTurns chan struct{}

	// HoldStart, when non-nil, blocks StartStream until the channel is
	// closed or ctx is cancelled. Useful for testing caller responsiveness
	// during a slow dial.
	HoldStart chan struct{}

	// StreamErr, if non-nil, is returned from StartStream directly.
	StreamErr error

	// TerminalErr, if non-nil, is reported by the stream's Err after the
	// scripted turns have been emitted.
	TerminalErr error

	// FailAfterTurns, when set, ends the stream right after the scripted
	// turns instead of staying open until the PCM channel closes. Combine
	// with TerminalErr to simulate a mid-session connection failure.
	FailAfterTurns bool

	// --- Call records (read after test) ---

	// Streams records every stream started, in order.
	Streams []*Stream
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, pcm <-chan []byte, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	p.mu.Lock()
	holdStart := p.HoldStart
	p.mu.Unlock()
	if holdStart != nil {
		select {
		case <-holdStart:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	s := &Stream{
		cfg:   cfg,
		turns: make(chan types.Turn, len(p.ScriptedTurns)+1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		err:   p.TerminalErr,
	}
	p.Streams = append(p.Streams, s)

	scripted := make([]types.Turn, len(p.ScriptedTurns))
	copy(scripted, p.ScriptedTurns)
	hold := p.HoldTurns
	failAfter := p.FailAfterTurns

	go s.run(ctx, pcm, scripted, hold, failAfter)
	return s, nil
}

// Stream is a scripted stt.StreamHandle returned by the mock provider.
type Stream struct {
	cfg   stt.StreamConfig
	turns chan types.Turn
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
	err   error

	mu  sync.Mutex
	pcm [][]byte
}

var _ stt.StreamHandle = (*Stream)(nil)

// Config returns the StreamConfig the stream was started with.
func (s *Stream) Config() stt.StreamConfig { return s.cfg }

// ReceivedChunks returns a copy of all PCM chunks consumed so far.
func (s *Stream) ReceivedChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.pcm))
	copy(out, s.pcm)
	return out
}

// Turns implements stt.StreamHandle.
func (s *Stream) Turns() <-chan types.Turn { return s.turns }

// Done implements stt.StreamHandle.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err implements stt.StreamHandle.
func (s *Stream) Err() error { return s.err }

// Close implements stt.StreamHandle.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// run drains the PCM channel, emits the scripted turns, and closes the
// stream the way a real provider would: turns first, then channel close,
// then Done once the "connection" is released.
func (s *Stream) run(ctx context.Context, pcm <-chan []byte, scripted []types.Turn, hold chan struct{}, failAfter bool) {
	defer close(s.done)
	defer close(s.turns)

	// Consume PCM in the background for the whole stream lifetime.
	uplinkDone := make(chan struct{})
	go func() {
		defer close(uplinkDone)
		for {
			select {
			case chunk, ok := <-pcm:
				if !ok {
					return
				}
				s.mu.Lock()
				s.pcm = append(s.pcm, chunk)
				s.mu.Unlock()
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}

	for _, turn := range scripted {
		select {
		case s.turns <- turn:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}

	// A failing stream drops dead right here, PCM side still open.
	if failAfter {
		return
	}

	// Keep the stream open until the caller closes the PCM channel or aborts,
	// mirroring a real session that stays live while audio flows.
	<-uplinkDone
}
