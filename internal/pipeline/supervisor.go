package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/auricle/internal/agent/enhance"
	"github.com/MrWong99/auricle/internal/agent/intel"
	"github.com/MrWong99/auricle/internal/buffer"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/types"
)

// State is the supervisor's lifecycle state.
type State string

// The supervisor states. Transitions are strictly
// Idle → Starting → Running → Stopping → Idle.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Sentinel errors returned by [Supervisor.Start] and [Supervisor.Stop].
var (
	ErrAlreadyActive = errors.New("pipeline: already active")
	ErrNotRunning    = errors.New("pipeline: not running")
)

const (
	// pcmChannelCap bounds the capture-to-stream channel at roughly 500 ms of
	// audio. The capture callback drops chunks rather than block on a full
	// channel.
	pcmChannelCap = 10

	// recvTimeout is how long the turn router waits for a turn message before
	// logging an idle diagnostic. Idle streams are not an error.
	recvTimeout = 10 * time.Second

	// bufferPollInterval drives timed buffer flushes between turn messages.
	bufferPollInterval = time.Second

	// stopDrainGrace bounds how long Stop waits for the turn router to drain
	// the terminated stream before cancelling outright. In-flight LLM calls
	// are never awaited on stop; cancellation aborts them.
	stopDrainGrace = 250 * time.Millisecond
)

// CaptureHandle is the running capture device as seen by the supervisor.
type CaptureHandle interface {
	// Stop halts the audio callback. After Stop returns no further chunk is
	// written to the sink channel, so the caller may close it.
	Stop() error
}

// StartCaptureFunc opens the audio device and begins delivering PCM chunks
// to sink. The supervisor closes sink only after Stop on the returned handle
// has returned.
type StartCaptureFunc func(sink chan<- []byte) (CaptureHandle, error)

// Config assembles a Supervisor's collaborators and tuning.
type Config struct {
	// STT opens the transcription stream. Required.
	STT stt.Provider

	// StreamConfig is passed through to the STT provider.
	StreamConfig stt.StreamConfig

	// StartCapture opens the audio device. Required.
	StartCapture StartCaptureFunc

	// Enhancer rewrites flushed buffers. May be nil when refinement is
	// disabled.
	Enhancer *enhance.Enhancer

	// Analyzer runs intelligence analyses. May be nil when no analysis kind
	// is enabled.
	Analyzer *intel.Analyzer

	// Aggregator collects the session. Required.
	Aggregator *session.Aggregator

	// Sink receives pipeline events. Defaults to [NopSink].
	Sink Sink

	// Metrics instruments the pipeline. May be nil.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// RefinementMode selects the buffering policy.
	RefinementMode config.RefinementMode

	// ChunkDuration is the target buffer duration in chunked mode.
	ChunkDuration time.Duration

	// AnalysisKinds lists the intelligence analyses to run per buffer.
	AnalysisKinds []intel.Kind

	// ConcurrentAgents caps concurrently running LLM calls. Values below 1
	// are treated as 1.
	ConcurrentAgents int
}

// Supervisor owns the streaming pipeline: one capture device, one STT
// stream, the turn router and the agent worker pool. At most one pipeline
// runs at a time; the session outlives it until explicitly cleared.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	pcmIn   chan []byte
	capture CaptureHandle
	handle  stt.StreamHandle
	group   *errgroup.Group

	// turnsDone is closed when the turn router exits; groupDone when every
	// pipeline task has returned.
	turnsDone chan struct{}
	groupDone chan struct{}

	// pendingIntel tracks outstanding analyses per buffer so the last one
	// can be flagged all_complete.
	pendingMu    sync.Mutex
	pendingIntel map[uint32]int
}

// NewSupervisor creates an idle Supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Sink == nil {
		cfg.Sink = NopSink
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConcurrentAgents < 1 {
		cfg.ConcurrentAgents = 1
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the audio device and the STT stream and spawns the pipeline
// tasks. projectID may be empty. Returns [ErrAlreadyActive] unless the
// supervisor is idle.
//
// ctx governs startup only; the running pipeline is detached from it and is
// stopped via [Supervisor.Stop].
func (s *Supervisor) Start(ctx context.Context, projectID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.state = StateStarting
	s.mu.Unlock()

	// The device open and the stream dial run outside the lock so State and
	// Stop stay responsive while the WebSocket handshake is in flight.
	pcmIn := make(chan []byte, pcmChannelCap)
	pcmOut := make(chan []byte, pcmChannelCap)

	capture, err := s.cfg.StartCapture(pcmIn)
	if err != nil {
		s.abortStart()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle, err := s.cfg.STT.StartStream(runCtx, pcmOut, s.cfg.StreamConfig)
	if err != nil {
		capture.Stop()
		cancel()
		s.abortStart()
		return err
	}

	s.cfg.Aggregator.Start(projectID)

	g, gctx := errgroup.WithContext(runCtx)
	turnsDone := make(chan struct{})
	groupDone := make(chan struct{})

	// Publish the pipeline before spawning its tasks: a stream that fails
	// straight away must find the supervisor in Running so its teardown
	// proceeds.
	s.mu.Lock()
	s.cancel = cancel
	s.pcmIn = pcmIn
	s.capture = capture
	s.handle = handle
	s.group = g
	s.turnsDone = turnsDone
	s.groupDone = groupDone
	s.pendingIntel = make(map[uint32]int)
	s.state = StateRunning
	s.mu.Unlock()

	sem := semaphore.NewWeighted(int64(s.cfg.ConcurrentAgents))

	// Chunk forwarder: counts chunks into the session and decouples the
	// capture channel from the stream channel so Stop can close them in a
	// safe order.
	g.Go(func() error {
		defer close(pcmOut)
		for chunk := range pcmIn {
			s.cfg.Aggregator.AddChunk()
			select {
			case pcmOut <- chunk:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(turnsDone)
		s.routeTurns(gctx, g, sem, handle)
		return nil
	})

	go func() {
		_ = g.Wait()
		close(groupDone)
	}()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActivePipelines.Add(runCtx, 1)
	}
	s.cfg.Sink.Emit(EventTranscriptionStarted, map[string]string{"project_id": projectID})
	s.log.Info("pipeline started",
		"project_id", projectID,
		"refinement_mode", s.cfg.RefinementMode,
		"analyses", s.cfg.AnalysisKinds,
	)
	return nil
}

// abortStart rolls a failed Start back to idle.
func (s *Supervisor) abortStart() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// Stop shuts the pipeline down: capture first, then the PCM channel so the
// stream drains cleanly, then cancellation of whatever remains. In-flight
// LLM calls are aborted, not awaited, so Stop returns promptly. The session
// stays snapshot-readable afterwards.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	capture, pcmIn, handle := s.capture, s.pcmIn, s.handle
	cancel := s.cancel
	turnsDone, groupDone := s.turnsDone, s.groupDone
	s.mu.Unlock()

	// No chunk is produced after Stop returns, so closing the channel is
	// safe. The stream observes the close, sends its termination message and
	// drains the remaining turns.
	if err := capture.Stop(); err != nil {
		s.log.Warn("capture stop error", "err", err)
	}
	close(pcmIn)

	// One short grace for the router to drain the terminated stream, then
	// everything still in flight is cancelled.
	select {
	case <-turnsDone:
	case <-time.After(stopDrainGrace):
		s.log.Debug("turn router did not drain within grace, cancelling")
	}

	cancel()
	<-groupDone
	s.finishStop(ctx, handle)
	return nil
}

// stopFromStream tears a running pipeline down after the turn stream ended
// on its own — fatal read error or service-side termination. The stream is
// already gone, so there is no drain grace: capture is stopped and the
// remaining tasks are cancelled immediately. No-op unless the supervisor is
// Running; a stream closed by a concurrent Stop is left to that Stop.
func (s *Supervisor) stopFromStream() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	capture, pcmIn, handle := s.capture, s.pcmIn, s.handle
	cancel := s.cancel
	groupDone := s.groupDone
	s.mu.Unlock()

	if err := capture.Stop(); err != nil {
		s.log.Warn("capture stop error", "err", err)
	}
	close(pcmIn)
	cancel()
	<-groupDone
	s.finishStop(context.Background(), handle)
}

// finishStop releases the stream handle and publishes the idle state. The
// caller must have completed the Stopping transition and waited for every
// pipeline task to return.
func (s *Supervisor) finishStop(ctx context.Context, handle stt.StreamHandle) {
	_ = handle.Close()

	s.cfg.Aggregator.UpdateDuration()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActivePipelines.Add(ctx, -1)
	}
	s.cfg.Sink.Emit(EventTranscriptionStopped, nil)
	s.log.Info("pipeline stopped")

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// Snapshot returns the current session state. Valid in any supervisor state.
func (s *Supervisor) Snapshot() session.Session {
	return s.cfg.Aggregator.Snapshot()
}

// ClearSession discards the session. Returns [ErrAlreadyActive] while a
// pipeline is running; stop first.
func (s *Supervisor) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyActive
	}
	s.cfg.Aggregator.Clear()
	s.cfg.Sink.Emit(EventSessionCleared, nil)
	return nil
}

// routeTurns consumes the turn stream: every turn goes to the event sink,
// finals additionally feed the session and the buffer manager. Flushed
// buffers are dispatched to the agent workers.
func (s *Supervisor) routeTurns(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, handle stt.StreamHandle) {
	var mgr *buffer.Manager
	if s.cfg.RefinementMode != config.RefinementDisabled {
		mgr = buffer.New(s.cfg.RefinementMode, s.cfg.ChunkDuration)
	}
	seenFinal := make(map[uint32]bool)

	idle := time.NewTimer(recvTimeout)
	defer idle.Stop()
	poll := time.NewTicker(bufferPollInterval)
	defer poll.Stop()

	flushRemaining := func() {
		if mgr == nil {
			return
		}
		if b := mgr.FlushAll(); b != nil {
			s.dispatchBuffer(ctx, g, sem, b)
		}
	}

	for {
		select {
		case turn, ok := <-handle.Turns():
			if !ok {
				if err := handle.Err(); err != nil {
					s.log.Error("transcription stream failed", "error", err)
					s.cfg.Sink.Emit(EventTranscriptionError, err.Error())
				}
				flushRemaining()
				// The stream ended without Stop being called; the pipeline
				// must not keep running against a dead stream. Teardown runs
				// off the errgroup so the group can be waited on.
				go s.stopFromStream()
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(recvTimeout)

			s.handleTurn(ctx, g, sem, mgr, seenFinal, turn)
			if mgr != nil {
				if b := mgr.Poll(); b != nil {
					s.dispatchBuffer(ctx, g, sem, b)
				}
			}

		case <-poll.C:
			if mgr != nil {
				if b := mgr.Poll(); b != nil {
					s.dispatchBuffer(ctx, g, sem, b)
				}
			}

		case <-idle.C:
			s.log.Debug("no speech detected")
			idle.Reset(recvTimeout)

		case <-ctx.Done():
			flushRemaining()
			return
		}
	}
}

// handleTurn processes one turn message from the stream.
func (s *Supervisor) handleTurn(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, mgr *buffer.Manager, seenFinal map[uint32]bool, turn types.Turn) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TurnsReceived.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("final", turn.EndOfTurn)))
	}
	s.cfg.Sink.Emit(EventTranscript, TranscriptEvent{Turn: turn, IsPartial: !turn.EndOfTurn})

	if !turn.EndOfTurn {
		return
	}
	// The service may re-send a final for an order it already committed;
	// the first one wins.
	if seenFinal[turn.TurnOrder] {
		s.log.Debug("duplicate final turn ignored", "turn_order", turn.TurnOrder)
		return
	}
	seenFinal[turn.TurnOrder] = true

	s.cfg.Aggregator.AddTurn(turn.TurnOrder, turn.Transcript, turn.Confidence)

	if mgr == nil {
		return
	}
	if b := mgr.Append(turn.Transcript, true); b != nil {
		s.dispatchBuffer(ctx, g, sem, b)
	}
}

// dispatchBuffer hands a sealed buffer to the enhancement worker and one
// intelligence worker per enabled analysis kind, all bounded by the shared
// semaphore. Workers never fail the pipeline; errors are logged and the
// result discarded.
func (s *Supervisor) dispatchBuffer(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, buf *buffer.Buffer) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BuffersFlushed.Add(ctx, 1)
	}
	s.log.Debug("buffer flushed",
		"buffer_id", buf.ID,
		"turns", len(buf.Texts),
		"duration", buf.Duration(time.Now()),
	)

	if s.cfg.Enhancer != nil {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			s.enhanceBuffer(ctx, buf)
			return nil
		})
	}

	if s.cfg.Analyzer != nil && len(s.cfg.AnalysisKinds) > 0 {
		s.pendingMu.Lock()
		s.pendingIntel[buf.ID] = len(s.cfg.AnalysisKinds)
		s.pendingMu.Unlock()

		for _, kind := range s.cfg.AnalysisKinds {
			g.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					s.finishIntel(buf.ID)
					return nil
				}
				defer sem.Release(1)
				s.analyzeBuffer(ctx, kind, buf)
				return nil
			})
		}
	}
}

func (s *Supervisor) enhanceBuffer(ctx context.Context, buf *buffer.Buffer) {
	res, err := s.cfg.Enhancer.Enhance(ctx, buf)
	if err != nil {
		s.log.Error("buffer enhancement failed", "buffer_id", buf.ID, "error", err)
		return
	}
	s.cfg.Aggregator.AddEnhancedBuffer(res.BufferID, res.RawText, res.EnhancedText)
	s.cfg.Sink.Emit(EventEnhancedTranscript, res)
}

func (s *Supervisor) analyzeBuffer(ctx context.Context, kind intel.Kind, buf *buffer.Buffer) {
	res, err := s.cfg.Analyzer.Analyze(ctx, kind, buf)
	last := s.finishIntel(buf.ID)
	if err != nil {
		s.log.Error("intelligence analysis failed",
			"buffer_id", buf.ID, "kind", kind, "error", err)
		return
	}
	s.cfg.Sink.Emit(EventIntelligenceResult, IntelligenceEvent{
		BufferID:    buf.ID,
		Kind:        kind,
		Result:      res,
		AllComplete: last,
	})
}

// finishIntel decrements the buffer's outstanding-analysis count and reports
// whether this was the last one.
func (s *Supervisor) finishIntel(bufferID uint32) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingIntel[bufferID]--
	if s.pendingIntel[bufferID] <= 0 {
		delete(s.pendingIntel, bufferID)
		return true
	}
	return false
}
