package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/agent/enhance"
	"github.com/MrWong99/auricle/internal/agent/intel"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/auricle/pkg/provider/stt/mock"
	"github.com/MrWong99/auricle/pkg/types"
)

type fakeCapture struct{ stopped atomic.Bool }

func (c *fakeCapture) Stop() error {
	c.stopped.Store(true)
	return nil
}

type recordedEvent struct {
	Name    EventName
	Payload any
}

// recordSink captures emitted events for later assertions.
type recordSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordSink) Emit(name EventName, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Name: name, Payload: payload})
}

func (r *recordSink) byName(name EventName) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func finalTurn(order uint32, text string) types.Turn {
	return types.Turn{TurnOrder: order, Transcript: text, EndOfTurn: true, Confidence: 0.9}
}

func partialTurn(order uint32, text string) types.Turn {
	return types.Turn{TurnOrder: order, Transcript: text, EndOfTurn: false}
}

func testConfig(sttp *sttmock.Provider, sink Sink) Config {
	return Config{
		STT:            sttp,
		StartCapture:   func(chan<- []byte) (CaptureHandle, error) { return &fakeCapture{}, nil },
		Aggregator:     session.NewAggregator(),
		Sink:           sink,
		RefinementMode: config.RefinementDisabled,
	}
}

func TestRealtimeModeEnhancesEachFinal(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{
			finalTurn(1, "first turn"),
			finalTurn(2, "second turn"),
			finalTurn(3, "third turn"),
		},
	}
	llmp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "polished", FinishReason: llm.FinishReasonStop}},
	}
	sink := &recordSink{}

	cfg := testConfig(sttp, sink)
	cfg.RefinementMode = config.RefinementRealtime
	cfg.Enhancer = enhance.New(llmp, nil, nil)
	cfg.ConcurrentAgents = 2
	sup := NewSupervisor(cfg)

	if err := sup.Start(context.Background(), "proj"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "all turns aggregated", func() bool {
		return sup.Snapshot().Metadata.TurnCount == 3
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	s := sup.Snapshot()
	if want := "first turn second turn third turn"; s.RawTranscript != want {
		t.Errorf("RawTranscript = %q, want %q", s.RawTranscript, want)
	}
	if len(s.EnhancedBuffers) != 3 {
		t.Fatalf("len(EnhancedBuffers) = %d, want 3", len(s.EnhancedBuffers))
	}
	if want := "polished polished polished"; s.EnhancedTranscript != want {
		t.Errorf("EnhancedTranscript = %q, want %q", s.EnhancedTranscript, want)
	}
	if got := len(sink.byName(EventEnhancedTranscript)); got != 3 {
		t.Errorf("enhanced_transcript events = %d, want 3", got)
	}
}

func TestPartialsReachSinkButNotSession(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{
			partialTurn(1, "hel"),
			partialTurn(1, "hello wor"),
			finalTurn(1, "Hello world."),
		},
	}
	sink := &recordSink{}
	sup := NewSupervisor(testConfig(sttp, sink))

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "final turn aggregated", func() bool {
		return sup.Snapshot().Metadata.TurnCount == 1
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	s := sup.Snapshot()
	if s.RawTranscript != "Hello world." {
		t.Errorf("RawTranscript = %q, want final text only", s.RawTranscript)
	}

	events := sink.byName(EventTranscript)
	if len(events) != 3 {
		t.Fatalf("transcript events = %d, want 3", len(events))
	}
	partials := 0
	for _, e := range events {
		if e.Payload.(TranscriptEvent).IsPartial {
			partials++
		}
	}
	if partials != 2 {
		t.Errorf("partial events = %d, want 2", partials)
	}
}

func TestDuplicateFinalIgnored(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{
			finalTurn(1, "the committed text"),
			finalTurn(1, "a conflicting re-send"),
			finalTurn(2, "next turn"),
		},
	}
	sink := &recordSink{}
	sup := NewSupervisor(testConfig(sttp, sink))

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "both orders aggregated", func() bool {
		return sup.Snapshot().Metadata.TurnCount == 2
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sup.Snapshot().RawTranscript; got != "the committed text next turn" {
		t.Errorf("RawTranscript = %q, want first final kept", got)
	}
}

func TestIntelligenceAllComplete(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{finalTurn(1, "we will ship by friday")},
	}
	intelLLM := &llmmock.Provider{
		StreamFunc: func(req llm.CompletionRequest) []llm.Chunk {
			prompt := req.Messages[0].Content
			body := `{}`
			if strings.Contains(prompt, `"overall"`) {
				body = `{"overall": "neutral", "confidence": 0.5}`
			}
			return []llm.Chunk{{Text: body, FinishReason: llm.FinishReasonStop}}
		},
	}
	sink := &recordSink{}

	cfg := testConfig(sttp, sink)
	cfg.RefinementMode = config.RefinementRealtime
	cfg.Analyzer = intel.New(intelLLM, nil, nil)
	cfg.AnalysisKinds = []intel.Kind{intel.KindSentiment, intel.KindSummary}
	cfg.ConcurrentAgents = 2
	sup := NewSupervisor(cfg)

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "both analyses emitted", func() bool {
		return len(sink.byName(EventIntelligenceResult)) == 2
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := sink.byName(EventIntelligenceResult)
	if len(events) != 2 {
		t.Fatalf("intelligence events = %d, want 2", len(events))
	}
	var lastComplete int
	for _, e := range events {
		ev := e.Payload.(IntelligenceEvent)
		if ev.BufferID != 1 {
			t.Errorf("BufferID = %d, want 1", ev.BufferID)
		}
		if ev.Result == nil {
			t.Fatal("Result is nil")
		}
		if ev.AllComplete {
			lastComplete++
		}
	}
	if lastComplete != 1 {
		t.Errorf("events with all_complete = %d, want exactly 1", lastComplete)
	}
}

func TestStopLifecycle(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{finalTurn(1, "only turn")},
	}
	sink := &recordSink{}
	sup := NewSupervisor(testConfig(sttp, sink))

	if sup.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", sup.State())
	}
	if err := sup.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() on idle = %v, want ErrNotRunning", err)
	}

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sup.State() != StateRunning {
		t.Fatalf("State() = %v, want running", sup.State())
	}
	if err := sup.Start(context.Background(), ""); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start() = %v, want ErrAlreadyActive", err)
	}
	if err := sup.ClearSession(); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("ClearSession() while running = %v, want ErrAlreadyActive", err)
	}

	waitFor(t, "turn aggregated", func() bool {
		return sup.Snapshot().Metadata.TurnCount == 1
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sup.State() != StateIdle {
		t.Fatalf("State() after Stop = %v, want idle", sup.State())
	}

	if len(sink.byName(EventTranscriptionStarted)) != 1 {
		t.Error("missing transcription_started event")
	}
	if len(sink.byName(EventTranscriptionStopped)) != 1 {
		t.Error("missing transcription_stopped event")
	}

	// Session stays readable after stop, until explicitly cleared.
	if got := sup.Snapshot().RawTranscript; got != "only turn" {
		t.Errorf("post-stop RawTranscript = %q", got)
	}
	if err := sup.ClearSession(); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if got := sup.Snapshot().RawTranscript; got != "" {
		t.Errorf("post-clear RawTranscript = %q, want empty", got)
	}
	if len(sink.byName(EventSessionCleared)) != 1 {
		t.Error("missing session_cleared event")
	}

	// The supervisor is reusable after a full cycle.
	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("restart Stop() error = %v", err)
	}
}

func TestStreamTerminalErrorEmitted(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{finalTurn(1, "before failure")},
		TerminalErr:   errors.New("websocket: close 4001"),
	}
	sink := &recordSink{}
	sup := NewSupervisor(testConfig(sttp, sink))

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "turn aggregated", func() bool {
		return sup.Snapshot().Metadata.TurnCount == 1
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := sink.byName(EventTranscriptionError)
	if len(events) != 1 {
		t.Fatalf("transcription_error events = %d, want 1", len(events))
	}
	if msg := events[0].Payload.(string); !strings.Contains(msg, "4001") {
		t.Errorf("error payload = %q", msg)
	}
}

func TestStreamFailureStopsPipeline(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns:  []types.Turn{finalTurn(1, "before failure")},
		TerminalErr:    errors.New("assemblyai: read: websocket i/o failure"),
		FailAfterTurns: true,
	}
	sink := &recordSink{}
	fc := &fakeCapture{}
	cfg := testConfig(sttp, sink)
	cfg.StartCapture = func(chan<- []byte) (CaptureHandle, error) { return fc, nil }
	sup := NewSupervisor(cfg)

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Nobody calls Stop: the supervisor must tear itself down when the
	// stream dies, releasing the capture device on the way.
	waitFor(t, "self-stop after stream failure", func() bool {
		return sup.State() == StateIdle
	})
	if !fc.stopped.Load() {
		t.Error("capture device still hot after stream failure")
	}
	if err := sup.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() after self-stop = %v, want ErrNotRunning", err)
	}

	if got := len(sink.byName(EventTranscriptionError)); got != 1 {
		t.Errorf("transcription_error events = %d, want 1", got)
	}
	if got := len(sink.byName(EventTranscriptionStopped)); got != 1 {
		t.Errorf("transcription_stopped events = %d, want 1", got)
	}

	// Turns received before the failure survive in the session.
	if got := sup.Snapshot().RawTranscript; got != "before failure" {
		t.Errorf("RawTranscript = %q, want turn kept", got)
	}

	// The supervisor is reusable after a failure teardown.
	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitFor(t, "second self-stop", func() bool {
		return sup.State() == StateIdle
	})
}

func TestStopAbortsInFlightLLMCalls(t *testing.T) {
	sttp := &sttmock.Provider{
		ScriptedTurns: []types.Turn{finalTurn(1, "one turn")},
	}
	llmp := &llmmock.Provider{
		HoldStream:   make(chan struct{}),
		StreamChunks: []llm.Chunk{{Text: "never delivered", FinishReason: llm.FinishReasonStop}},
	}
	sink := &recordSink{}

	cfg := testConfig(sttp, sink)
	cfg.RefinementMode = config.RefinementRealtime
	cfg.Enhancer = enhance.New(llmp, nil, nil)
	sup := NewSupervisor(cfg)

	if err := sup.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "enhancement in flight", func() bool {
		return llmp.StreamCallCount() == 1
	})

	// Stop must cancel the blocked completion rather than wait it out.
	begin := time.Now()
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(begin); elapsed >= 500*time.Millisecond {
		t.Errorf("Stop() took %v with an in-flight completion, want < 500ms", elapsed)
	}
}

func TestStateResponsiveDuringDial(t *testing.T) {
	dial := make(chan struct{})
	sttp := &sttmock.Provider{HoldStart: dial}
	sup := NewSupervisor(testConfig(sttp, &recordSink{}))

	started := make(chan error, 1)
	go func() { started <- sup.Start(context.Background(), "") }()

	// State must answer while the dial is blocked, and concurrent Start and
	// Stop calls must fail fast rather than queue behind it.
	waitFor(t, "starting state observed", func() bool {
		return sup.State() == StateStarting
	})
	if err := sup.Start(context.Background(), ""); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("Start() during dial = %v, want ErrAlreadyActive", err)
	}
	if err := sup.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() during dial = %v, want ErrNotRunning", err)
	}

	close(dial)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sup.State() != StateRunning {
		t.Fatalf("State() = %v, want running", sup.State())
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStartFailsWhenCaptureFails(t *testing.T) {
	sttp := &sttmock.Provider{}
	cfg := testConfig(sttp, &recordSink{})
	cfg.StartCapture = func(chan<- []byte) (CaptureHandle, error) {
		return nil, errors.New("no such device")
	}
	sup := NewSupervisor(cfg)

	if err := sup.Start(context.Background(), ""); err == nil {
		t.Fatal("Start() = nil, want capture failure")
	}
	if sup.State() != StateIdle {
		t.Errorf("State() = %v, want idle after failed start", sup.State())
	}
}

func TestStartFailsWhenStreamFails(t *testing.T) {
	sttp := &sttmock.Provider{StreamErr: errors.New("dial: 401 unauthorized")}
	sup := NewSupervisor(testConfig(sttp, &recordSink{}))

	if err := sup.Start(context.Background(), ""); err == nil {
		t.Fatal("Start() = nil, want stream failure")
	}
	if sup.State() != StateIdle {
		t.Errorf("State() = %v, want idle after failed start", sup.State())
	}
}
