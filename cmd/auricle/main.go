// Command auricle is the live meeting transcription and enhancement pipeline.
//
// It captures microphone audio, streams it to a speech-to-text service, and
// runs LLM agents over the finalized transcript: per-buffer enhancement plus
// optional business-intelligence analyses. Events are written to stdout as
// JSON lines; the final session is optionally refined and persisted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auricle/internal/agent/enhance"
	"github.com/MrWong99/auricle/internal/agent/intel"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/pkg/audio/capture"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/llm/anyllm"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/provider/stt/assemblyai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "list audio input devices and exit")
	projectID := flag.String("project", "", "project id to tag the recording with")
	flag.Parse()

	if *listDevices {
		return runListDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"refinement_mode", cfg.Refinement.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.Default()
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProvider, err := buildSTTProvider(cfg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}

	var llmProvider llm.Provider
	if cfg.Providers.LLM.Name != "" {
		llmProvider, err = buildLLMProvider(cfg)
		if err != nil {
			slog.Error("failed to build llm provider", "err", err)
			return 1
		}
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	}

	// ── Recordings store (optional) ───────────────────────────────────────────
	var recordings *store.Store
	if cfg.Storage.PostgresDSN != "" {
		recordings, err = store.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to open recordings store", "err", err)
			return 1
		}
		defer recordings.Close()
		slog.Info("recordings store connected")
	}

	// ── Pipeline assembly ─────────────────────────────────────────────────────
	// The device callback must stay allocation-free, so drops land on an
	// atomic and are flushed to the OTel counter off the callback thread.
	drops := observe.NewDropCounter(metrics.PCMChunksDropped)
	go drops.FlushEvery(ctx, time.Second)

	var enhancer *enhance.Enhancer
	if llmProvider != nil && cfg.Refinement.Mode != config.RefinementDisabled {
		enhancer = enhance.New(llmProvider, metrics, logger)
	}

	var analyzer *intel.Analyzer
	kinds := make([]intel.Kind, 0, len(cfg.Intelligence.Enabled))
	if llmProvider != nil && len(cfg.Intelligence.Enabled) > 0 {
		for _, name := range cfg.Intelligence.Enabled {
			kind, err := intel.ParseKind(name)
			if err != nil {
				slog.Error("invalid analysis kind", "err", err)
				return 1
			}
			kinds = append(kinds, kind)
		}
		analyzer = intel.New(llmProvider, metrics, logger)
	}

	sup := pipeline.NewSupervisor(pipeline.Config{
		STT: sttProvider,
		StreamConfig: stt.StreamConfig{
			SampleRate:  cfg.Capture.SampleRate,
			FormatTurns: true,
		},
		StartCapture: func(sink chan<- []byte) (pipeline.CaptureHandle, error) {
			return capture.Start(capture.Config{
				DeviceID:   cfg.Capture.DeviceID,
				SampleRate: cfg.Capture.SampleRate,
				Channels:   cfg.Capture.Channels,
				OnDrop:     drops.Count,
			}, sink)
		},
		Enhancer:         enhancer,
		Analyzer:         analyzer,
		Aggregator:       session.NewAggregator(),
		Sink:             newStdoutSink(),
		Metrics:          metrics,
		Logger:           logger,
		RefinementMode:   cfg.Refinement.Mode,
		ChunkDuration:    time.Duration(cfg.Refinement.ChunkDurationSecs) * time.Second,
		AnalysisKinds:    kinds,
		ConcurrentAgents: cfg.Intelligence.ConcurrentAgents,
	})

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	if err := sup.Start(ctx, *projectID); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}
	slog.Info("recording — press Ctrl+C to stop")

	<-ctx.Done()
	stop()
	slog.Info("shutdown signal received, stopping…")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		slog.Error("pipeline stop error", "err", err)
		return 1
	}

	// ── Finalize session ──────────────────────────────────────────────────────
	snap := sup.Snapshot()
	slog.Info("session complete",
		"turns", snap.Metadata.TurnCount,
		"words", snap.Metadata.WordCount,
		"duration_s", snap.Metadata.DurationS,
		"enhanced_buffers", len(snap.EnhancedBuffers),
	)

	refined := ""
	if enhancer != nil && snap.EnhancedTranscript != "" {
		refined, err = enhancer.RefineTranscript(stopCtx, snap.EnhancedTranscript)
		if err != nil {
			slog.Warn("full-transcript refinement failed", "err", err)
			refined = ""
		}
	}

	if recordings != nil && snap.Metadata.TurnCount > 0 {
		id, err := recordings.Save(stopCtx, snap, refined)
		if err != nil {
			slog.Error("failed to persist recording", "err", err)
		} else {
			slog.Info("recording persisted", "id", id)
		}
	}

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	slog.Info("goodbye")
	return 0
}

// ── Device listing ────────────────────────────────────────────────────────────

func runListDevices() int {
	devices, err := capture.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no audio input devices found")
		return 0
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, d.ID, d.Name)
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildSTTProvider(cfg *config.Config) (stt.Provider, error) {
	entry := cfg.Providers.STT
	switch entry.Name {
	case "", "assemblyai":
		var opts []assemblyai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assemblyai.WithEndpoint(entry.BaseURL))
		}
		return assemblyai.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported stt provider %q; supported: assemblyai", entry.Name)
	}
}

func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// ── Event sink ────────────────────────────────────────────────────────────────

// stdoutSink writes every pipeline event to stdout as one JSON line. Encoding
// happens on the caller's goroutine; only the write is serialised.
type stdoutSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdoutSink() *stdoutSink {
	return &stdoutSink{enc: json.NewEncoder(os.Stdout)}
}

func (s *stdoutSink) Emit(name pipeline.EventName, payload any) {
	line := struct {
		Event     pipeline.EventName `json:"event"`
		Timestamp time.Time          `json:"timestamp"`
		Payload   any                `json:"payload,omitempty"`
	}{Event: name, Timestamp: time.Now(), Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(line); err != nil {
		slog.Warn("failed to write event", "event", name, "err", err)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Auricle — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("STT", providerLabel(cfg.Providers.STT.Name, ""))
	printEntry("LLM", providerLabel(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model))
	printEntry("Refinement", string(cfg.Refinement.Mode))
	printEntry("Analyses", fmt.Sprintf("%d enabled", len(cfg.Intelligence.Enabled)))
	if cfg.Storage.PostgresDSN != "" {
		printEntry("Storage", "postgres")
	} else {
		printEntry("Storage", "(disabled)")
	}
	if cfg.Server.MetricsAddr != "" {
		printEntry("Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printEntry(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
