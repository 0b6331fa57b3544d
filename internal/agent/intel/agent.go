package intel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/auricle/internal/buffer"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// Result is one completed intelligence analysis over one buffer.
type Result struct {
	// BufferID identifies the analysed buffer.
	BufferID uint32 `json:"buffer_id"`

	// Kind names the analysis that produced this result.
	Kind Kind `json:"kind"`

	// ProcessingMs is the wall-clock analysis latency in milliseconds.
	ProcessingMs int64 `json:"processing_ms"`

	// Model names the model that produced the result.
	Model string `json:"model"`

	// RawText is the analysed input text.
	RawText string `json:"raw_text"`

	// Timestamp is when the analysis completed.
	Timestamp time.Time `json:"timestamp"`

	// Payload is the kind-specific analysis output. Exactly one variant per
	// Kind; never nil on a returned Result.
	Payload Payload `json:"payload"`
}

// Analyzer runs intelligence analyses against an LLM provider. Safe for
// concurrent use; the caller bounds parallelism.
type Analyzer struct {
	provider llm.Provider
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New creates an Analyzer backed by the given provider. metrics may be nil
// to disable instrumentation.
func New(provider llm.Provider, metrics *observe.Metrics, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{provider: provider, metrics: metrics, log: log}
}

// Analyze runs one analysis of the given kind over the buffer's combined
// text. The streamed completion is concatenated and parsed per the kind's
// contract.
//
// Parse failures are terminal for every kind except risk: the risk analysis
// substitutes a sentinel payload so consumers always receive a well-formed
// risk record, while other kinds return the parse error and the result is
// discarded upstream.
func (a *Analyzer) Analyze(ctx context.Context, kind Kind, buf *buffer.Buffer) (*Result, error) {
	text := buf.CombinedText()
	start := time.Now()

	raw, err := a.complete(ctx, kind, text)
	if err != nil {
		return nil, fmt.Errorf("intel: %s analysis of buffer %d: %w", kind, buf.ID, err)
	}

	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.IntelDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("kind", string(kind))))
	}

	payload, err := parsePayload(kind, raw)
	if err != nil {
		if kind != KindRisk {
			if a.metrics != nil {
				a.metrics.LLMErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("stage", "intel")))
			}
			return nil, err
		}
		a.log.Warn("risk analysis output unparseable, emitting sentinel record",
			"buffer_id", buf.ID, "error", err)
		payload = riskSentinel(err)
	}

	return &Result{
		BufferID:     buf.ID,
		Kind:         kind,
		ProcessingMs: elapsed.Milliseconds(),
		Model:        a.provider.Model(),
		RawText:      text,
		Timestamp:    time.Now(),
		Payload:      payload,
	}, nil
}

// complete streams the completion for the kind's prompt and returns the
// concatenated text.
func (a *Analyzer) complete(ctx context.Context, kind Kind, text string) (string, error) {
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(promptFor(kind), text)}},
		Temperature: kindTemperature[kind],
		MaxTokens:   analysisMaxTokens,
	}

	chunks, err := a.provider.StreamCompletion(ctx, req)
	if err != nil {
		if a.metrics != nil {
			a.metrics.LLMErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", "intel")))
		}
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk.Text)
		if chunk.FinishReason == llm.FinishReasonError {
			if a.metrics != nil {
				a.metrics.LLMErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("stage", "intel")))
			}
			a.log.Warn("analysis stream ended with error finish reason", "kind", kind)
			break
		}
	}
	return sb.String(), nil
}
