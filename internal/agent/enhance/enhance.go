// Package enhance turns raw speech-to-text output into polished prose.
//
// The enhancer is a thin, stateless wrapper around an [llm.Provider]: one
// buffer in, one cleaned-up transcript out. It never fails a buffer outright —
// when the model produces nothing usable, the raw text is passed through so
// the enhanced transcript stays gap-free.
package enhance

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

const (
	// enhanceTemperature keeps rewrites close to the source text.
	enhanceTemperature = 0.3

	// enhanceMaxTokens bounds a single buffer rewrite.
	enhanceMaxTokens = 4096

	// refineMaxTokens bounds the full-transcript refinement pass.
	refineMaxTokens = 8192
)

const enhancePrompt = `You are cleaning up a raw speech-to-text transcription from a live meeting recording.

Rewrite the text below into clear, readable prose:
- Fix transcription errors, stutters and false starts.
- Remove filler words (um, uh, you know, like) unless they carry meaning.
- Add punctuation and sentence boundaries.
- Preserve the speaker's meaning, terminology and all factual content exactly. Do not summarise, do not add information.

Raw transcription:
%s

Enhanced transcription:`

const refinePrompt = `You are producing the final polished transcript of a recorded meeting.

The text below was enhanced chunk by chunk during the recording, so wording may be choppy at chunk boundaries. Rewrite it into one coherent, well-structured transcript:
- Smooth the transitions between chunks.
- Merge sentences that were split across chunks.
- Keep all content, terminology and speaker intent intact. Do not summarise, do not add information.

Transcript:
%s

Refined transcript:`

// EnhancedTranscript is the result of enhancing one buffer.
type EnhancedTranscript struct {
	// BufferID identifies the source buffer.
	BufferID uint32 `json:"buffer_id"`

	// RawText is the buffer's combined text before enhancement.
	RawText string `json:"raw_text"`

	// EnhancedText is the polished rewrite. Falls back to RawText when the
	// model returned nothing usable.
	EnhancedText string `json:"enhanced_text"`

	// ProcessingMs is the wall-clock enhancement latency in milliseconds.
	ProcessingMs int64 `json:"processing_ms"`

	// Model names the model that produced the rewrite.
	Model string `json:"model"`
}

// Enhancer rewrites transcription buffers via a streaming LLM completion.
// Safe for concurrent use; it holds no per-call state.
type Enhancer struct {
	provider llm.Provider
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New creates an Enhancer backed by the given provider. metrics may be nil
// to disable instrumentation.
func New(provider llm.Provider, metrics *observe.Metrics, log *slog.Logger) *Enhancer {
	if log == nil {
		log = slog.Default()
	}
	return &Enhancer{provider: provider, metrics: metrics, log: log}
}

// Enhance rewrites the buffer's combined text. It streams the completion and
// concatenates the chunks; a stream that errors mid-way or produces only
// whitespace falls back to the raw text rather than failing the buffer.
// An error is returned only when the stream could not be opened at all.
func (e *Enhancer) Enhance(ctx context.Context, buf *buffer.Buffer) (*EnhancedTranscript, error) {
	raw := buf.CombinedText()
	start := time.Now()

	text, err := e.complete(ctx, fmt.Sprintf(enhancePrompt, raw), enhanceMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("enhance: buffer %d: %w", buf.ID, err)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.EnhanceDuration.Record(ctx, elapsed.Seconds())
	}

	if text == "" {
		e.log.Warn("enhancement produced no text, falling back to raw transcript",
			"buffer_id", buf.ID)
		text = strings.TrimSpace(raw)
	}

	return &EnhancedTranscript{
		BufferID:     buf.ID,
		RawText:      raw,
		EnhancedText: text,
		ProcessingMs: elapsed.Milliseconds(),
		Model:        e.provider.Model(),
	}, nil
}

// RefineTranscript runs the final full-transcript pass over a complete
// enhanced transcript. Returns the input unchanged when the model produces
// nothing usable.
func (e *Enhancer) RefineTranscript(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return transcript, nil
	}

	text, err := e.complete(ctx, fmt.Sprintf(refinePrompt, transcript), refineMaxTokens)
	if err != nil {
		return "", fmt.Errorf("enhance: refine transcript: %w", err)
	}
	if text == "" {
		e.log.Warn("refinement produced no text, keeping chunked transcript")
		return transcript, nil
	}
	return text, nil
}

// complete streams a completion for prompt and returns the trimmed
// concatenation of all chunks. A chunk carrying an error finish reason stops
// the stream; whatever accumulated before it is kept.
func (e *Enhancer) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: enhanceTemperature,
		MaxTokens:   maxTokens,
	}

	chunks, err := e.provider.StreamCompletion(ctx, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.LLMErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", "enhance")))
		}
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk.Text)
		if chunk.FinishReason == llm.FinishReasonError {
			if e.metrics != nil {
				e.metrics.LLMErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("stage", "enhance")))
			}
			e.log.Warn("completion stream ended with error finish reason")
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
