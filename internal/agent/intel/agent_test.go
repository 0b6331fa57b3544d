package intel

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/auricle/internal/buffer"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
)

func TestAnalyzeSentiment(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: `{"overall": "negative", "confidence": 0.7, `},
			{Text: `"tone": ["frustrated"], "key_phrases": ["behind schedule"]}`, FinishReason: llm.FinishReasonStop},
		},
	}
	a := New(provider, nil, nil)

	buf := &buffer.Buffer{ID: 7, Texts: []string{"we are behind schedule again"}}
	res, err := a.Analyze(context.Background(), KindSentiment, buf)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if res.BufferID != 7 || res.Kind != KindSentiment {
		t.Errorf("result = %+v", res)
	}
	if res.RawText != "we are behind schedule again" {
		t.Errorf("RawText = %q", res.RawText)
	}
	p, ok := res.Payload.(SentimentPayload)
	if !ok {
		t.Fatalf("Payload type = %T", res.Payload)
	}
	if p.Overall != "negative" || len(p.KeyPhrases) != 1 {
		t.Errorf("payload = %+v", p)
	}
}

func TestAnalyzeRequestParameters(t *testing.T) {
	wantTemps := map[Kind]float64{
		KindSentiment:   0.1,
		KindFinancial:   0.1,
		KindCompetitive: 0.2,
		KindSummary:     0.3,
		KindRisk:        0.2,
	}
	valid := map[Kind]string{
		KindSentiment:   `{"overall": "neutral", "confidence": 0.5}`,
		KindFinancial:   `{}`,
		KindCompetitive: `{}`,
		KindSummary:     `{}`,
		KindRisk:        `{"overall_risk_level": "low"}`,
	}

	for kind, wantTemp := range wantTemps {
		t.Run(string(kind), func(t *testing.T) {
			provider := &llmmock.Provider{
				StreamChunks: []llm.Chunk{{Text: valid[kind], FinishReason: llm.FinishReasonStop}},
			}
			a := New(provider, nil, nil)
			buf := &buffer.Buffer{ID: 1, Texts: []string{"some transcript text"}}

			if _, err := a.Analyze(context.Background(), kind, buf); err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}

			req := provider.StreamCalls[0].Req
			if req.Temperature != wantTemp {
				t.Errorf("Temperature = %v, want %v", req.Temperature, wantTemp)
			}
			if req.MaxTokens != 2048 {
				t.Errorf("MaxTokens = %d, want 2048", req.MaxTokens)
			}
			prompt := req.Messages[len(req.Messages)-1].Content
			if !strings.HasSuffix(prompt, "JSON response:") {
				t.Errorf("prompt does not end with completion cue: %q", prompt)
			}
			if !strings.Contains(prompt, "some transcript text") {
				t.Error("prompt missing transcript text")
			}
		})
	}
}

func TestAnalyzeRiskSentinelOnGarbage(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "sorry, no JSON", FinishReason: llm.FinishReasonStop}},
	}
	a := New(provider, nil, nil)

	buf := &buffer.Buffer{ID: 9, Texts: []string{"we promise delivery by Q3"}}
	res, err := a.Analyze(context.Background(), KindRisk, buf)
	if err != nil {
		t.Fatalf("Analyze() error = %v, want sentinel result", err)
	}

	p, ok := res.Payload.(RiskPayload)
	if !ok {
		t.Fatalf("Payload type = %T", res.Payload)
	}
	if p.OverallRiskLevel != "medium" {
		t.Errorf("OverallRiskLevel = %q, want medium", p.OverallRiskLevel)
	}
	if !strings.Contains(p.RiskSummary, "no JSON object") {
		t.Errorf("RiskSummary = %q, want parse error mentioned", p.RiskSummary)
	}
	if len(p.RecommendedActions) != 1 || p.RecommendedActions[0] != "Retry analysis or review manually" {
		t.Errorf("RecommendedActions = %v", p.RecommendedActions)
	}
}

func TestAnalyzeNonRiskParseFailureIsError(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "not json at all", FinishReason: llm.FinishReasonStop}},
	}
	a := New(provider, nil, nil)

	buf := &buffer.Buffer{ID: 2, Texts: []string{"text"}}
	if _, err := a.Analyze(context.Background(), KindSummary, buf); err == nil {
		t.Fatal("Analyze() error = nil, want parse failure")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"sentiment", "financial", "competitive", "summary", "risk"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q) error = %v", s, err)
		}
	}
	if _, err := ParseKind("astrology"); err == nil {
		t.Error("ParseKind accepted unknown kind")
	}
}
