package intel

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			raw:  `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "fenced with json tag",
			raw:  "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "fenced without tag",
			raw:  "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "chatter around the object",
			raw:  "Sure! Here is the analysis:\n{\"a\": 1}\nHope that helps.",
			want: `{"a": 1}`,
		},
		{
			name:    "no braces",
			raw:     "sorry, no JSON",
			wantErr: true,
		},
		{
			name:    "array instead of object",
			raw:     `[1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "braces around invalid json",
			raw:     "{not json}",
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSONObject(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSONObject(%q) error = %v", tt.raw, err)
			}
			if string(got) != tt.want {
				t.Errorf("ExtractJSONObject(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseSentiment(t *testing.T) {
	p, err := parsePayload(KindSentiment, `{"overall": "positive", "confidence": 0.92, "tone": ["optimistic"]}`)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	s := p.(SentimentPayload)
	if s.Overall != "positive" || s.Confidence != 0.92 {
		t.Errorf("payload = %+v", s)
	}
	if s.KeyPhrases == nil {
		t.Error("KeyPhrases defaulted to nil, want empty slice")
	}
}

func TestParseSentimentRejectsBadValues(t *testing.T) {
	for _, raw := range []string{
		`{"overall": "ecstatic", "confidence": 0.9}`,
		`{"overall": "positive", "confidence": 1.5}`,
		`{"overall": "positive", "confidence": -0.1}`,
	} {
		if _, err := parsePayload(KindSentiment, raw); err == nil {
			t.Errorf("parsePayload(%q) succeeded, want rejection", raw)
		}
	}
}

func TestParseFinancialOutlook(t *testing.T) {
	p, err := parsePayload(KindFinancial, `{"outlook": "bullish", "metrics": {"arr": 1200000}}`)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	f := p.(FinancialPayload)
	if f.Outlook == nil || *f.Outlook != "bullish" {
		t.Errorf("Outlook = %v, want bullish", f.Outlook)
	}
	if f.Metrics["arr"] != 1200000 {
		t.Errorf("Metrics = %v", f.Metrics)
	}

	// Explicit null survives.
	p, err = parsePayload(KindFinancial, `{"outlook": null}`)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	if f := p.(FinancialPayload); f.Outlook != nil {
		t.Errorf("Outlook = %v, want nil", f.Outlook)
	}

	// Unknown enum value degrades to null instead of failing.
	p, err = parsePayload(KindFinancial, `{"outlook": "moonshot"}`)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	if f := p.(FinancialPayload); f.Outlook != nil {
		t.Errorf("Outlook = %v, want nil for unknown value", f.Outlook)
	}
}

func TestParseSummaryDefaults(t *testing.T) {
	p, err := parsePayload(KindSummary, `{"key_points": ["shipped v2"]}`)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	s := p.(SummaryPayload)
	if len(s.KeyPoints) != 1 {
		t.Errorf("KeyPoints = %v", s.KeyPoints)
	}
	if s.ActionItems == nil || s.DecisionsMade == nil || s.FollowUpRequired == nil {
		t.Error("missing list fields defaulted to nil, want empty slices")
	}
	if s.BusinessImpact != nil {
		t.Errorf("BusinessImpact = %v, want nil", s.BusinessImpact)
	}
}

func TestParseRisk(t *testing.T) {
	raw := `{
		"overall_risk_level": "high",
		"risk_summary": "Tight deadline with unstaffed work.",
		"promises_identified": [{"text": "ship by Friday", "type": "timeline", "specificity": "specific", "timeline": "Friday"}],
		"promise_clarity": 0.8,
		"delivery_risks": [{"area": "backend", "category": "resource", "severity": "high", "likelihood": "likely", "factors": ["two engineers out"], "impact": "slip"}],
		"timeline_concerns": ["Friday is in two days"]
	}`
	p, err := parsePayload(KindRisk, raw)
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	r := p.(RiskPayload)
	if r.OverallRiskLevel != "high" {
		t.Errorf("OverallRiskLevel = %q", r.OverallRiskLevel)
	}
	if len(r.PromisesIdentified) != 1 || r.PromisesIdentified[0].Timeline != "Friday" {
		t.Errorf("PromisesIdentified = %+v", r.PromisesIdentified)
	}
	if len(r.DeliveryRisks) != 1 || r.DeliveryRisks[0].Likelihood != "likely" {
		t.Errorf("DeliveryRisks = %+v", r.DeliveryRisks)
	}
	if r.RecommendedActions == nil {
		t.Error("RecommendedActions defaulted to nil, want empty slice")
	}
}

func TestParseRiskRejectsBadLevel(t *testing.T) {
	if _, err := parsePayload(KindRisk, `{"overall_risk_level": "catastrophic"}`); err == nil {
		t.Error("parsePayload succeeded with out-of-enumeration risk level")
	}
}

func TestRiskSentinel(t *testing.T) {
	s := riskSentinel(errors.New("no JSON object in response"))
	if s.OverallRiskLevel != "medium" {
		t.Errorf("OverallRiskLevel = %q, want medium", s.OverallRiskLevel)
	}
	if !strings.Contains(s.RiskSummary, "no JSON object in response") {
		t.Errorf("RiskSummary = %q, want parse error included", s.RiskSummary)
	}
	if len(s.RecommendedActions) != 1 || s.RecommendedActions[0] != "Retry analysis or review manually" {
		t.Errorf("RecommendedActions = %v", s.RecommendedActions)
	}
	if s.PromisesIdentified == nil || s.DeliveryRisks == nil {
		t.Error("sentinel slices must be non-nil")
	}
}
