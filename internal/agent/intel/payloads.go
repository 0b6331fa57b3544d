// Package intel runs per-buffer intelligence analyses over enhanced meeting
// transcripts: sentiment, financial signals, competitive mentions, summaries
// and delivery-risk assessment.
//
// Every analysis is one strict-JSON LLM call. The parser is deliberately
// defensive — models wrap JSON in code fences, prepend chatter, or drop
// fields, and a live meeting pipeline cannot afford to crash on any of that.
package intel

import "fmt"

// Kind identifies one of the intelligence analyses.
type Kind string

// The supported analysis kinds.
const (
	KindSentiment   Kind = "sentiment"
	KindFinancial   Kind = "financial"
	KindCompetitive Kind = "competitive"
	KindSummary     Kind = "summary"
	KindRisk        Kind = "risk"
)

// AllKinds lists every supported analysis kind in a stable order.
var AllKinds = []Kind{KindSentiment, KindFinancial, KindCompetitive, KindSummary, KindRisk}

// ParseKind converts a config string into a [Kind].
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindSentiment, KindFinancial, KindCompetitive, KindSummary, KindRisk:
		return k, nil
	}
	return "", fmt.Errorf("intel: unknown analysis kind %q", s)
}

// Payload is the marker interface implemented by exactly one payload type
// per [Kind]. A Result carries a single populated Payload variant.
type Payload interface {
	// AnalysisKind returns the kind the payload belongs to.
	AnalysisKind() Kind
}

// SentimentPayload is the result of the sentiment analysis.
type SentimentPayload struct {
	// Overall is one of "positive", "negative" or "neutral".
	Overall string `json:"overall"`

	// Confidence is the model's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Tone lists emotional tones detected in the text.
	Tone []string `json:"tone"`

	// KeyPhrases lists the phrases that drove the assessment.
	KeyPhrases []string `json:"key_phrases"`
}

func (SentimentPayload) AnalysisKind() Kind { return KindSentiment }

// FinancialPayload is the result of the financial-signals analysis.
type FinancialPayload struct {
	// Metrics maps named financial metrics to their numeric values.
	Metrics map[string]float64 `json:"metrics"`

	// Currencies lists currency amounts mentioned verbatim.
	Currencies []string `json:"currencies"`

	// Percentages lists percentage figures mentioned.
	Percentages []float64 `json:"percentages"`

	// Terms lists financial terminology used.
	Terms []string `json:"terms"`

	// Outlook is "bullish", "bearish" or "neutral"; nil when the model could
	// not judge. The null is preserved deliberately — it is a distinct signal
	// from "neutral".
	Outlook *string `json:"outlook"`
}

func (FinancialPayload) AnalysisKind() Kind { return KindFinancial }

// CompetitivePayload is the result of the competitive-landscape analysis.
type CompetitivePayload struct {
	Competitors        []string `json:"competitors"`
	MarketShare        []string `json:"market_share"`
	Advantages         []string `json:"advantages"`
	Threats            []string `json:"threats"`
	CompanyEffects     []string `json:"company_effects"`
	StrategicQuestions []string `json:"strategic_questions"`
	Moats              []string `json:"moats"`

	Positioning    *string `json:"positioning"`
	IndustryImpact *string `json:"industry_impact"`
	MarketDynamics *string `json:"market_dynamics"`
}

func (CompetitivePayload) AnalysisKind() Kind { return KindCompetitive }

// SummaryPayload is the result of the meeting-summary analysis.
type SummaryPayload struct {
	KeyPoints        []string `json:"key_points"`
	ActionItems      []string `json:"action_items"`
	DecisionsMade    []string `json:"decisions_made"`
	FollowUpRequired []string `json:"follow_up_required"`

	BusinessImpact *string `json:"business_impact"`
}

func (SummaryPayload) AnalysisKind() Kind { return KindSummary }

// Promise is a commitment identified in the transcript by the risk analysis.
type Promise struct {
	// Text is the promise verbatim or closely paraphrased.
	Text string `json:"text"`

	// Type is one of "delivery", "timeline", "financial", "operational" or
	// "quality".
	Type string `json:"type"`

	// Specificity is one of "specific", "vague" or "conditional".
	Specificity string `json:"specificity"`

	// Timeline is the stated deadline, if any.
	Timeline string `json:"timeline,omitempty"`

	// Stakeholder is who the promise was made to, if identifiable.
	Stakeholder string `json:"stakeholder,omitempty"`
}

// DeliveryRisk is a concrete risk to a commitment identified by the risk
// analysis.
type DeliveryRisk struct {
	// Area names the affected delivery area.
	Area string `json:"area"`

	// Category is one of "technical", "operational", "financial", "market",
	// "regulatory" or "resource".
	Category string `json:"category"`

	// Severity is one of "low", "medium", "high" or "critical".
	Severity string `json:"severity"`

	// Likelihood is one of "unlikely", "possible", "likely" or "very_likely".
	Likelihood string `json:"likelihood"`

	// Factors lists what drives the risk.
	Factors []string `json:"factors"`

	// Impact describes the consequence if the risk materialises.
	Impact string `json:"impact"`

	// MitigationNotes suggests mitigations, if any.
	MitigationNotes string `json:"mitigation_notes,omitempty"`
}

// RiskPayload is the result of the delivery-risk analysis.
type RiskPayload struct {
	// OverallRiskLevel is one of "low", "medium", "high" or "critical".
	OverallRiskLevel string `json:"overall_risk_level"`

	// RiskSummary is a one-paragraph assessment.
	RiskSummary string `json:"risk_summary"`

	// PromisesIdentified lists commitments made in the analysed text.
	PromisesIdentified []Promise `json:"promises_identified"`

	// PromiseClarity scores how concrete the promises are, in [0, 1].
	PromiseClarity float64 `json:"promise_clarity"`

	// DeliveryRisks lists concrete risks to those commitments.
	DeliveryRisks []DeliveryRisk `json:"delivery_risks"`

	// Per-category concern buckets.
	TimelineConcerns     []string `json:"timeline_concerns"`
	ResourceConstraints  []string `json:"resource_constraints"`
	TechnicalChallenges  []string `json:"technical_challenges"`
	ExternalDependencies []string `json:"external_dependencies"`
	RecommendedActions   []string `json:"recommended_actions"`
}

func (RiskPayload) AnalysisKind() Kind { return KindRisk }
