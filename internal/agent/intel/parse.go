package intel

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ExtractJSONObject locates the JSON object inside a raw LLM response. It
// strips triple-backtick fencing (with or without a "json" tag), slices from
// the first '{' to the last '}', and verifies the slice decodes as a JSON
// object.
func ExtractJSONObject(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)

	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("intel: no JSON object in response (%d bytes)", len(raw))
	}
	candidate := []byte(s[start : end+1])

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(candidate, &obj); err != nil {
		return nil, fmt.Errorf("intel: response is not a JSON object: %w", err)
	}
	return candidate, nil
}

// parsePayload decodes raw into the payload type for kind, applying the
// defensive parsing rules: fences stripped, object sliced out, missing fields
// defaulted, enumerations validated where the contract demands it.
func parsePayload(kind Kind, raw string) (Payload, error) {
	data, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindSentiment:
		return parseSentiment(data)
	case KindFinancial:
		return parseFinancial(data)
	case KindCompetitive:
		return parseCompetitive(data)
	case KindSummary:
		return parseSummary(data)
	case KindRisk:
		return parseRisk(data)
	}
	return nil, fmt.Errorf("intel: unknown analysis kind %q", kind)
}

var (
	sentimentOverall = []string{"positive", "negative", "neutral"}
	outlookValues    = []string{"bullish", "bearish", "neutral"}
	riskLevels       = []string{"low", "medium", "high", "critical"}
)

func parseSentiment(data []byte) (Payload, error) {
	var p SentimentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("intel: sentiment payload: %w", err)
	}
	if !slices.Contains(sentimentOverall, p.Overall) {
		return nil, fmt.Errorf("intel: sentiment overall %q outside enumeration", p.Overall)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return nil, fmt.Errorf("intel: sentiment confidence %v outside [0, 1]", p.Confidence)
	}
	p.Tone = nonNil(p.Tone)
	p.KeyPhrases = nonNil(p.KeyPhrases)
	return p, nil
}

func parseFinancial(data []byte) (Payload, error) {
	var p FinancialPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("intel: financial payload: %w", err)
	}
	if p.Outlook != nil && !slices.Contains(outlookValues, *p.Outlook) {
		// Unknown outlook degrades to the explicit null rather than failing
		// the whole analysis.
		p.Outlook = nil
	}
	if p.Metrics == nil {
		p.Metrics = map[string]float64{}
	}
	p.Currencies = nonNil(p.Currencies)
	p.Percentages = nonNil(p.Percentages)
	p.Terms = nonNil(p.Terms)
	return p, nil
}

func parseCompetitive(data []byte) (Payload, error) {
	var p CompetitivePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("intel: competitive payload: %w", err)
	}
	p.Competitors = nonNil(p.Competitors)
	p.MarketShare = nonNil(p.MarketShare)
	p.Advantages = nonNil(p.Advantages)
	p.Threats = nonNil(p.Threats)
	p.CompanyEffects = nonNil(p.CompanyEffects)
	p.StrategicQuestions = nonNil(p.StrategicQuestions)
	p.Moats = nonNil(p.Moats)
	return p, nil
}

func parseSummary(data []byte) (Payload, error) {
	var p SummaryPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("intel: summary payload: %w", err)
	}
	p.KeyPoints = nonNil(p.KeyPoints)
	p.ActionItems = nonNil(p.ActionItems)
	p.DecisionsMade = nonNil(p.DecisionsMade)
	p.FollowUpRequired = nonNil(p.FollowUpRequired)
	return p, nil
}

func parseRisk(data []byte) (Payload, error) {
	var p RiskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("intel: risk payload: %w", err)
	}
	if !slices.Contains(riskLevels, p.OverallRiskLevel) {
		return nil, fmt.Errorf("intel: risk level %q outside enumeration", p.OverallRiskLevel)
	}
	p.PromisesIdentified = nonNil(p.PromisesIdentified)
	p.DeliveryRisks = nonNil(p.DeliveryRisks)
	p.TimelineConcerns = nonNil(p.TimelineConcerns)
	p.ResourceConstraints = nonNil(p.ResourceConstraints)
	p.TechnicalChallenges = nonNil(p.TechnicalChallenges)
	p.ExternalDependencies = nonNil(p.ExternalDependencies)
	p.RecommendedActions = nonNil(p.RecommendedActions)
	return p, nil
}

// riskSentinel is the well-formed record emitted when the risk analysis
// output cannot be parsed, so downstream consumers never see a hole where a
// risk assessment should be.
func riskSentinel(parseErr error) RiskPayload {
	return RiskPayload{
		OverallRiskLevel:     "medium",
		RiskSummary:          fmt.Sprintf("Risk analysis unavailable: %v", parseErr),
		PromisesIdentified:   []Promise{},
		DeliveryRisks:        []DeliveryRisk{},
		TimelineConcerns:     []string{},
		ResourceConstraints:  []string{},
		TechnicalChallenges:  []string{},
		ExternalDependencies: []string{},
		RecommendedActions:   []string{"Retry analysis or review manually"},
	}
}

// nonNil replaces a nil slice with an empty one so payloads serialise with
// [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
