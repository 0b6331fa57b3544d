package intel

// Per-kind generation parameters. The factual extractors run cold; summary
// gets a little room for phrasing.
var kindTemperature = map[Kind]float64{
	KindSentiment:   0.1,
	KindFinancial:   0.1,
	KindCompetitive: 0.2,
	KindSummary:     0.3,
	KindRisk:        0.2,
}

// analysisMaxTokens bounds every intelligence completion.
const analysisMaxTokens = 2048

const sentimentPrompt = `Analyze the sentiment of this meeting transcript segment.

Respond with ONLY a JSON object, no other text:
{
  "overall": "positive" | "negative" | "neutral",
  "confidence": <number between 0 and 1>,
  "tone": [<emotional tones detected, e.g. "optimistic", "frustrated">],
  "key_phrases": [<phrases that drove the assessment>]
}

Transcript segment:
%s

JSON response:`

const financialPrompt = `Extract financial information from this meeting transcript segment.

Respond with ONLY a JSON object, no other text:
{
  "metrics": {<metric name>: <numeric value>},
  "currencies": [<currency amounts mentioned, verbatim>],
  "percentages": [<percentage figures as numbers>],
  "terms": [<financial terminology used>],
  "outlook": "bullish" | "bearish" | "neutral" | null
}

Use null for outlook when the segment gives no basis for a judgement. Omit nothing else; use empty lists and an empty object when nothing applies.

Transcript segment:
%s

JSON response:`

const competitivePrompt = `Analyze competitive and market intelligence in this meeting transcript segment.

Respond with ONLY a JSON object, no other text:
{
  "competitors": [<competitor names mentioned>],
  "market_share": [<market share statements>],
  "advantages": [<competitive advantages discussed>],
  "threats": [<competitive threats discussed>],
  "company_effects": [<effects on the company>],
  "strategic_questions": [<open strategic questions raised>],
  "moats": [<defensible moats mentioned>],
  "positioning": <string or null>,
  "industry_impact": <string or null>,
  "market_dynamics": <string or null>
}

Transcript segment:
%s

JSON response:`

const summaryPrompt = `Summarize this meeting transcript segment.

Respond with ONLY a JSON object, no other text:
{
  "key_points": [<main points discussed>],
  "action_items": [<concrete action items>],
  "decisions_made": [<decisions reached>],
  "follow_up_required": [<items needing follow-up>],
  "business_impact": <string or null>
}

Transcript segment:
%s

JSON response:`

const riskPrompt = `Assess delivery risk in this meeting transcript segment. Identify promises and commitments made, and risks to delivering on them.

Respond with ONLY a JSON object, no other text:
{
  "overall_risk_level": "low" | "medium" | "high" | "critical",
  "risk_summary": <one-paragraph assessment>,
  "promises_identified": [
    {
      "text": <the promise>,
      "type": "delivery" | "timeline" | "financial" | "operational" | "quality",
      "specificity": "specific" | "vague" | "conditional",
      "timeline": <stated deadline, optional>,
      "stakeholder": <who it was made to, optional>
    }
  ],
  "promise_clarity": <number between 0 and 1>,
  "delivery_risks": [
    {
      "area": <affected area>,
      "category": "technical" | "operational" | "financial" | "market" | "regulatory" | "resource",
      "severity": "low" | "medium" | "high" | "critical",
      "likelihood": "unlikely" | "possible" | "likely" | "very_likely",
      "factors": [<what drives the risk>],
      "impact": <consequence if it materialises>,
      "mitigation_notes": <suggested mitigation, optional>
    }
  ],
  "timeline_concerns": [<timeline-related concerns>],
  "resource_constraints": [<resourcing concerns>],
  "technical_challenges": [<technical concerns>],
  "external_dependencies": [<external dependencies>],
  "recommended_actions": [<recommended next steps>]
}

Transcript segment:
%s

JSON response:`

// promptFor returns the prompt template for kind. The template has a single
// %s verb for the transcript text.
func promptFor(kind Kind) string {
	switch kind {
	case KindSentiment:
		return sentimentPrompt
	case KindFinancial:
		return financialPrompt
	case KindCompetitive:
		return competitivePrompt
	case KindSummary:
		return summaryPrompt
	case KindRisk:
		return riskPrompt
	}
	return ""
}
