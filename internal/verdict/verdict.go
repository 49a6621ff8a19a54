// Package verdict turns a model completion into a screening verdict.
package verdict

import (
	"encoding/json"
	"math"
	"strings"
)

const (
	ResultNormal     = "Normal"
	ResultConcerning = "Concerning"

	// HeuristicConfidence is reported when the completion could not be decoded.
	HeuristicConfidence = 0.95
)

// Source records which path produced a Verdict.
type Source string

const (
	SourceParsed    Source = "parsed"
	SourceHeuristic Source = "heuristic"
)

// Verdict is the {result, confidence, explanation} triple for one analysis.
type Verdict struct {
	Source          Source
	Result          string
	Confidence      float64
	Explanation     string
	Recommendations string
}

// Parsed reports whether the completion decoded as the structured shape.
func (v Verdict) Parsed() bool {
	return v.Source == SourceParsed
}

type payload struct {
	Result          *string         `json:"result"`
	Confidence      *float64        `json:"confidence"`
	Explanation     string          `json:"explanation"`
	Recommendations json.RawMessage `json:"recommendations"`
}

// Parse decodes a completion. Anything that is not a JSON object with a result
// field falls back to the keyword heuristic; Parse never fails.
func Parse(text string) Verdict {
	if v, ok := parseStructured(text); ok {
		return v
	}
	return heuristic(text)
}

func parseStructured(text string) (Verdict, bool) {
	body := stripFence(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "{") {
		return Verdict{}, false
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil || p.Result == nil {
		return Verdict{}, false
	}

	confidence := 0.0
	if p.Confidence != nil {
		confidence = ClampConfidence(*p.Confidence)
	}
	return Verdict{
		Source:          SourceParsed,
		Result:          NormalizeResult(*p.Result),
		Confidence:      confidence,
		Explanation:     p.Explanation,
		Recommendations: recommendations(p.Recommendations),
	}, true
}

func heuristic(text string) Verdict {
	result := ResultNormal
	if strings.Contains(text, ResultConcerning) {
		result = ResultConcerning
	}
	return Verdict{
		Source:      SourceHeuristic,
		Result:      result,
		Confidence:  HeuristicConfidence,
		Explanation: text,
	}
}

// NormalizeResult maps a label onto the two known results. Unknown labels are Normal.
func NormalizeResult(label string) string {
	if strings.EqualFold(strings.TrimSpace(label), ResultConcerning) {
		return ResultConcerning
	}
	return ResultNormal
}

// ClampConfidence bounds c to [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// stripFence removes a surrounding ``` or ```json markdown fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(inner[:nl]), "{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}

// recommendations accepts either a string or a list of strings.
func recommendations(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "\n")
	}
	return ""
}
