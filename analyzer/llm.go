package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/model"
)

const analyzeSystemPrompt = `You classify an instruction for an orchestration
kernel. Respond with a single JSON object and nothing else:
{"actionable": bool, "requires_planning": bool,
 "risk_level": "low"|"mid"|"high", "command_class": string,
 "constraints": [string]}`

// LLM is a model-backed Analyzer. Model output is parsed strictly; anything
// unparseable fails the analysis rather than being guessed at.
type LLM struct {
	model model.Model
}

// NewLLM constructs an analyzer around a completion model.
func NewLLM(m model.Model) *LLM {
	return &LLM{model: m}
}

// Analyze implements core.Analyzer.
func (a *LLM) Analyze(ctx context.Context, instruction string) (core.Signal, error) {
	resp, err := a.model.Complete(ctx, model.Request{System: analyzeSystemPrompt, Prompt: instruction})
	if err != nil {
		return core.Signal{}, fmt.Errorf("analyzer: model completion: %w", err)
	}

	var signal core.Signal
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &signal); err != nil {
		return core.Signal{}, fmt.Errorf("analyzer: unparseable signal output: %w", err)
	}
	switch signal.RiskLevel {
	case core.RiskLow, core.RiskMid, core.RiskHigh, "":
	default:
		return core.Signal{}, fmt.Errorf("analyzer: invalid risk_level %q", signal.RiskLevel)
	}
	return signal, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
