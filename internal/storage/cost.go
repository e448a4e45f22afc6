package storage

import (
	"strings"

	"github.com/replayhq/replay/pkg/models"
)

// CostUSD estimates the dollar cost of a session from its token usage and
// the model that produced it. Rates are per million tokens; cache reads are
// billed at a tenth of the input rate. Unknown models fall back to
// mid-tier rates so the estimate stays in a useful range.
func CostUSD(model string, usage models.TokenUsage) float64 {
	var inRate, outRate float64
	switch model = strings.ToLower(model); {
	case strings.Contains(model, "opus"):
		inRate, outRate = 15.0, 75.0
	case strings.Contains(model, "sonnet"):
		inRate, outRate = 3.0, 15.0
	case strings.Contains(model, "haiku"):
		inRate, outRate = 0.25, 1.25
	case strings.Contains(model, "gpt-4o"):
		inRate, outRate = 2.5, 10.0
	case strings.Contains(model, "gpt-4"):
		inRate, outRate = 10.0, 30.0
	case strings.Contains(model, "o1"), strings.Contains(model, "o3"):
		inRate, outRate = 15.0, 60.0
	case strings.Contains(model, "gemini"):
		inRate, outRate = 1.25, 5.0
	case strings.Contains(model, "deepseek"):
		inRate, outRate = 0.14, 0.28
	default:
		inRate, outRate = 3.0, 15.0
	}

	regularIn := usage.InputTokens - usage.CachedInputTokens
	if regularIn < 0 {
		regularIn = 0
	}

	cost := float64(usage.CachedInputTokens) * inRate * 0.1 / 1e6
	cost += float64(regularIn) * inRate / 1e6
	cost += float64(usage.OutputTokens) * outRate / 1e6
	return cost
}
