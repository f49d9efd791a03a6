package analyzer

import "regexp"

// Profile is an engine configuration suggestion: model class, reasoning
// effort, and extended thinking budget. Advisory output only; the
// session decides whether to apply it.
type Profile struct {
	Model             string
	ReasoningEffort   string // low, medium, high
	MaxThinkingTokens int
}

// Model identifiers the profiles map onto.
const (
	ModelHaiku  = "claude-haiku-4-5"
	ModelSonnet = "claude-sonnet-4-5"
	ModelOpus   = "claude-opus-4-6"
)

// DefaultThinkingBudget is applied when a high-capability model is
// selected without an explicit budget.
const DefaultThinkingBudget = 16000

// highCapabilityRe matches model identifiers that warrant a thinking
// budget by default.
var highCapabilityRe = regexp.MustCompile(`(?i)opus`)

// IsHighCapability reports whether the model identifier names a
// high-capability model class.
func IsHighCapability(model string) bool {
	return highCapabilityRe.MatchString(model)
}

// profileFor maps (tier, category) to an engine profile. Heavy
// categories bump a medium-tier prompt to a stronger model; the
// complex tier always gets the full budget.
func profileFor(tier Tier, category Category) Profile {
	switch tier {
	case TierComplex:
		return Profile{
			Model:             ModelOpus,
			ReasoningEffort:   "high",
			MaxThinkingTokens: 32000,
		}
	case TierMedium:
		if heavyCategories[category] {
			return Profile{
				Model:             ModelOpus,
				ReasoningEffort:   "medium",
				MaxThinkingTokens: DefaultThinkingBudget,
			}
		}
		return Profile{
			Model:           ModelSonnet,
			ReasoningEffort: "medium",
		}
	default:
		if category == CategoryQuestion || category == CategoryDocumentation {
			return Profile{
				Model:           ModelHaiku,
				ReasoningEffort: "low",
			}
		}
		return Profile{
			Model:           ModelSonnet,
			ReasoningEffort: "low",
		}
	}
}
