// Package analyzer classifies prompt text into a complexity tier and a
// task category, and suggests an engine profile for the turn. It is a
// pure function over static keyword tables: same text in, same result
// out, no state carried between calls.
package analyzer

import (
	"regexp"
	"strings"
)

// Tier is the prompt complexity tier.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
)

// Category is the detected task category.
type Category string

const (
	CategoryQuestion      Category = "question"
	CategoryDebugging     Category = "debugging"
	CategoryReview        Category = "review"
	CategoryRefactoring   Category = "refactoring"
	CategoryGeneration    Category = "generation"
	CategoryArchitecture  Category = "architecture"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
)

// Result is the outcome of analyzing one prompt. Derived per turn and
// never persisted.
type Result struct {
	Tier     Tier
	Category Category
	Score    int
	Profile  Profile
}

// Scoring thresholds. Word and line counts are inclusive: exactly 100
// words already counts as the medium band.
const (
	wordThresholdMedium = 100
	wordThresholdHigh   = 300
	lineThresholdLow    = 10
	lineThresholdHigh   = 30

	tierComplexScore = 8
	tierMediumScore  = 4

	codeBlockPointCap = 3
	pathPointCap      = 2
	complexityCap     = 4
	simplicityCap     = 3

	heavyCategoryBonus    = 3
	moderateCategoryBonus = 1
)

var pathTokenRe = regexp.MustCompile(`(?:[A-Za-z0-9_\-.]+/)+[A-Za-z0-9_\-.]+|\b[A-Za-z0-9_\-]+\.(?:go|py|js|jsx|ts|tsx|rs|java|c|h|cpp|hpp|rb|php|cs|swift|kt|md|ya?ml|json|toml|sql|sh)\b`)

// Analyze scores the prompt and returns its tier, category, and the
// suggested engine profile.
func Analyze(text string) Result {
	lower := strings.ToLower(text)
	category := detectCategory(lower)

	score := 0

	words := len(strings.Fields(text))
	switch {
	case words >= wordThresholdHigh:
		score += 6
	case words >= wordThresholdMedium:
		score += 4
	}

	lines := strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
	switch {
	case lines >= lineThresholdHigh:
		score += 3
	case lines >= lineThresholdLow:
		score += 2
	}

	codeBlocks := strings.Count(text, "```") / 2
	score += capped(codeBlocks, codeBlockPointCap)

	paths := len(pathTokenRe.FindAllString(text, -1))
	score += capped(paths, pathPointCap)

	score += capped(countHits(lower, complexityKeywords), complexityCap)
	score -= capped(countHits(lower, simplicityKeywords), simplicityCap)

	if heavyCategories[category] {
		score += heavyCategoryBonus
	} else if moderateCategories[category] {
		score += moderateCategoryBonus
	}

	var tier Tier
	switch {
	case score >= tierComplexScore:
		tier = TierComplex
	case score >= tierMediumScore:
		tier = TierMedium
	default:
		tier = TierSimple
	}

	return Result{
		Tier:     tier,
		Category: category,
		Score:    score,
		Profile:  profileFor(tier, category),
	}
}

// detectCategory picks the category with the most keyword hits.
// Ties go to the earlier entry in categoryOrder, so question wins a
// zero-hit or tied prompt.
func detectCategory(lower string) Category {
	best := categoryOrder[0]
	bestHits := -1
	for _, cat := range categoryOrder {
		hits := countHits(lower, categoryKeywords[cat])
		if hits > bestHits {
			best = cat
			bestHits = hits
		}
	}
	return best
}

func countHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func capped(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}
