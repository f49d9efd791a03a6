package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_SimpleQuestion(t *testing.T) {
	res := Analyze("What is a closure?")

	if res.Tier != TierSimple {
		t.Errorf("Tier = %q, want %q (score %d)", res.Tier, TierSimple, res.Score)
	}
	if res.Category != CategoryQuestion {
		t.Errorf("Category = %q, want %q", res.Category, CategoryQuestion)
	}
}

func TestAnalyze_ComplexRefactoring(t *testing.T) {
	// 250 words, two fenced code blocks, the word "refactor", one file path.
	filler := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet consectetur ", 39)) // 234 words
	prompt := filler + "\n" +
		"Please refactor the session manager in internal/bridge/session.go so the correlation logic stays isolated.\n" + // 14 words
		"```go\nfunc before() {}\n```\n" +
		"```go\nfunc after() {}\n```\n"

	words := len(strings.Fields(prompt))
	require.GreaterOrEqual(t, words, 240, "prompt should be around 250 words")
	require.LessOrEqual(t, words, 260, "prompt should be around 250 words")

	res := Analyze(prompt)

	assert.Equal(t, TierComplex, res.Tier, "score %d", res.Score)
	assert.Equal(t, CategoryRefactoring, res.Category)
	assert.Equal(t, ModelOpus, res.Profile.Model)
	assert.NotZero(t, res.Profile.MaxThinkingTokens)
}

func TestAnalyze_WordBoundaryExactlyHundred(t *testing.T) {
	// Exactly 100 neutral words trips the medium band on its own.
	prompt := strings.TrimSpace(strings.Repeat("alpha beta gamma delta ", 25))
	require.Len(t, strings.Fields(prompt), 100)

	res := Analyze(prompt)
	assert.Equal(t, TierMedium, res.Tier, "score %d", res.Score)

	// One word fewer stays simple.
	shorter := strings.TrimSpace(strings.Repeat("alpha beta gamma ", 33))
	require.Len(t, strings.Fields(shorter), 99)
	assert.Equal(t, TierSimple, Analyze(shorter).Tier)
}

func TestAnalyze_Idempotent(t *testing.T) {
	prompt := "Fix the crash in parser.go when the input file is empty"

	first := Analyze(prompt)
	second := Analyze(prompt)

	assert.Equal(t, first, second)
}

func TestDetectCategory_TieBreak(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{
			name: "no hits defaults to question",
			text: "lorem ipsum dolor",
			want: CategoryQuestion,
		},
		{
			name: "earlier category wins a tie",
			// one debugging hit, one review hit; debugging enumerates first
			text: "debug then review",
			want: CategoryDebugging,
		},
		{
			name: "most hits wins",
			text: "fix the bug causing the crash during review",
			want: CategoryDebugging,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectCategory(strings.ToLower(tt.text))
			if got != tt.want {
				t.Errorf("detectCategory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnalyze_CodeBlockAndPathCaps(t *testing.T) {
	// Six code blocks and many paths must not exceed their caps.
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString("```\nx\n```\n")
	}
	sb.WriteString("a/b.go c/d.go e/f.go g/h.go\n")
	res := Analyze(sb.String())

	// blocks capped at 3, paths at 2, lines contribute too; the point
	// is the score stays bounded rather than growing per occurrence.
	maxExpected := codeBlockPointCap + pathPointCap + 3
	if res.Score > maxExpected {
		t.Errorf("Score = %d, want <= %d", res.Score, maxExpected)
	}
}

func TestIsHighCapability(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{ModelOpus, true},
		{"claude-opus-4-5", true},
		{"OPUS-preview", true},
		{ModelSonnet, false},
		{ModelHaiku, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsHighCapability(tt.model); got != tt.want {
			t.Errorf("IsHighCapability(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestProfileFor_Tiers(t *testing.T) {
	complex := profileFor(TierComplex, CategoryArchitecture)
	assert.Equal(t, ModelOpus, complex.Model)
	assert.Equal(t, "high", complex.ReasoningEffort)

	mediumHeavy := profileFor(TierMedium, CategoryGeneration)
	assert.Equal(t, ModelOpus, mediumHeavy.Model)
	assert.Equal(t, DefaultThinkingBudget, mediumHeavy.MaxThinkingTokens)

	mediumLight := profileFor(TierMedium, CategoryDebugging)
	assert.Equal(t, ModelSonnet, mediumLight.Model)
	assert.Zero(t, mediumLight.MaxThinkingTokens)

	simpleQuestion := profileFor(TierSimple, CategoryQuestion)
	assert.Equal(t, ModelHaiku, simpleQuestion.Model)
}
