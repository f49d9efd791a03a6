package analyzer

// Keyword tables are static; the analyzer never mutates them.
// Non-English entries cover the languages prompts actually arrive in.

// complexityKeywords indicate work that needs deeper reasoning.
var complexityKeywords = []string{
	"refactor",
	"architecture",
	"architect",
	"redesign",
	"migrate",
	"migration",
	"concurrency",
	"race condition",
	"deadlock",
	"distributed",
	"optimize",
	"optimization",
	"performance",
	"scalab",
	"security",
	"algorithm",
	"trade-off",
	"tradeoff",
	"end-to-end",
	"across the codebase",
	"rewrite",
	// es
	"refactorizar",
	"arquitectura",
	"optimizar",
	// de
	"refaktorisieren",
	"architektur",
	"optimieren",
	// zh
	"重构",
	"架构",
	"优化",
}

// simplicityKeywords indicate a prompt answerable without deep work.
var simplicityKeywords = []string{
	"what is",
	"what does",
	"what are",
	"explain briefly",
	"quick question",
	"simple",
	"typo",
	"rename",
	"one-liner",
	"one line",
	// es
	"qué es",
	"qué significa",
	// de
	"was ist",
	"was bedeutet",
	// zh
	"是什么",
}

// categoryKeywords drive task-category selection by hit count.
// Enumeration order is the tie-break order; see categoryOrder.
var categoryKeywords = map[Category][]string{
	CategoryQuestion: {
		"what", "why", "how", "when", "where", "which", "who",
		"explain", "?", "qué", "cómo", "por qué", "warum", "wie",
		"什么", "为什么",
	},
	CategoryDebugging: {
		"bug", "fix", "error", "crash", "broken", "fails", "failing",
		"exception", "panic", "stack trace", "stacktrace", "segfault",
		"doesn't work", "does not work", "not working", "debug",
		"reproduce", "regression",
		"falla", "fehler", "修复", "报错",
	},
	CategoryReview: {
		"review", "feedback", "critique", "audit", "look over",
		"check my", "is this correct", "revisa", "überprüfe", "审查",
	},
	CategoryRefactoring: {
		"refactor", "clean up", "cleanup", "restructure", "simplify",
		"extract", "rename", "decouple", "modularize", "tidy",
		"refactorizar", "refaktorisieren", "重构",
	},
	CategoryGeneration: {
		"write", "create", "implement", "add", "build", "generate",
		"scaffold", "new feature", "boilerplate",
		"escribe", "crea", "implementa", "schreibe", "erstelle",
		"实现", "编写",
	},
	CategoryArchitecture: {
		"architecture", "design", "structure", "system design",
		"high-level", "component", "module layout", "schema",
		"arquitectura", "architektur", "架构", "设计",
	},
	CategoryTesting: {
		"test", "tests", "unit test", "integration test", "coverage",
		"test case", "assertion", "prueba", "测试",
	},
	CategoryDocumentation: {
		"document", "documentation", "docstring", "readme", "comment",
		"changelog", "documenta", "dokumentiere", "文档",
	},
}

// categoryOrder fixes the tie-break: earlier wins on equal hit counts,
// so question beats everything at zero or equal hits.
var categoryOrder = []Category{
	CategoryQuestion,
	CategoryDebugging,
	CategoryReview,
	CategoryRefactoring,
	CategoryGeneration,
	CategoryArchitecture,
	CategoryTesting,
	CategoryDocumentation,
}

// heavyCategories get a fixed score bonus; moderateCategories a smaller one.
var heavyCategories = map[Category]bool{
	CategoryArchitecture: true,
	CategoryRefactoring:  true,
	CategoryGeneration:   true,
}

var moderateCategories = map[Category]bool{
	CategoryDebugging: true,
	CategoryReview:    true,
}
