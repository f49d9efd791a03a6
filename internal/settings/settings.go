// Package settings provides session-scoped settings: glob-based
// permission rules and pre/post tool-execution hooks. Rules decide
// whether a tool call is allowed, denied, or needs a host round trip;
// hooks attach side-channel metadata to tool results.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// Action represents the action to take for a permission check.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Rule is a pattern-based permission rule. Pattern is matched with
// Match against the tool's primary argument: the file path for
// edit/read tools, the command line for Bash, the URL for web tools.
// An empty pattern matches every invocation of the tool.
type Rule struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
	Action  Action `json:"action"`
}

// HookEntry runs a command when a tool matching the pattern executes.
type HookEntry struct {
	// Matcher is a doublestar pattern on the tool name; empty matches all.
	Matcher string `json:"matcher,omitempty"`
	// Command is executed with the hook payload on stdin.
	Command string `json:"command"`
}

// Hooks groups hook entries by phase.
type Hooks struct {
	PreToolUse  []HookEntry `json:"preToolUse,omitempty"`
	PostToolUse []HookEntry `json:"postToolUse,omitempty"`
}

// Settings is the on-disk settings document.
type Settings struct {
	Permissions []Rule `json:"permissions,omitempty"`
	Hooks       Hooks  `json:"hooks,omitempty"`
}

// Manager serves rule evaluation and hook execution for one session.
type Manager struct {
	settings Settings
	logger   *logger.Logger
}

// Load reads the settings file. A missing file yields an empty manager,
// not an error.
func Load(path string, log *logger.Logger) (*Manager, error) {
	mgr := &Manager{
		logger: log.WithFields(zap.String("component", "settings")),
	}
	if path == "" {
		return mgr, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return mgr, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &mgr.settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	mgr.logger.Info("settings loaded",
		zap.String("path", path),
		zap.Int("rules", len(mgr.settings.Permissions)))
	return mgr, nil
}

// NewManager wraps an in-memory settings document, for tests and
// programmatic configuration.
func NewManager(s Settings, log *logger.Logger) *Manager {
	return &Manager{settings: s, logger: log.WithFields(zap.String("component", "settings"))}
}

// Evaluate returns the action of the first rule matching the tool and
// its primary argument. No match means ask.
func (m *Manager) Evaluate(tool string, input map[string]any) Action {
	for _, rule := range m.settings.Permissions {
		if rule.Matches(tool, input) {
			return rule.Action
		}
	}
	return ActionAsk
}

// Matches reports whether the rule applies to the tool invocation. A bad
// pattern never matches.
func (r Rule) Matches(tool string, input map[string]any) bool {
	if r.Tool != tool && r.Tool != "*" {
		return false
	}
	if r.Pattern == "" {
		return true
	}
	return Match(r.Pattern, PrimaryArgument(tool, input))
}

// Match reports whether value matches the wildcard pattern. A single
// leading or trailing star is plain suffix/prefix matching, so command
// lines and URLs match even when their arguments contain slashes.
// Patterns with ** or interior stars are path globs and go through
// doublestar.
func Match(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		ok, err := doublestar.Match(pattern, value)
		return err == nil && ok
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(value, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		ok, err := doublestar.Match(pattern, value)
		return err == nil && ok
	}
	return pattern == value
}

// PrimaryArgument extracts the input field a rule pattern applies to.
func PrimaryArgument(tool string, input map[string]any) string {
	for _, key := range []string{"file_path", "path", "command", "url", "pattern", "query"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
