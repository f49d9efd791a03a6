package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const hookTimeout = 30 * time.Second

// HookPayload is written to the hook command's stdin as JSON.
type HookPayload struct {
	Phase     string         `json:"phase"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Output    string         `json:"output,omitempty"`
}

// HookResult is parsed from the hook command's stdout. A pre-tool hook
// may set Decision to "deny" to block the call; Metadata is attached to
// the tool-call update as side-channel data.
type HookResult struct {
	Decision string         `json:"decision,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Denied reports whether the hook blocked the tool call.
func (r *HookResult) Denied() bool {
	return r != nil && r.Decision == "deny"
}

// RunPreToolUse runs matching pre-tool hooks. The first denial wins.
func (m *Manager) RunPreToolUse(ctx context.Context, tool string, input map[string]any) *HookResult {
	return m.run(ctx, m.settings.Hooks.PreToolUse, HookPayload{
		Phase: "preToolUse", ToolName: tool, ToolInput: input,
	})
}

// RunPostToolUse runs matching post-tool hooks and returns the merged
// metadata, if any.
func (m *Manager) RunPostToolUse(ctx context.Context, tool string, input map[string]any, output string) *HookResult {
	return m.run(ctx, m.settings.Hooks.PostToolUse, HookPayload{
		Phase: "postToolUse", ToolName: tool, ToolInput: input, Output: output,
	})
}

func (m *Manager) run(ctx context.Context, entries []HookEntry, payload HookPayload) *HookResult {
	var merged *HookResult
	for _, entry := range entries {
		if entry.Matcher != "" {
			ok, err := doublestar.Match(entry.Matcher, payload.ToolName)
			if err != nil || !ok {
				continue
			}
		}
		res := m.execHook(ctx, entry.Command, payload)
		if res == nil {
			continue
		}
		if res.Denied() {
			return res
		}
		if merged == nil {
			merged = &HookResult{Metadata: map[string]any{}}
		}
		for k, v := range res.Metadata {
			merged.Metadata[k] = v
		}
	}
	return merged
}

func (m *Manager) execHook(ctx context.Context, command string, payload HookPayload) *HookResult {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	stdin, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		m.logger.Warn("hook command failed",
			zap.String("command", command),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return nil
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil
	}
	var res HookResult
	if err := json.Unmarshal(out, &res); err != nil {
		m.logger.Warn("hook output is not JSON", zap.String("command", command))
		return nil
	}
	return &res
}
