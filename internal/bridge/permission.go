package bridge

import (
	"context"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/engine"
	"github.com/kandev/acpbridge/internal/settings"
)

// permissionRequester is the client-side round trip the mediator needs.
type permissionRequester interface {
	RequestPermission(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error)
}

// modeController lets the mediator flip the session's permission mode when
// the user accepts a plan.
type modeController interface {
	ApplyMode(ctx context.Context, mode string) error
}

// Mediator turns engine can_use_tool requests into ACP permission prompts and
// maps the chosen option back to an engine permission result. Session-mode
// shortcuts resolve without a client round trip.
type Mediator struct {
	requester  permissionRequester
	modes      modeController
	settings   *settings.Manager
	translator *Translator
	sessionID  acp.SessionId
	logger     *logger.Logger

	mu    sync.Mutex
	mode  string
	files *FileCache
	rules []settings.Rule // durable always-allow rules, session lifetime
}

func NewMediator(sessionID acp.SessionId, requester permissionRequester, modes modeController, mgr *settings.Manager, tr *Translator, mode string, log *logger.Logger) *Mediator {
	return &Mediator{
		requester:  requester,
		modes:      modes,
		settings:   mgr,
		translator: tr,
		sessionID:  sessionID,
		mode:       mode,
		logger:     log.WithSessionID(string(sessionID)),
	}
}

// Mode returns the current permission mode.
func (m *Mediator) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode updates the tracked permission mode.
func (m *Mediator) SetMode(mode string) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// SetFileCache attaches the session file cache so permission prompts can show
// old-vs-new diffs for writes to files the bridge has already read.
func (m *Mediator) SetFileCache(c *FileCache) {
	m.mu.Lock()
	m.files = c
	m.mu.Unlock()
}

func (m *Mediator) fileCache() *FileCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files
}

func deny(message string, interrupt bool) *engine.PermissionResult {
	res := &engine.PermissionResult{
		Behavior: engine.BehaviorDeny,
		Message:  message,
	}
	if interrupt {
		t := true
		res.Interrupt = &t
	}
	return res
}

func allow(input map[string]any) *engine.PermissionResult {
	return &engine.PermissionResult{
		Behavior:     engine.BehaviorAllow,
		UpdatedInput: input,
	}
}

// Decide resolves one can_use_tool request.
func (m *Mediator) Decide(ctx context.Context, req *engine.ControlRequest) *engine.PermissionResult {
	tool := req.ToolName
	input := req.Input
	log := m.logger.WithFields(zap.String("tool", tool))

	if hook := m.settings.RunPreToolUse(ctx, tool, input); hook.Denied() {
		log.Info("tool denied by hook", zap.String("reason", hook.Reason))
		return deny(hook.Reason, false)
	}

	// The plan-exit tool is mediated even in bypass mode: accepting it is a
	// mode decision, not a tool approval.
	if tool == engine.ToolExitPlanMode {
		return m.decideExitPlan(ctx, req)
	}

	switch m.settings.Evaluate(tool, input) {
	case settings.ActionAllow:
		return allow(input)
	case settings.ActionDeny:
		log.Info("tool denied by settings rule")
		return deny("denied by settings rule", false)
	}

	mode := m.Mode()
	switch {
	case mode == engine.ModeBypass:
		return allow(input)
	case mode == engine.ModeAcceptEdits && isEditTool(tool):
		return allow(input)
	case mode == engine.ModePlan && !isReadOnlyTool(tool):
		log.Info("mutating tool denied in plan mode")
		return deny("mutating tools are not allowed in plan mode", false)
	}

	if m.matchesSessionRule(tool, input) {
		return allow(input)
	}

	return m.ask(ctx, req)
}

// ask runs the client round trip for one tool call.
func (m *Mediator) ask(ctx context.Context, req *engine.ControlRequest) *engine.PermissionResult {
	tool := req.ToolName
	info := toolInfoFromUse(tool, req.Input, m.fileCache())

	options := []acp.PermissionOption{
		{OptionId: "allow_always", Name: "Always Allow", Kind: acp.PermissionOptionKindAllowAlways},
		{OptionId: "allow", Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
		{OptionId: "reject", Name: "Reject", Kind: acp.PermissionOptionKindRejectOnce},
	}

	resp, err := m.requester.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: m.sessionID,
		Options:   options,
		ToolCall: acp.RequestPermissionToolCall{
			ToolCallId: acp.ToolCallId(req.ToolUseID),
			Title:      &info.Title,
			Kind:       &info.Kind,
			RawInput:   req.Input,
			Content:    info.Content,
			Locations:  info.Locations,
		},
	})
	if err != nil {
		// A failed round trip usually means the turn was cancelled.
		m.logger.Warn("permission request failed", zap.Error(err))
		return deny("permission request failed", true)
	}
	if resp.Outcome.Cancelled != nil {
		return deny("permission request cancelled", true)
	}
	if resp.Outcome.Selected == nil {
		return deny("no option selected", true)
	}

	switch resp.Outcome.Selected.OptionId {
	case "allow":
		return allow(req.Input)
	case "allow_always":
		m.addSessionRule(tool, req.Input)
		res := allow(req.Input)
		res.UpdatedPermissions = req.PermissionSuggestions
		return res
	default:
		return deny("user denied permission", true)
	}
}

// decideExitPlan handles the three-way plan acceptance prompt. The first
// accepting option also flips the session mode.
func (m *Mediator) decideExitPlan(ctx context.Context, req *engine.ControlRequest) *engine.PermissionResult {
	info := toolInfoFromUse(req.ToolName, req.Input, m.fileCache())
	options := []acp.PermissionOption{
		{OptionId: "acceptEdits", Name: "Yes, and auto-accept edits", Kind: acp.PermissionOptionKindAllowAlways},
		{OptionId: "default", Name: "Yes, and manually approve edits", Kind: acp.PermissionOptionKindAllowOnce},
		{OptionId: "plan", Name: "No, keep planning", Kind: acp.PermissionOptionKindRejectOnce},
	}

	resp, err := m.requester.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: m.sessionID,
		Options:   options,
		ToolCall: acp.RequestPermissionToolCall{
			ToolCallId: acp.ToolCallId(req.ToolUseID),
			Title:      &info.Title,
			Kind:       &info.Kind,
			RawInput:   req.Input,
		},
	})
	if err != nil {
		m.logger.Warn("plan approval request failed", zap.Error(err))
		return deny("permission request failed", true)
	}
	if resp.Outcome.Selected == nil || resp.Outcome.Cancelled != nil {
		return deny("plan not approved", true)
	}

	switch resp.Outcome.Selected.OptionId {
	case "acceptEdits", "default":
		target := resp.Outcome.Selected.OptionId
		if err := m.modes.ApplyMode(ctx, string(target)); err != nil {
			m.logger.Error("failed to switch mode after plan approval", zap.Error(err))
		}
		return allow(req.Input)
	default:
		// Stays in plan mode; the engine must stop and wait for direction.
		return deny("user chose to keep planning", true)
	}
}

// addSessionRule records a durable allow rule for the session. Shell commands
// are generalized to a prefix pattern; other tools get a tool-wide rule.
func (m *Mediator) addSessionRule(tool string, input map[string]any) {
	rule := settings.Rule{Tool: tool, Action: settings.ActionAllow}
	if tool == engine.ToolBash {
		if cmd, ok := input["command"].(string); ok && cmd != "" {
			rule.Pattern = commandPattern(cmd)
		}
	}
	m.mu.Lock()
	m.rules = append(m.rules, rule)
	m.mu.Unlock()
	m.logger.Info("added session permission rule",
		zap.String("tool", rule.Tool), zap.String("pattern", rule.Pattern))
}

func (m *Mediator) matchesSessionRule(tool string, input map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules {
		if rule.Matches(tool, input) {
			return true
		}
	}
	return false
}

// commandPattern generalizes a command line to a reusable pattern:
// "git commit -m x" becomes "git commit *".
func commandPattern(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0]
	}
	if strings.HasPrefix(fields[1], "-") {
		return fields[0] + " *"
	}
	return fields[0] + " " + fields[1] + " *"
}
