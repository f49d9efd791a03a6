package bridge

import (
	"context"
	"encoding/json"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/engine"
	"github.com/kandev/acpbridge/internal/settings"
)

// updateSender abstracts sending session updates, enabling test injection.
type updateSender interface {
	SessionUpdate(ctx context.Context, n acp.SessionNotification) error
}

// toolCallRecord is the cached state of an in-flight tool call, keyed by the
// engine's tool_use id. Records are never reused for a different call and are
// kept after the result arrives so late updates still correlate.
type toolCallRecord struct {
	Name  string
	Input map[string]any
}

// Translator converts engine stream messages into ACP session updates for one
// session. It owns the tool-call correlation cache and the deferred
// available-commands buffer.
type Translator struct {
	sessionID acp.SessionId
	sender    updateSender
	logger    *logger.Logger

	mu        sync.Mutex
	hooks     *settings.Manager
	files     *FileCache
	toolCalls map[string]toolCallRecord
	inTurn    bool
	deferred  []acp.AvailableCommand
}

func NewTranslator(sessionID acp.SessionId, sender updateSender, log *logger.Logger) *Translator {
	return &Translator{
		sessionID: sessionID,
		sender:    sender,
		logger:    log.WithSessionID(string(sessionID)),
		toolCalls: make(map[string]toolCallRecord),
	}
}

// SetHooks attaches a settings manager whose post-tool hooks run on every
// correlated tool result.
func (t *Translator) SetHooks(mgr *settings.Manager) {
	t.mu.Lock()
	t.hooks = mgr
	t.mu.Unlock()
}

// SetFileCache attaches the session file cache so tool-call diffs can show
// the previously seen content.
func (t *Translator) SetFileCache(c *FileCache) {
	t.mu.Lock()
	t.files = c
	t.mu.Unlock()
}

// LookupToolCall returns the cached record for a tool_use id.
func (t *Translator) LookupToolCall(id string) (toolCallRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.toolCalls[id]
	return rec, ok
}

// BeginTurn marks the session in-turn. Available-commands updates arriving
// while in-turn are buffered so they cannot interleave with turn content.
func (t *Translator) BeginTurn() {
	t.mu.Lock()
	t.inTurn = true
	t.mu.Unlock()
}

// EndTurn marks the turn finished and flushes any deferred
// available-commands update.
func (t *Translator) EndTurn(ctx context.Context) {
	t.mu.Lock()
	t.inTurn = false
	deferred := t.deferred
	t.deferred = nil
	t.mu.Unlock()

	if len(deferred) > 0 {
		t.send(ctx, acp.SessionUpdate{
			AvailableCommandsUpdate: &acp.SessionAvailableCommandsUpdate{
				AvailableCommands: deferred,
			},
		})
	}
}

// HandleMessage translates one engine stream message into zero or more
// session updates.
func (t *Translator) HandleMessage(ctx context.Context, msg *engine.Message) {
	switch msg.Type {
	case engine.MessageTypeSystem:
		t.handleSystem(ctx, msg)
	case engine.MessageTypeAssistant:
		t.handleAssistant(ctx, msg)
	case engine.MessageTypeUser:
		t.handleUser(ctx, msg)
	case engine.MessageTypeStreamEvent:
		t.handleStreamEvent(ctx, msg)
	case engine.MessageTypeResult:
		// Turn completion is handled by the session loop.
	default:
		t.logger.Error("unrecognized engine message variant",
			zap.String("type", msg.Type),
			zap.String("subtype", msg.Subtype))
	}
}

func (t *Translator) handleSystem(ctx context.Context, msg *engine.Message) {
	if len(msg.SlashCommands) == 0 {
		return
	}
	commands := make([]acp.AvailableCommand, 0, len(msg.SlashCommands))
	for _, name := range msg.SlashCommands {
		commands = append(commands, acp.AvailableCommand{Name: name})
	}
	t.PublishCommands(ctx, commands)
}

// PublishCommands sends an available-commands update, or buffers it when a
// turn is active.
func (t *Translator) PublishCommands(ctx context.Context, commands []acp.AvailableCommand) {
	t.mu.Lock()
	if t.inTurn {
		t.deferred = commands
		t.mu.Unlock()
		t.logger.Debug("deferred available commands until turn end",
			zap.Int("count", len(commands)))
		return
	}
	t.mu.Unlock()

	t.send(ctx, acp.SessionUpdate{
		AvailableCommandsUpdate: &acp.SessionAvailableCommandsUpdate{
			AvailableCommands: commands,
		},
	})
}

func (t *Translator) handleAssistant(ctx context.Context, msg *engine.Message) {
	if msg.Message == nil {
		return
	}
	for _, block := range msg.Message.GetContentBlocks() {
		switch block.Type {
		case "text":
			// Replayed history has no partial events, so the full text is
			// forwarded. Live turns already streamed it.
			if msg.IsReplay && block.Text != "" {
				t.send(ctx, acp.UpdateAgentMessageText(block.Text))
			}
		case "thinking":
			if msg.IsReplay && block.Thinking != "" {
				t.send(ctx, acp.UpdateAgentThoughtText(block.Thinking))
			}
		case "tool_use":
			if msg.IsReplay {
				continue
			}
			t.handleToolUse(ctx, block)
		default:
			t.logger.Error("unrecognized assistant content block",
				zap.String("block_type", block.Type))
		}
	}
}

func (t *Translator) handleToolUse(ctx context.Context, block engine.ContentBlock) {
	// The plan tool never surfaces as a tool call. Its payload becomes a
	// plan update and its id is deliberately kept out of the cache.
	if block.Name == engine.ToolTodoWrite {
		if update := planFromTodos(block.Input); update != nil {
			t.send(ctx, acp.SessionUpdate{Plan: update})
		}
		return
	}

	t.mu.Lock()
	t.toolCalls[block.ID] = toolCallRecord{Name: block.Name, Input: block.Input}
	files := t.files
	t.mu.Unlock()

	info := toolInfoFromUse(block.Name, block.Input, files)
	opts := []acp.ToolCallStartOpt{
		acp.WithStartKind(info.Kind),
		acp.WithStartStatus(acp.ToolCallStatusInProgress),
	}
	if block.Input != nil {
		opts = append(opts, acp.WithStartRawInput(block.Input))
	}
	if len(info.Content) > 0 {
		opts = append(opts, acp.WithStartContent(info.Content))
	}
	if len(info.Locations) > 0 {
		opts = append(opts, acp.WithStartLocations(info.Locations))
	}
	t.send(ctx, acp.StartToolCall(acp.ToolCallId(block.ID), info.Title, opts...))
}

func (t *Translator) handleUser(ctx context.Context, msg *engine.Message) {
	if msg.Message == nil {
		return
	}
	if msg.IsReplay {
		if msg.IsSynthetic {
			return
		}
		if text := msg.Message.GetContentString(); text != "" {
			t.send(ctx, acp.UpdateUserMessageText(text))
			return
		}
		// Structured history entries carry their text in content blocks.
		for _, block := range msg.Message.GetContentBlocks() {
			if block.Type == "text" && block.Text != "" {
				t.send(ctx, acp.UpdateUserMessageText(block.Text))
			}
		}
		return
	}
	// Plain-string user content parses to no blocks and carries no
	// tool results.
	for _, block := range msg.Message.GetContentBlocks() {
		if block.Type != "tool_result" {
			continue
		}
		t.handleToolResult(ctx, block)
	}
}

func (t *Translator) handleToolResult(ctx context.Context, block engine.ContentBlock) {
	t.mu.Lock()
	rec, known := t.toolCalls[block.ToolUseID]
	hooks := t.hooks
	t.mu.Unlock()
	if !known {
		// Plan-tool results land here too; both are dropped the same way.
		t.logger.Warn("dropping tool result with no matching tool call",
			zap.String("tool_use_id", block.ToolUseID))
		return
	}

	if hooks != nil {
		if res := hooks.RunPostToolUse(ctx, rec.Name, rec.Input, block.GetContentString()); res != nil && len(res.Metadata) > 0 {
			t.logger.Info("post-tool hook metadata",
				zap.String("tool", rec.Name),
				zap.Any("metadata", res.Metadata))
		}
	}

	status := acp.ToolCallStatusCompleted
	if block.IsError {
		status = acp.ToolCallStatusFailed
	}

	opts := []acp.ToolCallUpdateOpt{
		acp.WithUpdateStatus(status),
	}
	if len(block.Content) > 0 {
		opts = append(opts, acp.WithUpdateRawOutput(json.RawMessage(block.Content)))
	}
	if text := block.GetContentString(); text != "" {
		opts = append(opts, acp.WithUpdateContent([]acp.ToolCallContent{
			acp.ToolContent(acp.TextBlock(text)),
		}))
	}
	t.send(ctx, acp.UpdateToolCall(acp.ToolCallId(block.ToolUseID), opts...))
}

func (t *Translator) handleStreamEvent(ctx context.Context, msg *engine.Message) {
	if msg.Event == nil || msg.Event.Delta == nil {
		return
	}
	switch msg.Event.Delta.Type {
	case "text_delta":
		if msg.Event.Delta.Text != "" {
			t.send(ctx, acp.UpdateAgentMessageText(msg.Event.Delta.Text))
		}
	case "thinking_delta":
		if msg.Event.Delta.Thinking != "" {
			t.send(ctx, acp.UpdateAgentThoughtText(msg.Event.Delta.Thinking))
		}
	case "input_json_delta":
		// Tool input streams in fragments. The assembled input arrives with
		// the tool_use block, so the fragments carry nothing to forward.
	default:
		t.logger.Error("unrecognized stream delta variant",
			zap.String("type", msg.Event.Delta.Type))
	}
}

// planFromTodos converts the plan tool's payload into an ACP plan update.
func planFromTodos(input map[string]any) *acp.SessionUpdatePlan {
	todos, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	entries := make([]acp.PlanEntry, 0, len(todos))
	for _, raw := range todos {
		todo, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		content, _ := todo["content"].(string)
		status, _ := todo["status"].(string)
		if content == "" {
			continue
		}
		entries = append(entries, acp.PlanEntry{
			Content:  content,
			Status:   planStatus(status),
			Priority: acp.PlanEntryPriorityMedium,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return &acp.SessionUpdatePlan{Entries: entries}
}

func planStatus(status string) acp.PlanEntryStatus {
	switch status {
	case "in_progress":
		return acp.PlanEntryStatusInProgress
	case "completed":
		return acp.PlanEntryStatusCompleted
	default:
		return acp.PlanEntryStatusPending
	}
}

func (t *Translator) send(ctx context.Context, update acp.SessionUpdate) {
	if err := t.sender.SessionUpdate(ctx, acp.SessionNotification{
		SessionId: t.sessionID,
		Update:    update,
	}); err != nil {
		t.logger.Debug("failed to send session update", zap.Error(err))
	}
}
