package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/analyzer"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/credentials"
	"github.com/kandev/acpbridge/internal/engine"
	"github.com/kandev/acpbridge/internal/settings"
	"github.com/kandev/acpbridge/internal/tracing"
)

// State is the session lifecycle state.
type State string

const (
	StateCreated      State = "created"
	StateAwaitingAuth State = "awaiting-auth"
	StateReady        State = "ready"
	StateInTurn       State = "in-turn"
	StateCancelled    State = "cancelled"
	StateClosed       State = "closed"
)

// sessionConn is the subset of the agent-side connection a session talks to.
type sessionConn interface {
	updateSender
	permissionRequester
}

// Session bridges one ACP session to one engine subprocess. The engine is
// spawned lazily on the first prompt and reused for subsequent turns.
type Session struct {
	ID  acp.SessionId
	Cwd string

	cfg        *config.Config
	conn       sessionConn
	creds      *credentials.Store
	settings   *settings.Manager
	translator *Translator
	mediator   *Mediator
	files      *FileCache
	logger     *logger.Logger

	mcpConfigPath string
	resumeID      string
	engineAuth    bool // engine holds its own credential, skip the store

	mu         sync.Mutex
	state      State
	model      string
	proc       *engine.Process
	engineID   string // engine-side session id, used for resume
	turnCtx    context.Context
	turnCancel context.CancelFunc
	resultCh   chan *engine.Message
}

// NewSession builds a session in the created state. The engine subprocess is
// not spawned until the first prompt.
func NewSession(id acp.SessionId, cwd string, conn sessionConn, cfg *config.Config, creds *credentials.Store, mgr *settings.Manager, mcpConfigPath string, log *logger.Logger) *Session {
	s := &Session{
		ID:            id,
		Cwd:           cwd,
		cfg:           cfg,
		conn:          conn,
		creds:         creds,
		settings:      mgr,
		files:         NewFileCache(),
		logger:        log.WithSessionID(string(id)),
		mcpConfigPath: mcpConfigPath,
		state:         StateCreated,
		model:         cfg.Engine.Model,
	}
	s.translator = NewTranslator(id, conn, log)
	s.translator.SetHooks(mgr)
	s.translator.SetFileCache(s.files)
	s.mediator = NewMediator(id, conn, s, mgr, s.translator, cfg.Permissions.DefaultMode, log)
	s.mediator.SetFileCache(s.files)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Files exposes the session's file content cache.
func (s *Session) Files() *FileCache {
	return s.files
}

// SetResumeID marks the session to resume an existing engine conversation.
func (s *Session) SetResumeID(id string) {
	s.mu.Lock()
	s.resumeID = id
	s.mu.Unlock()
}

// SetEngineAuth marks the session as relying on the engine's own stored
// login instead of a credential from the store.
func (s *Session) SetEngineAuth(v bool) {
	s.mu.Lock()
	s.engineAuth = v
	s.mu.Unlock()
}

// EngineSessionID returns the engine-side session id, once known.
func (s *Session) EngineSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineID
}

// ensureEngine spawns and initializes the engine subprocess if needed.
// The caller must not hold s.mu.
func (s *Session) ensureEngine(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return nil
	}
	resumeID := s.resumeID
	model := s.model
	engineAuth := s.engineAuth
	s.mu.Unlock()

	env := map[string]string{}
	if !engineAuth {
		cred, err := s.creds.Get(ctx)
		if err != nil {
			s.mu.Lock()
			s.state = StateAwaitingAuth
			s.mu.Unlock()
			return NewAuthRequiredError("no credential available")
		}
		env[credentials.EnvKey] = cred
	}

	proc, err := engine.Spawn(ctx, engine.SpawnOptions{
		Command:         s.cfg.Engine.Command,
		Args:            s.cfg.Engine.Args,
		Cwd:             s.Cwd,
		Model:           model,
		PermissionMode:  s.mediator.Mode(),
		ResumeSessionID: resumeID,
		SettingsPath:    s.cfg.Engine.SettingsPath,
		MCPConfigPath:   s.mcpConfigPath,
		Env:             env,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("spawn engine: %w", err)
	}

	resultCh := make(chan *engine.Message, 16)
	proc.Client.SetRequestHandler(func(requestID string, req *engine.ControlRequest) {
		s.handleControlRequest(requestID, req)
	})
	proc.Client.SetMessageHandler(func(msg *engine.Message) {
		s.handleEngineMessage(msg, resultCh)
	})

	s.mu.Lock()
	s.proc = proc
	s.resultCh = resultCh
	s.mu.Unlock()

	if _, err := proc.Client.Initialize(ctx, s.cfg.Engine.InitTimeoutDuration()); err != nil {
		s.logger.Warn("engine initialize round trip failed", zap.Error(err))
	}
	return nil
}

// handleEngineMessage routes stream messages. Results wake the turn loop;
// everything else is translated in arrival order.
func (s *Session) handleEngineMessage(msg *engine.Message, resultCh chan *engine.Message) {
	if msg.Type == engine.MessageTypeSystem && msg.SessionID != "" {
		s.mu.Lock()
		s.engineID = msg.SessionID
		s.mu.Unlock()
	}
	if msg.Type == engine.MessageTypeResult {
		select {
		case resultCh <- msg:
		default:
			s.logger.Warn("dropping result message, turn loop not ready")
		}
		return
	}
	s.translator.HandleMessage(context.Background(), msg)
}

// handleControlRequest resolves a can_use_tool request through the mediator
// and writes the decision back to the engine.
func (s *Session) handleControlRequest(requestID string, req *engine.ControlRequest) {
	s.mu.Lock()
	proc := s.proc
	turnCtx := s.turnCtx
	cancel := s.turnCancel
	s.mu.Unlock()
	if proc == nil {
		return
	}
	if turnCtx == nil {
		turnCtx = context.Background()
	}

	result := &engine.PermissionResult{Behavior: engine.BehaviorDeny, Message: "unsupported control request"}
	switch req.Subtype {
	case engine.SubtypeCanUseTool:
		// Cancelling the turn unblocks a pending host prompt. A zero
		// request timeout means wait until the host answers.
		ctx, cancelReq := context.WithCancel(turnCtx)
		if d := s.cfg.Permissions.RequestTimeoutDuration(); d > 0 {
			ctx, cancelReq = context.WithTimeout(turnCtx, d)
		}
		defer cancelReq()
		result = s.mediator.Decide(ctx, req)
	case engine.SubtypeHookCallback:
		result = &engine.PermissionResult{Behavior: engine.BehaviorAllow}
	default:
		s.logger.Error("unrecognized control request subtype",
			zap.String("subtype", req.Subtype))
	}

	if result.Behavior == engine.BehaviorDeny && result.Interrupt != nil && *result.Interrupt && cancel != nil {
		// Rejection aborts the rest of the turn.
		defer cancel()
	}

	if err := proc.Client.SendControlResponse(&engine.ControlResponseMessage{
		Type:      engine.MessageTypeControlResponse,
		RequestID: requestID,
		Response: &engine.ControlResponse{
			Subtype: "success",
			Result:  result,
		},
	}); err != nil {
		s.logger.Error("failed to send control response", zap.Error(err))
	}
}

// Prompt runs one turn. A session runs at most one turn at a time; a second
// prompt while one is active is rejected.
func (s *Session) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return acp.PromptResponse{}, fmt.Errorf("session %s is closed", s.ID)
	case StateInTurn:
		s.mu.Unlock()
		return acp.PromptResponse{}, fmt.Errorf("session %s already has an active turn", s.ID)
	}
	ctx, span := tracing.Tracer("acpbridge").Start(ctx, "session.prompt",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("session_id", string(s.ID))))
	defer span.End()

	turnCtx, cancel := context.WithCancel(ctx)
	s.state = StateInTurn
	s.turnCtx = turnCtx
	s.turnCancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateInTurn || s.state == StateCancelled {
			s.state = StateReady
		}
		s.turnCtx = nil
		s.turnCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.translator.BeginTurn()
	defer s.translator.EndTurn(context.Background())

	if err := s.ensureEngine(turnCtx); err != nil {
		return acp.PromptResponse{}, err
	}

	text, blocks := promptContent(req.Prompt)
	if s.cfg.Analyzer.Enabled && s.cfg.Analyzer.AutoProfile {
		s.applyProfile(turnCtx, text)
	}

	s.mu.Lock()
	proc := s.proc
	resultCh := s.resultCh
	s.mu.Unlock()

	if err := proc.Client.SendUserContent(blocks); err != nil {
		return acp.PromptResponse{}, fmt.Errorf("send prompt: %w", err)
	}

	return s.waitForTurnEnd(turnCtx, proc, resultCh)
}

// waitForTurnEnd blocks until the engine finishes the turn, the turn is
// cancelled, or the engine exits.
func (s *Session) waitForTurnEnd(ctx context.Context, proc *engine.Process, resultCh chan *engine.Message) (acp.PromptResponse, error) {
	for {
		select {
		case msg := <-resultCh:
			return s.finishTurn(msg)

		case <-ctx.Done():
			s.mu.Lock()
			s.state = StateCancelled
			s.mu.Unlock()

			// Ask the engine to stop, then give it a moment to flush its
			// final result so the next turn starts clean.
			intCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := proc.Client.Interrupt(intCtx); err != nil {
				s.logger.Debug("interrupt failed", zap.Error(err))
			}
			cancel()
			select {
			case <-resultCh:
			case <-time.After(2 * time.Second):
			}
			return acp.PromptResponse{StopReason: acp.StopReasonCancelled}, nil

		case err := <-proc.Wait():
			s.mu.Lock()
			s.proc = nil
			s.mu.Unlock()
			return acp.PromptResponse{}, s.engineExitError(err)
		}
	}
}

// finishTurn maps the engine result message to the turn outcome.
func (s *Session) finishTurn(msg *engine.Message) (acp.PromptResponse, error) {
	switch msg.Subtype {
	case engine.ResultSubtypeSuccess:
		return acp.PromptResponse{StopReason: acp.StopReasonEndTurn}, nil
	case engine.ResultSubtypeErrorMaxTurns:
		return acp.PromptResponse{StopReason: acp.StopReasonMaxTurnRequests}, nil
	default:
		text := msg.GetResultString()
		if isAuthFailureText(text) {
			// The stored credential no longer works. Drop it and tear the
			// engine down: the process still carries the stale key in its
			// environment, so the next turn must re-spawn through the
			// credential gate.
			if err := s.creds.Clear(context.Background()); err != nil {
				s.logger.Warn("failed to clear credential", zap.Error(err))
			}
			s.teardownEngine()
			s.mu.Lock()
			s.state = StateAwaitingAuth
			s.mu.Unlock()
			return acp.PromptResponse{}, NewAuthRequiredError("engine rejected credential")
		}
		if text == "" {
			text = msg.Subtype
		}
		return acp.PromptResponse{}, fmt.Errorf("engine error: %s", text)
	}
}

// teardownEngine stops the engine subprocess so the next turn re-spawns
// it from scratch.
func (s *Session) teardownEngine() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.resultCh = nil
	s.mu.Unlock()
	if proc != nil {
		proc.Close()
	}
}

func (s *Session) engineExitError(err error) error {
	if err != nil && isAuthFailureText(err.Error()) {
		if cerr := s.creds.Clear(context.Background()); cerr != nil {
			s.logger.Warn("failed to clear credential", zap.Error(cerr))
		}
		return NewAuthRequiredError("engine rejected credential")
	}
	return fmt.Errorf("engine exited during turn: %v", err)
}

// applyProfile analyzes the prompt and adjusts model and thinking budget.
func (s *Session) applyProfile(ctx context.Context, text string) {
	res := analyzer.Analyze(text)
	s.logger.Debug("prompt analyzed",
		zap.String("tier", string(res.Tier)),
		zap.String("category", string(res.Category)),
		zap.Int("score", res.Score))

	if res.Profile.Model == "" || res.Profile.Model == s.currentModel() {
		return
	}
	if err := s.SetModel(ctx, res.Profile.Model); err != nil {
		s.logger.Warn("auto profile model switch failed", zap.Error(err))
	}
}

func (s *Session) currentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel switches the engine model. High-capability models get the default
// thinking budget; others have it cleared so a stale budget never carries
// over.
func (s *Session) SetModel(ctx context.Context, model string) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Client.SetModel(ctx, model); err != nil {
			return fmt.Errorf("set model: %w", err)
		}
		budget := 0
		if analyzer.IsHighCapability(model) {
			budget = analyzer.DefaultThinkingBudget
		}
		if err := proc.Client.SetMaxThinkingTokens(ctx, budget); err != nil {
			return fmt.Errorf("set thinking budget: %w", err)
		}
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	return nil
}

// ApplyMode switches the permission mode on the engine and notifies the
// client. Implements the mediator's modeController.
func (s *Session) ApplyMode(ctx context.Context, mode string) error {
	switch mode {
	case engine.ModeDefault, engine.ModeAcceptEdits, engine.ModePlan, engine.ModeBypass:
	default:
		return fmt.Errorf("unknown permission mode %q", mode)
	}

	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Client.SetPermissionMode(ctx, mode); err != nil {
			return fmt.Errorf("set permission mode: %w", err)
		}
	}
	s.mediator.SetMode(mode)

	if err := s.conn.SessionUpdate(ctx, acp.SessionNotification{
		SessionId: s.ID,
		Update: acp.SessionUpdate{
			CurrentModeUpdate: &acp.SessionCurrentModeUpdate{
				CurrentModeId: acp.SessionModeId(mode),
			},
		},
	}); err != nil {
		s.logger.Debug("failed to send mode update", zap.Error(err))
	}
	return nil
}

// Cancel aborts the active turn, if any. Idle sessions ignore it.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close terminates the session and its engine subprocess.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	cancel := s.turnCancel
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc != nil {
		proc.Close()
	}
	s.logger.Info("session closed")
}

// promptContent flattens ACP prompt blocks into engine content blocks,
// returning the concatenated text for analysis.
func promptContent(prompt []acp.ContentBlock) (string, []engine.ContentBlock) {
	var text strings.Builder
	blocks := make([]engine.ContentBlock, 0, len(prompt))
	for _, block := range prompt {
		switch {
		case block.Text != nil:
			text.WriteString(block.Text.Text)
			blocks = append(blocks, engine.ContentBlock{Type: "text", Text: block.Text.Text})
		case block.ResourceLink != nil:
			// Resource links become inline mentions the engine can read.
			ref := fmt.Sprintf("@%s", block.ResourceLink.Uri)
			text.WriteString(ref)
			blocks = append(blocks, engine.ContentBlock{Type: "text", Text: ref})
		case block.Image != nil:
			blocks = append(blocks, engine.ContentBlock{
				Type: "image",
				Source: &engine.ImageSource{
					Type:      "base64",
					MediaType: block.Image.MimeType,
					Data:      block.Image.Data,
				},
			})
		}
	}
	return text.String(), blocks
}
