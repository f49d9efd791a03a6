// Package bridge exposes an engine subprocess as an ACP agent: it owns the
// session registry, translates the engine stream into session updates, and
// mediates permission requests through the connected client.
package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/analyzer"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/credentials"
	"github.com/kandev/acpbridge/internal/settings"
)

const (
	authMethodLogin  = "claude-login"
	authMethodAPIKey = "anthropic-api-key"
)

// Agent implements the ACP agent interface on top of engine subprocesses.
type Agent struct {
	cfg      *config.Config
	creds    *credentials.Store
	settings *settings.Manager
	logger   *logger.Logger

	conn          sessionConn
	mcpConfigPath string

	mu          sync.Mutex
	sessions    map[acp.SessionId]*Session
	engineLogin bool // client authenticated via the engine's own login
}

func NewAgent(cfg *config.Config, creds *credentials.Store, mgr *settings.Manager, log *logger.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		creds:    creds,
		settings: mgr,
		logger:   log.WithFields(zap.String("component", "agent")),
		sessions: make(map[acp.SessionId]*Session),
	}
}

// SetConnection attaches the agent-side connection after it is created.
func (a *Agent) SetConnection(conn *acp.AgentSideConnection) {
	a.conn = conn
}

// SetMCPConfigPath points new engine processes at the bridge's MCP server.
func (a *Agent) SetMCPConfigPath(path string) {
	a.mcpConfigPath = path
}

func (a *Agent) Initialize(_ context.Context, req acp.InitializeRequest) (acp.InitializeResponse, error) {
	a.logger.Info("client connected",
		zap.Int("protocol_version", int(req.ProtocolVersion)))

	return acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersion(acp.ProtocolVersionNumber),
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: acp.PromptCapabilities{
				Image:           true,
				EmbeddedContext: true,
			},
		},
		AuthMethods: []acp.AuthMethod{
			{
				Id:          acp.AuthMethodId(authMethodLogin),
				Name:        "Log in with Claude Code",
				Description: acp.Ptr("Run the engine's interactive login in a terminal"),
			},
			{
				Id:          acp.AuthMethodId(authMethodAPIKey),
				Name:        "Anthropic API key",
				Description: acp.Ptr("Provide an API key via the apiKey field"),
			},
		},
		AgentInfo: &acp.Implementation{
			Name:    "acpbridge",
			Version: "1.0.0",
		},
	}, nil
}

func (a *Agent) Authenticate(ctx context.Context, req acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	switch string(req.MethodId) {
	case authMethodLogin:
		// The engine keeps its own OAuth credential; trust it and skip the
		// bridge-side key requirement.
		a.mu.Lock()
		a.engineLogin = true
		a.mu.Unlock()
		a.logger.Info("authenticated via engine login")
		return acp.AuthenticateResponse{}, nil

	case authMethodAPIKey:
		meta, _ := req.Meta.(map[string]any)
		key, _ := meta["apiKey"].(string)
		if key == "" {
			return acp.AuthenticateResponse{}, &RequestError{
				Code:    ErrInvalidParams,
				Message: "apiKey is required for this auth method",
			}
		}
		if err := a.creds.Save(ctx, key); err != nil {
			return acp.AuthenticateResponse{}, fmt.Errorf("save credential: %w", err)
		}
		a.logger.Info("credential saved")
		return acp.AuthenticateResponse{}, nil

	default:
		return acp.AuthenticateResponse{}, &RequestError{
			Code:    ErrInvalidParams,
			Message: fmt.Sprintf("unknown auth method %q", req.MethodId),
		}
	}
}

func (a *Agent) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	if !filepath.IsAbs(req.Cwd) {
		return acp.NewSessionResponse{}, &RequestError{
			Code:    ErrInvalidParams,
			Message: "cwd must be an absolute path",
		}
	}
	if err := a.requireAuth(ctx); err != nil {
		return acp.NewSessionResponse{}, err
	}

	id := acp.SessionId(uuid.New().String())
	session := NewSession(id, req.Cwd, a.conn, a.cfg, a.creds, a.settings, a.mcpConfigPath, a.logger)

	a.mu.Lock()
	session.SetEngineAuth(a.engineLogin)
	a.sessions[id] = session
	a.mu.Unlock()

	a.logger.Info("session created",
		zap.String("session_id", string(id)),
		zap.String("cwd", req.Cwd))

	return acp.NewSessionResponse{
		SessionId: id,
		Modes:     a.modeState(session),
		Models:    a.modelState(session),
	}, nil
}

func (a *Agent) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acp.LoadSessionResponse, error) {
	if err := a.requireAuth(ctx); err != nil {
		return acp.LoadSessionResponse{}, err
	}

	a.mu.Lock()
	session, known := a.sessions[req.SessionId]
	a.mu.Unlock()

	if !known {
		session = NewSession(req.SessionId, req.Cwd, a.conn, a.cfg, a.creds, a.settings, a.mcpConfigPath, a.logger)
		// The id a client loads is the engine conversation id; resuming it
		// makes the engine replay the history through the translator.
		session.SetResumeID(string(req.SessionId))
		a.mu.Lock()
		session.SetEngineAuth(a.engineLogin)
		a.sessions[req.SessionId] = session
		a.mu.Unlock()

		if err := session.ensureEngine(ctx); err != nil {
			return acp.LoadSessionResponse{}, err
		}
	}

	return acp.LoadSessionResponse{
		Modes:  a.modeState(session),
		Models: a.modelState(session),
	}, nil
}

func (a *Agent) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	session, err := a.session(req.SessionId)
	if err != nil {
		return acp.PromptResponse{}, err
	}
	return session.Prompt(ctx, req)
}

func (a *Agent) Cancel(_ context.Context, n acp.CancelNotification) error {
	session, err := a.session(n.SessionId)
	if err != nil {
		return err
	}
	session.Cancel()
	return nil
}

func (a *Agent) SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	session, err := a.session(req.SessionId)
	if err != nil {
		return acp.SetSessionModeResponse{}, err
	}
	if err := session.ApplyMode(ctx, string(req.ModeId)); err != nil {
		return acp.SetSessionModeResponse{}, err
	}
	return acp.SetSessionModeResponse{}, nil
}

// SetSessionModel implements the experimental model selection extension.
func (a *Agent) SetSessionModel(ctx context.Context, req acp.SetSessionModelRequest) (acp.SetSessionModelResponse, error) {
	session, err := a.session(req.SessionId)
	if err != nil {
		return acp.SetSessionModelResponse{}, err
	}
	if err := session.SetModel(ctx, string(req.ModelId)); err != nil {
		return acp.SetSessionModelResponse{}, err
	}
	return acp.SetSessionModelResponse{}, nil
}

// Close shuts down every session and its engine subprocess.
func (a *Agent) Close() {
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[acp.SessionId]*Session)
	a.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Session returns the session registered under id, for supporting services.
func (a *Agent) Session(id acp.SessionId) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// DefaultSession returns the sole live session, if exactly one exists. Tool
// calls that omit a session id are routed here.
func (a *Agent) DefaultSession() (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sessions) != 1 {
		return nil, false
	}
	for _, s := range a.sessions {
		return s, true
	}
	return nil, false
}

func (a *Agent) session(id acp.SessionId) (*Session, error) {
	s, ok := a.Session(id)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return s, nil
}

// requireAuth fails with the auth-required code when no usable credential
// exists and the client has not authenticated through the engine login.
func (a *Agent) requireAuth(ctx context.Context) error {
	a.mu.Lock()
	engineLogin := a.engineLogin
	a.mu.Unlock()
	if engineLogin || a.creds.Available(ctx) {
		return nil
	}
	return NewAuthRequiredError("authenticate before creating a session")
}

func (a *Agent) modeState(s *Session) *acp.SessionModeState {
	return &acp.SessionModeState{
		CurrentModeId: acp.SessionModeId(s.mediator.Mode()),
		AvailableModes: []acp.SessionMode{
			{Id: "default", Name: "Always Ask", Description: acp.Ptr("Ask before each mutating tool call")},
			{Id: "acceptEdits", Name: "Accept Edits", Description: acp.Ptr("File edits run without asking")},
			{Id: "plan", Name: "Plan Mode", Description: acp.Ptr("Read-only until a plan is accepted")},
			{Id: "bypassPermissions", Name: "Bypass Permissions", Description: acp.Ptr("Every tool call runs without asking")},
		},
	}
}

func (a *Agent) modelState(s *Session) *acp.SessionModelState {
	current := s.currentModel()
	if current == "" {
		current = analyzer.ModelSonnet
	}
	return &acp.SessionModelState{
		CurrentModelId: acp.ModelId(current),
		AvailableModels: []acp.ModelInfo{
			{ModelId: acp.ModelId(analyzer.ModelOpus), Name: "Opus", Description: acp.Ptr("Most capable")},
			{ModelId: acp.ModelId(analyzer.ModelSonnet), Name: "Sonnet", Description: acp.Ptr("Balanced speed and capability")},
			{ModelId: acp.ModelId(analyzer.ModelHaiku), Name: "Haiku", Description: acp.Ptr("Fastest")},
		},
	}
}

var (
	_ acp.Agent             = (*Agent)(nil)
	_ acp.AgentExperimental = (*Agent)(nil)
)
