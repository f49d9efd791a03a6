package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// SpawnOptions configures a new engine process.
type SpawnOptions struct {
	// Command is the engine binary (default: claude).
	Command string

	// Args are extra arguments appended after the protocol flags.
	Args []string

	// Cwd is the working directory for the engine process.
	Cwd string

	// Model selects the starting model. Empty uses the engine default.
	Model string

	// PermissionMode is the engine-side permission mode to start in.
	PermissionMode string

	// ResumeSessionID resumes a previous engine session when set.
	ResumeSessionID string

	// SettingsPath passes a settings file with hooks and rules.
	SettingsPath string

	// MCPConfigPath passes an MCP server configuration file.
	MCPConfigPath string

	// Env holds extra environment variables (credentials land here).
	Env map[string]string
}

// Process is a running engine subprocess with an attached stream client.
type Process struct {
	Client *Client

	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *logger.Logger
	waitCh chan error
}

// Spawn starts the engine subprocess in stream-json mode and begins
// reading its output. The caller owns the returned Process and must
// call Close when done.
func Spawn(ctx context.Context, opts SpawnOptions, log *logger.Logger) (*Process, error) {
	command := opts.Command
	if command == "" {
		command = "claude"
	}

	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--permission-prompt-tool=stdio",
		"--verbose",
		"--include-partial-messages",
		"--replay-user-messages",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if opts.SettingsPath != "" {
		args = append(args, "--settings", opts.SettingsPath)
	}
	if opts.MCPConfigPath != "" {
		args = append(args, "--mcp-config", opts.MCPConfigPath)
	}
	args = append(args, opts.Args...)

	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, command, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group so a kill reaches engine children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start engine %q: %w", command, err)
	}

	plog := log.WithFields(
		zap.String("component", "engine-process"),
		zap.Int("pid", cmd.Process.Pid),
	)
	plog.Info("engine process started",
		zap.String("command", command),
		zap.String("cwd", opts.Cwd))

	p := &Process{
		Client: NewClient(stdin, stdout, log),
		cmd:    cmd,
		cancel: cancel,
		logger: plog,
		waitCh: make(chan error, 1),
	}

	// Engine stderr goes to our log, never to our stdout.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			plog.Debug("engine stderr", zap.String("line", scanner.Text()))
		}
	}()

	go func() {
		p.waitCh <- cmd.Wait()
		close(p.waitCh)
	}()

	<-p.Client.Start(procCtx)

	// Honor caller cancellation during startup without tying the
	// process lifetime to the spawn context.
	if err := ctx.Err(); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// Wait returns a channel that receives the process exit error once.
func (p *Process) Wait() <-chan error {
	return p.waitCh
}

// Close stops the client, terminates the process group, and waits
// briefly for exit.
func (p *Process) Close() {
	p.Client.Stop()

	if p.cmd.Process != nil {
		// Negative pid signals the whole group.
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
	}

	select {
	case <-p.waitCh:
	case <-time.After(5 * time.Second):
		p.logger.Warn("engine did not exit after SIGTERM, killing")
		p.cancel()
		<-p.waitCh
	}
	p.cancel()
}
