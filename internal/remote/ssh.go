// Package remote provides the command execution channel to a deployment
// target: an SSH connection established with bounded retries, plus
// per-command execution with exit code and captured streams.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"golang.org/x/crypto/ssh"
)

// ExecResult captures one remote command invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecError reports a remote command that failed to run or exited non-zero.
type ExecError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("remote command %q: exit %d: %v", e.Cmd, e.ExitCode, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Runner abstracts the execution channel so the launcher can be tested
// without a live host.
type Runner interface {
	Exec(ctx context.Context, cmd string) (ExecResult, error)
	Close() error
}

// Client is an SSH-backed Runner.
type Client struct {
	conn        *ssh.Client
	execTimeout time.Duration
	logger      *slog.Logger
}

// Dial connects to host as user with the given private key file, retrying a
// fixed number of attempts with a fixed backoff between them.
func Dial(ctx context.Context, host, user, keyFile string, attempts int, backoff, connectTimeout, execTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info("ssh connection attempt", "addr", addr, "attempt", attempt, "max", attempts)
		conn, err := ssh.Dial("tcp", addr, cfg)
		if err == nil {
			logger.Info("ssh connected", "addr", addr)
			return &Client{conn: conn, execTimeout: execTimeout, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("ssh connection failed", "addr", addr, "attempt", attempt, "error", err)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("ssh connect to %s after %d attempts: %w", addr, attempts, lastErr)
}

// Exec runs one command in its own session and waits for it, bounded by the
// configured execution timeout and the caller's context. A non-zero exit is
// returned as an ExecError alongside the captured streams.
func (c *Client) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if c.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Run keeps goroutines writing into the buffers until the session
		// tears down; wait for it before touching them.
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return ExecResult{}, &ExecError{Cmd: cmd, ExitCode: -1, Err: ctx.Err()}
		}
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String()},
			&ExecError{Cmd: cmd, ExitCode: -1, Stderr: stderr.String(), Err: ctx.Err()}
	case err := <-done:
		result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, &ExecError{Cmd: cmd, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
		}
		return result, &ExecError{Cmd: cmd, ExitCode: -1, Stderr: result.Stderr, Err: err}
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
