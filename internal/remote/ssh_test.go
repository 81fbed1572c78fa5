package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"log/slog"

	"golang.org/x/crypto/ssh"
)

type execMsg struct {
	Command string
}

type exitMsg struct {
	Status uint32
}

func startServer(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return ln.Addr().String()
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests)
	}
}

func handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var msg execMsg
		_ = ssh.Unmarshal(req.Payload, &msg)
		_ = req.Reply(true, nil)
		switch msg.Command {
		case "stream-forever":
			go func() {
				for {
					if _, err := ch.Write([]byte("still running\n")); err != nil {
						return
					}
					time.Sleep(5 * time.Millisecond)
				}
			}()
		default:
			go func() {
				_, _ = ch.Write([]byte("hello from remote\n"))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(exitMsg{Status: 0}))
				_ = ch.Close()
			}()
		}
	}
}

func dialTestServer(t *testing.T, addr string, execTimeout time.Duration) *Client {
	t.Helper()
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "tester",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &Client{
		conn:        conn,
		execTimeout: execTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestExecCapturesOutput(t *testing.T) {
	addr := startServer(t)
	client := dialTestServer(t, addr, 5*time.Second)

	result, err := client.Exec(context.Background(), "report")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if !strings.Contains(result.Stdout, "hello from remote") {
		t.Fatalf("stdout not captured: %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
}

func TestExecTimeoutWhileStreaming(t *testing.T) {
	addr := startServer(t)
	client := dialTestServer(t, addr, 150*time.Millisecond)

	start := time.Now()
	_, err := client.Exec(context.Background(), "stream-forever")
	if err == nil {
		t.Fatal("expected an error when the command outlives the timeout")
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %T: %v", err, err)
	}
	if !errors.Is(execErr.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", execErr.Err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
}
