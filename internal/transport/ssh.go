// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig configures the SSH transport. Exactly one of Password or
// KeyPath should be set (key auth preferred per spec).
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	Timeout  time.Duration
}

// SSH is a Transport implementation running commands over an SSH session
// to the router's CLI, parsing its plaintext output. The client connection
// is established lazily on first RunCmd and reused across calls.
type SSH struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH constructs an SSH transport. No plaintext password is ever logged.
func NewSSH(cfg SSHConfig) *SSH {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSH{cfg: cfg}
}

func (s *SSH) dial(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	auth, err := s.authMethod()
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint — home/SMB router CLI, no managed known_hosts
		Timeout:         s.cfg.Timeout,
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if isSSHAuthError(err) {
			return nil, &AuthError{Err: err}
		}
		return nil, err
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	s.client = client
	return client, nil
}

func (s *SSH) authMethod() (ssh.AuthMethod, error) {
	if s.cfg.KeyPath != "" {
		key, err := os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key %s: %w", s.cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", s.cfg.KeyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(s.cfg.Password), nil
}

// RunCmd runs command over a new SSH session on the shared client
// connection, capturing stdout/stderr. Retryable errors (§4.3) are retried
// with this transport's own 1s/2s backoff before returning, so a transient
// dial or session blip doesn't need a redial from the caller.
func (s *SSH) RunCmd(ctx context.Context, command string) (Result, error) {
	return withRetry(ctx, func() (Result, error) {
		return s.runOnce(ctx, command)
	})
}

func (s *SSH) runOnce(ctx context.Context, command string) (Result, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		s.invalidateOnClosed(err)
		return Result{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		return Result{}, ctx.Err()
	case err := <-done:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
				err = nil
			}
		}
		return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, err
	}
}

// invalidateOnClosed drops the cached client when a session error indicates
// the underlying connection is dead, forcing the next RunCmd to redial.
func (s *SSH) invalidateOnClosed(err error) {
	if err == nil {
		return
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "closed") || strings.Contains(msg, "eof") || strings.Contains(msg, "broken pipe") {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}
}

// Close closes the underlying SSH client connection, if any.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func isSSHAuthError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unable to authenticate") ||
		strings.Contains(strings.ToLower(err.Error()), "permission denied")
}
