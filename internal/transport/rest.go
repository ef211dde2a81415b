// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nishisan-dev/autorate/internal/pki"
)

// RESTConfig configures the REST transport against a RouterOS HTTPS API.
type RESTConfig struct {
	BaseURL    string
	User       string
	Password   string
	VerifySSL  bool
	CACertPath string
	Timeout    time.Duration
}

// REST is a Transport implementation speaking RouterOS's REST API. It maps
// the generic RunCmd contract onto that API's `/rest/...` style endpoints:
// command strings here are treated as a REST path plus an optional JSON
// body, matching how the Router Backend (C3) already encodes its typed
// operations as command strings for transport-agnostic dispatch.
type REST struct {
	client *http.Client
	cfg    RESTConfig
}

// NewREST constructs a REST transport. verify_ssl=false is the default for
// RouterOS devices running a self-signed certificate; no plaintext password
// is ever logged by this type.
func NewREST(cfg RESTConfig) (*REST, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	tlsCfg, err := pki.NewRouterTLSConfig(cfg.VerifySSL, cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("rest transport tls config: %w", err)
	}

	transport := &http.Transport{TLSClientConfig: tlsCfg}

	return &REST{
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:    cfg,
	}, nil
}

// RunCmd issues an HTTP request built from command (a "METHOD path[ body]"
// triple, space-separated, body optional and JSON). It classifies errors
// into AuthError vs retryable network errors per the transport contract,
// retrying the latter with the transport's own exponential backoff (§4.3)
// before returning to the caller — failover only ever sees the final
// outcome, not a transient first-attempt blip.
func (r *REST) RunCmd(ctx context.Context, command string) (Result, error) {
	return withRetry(ctx, func() (Result, error) {
		return r.doOnce(ctx, command)
	})
}

func (r *REST) doOnce(ctx context.Context, command string) (Result, error) {
	method, path, body := parseRESTCommand(command)

	url := strings.TrimRight(r.cfg.BaseURL, "/") + path

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(r.cfg.User, r.cfg.Password)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Result{ExitCode: resp.StatusCode, Stderr: string(respBody)},
			&AuthError{Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	if resp.StatusCode >= 500 {
		return Result{ExitCode: resp.StatusCode, Stderr: string(respBody)},
			fmt.Errorf("router returned %d: %s", resp.StatusCode, string(respBody))
	}

	return Result{ExitCode: 0, Stdout: string(respBody)}, nil
}

// Close releases idle connections.
func (r *REST) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func parseRESTCommand(command string) (method, path, body string) {
	parts := strings.SplitN(command, " ", 3)
	method = http.MethodGet
	if len(parts) > 0 && parts[0] != "" {
		method = parts[0]
	}
	if len(parts) > 1 {
		path = parts[1]
	}
	if len(parts) > 2 {
		body = parts[2]
	}
	return method, path, body
}
