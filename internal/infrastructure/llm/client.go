package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	apperrors "github.com/elysia-ai/elysia/pkg/errors"
)

// Client is an OpenAI-compatible HTTP client for the upstream model endpoint.
// Works against OpenAI, Ollama, vLLM, llama.cpp server and the like.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	idleTimeout time.Duration
	client      *http.Client
	logger      *zap.Logger
}

// NewClient builds a client with a pooled keep-alive transport. TLS
// verification is on unless the config disables it for development.
func NewClient(cfg config.UpstreamConfig, idleTimeout time.Duration, logger *zap.Logger) *Client {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: connectTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		idleTimeout: idleTimeout,
		client:      &http.Client{Transport: transport},
		logger:      logger.With(zap.String("component", "llm")),
	}
}

// Stream opens a streaming completion. The returned Stream owns the
// connection; the caller must drain it to io.EOF or Close it.
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (*Stream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, resp.Body, c.idleTimeout, c.logger), nil
}

// Complete runs a non-streaming completion and returns the full content.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewUpstreamProtocolError("read response body", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperrors.NewUpstreamProtocolError("parse response body", err)
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.NewUpstreamProtocolError("empty response: no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Ping probes the endpoint for the health check.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("create probe request", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyTransportErr(ctx, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.NewUpstreamStatusError(resp.StatusCode, "probe failed")
	}
	return nil
}

func (c *Client) post(ctx context.Context, req CompletionRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	})
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("marshal upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("create upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		c.logger.Warn("Upstream rejected completion",
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(respBody)))
		return nil, apperrors.NewUpstreamStatusError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return resp, nil
}

// classifyTransportErr maps connect-phase failures: deadline and timeout
// errors become UpstreamTimeout, everything else UpstreamUnavailable.
func classifyTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.NewUpstreamTimeoutError("upstream request deadline exceeded")
		}
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewUpstreamTimeoutError("upstream connect timed out")
	}
	return apperrors.NewUpstreamUnavailableError(err)
}
