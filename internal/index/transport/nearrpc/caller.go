// Package nearrpc calls view methods on NEAR contracts through the JSON-RPC
// query endpoint.
package nearrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"trustindex/internal/index/models"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultRetries     = 1
	defaultBackoff     = 200 * time.Millisecond
	maxResponseBytes   = 4 << 20
)

// Caller implements ports.Caller against a NEAR RPC node.
type Caller struct {
	endpoint string
	client   *http.Client
	retries  int
	backoff  time.Duration
	logger   *slog.Logger
}

type Option func(*Caller)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Caller) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(n int, backoff time.Duration) Option {
	return func(cl *Caller) {
		if n >= 0 {
			cl.retries = n
		}
		if backoff >= 0 {
			cl.backoff = backoff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Caller) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func New(endpoint string, opts ...Option) (*Caller, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid rpc endpoint %q", endpoint)
	}
	c := &Caller{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  queryParams `json:"params"`
}

type queryParams struct {
	RequestType string `json:"request_type"`
	Finality    string `json:"finality"`
	AccountID   string `json:"account_id"`
	MethodName  string `json:"method_name"`
	ArgsBase64  string `json:"args_base64"`
}

type rpcResponse struct {
	Result *callResult `json:"result"`
	Error  *rpcError   `json:"error"`
}

type callResult struct {
	Result []int  `json:"result"`
	Error  string `json:"error"`
}

type rpcError struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Cause   struct {
		Name string `json:"name"`
	} `json:"cause"`
}

// Call invokes capability as a view method on the provider contract and
// returns the raw bytes the method produced.
func (c *Caller) Call(ctx context.Context, provider models.ProviderID, capability models.Capability, args []byte) ([]byte, error) {
	var err error
	for attempt := 0; ; attempt++ {
		var out []byte
		out, err = c.call(ctx, provider, capability, args)
		if err == nil {
			return out, nil
		}
		if attempt >= c.retries || !IsRetryable(err) {
			return nil, err
		}

		c.logger.DebugContext(ctx, "retrying provider call",
			"provider", provider,
			"capability", capability,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(c.backoff):
		}
	}
}

func (c *Caller) call(ctx context.Context, provider models.ProviderID, capability models.Capability, args []byte) ([]byte, error) {
	pid := provider.String()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "query",
		Params: queryParams{
			RequestType: "call_function",
			Finality:    "final",
			AccountID:   pid,
			MethodName:  capability.String(),
			ArgsBase64:  base64.StdEncoding.EncodeToString(args),
		},
	})
	if err != nil {
		return nil, NewProviderError(ErrorInternal, pid, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(ErrorInternal, pid, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, NewProviderError(ErrorTimeout, pid, "rpc request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, NewProviderError(ErrorInternal, pid, "rpc request canceled", err)
		}
		return nil, NewProviderError(ErrorProviderOutage, pid, "rpc request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewProviderError(ErrorRateLimited, pid, "rpc node rate limited", nil)
	case resp.StatusCode >= 500:
		return nil, NewProviderError(ErrorProviderOutage, pid, fmt.Sprintf("rpc node returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewProviderError(ErrorInternal, pid, fmt.Sprintf("rpc node returned %d", resp.StatusCode), nil)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, NewProviderError(ErrorBadData, pid, "decode rpc response", err)
	}

	if decoded.Error != nil {
		return nil, classifyRPCError(pid, decoded.Error)
	}
	if decoded.Result == nil {
		return nil, NewProviderError(ErrorBadData, pid, "rpc response has no result", nil)
	}
	if decoded.Result.Error != "" {
		return nil, NewProviderError(ErrorContractMismatch, pid, decoded.Result.Error, nil)
	}

	out := make([]byte, len(decoded.Result.Result))
	for i, b := range decoded.Result.Result {
		if b < 0 || b > 255 {
			return nil, NewProviderError(ErrorBadData, pid, fmt.Sprintf("result byte %d out of range", i), nil)
		}
		out[i] = byte(b)
	}
	return out, nil
}

func classifyRPCError(pid string, e *rpcError) *ProviderError {
	msg := e.Message
	if s, ok := e.Data.(string); ok && s != "" {
		msg = s
	}
	switch e.Cause.Name {
	case "UNKNOWN_ACCOUNT", "NO_CONTRACT_CODE", "UNKNOWN_BLOCK":
		return NewProviderError(ErrorNotFound, pid, msg, nil)
	case "CONTRACT_EXECUTION_ERROR":
		return NewProviderError(ErrorContractMismatch, pid, msg, nil)
	case "TIMEOUT_ERROR":
		return NewProviderError(ErrorTimeout, pid, msg, nil)
	case "NO_SYNCED_BLOCKS", "NOT_SYNCED_YET", "INTERNAL_ERROR":
		return NewProviderError(ErrorProviderOutage, pid, msg, nil)
	}
	if e.Name == "INTERNAL_ERROR" {
		return NewProviderError(ErrorProviderOutage, pid, msg, nil)
	}
	return NewProviderError(ErrorInternal, pid, msg, nil)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
