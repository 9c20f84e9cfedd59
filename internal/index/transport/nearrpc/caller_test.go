package nearrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustindex/internal/index/models"
)

func bytesJSON(s string) []int {
	out := make([]int, len(s))
	for i := range s {
		out[i] = int(s[i])
	}
	return out
}

func TestCall_Success(t *testing.T) {
	var got rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      got.ID,
			"result":  map[string]any{"result": bytesJSON(`"3"`), "logs": []string{}, "block_height": 1},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	out, err := c.Call(context.Background(), "nft.near", models.CapabilityNFTCount, []byte(`{"account_id":"alice.near"}`))
	require.NoError(t, err)
	assert.Equal(t, `"3"`, string(out))

	assert.Equal(t, "query", got.Method)
	assert.Equal(t, "call_function", got.Params.RequestType)
	assert.Equal(t, "final", got.Params.Finality)
	assert.Equal(t, "nft.near", got.Params.AccountID)
	assert.Equal(t, "nft_supply_for_owner", got.Params.MethodName)
	args, err := base64.StdEncoding.DecodeString(got.Params.ArgsBase64)
	require.NoError(t, err)
	assert.JSONEq(t, `{"account_id":"alice.near"}`, string(args))
	assert.NotEmpty(t, got.ID)
}

func TestCall_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		category  ErrorCategory
		retryable bool
	}{
		{
			name:     "unknown account",
			status:   http.StatusOK,
			body:     `{"error":{"name":"HANDLER_ERROR","cause":{"name":"UNKNOWN_ACCOUNT"},"code":-32000,"message":"Server error","data":"account nft.near does not exist"}}`,
			category: ErrorNotFound,
		},
		{
			name:     "method not found",
			status:   http.StatusOK,
			body:     `{"error":{"name":"HANDLER_ERROR","cause":{"name":"CONTRACT_EXECUTION_ERROR"},"code":-32000,"message":"Server error"}}`,
			category: ErrorContractMismatch,
		},
		{
			name:     "legacy execution error",
			status:   http.StatusOK,
			body:     `{"result":{"error":"wasm execution failed with error: MethodNotFound","logs":[]}}`,
			category: ErrorContractMismatch,
		},
		{
			name:      "node timeout",
			status:    http.StatusOK,
			body:      `{"error":{"name":"HANDLER_ERROR","cause":{"name":"TIMEOUT_ERROR"},"message":"timeout"}}`,
			category:  ErrorTimeout,
			retryable: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{}`,
			category:  ErrorRateLimited,
			retryable: true,
		},
		{
			name:      "node down",
			status:    http.StatusBadGateway,
			body:      `{}`,
			category:  ErrorProviderOutage,
			retryable: true,
		},
		{
			name:     "garbage",
			status:   http.StatusOK,
			body:     `<html>`,
			category: ErrorBadData,
		},
		{
			name:     "empty result",
			status:   http.StatusOK,
			body:     `{"jsonrpc":"2.0"}`,
			category: ErrorBadData,
		},
		{
			name:     "byte out of range",
			status:   http.StatusOK,
			body:     `{"result":{"result":[300]}}`,
			category: ErrorBadData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := New(srv.URL, WithRetries(0, 0))
			require.NoError(t, err)

			_, err = c.Call(context.Background(), "nft.near", models.CapabilityNFTCount, nil)
			require.Error(t, err)
			assert.Equal(t, tt.category, GetCategory(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestCall_RetriesRetryableFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"result":[48]}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	out, err := c.Call(context.Background(), "nft.near", models.CapabilityNFTCount, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", string(out))
	assert.Equal(t, int32(2), hits.Load())
}

func TestCall_DoesNotRetryPermanentFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"error":{"cause":{"name":"UNKNOWN_ACCOUNT"},"message":"missing"}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "nft.near", models.CapabilityNFTCount, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCall_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetries(0, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, "nft.near", models.CapabilityNFTCount, nil)
	assert.Equal(t, ErrorTimeout, GetCategory(err))
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	for _, ep := range []string{"", "not a url", "/relative"} {
		_, err := New(ep)
		assert.Error(t, err, ep)
	}
}
