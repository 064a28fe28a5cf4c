// Package fullnode is the RPC abstraction over the trusted full node. The
// key server uses a single verb: dry-run a transaction and learn whether it
// aborts. An abort means the policy denied access; transport problems are
// reported separately so the caller can tell the client to retry.
package fullnode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sealkms/seal/pkg/logger"
	"github.com/sealkms/seal/pkg/metrics"
)

var (
	// ErrNoAccess signals that the dry-run aborted: the policy denies.
	ErrNoAccess = errors.New("fullnode: policy abort")
	// ErrUnavailable signals that the full node could not be reached or
	// returned garbage; the request is retryable.
	ErrUnavailable = errors.New("fullnode: upstream unavailable")
	// ErrTimeout signals that the per-request deadline expired.
	ErrTimeout = errors.New("fullnode: upstream timeout")
)

const defaultTimeout = 5 * time.Second

type Client struct {
	url     string
	timeout time.Duration
	httpc   *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{url: url, timeout: timeout, httpc: &http.Client{}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *struct {
		Effects struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error,omitempty"`
			} `json:"status"`
		} `json:"effects"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DryRun simulates the transaction with its embedded sender. nil means the
// policy allows; ErrNoAccess means it aborted.
func (c *Client) DryRun(ctx context.Context, txBytes []byte) error {
	begin := time.Now()
	err := c.dryRun(ctx, txBytes)
	ms := float64(time.Since(begin).Milliseconds())
	result := "ok"
	switch {
	case errors.Is(err, ErrNoAccess):
		result = "deny"
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "unavailable"
	}
	metrics.Inc("fullnode_dryrun_total", map[string]string{"result": result})
	metrics.ObserveSummary("fullnode_dryrun_ms", nil, ms)
	return err
}

func (c *Client) dryRun(ctx context.Context, txBytes []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sui_dryRunTransactionBlock",
		Params:  []any{base64.StdEncoding.EncodeToString(txBytes)},
	})
	if err != nil {
		return ErrUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return ErrUnavailable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		logger.ErrorJ("fullnode_rpc", map[string]any{"result": "post_error", "err": err.Error()})
		return ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.ErrorJ("fullnode_rpc", map[string]any{"result": "remote_error", "code": resp.StatusCode})
		return ErrUnavailable
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ErrUnavailable
	}
	if out.Error != nil || out.Result == nil {
		return ErrUnavailable
	}
	if out.Result.Effects.Status.Status != "success" {
		return ErrNoAccess
	}
	return nil
}
