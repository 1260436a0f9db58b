package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/pkg/errors"
)

// Client rippled JSON-RPC 客户端
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient 创建 rippled 客户端
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{url: url, httpClient: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
}

// rpcStatus 每个 result 都带有的状态字段
type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// RPCError rippled 返回的错误
type RPCError struct {
	Method  string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return "rippled " + e.Method + ": " + e.Code + " " + e.Message
}

// Call 调用 rippled 方法并将 result 解码到 out
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return errors.Wrapf(err, "encode %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(ledger.ErrUnreachable, "%s: %v", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(ledger.ErrUnreachable, "read %s response: %v", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ledger.ErrUnreachable, "%s: http %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Wrapf(err, "decode %s response", method)
	}

	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return errors.Wrapf(err, "decode %s status", method)
	}
	if status.Status == "error" || status.Error != "" {
		return &RPCError{Method: method, Code: status.Error, Message: status.ErrorMessage}
	}

	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(envelope.Result, out), "decode %s result", method)
}

// rpcErrorCode 提取 rippled 错误码
func rpcErrorCode(err error) string {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return ""
}
