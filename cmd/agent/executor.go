package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/tools"
)

// httpToolExecutor implements tools.Executor by POSTing the call to a
// generic downstream tool gateway as {toolName, arguments, callId} and decoding its
// response as {success, payload, errorMessage}. Nothing in the reference
// stack ships a client for an arbitrary, deployment-specific tool server —
// that boundary is explicitly out of this core's scope (spec §1) — so this
// is a deliberately thin net/http body rather than an adopted library.
type httpToolExecutor struct {
	baseURL string
	client  *http.Client
}

func newHTTPToolExecutor(baseURL string) *httpToolExecutor {
	return &httpToolExecutor{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

type toolGatewayRequest struct {
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"callId"`
}

type toolGatewayResponse struct {
	Success      bool            `json:"success"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"errorMessage"`
}

func (e *httpToolExecutor) Execute(ctx context.Context, call tools.Call) (tools.Result, error) {
	body, err := json.Marshal(toolGatewayRequest{ToolName: call.ToolName, Arguments: call.Arguments, CallID: call.CallID})
	if err != nil {
		return tools.Result{}, tools.NewWithCause(tools.ErrKindExecutor, "encode tool request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tools/"+call.ToolName, bytes.NewReader(body))
	if err != nil {
		return tools.Result{}, tools.NewWithCause(tools.ErrKindExecutor, "build tool request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return tools.Result{CallID: call.CallID, Success: false, ErrorKind: tools.ErrKindNetwork, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return tools.Result{CallID: call.CallID, Success: false, ErrorKind: tools.ErrKindNetwork,
			ErrorMessage: fmt.Sprintf("tool gateway returned %d", resp.StatusCode)}, nil
	}

	var gwResp toolGatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gwResp); err != nil {
		return tools.Result{}, tools.NewWithCause(tools.ErrKindExecutor, "decode tool response", err)
	}

	return tools.Result{
		CallID:       call.CallID,
		Success:      gwResp.Success,
		Payload:      gwResp.Payload,
		ErrorMessage: gwResp.ErrorMessage,
	}, nil
}
