package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MCP answers Model Context Protocol requests over newline-delimited
// JSON-RPC so agents can look up lock holders before planning an edit.
// Every tool is read-only; locks are only taken by the hooks.
type MCP struct {
	Coord  *Coordinator
	Agents AgentLister

	mu  sync.Mutex
	out io.Writer
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

var mcpTools = []mcpTool{
	{
		Name:        "check_lock",
		Description: "Report whether a file is locked and which agent holds it",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string","description":"Absolute path of the file"}},"required":["file_path"]}`),
	},
	{
		Name:        "list_locks",
		Description: "List every file lock with its holder and expiry",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        "list_agents",
		Description: "List known agents with their status and current task",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	},
}

// Serve reads requests from in until EOF or ctx is done.
func (m *MCP) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	m.out = out
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			m.reply(rpcResponse{Error: &rpcError{Code: codeParseError, Message: fmt.Sprintf("parse error: %v", err)}})
			continue
		}
		// Notifications carry no id and get no response.
		if len(req.ID) == 0 {
			continue
		}
		m.reply(m.handle(ctx, req))
	}
	return scanner.Err()
}

func (m *MCP) handle(ctx context.Context, req rpcRequest) rpcResponse {
	resp := rpcResponse{ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "agentlock", "version": "1.0.0"},
		}
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": mcpTools}
	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
			return resp
		}
		result, err := m.call(ctx, params.Name, params.Arguments)
		if err != nil {
			resp.Result = mcpToolResult{Content: []mcpContent{{Type: "text", Text: err.Error()}}, IsError: true}
			return resp
		}
		data, err := json.Marshal(result)
		if err != nil {
			resp.Result = mcpToolResult{Content: []mcpContent{{Type: "text", Text: err.Error()}}, IsError: true}
			return resp
		}
		resp.Result = mcpToolResult{Content: []mcpContent{{Type: "text", Text: string(data)}}}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

func (m *MCP) call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "check_lock":
		var req CheckLockRequest
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if req.FilePath == "" {
			return nil, errors.New("file_path is required")
		}
		holder, err := m.Coord.Check(ctx, req.FilePath)
		if err != nil {
			return nil, err
		}
		if holder == nil {
			return CheckLockResponse{Locked: false}, nil
		}
		expires := holder.ExpiresAt
		return CheckLockResponse{Locked: true, HeldBy: holder.SessionID, AgentName: holder.AgentName, ExpiresAt: &expires}, nil

	case "list_locks":
		locks, err := m.Coord.List(ctx)
		if err != nil {
			return nil, err
		}
		if locks == nil {
			locks = []FileLock{}
		}
		return ListLocksResponse{Locks: locks}, nil

	case "list_agents":
		return listAgents(m.Agents)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (m *MCP) reply(resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = m.out.Write(append(data, '\n'))
}
