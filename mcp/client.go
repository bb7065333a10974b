package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// Client is an MCP client bound to one server subprocess. Requests are
// correlated to responses by JSON-RPC id, so concurrent CallTool
// invocations from different goroutines are safe.
type Client struct {
	name string
	cmd  *exec.Cmd

	stdin io.WriteCloser
	wmu   sync.Mutex // serializes writes to stdin

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *response
	closed  bool
	readErr error

	logger *slog.Logger
	server serverInfo
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial spawns the server command, wires its stdio, and runs the MCP
// initialize handshake. The returned client owns the subprocess; Close
// terminates it.
func Dial(ctx context.Context, name, command string, args []string, opts ...Option) (*Client, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp %s: start %s: %w", name, command, err)
	}

	c := &Client{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan *response),
		logger:  slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop(stdout)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// readLoop drains server output, routing responses to their waiting
// callers. Server-initiated requests and notifications are ignored.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20) // 10MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: skipping malformed line", "server", c.name, "error", err)
			continue
		}
		if resp.ID == nil || resp.Method != "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// call sends one request and waits for its response.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("mcp %s: client closed", c.name)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return fmt.Errorf("mcp %s: server stream ended: %w", c.name, err)
		}
		if resp.Error != nil {
			return fmt.Errorf("mcp %s: %s: %s (code %d)", c.name, method, resp.Error.Message, resp.Error.Code)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("mcp %s: decode %s result: %w", c.name, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// notify sends a notification (no id, no response expected).
func (c *Client) notify(method string, params any) error {
	return c.write(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp %s: marshal: %w", c.name, err)
	}
	data = append(data, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("mcp %s: write: %w", c.name, err)
	}
	return nil
}

// initialize runs the MCP handshake: initialize request, then the
// initialized notification.
func (c *Client) initialize(ctx context.Context) error {
	var result initializeResult
	err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "oxy", Version: "1.0"},
	}, &result)
	if err != nil {
		return err
	}
	c.server = result.ServerInfo
	c.logger.Debug("mcp initialized",
		"server", c.name, "remote", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	return c.notify("notifications/initialized", nil)
}

// ServerName returns the name the server reported during initialize.
func (c *Client) ServerName() string { return c.server.Name }

// ListTools fetches the server's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes one tool. A result flagged isError comes back as a
// Go error carrying the result text.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	var result ToolCallResult
	err := c.call(ctx, "tools/call", toolCallParams{Name: tool, Arguments: args}, &result)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("mcp %s: tool %s: %s", c.name, tool, result.Text())
	}
	return result.Text(), nil
}

// Close shuts the subprocess down: stdin close first so a well-behaved
// server exits on EOF, then a kill if it is still around after Wait.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stdin.Close()
	if err := c.cmd.Wait(); err != nil {
		if c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		return fmt.Errorf("mcp %s: wait: %w", c.name, err)
	}
	return nil
}

// discardHandler drops every record; the default when no logger is
// configured.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
