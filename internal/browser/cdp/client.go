// Package cdp is a minimal Chrome DevTools Protocol client, covering the
// commands the browser driver needs.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-resty/resty/v2"

	"github.com/webpilot-org/webpilot/internal/logger"
)

// Conn is a single DevTools websocket connection to one page target.
type Conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan response
	waiters map[string][]chan json.RawMessage
	closed  bool

	readDone chan struct{}
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *protocolError  `json:"error"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("cdp: %s (code %d)", e.Message, e.Code)
}

// target is one entry from the DevTools /json/list endpoint.
type target struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DiscoverPageTarget asks a running browser's DevTools HTTP endpoint for
// the websocket URL of its first page target.
func DiscoverPageTarget(ctx context.Context, devtoolsURL string) (string, error) {
	var targets []target
	client := resty.New().SetTimeout(10 * time.Second)
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&targets).
		Get(devtoolsURL + "/json/list")
	if err != nil {
		return "", fmt.Errorf("cdp: target discovery: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("cdp: target discovery: status %d", resp.StatusCode())
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("cdp: no page target at %s", devtoolsURL)
}

// Dial connects to a page target's websocket debugger URL.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", wsURL, err)
	}
	ws.SetReadLimit(64 << 20) // screenshots arrive base64-encoded

	c := &Conn{
		ws:       ws,
		pending:  make(map[int64]chan response),
		waiters:  make(map[string][]chan json.RawMessage),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a command and decodes its result into out, which may be nil.
func (c *Conn) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("cdp: connection closed")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	body, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.dropPending(id)
		return fmt.Errorf("cdp: encode %s: %w", method, err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, body); err != nil {
		c.dropPending(id)
		return fmt.Errorf("cdp: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-c.readDone:
		return fmt.Errorf("cdp: connection closed during %s", method)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("cdp: %s: %w", method, resp.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("cdp: decode %s result: %w", method, err)
		}
		return nil
	}
}

// WaitEvent blocks until the named event arrives or the context ends.
// Subscribe before issuing the command that triggers the event.
func (c *Conn) WaitEvent(ctx context.Context, method string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: connection closed")
	}
	c.waiters[method] = append(c.waiters[method], ch)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.readDone:
		return nil, fmt.Errorf("cdp: connection closed waiting for %s", method)
	case params := <-ch:
		return params, nil
	}
}

// Close shuts down the websocket connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}

func (c *Conn) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				logger.Debug(ctx, "DevTools connection closed", "err", err)
			}
			c.closed = true
			c.mu.Unlock()
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.Warn(ctx, "Discarding malformed DevTools message", "err", err)
			continue
		}

		if resp.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}

		if resp.Method != "" {
			c.mu.Lock()
			ws := c.waiters[resp.Method]
			delete(c.waiters, resp.Method)
			c.mu.Unlock()
			for _, w := range ws {
				w <- resp.Params
			}
		}
	}
}
