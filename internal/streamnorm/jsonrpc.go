package streamnorm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/WuChenDi/bitk/internal/log"
)

// JSONRPCCallTimeout bounds a single request/response round trip. A caller
// whose call times out is expected to kill the subprocess after an
// additional 5s grace period (the engine's cancel-then-hard-kill window).
const JSONRPCCallTimeout = 15 * time.Second

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"` // non-empty on an inbound notification
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// NotificationHandler receives inbound notifications (method calls with no
// id, needing no response) while a Session's reader loop is running.
type NotificationHandler func(method string, params json.RawMessage)

// Session is a JSON-lines RPC-over-stdio client: requests carry a
// caller-assigned id and are matched to responses by that id; notifications
// carry no id and expect none in return. The session owns a single reader
// over stdout and decodes one JSON value per line, skipping and logging
// anything that fails to parse.
type Session struct {
	w        io.Writer
	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan rpcResponse
	onNotify NotificationHandler

	initMu      sync.Mutex
	initialized bool
}

// NewSession starts a reader goroutine over stdout and returns a Session
// ready for Initialize. providerName tags log lines.
func NewSession(stdin io.Writer, stdout io.Reader, onNotify NotificationHandler, providerName string) *Session {
	s := &Session{
		w:        stdin,
		pending:  make(map[int64]chan rpcResponse),
		onNotify: onNotify,
	}
	log.SafeGo(providerName+"-rpc-reader", func() { s.readLoop(stdout, providerName) })
	return s
}

func (s *Session) readLoop(stdout io.Reader, providerName string) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Debug(log.CatStream, "jsonrpc: unparseable line", "provider", providerName, "line", string(line))
			continue
		}
		if resp.Method != "" {
			if s.onNotify != nil {
				s.onNotify(resp.Method, resp.Params)
			}
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// Initialize performs the strict handshake: an `initialize` request
// followed by an `initialized` notification. No other method may be called
// until this succeeds.
func (s *Session) Initialize(ctx context.Context, params any) (json.RawMessage, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	result, err := s.Call(ctx, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: initialize: %w", err)
	}
	if err := s.Notify("initialized", nil); err != nil {
		return nil, fmt.Errorf("jsonrpc: initialized notification: %w", err)
	}
	s.initialized = true
	return result, nil
}

// Call sends a request and blocks for its matching response, bounded by
// JSONRPCCallTimeout.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method != "initialize" {
		s.initMu.Lock()
		ready := s.initialized
		s.initMu.Unlock()
		if !ready {
			return nil, fmt.Errorf("jsonrpc: %s called before initialize handshake", method)
		}
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan rpcResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	if err := s.write(req); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, JSONRPCCallTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-callCtx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("jsonrpc: call %q timed out after %s", method, JSONRPCCallTimeout)
	}
}

// Notify sends a notification: no id, no response expected.
func (s *Session) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return s.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *Session) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("jsonrpc: marshal request: %w", err)
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
