package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
)

// JSON-RPC error codes used by the mock server.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Method answers one JSON-RPC method on the mock server.
type Method func(params json.RawMessage) (interface{}, error)

// MockServer is a WebSocket JSON-RPC server for testing clients.
type MockServer struct {
	T      *testing.T
	Server *httptest.Server
	WsURL  string

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	methods  map[string]Method
	requests []jsonrpc.Request
	accepted int
}

// NewMockServer starts a server that answers the given methods. Unknown
// methods get a "method not found" error response.
func NewMockServer(t *testing.T, methods map[string]Method) *MockServer {
	t.Helper()
	ms := &MockServer{
		T:       t,
		conns:   make(map[*websocket.Conn]struct{}),
		methods: make(map[string]Method),
	}
	for name, m := range methods {
		ms.methods[name] = m
	}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.T.Logf("MockServer: Accept error: %v", err)
			return
		}
		ms.mu.Lock()
		ms.conns[conn] = struct{}{}
		ms.accepted++
		ms.mu.Unlock()

		defer func() {
			ms.mu.Lock()
			delete(ms.conns, conn)
			ms.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "mock server handler finished")
		}()
		ms.serve(r.Context(), conn)
	}))
	ms.WsURL = "ws" + strings.TrimPrefix(ms.Server.URL, "http")

	t.Cleanup(ms.Close)
	return ms
}

func (ms *MockServer) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		var req jsonrpc.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		ms.mu.Lock()
		ms.requests = append(ms.requests, req)
		method := ms.methods[req.Method]
		ms.mu.Unlock()

		resp := jsonrpc.Response{ID: jsonrpc.ID(req.ID)}
		if method == nil {
			resp.Error = errorMember(CodeMethodNotFound, "method not found")
		} else if result, err := method(req.Params); err != nil {
			resp.Error = errorMember(CodeInternalError, err.Error())
		} else {
			b, err := json.Marshal(result)
			if err != nil {
				resp.Error = errorMember(CodeInternalError, err.Error())
			} else {
				resp.Result = b
			}
		}
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			return
		}
	}
}

func errorMember(code int, msg string) json.RawMessage {
	b, _ := json.Marshal(jsonrpc.ErrorObject{Code: code, Message: msg})
	return b
}

// Handle registers or replaces a method.
func (ms *MockServer) Handle(name string, m Method) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.methods[name] = m
}

// Push writes a server-initiated response to every connected client.
func (ms *MockServer) Push(resp jsonrpc.Response) error {
	ms.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(ms.conns))
	for c := range ms.conns {
		conns = append(conns, c)
	}
	ms.mu.Unlock()

	for _, c := range conns {
		if err := wsjson.Write(context.Background(), c, resp); err != nil {
			return err
		}
	}
	return nil
}

// Requests returns the requests received so far.
func (ms *MockServer) Requests() []jsonrpc.Request {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]jsonrpc.Request, len(ms.requests))
	copy(out, ms.requests)
	return out
}

// Accepted returns how many connections were accepted.
func (ms *MockServer) Accepted() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.accepted
}

// Connections returns how many connections are currently open.
func (ms *MockServer) Connections() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.conns)
}

// CloseConnections drops every open connection without shutting the server
// down.
func (ms *MockServer) CloseConnections() {
	ms.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(ms.conns))
	for c := range ms.conns {
		conns = append(conns, c)
	}
	ms.mu.Unlock()

	for _, c := range conns {
		c.CloseNow()
	}
}

// Close closes every connection and the server.
func (ms *MockServer) Close() {
	ms.CloseConnections()
	if ms.Server != nil {
		ms.Server.Close()
	}
}
