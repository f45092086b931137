package testutil_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-swell/pkg/jsonrpc"
	"github.com/lightforgemedia/go-swell/pkg/testutil"
)

func TestMockServer(t *testing.T) {
	ms := testutil.NewMockServer(t, map[string]testutil.Method{
		"echo": func(params json.RawMessage) (interface{}, error) { return params, nil },
		"fail": func(json.RawMessage) (interface{}, error) { return nil, errors.New("nope") },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ms.WsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	call := func(method, id string, params json.RawMessage) jsonrpc.Response {
		require.NoError(t, wsjson.Write(ctx, conn, jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, ID: id, Params: params}))
		var resp jsonrpc.Response
		require.NoError(t, wsjson.Read(ctx, conn, &resp))
		return resp
	}

	resp := call("echo", "echo:1", json.RawMessage(`{"a":1}`))
	assert.Equal(t, jsonrpc.ID("echo:1"), resp.ID)
	assert.JSONEq(t, `{"a":1}`, string(resp.Result))

	resp = call("fail", "fail:1", nil)
	obj, ok := jsonrpc.ParseError(resp.Error)
	require.True(t, ok)
	assert.Equal(t, testutil.CodeInternalError, obj.Code)
	assert.Equal(t, "nope", obj.Message)

	resp = call("missing", "missing:1", nil)
	obj, ok = jsonrpc.ParseError(resp.Error)
	require.True(t, ok)
	assert.Equal(t, testutil.CodeMethodNotFound, obj.Code)

	assert.Len(t, ms.Requests(), 3)
	assert.Equal(t, 1, ms.Accepted())

	require.NoError(t, ms.Push(jsonrpc.Response{ID: "pushed", Result: json.RawMessage(`true`)}))
	var pushed jsonrpc.Response
	require.NoError(t, wsjson.Read(ctx, conn, &pushed))
	assert.Equal(t, jsonrpc.ID("pushed"), pushed.ID)

	ms.CloseConnections()
	_, _, err = conn.Read(ctx)
	assert.Error(t, err)
	require.NoError(t, testutil.WaitFor(t, "server forgets the connection", 2*time.Second, func() bool {
		return ms.Connections() == 0
	}))
}

func TestFakeClock(t *testing.T) {
	c := testutil.NewFakeClock()
	fired := 0
	c.AfterFunc(time.Second, func() { fired++ })
	stopped := c.AfterFunc(2*time.Second, func() { fired += 10 })

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Pending())
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, []time.Duration{time.Second}, c.Pending())

	assert.Equal(t, 1, c.FireAll())
	assert.Equal(t, 1, fired)
	assert.Empty(t, c.Pending())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Scheduled())
}

func TestFakeTransportDrainsBeforeEOF(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.Deliver(`{"id":"a"}`)
	tr.Drop()

	frame, err := tr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, string(frame))
	_, err = tr.Read(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, tr.Write(context.Background(), []byte("x")), testutil.ErrFakeClosed)
}

func TestFakeDialer(t *testing.T) {
	d := testutil.NewFakeDialer()
	boom := errors.New("refused")
	d.FailNext(boom)

	_, err := d.Dial(context.Background(), "ws://x")
	assert.ErrorIs(t, err, boom)
	tr, err := d.Dial(context.Background(), "ws://x")
	require.NoError(t, err)
	assert.Same(t, d.Last(), tr)
	assert.Equal(t, 2, d.Dials())
	assert.Len(t, d.Transports(), 1)

	release := d.Hold()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Dial(ctx, "ws://x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()
}
