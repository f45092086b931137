package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-swell/pkg/client"
	"github.com/lightforgemedia/go-swell/pkg/testutil"
)

type todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func todoReducers() map[string]client.Reducer[[]todo] {
	return map[string]client.Reducer[[]todo]{
		"todos/list": client.Reduce(func(_ []todo, list []todo) []todo { return list }),
		"todos/insert": client.Reduce(func(state []todo, t todo) []todo {
			return append(append([]todo(nil), state...), t)
		}),
	}
}

func newTodoStore(t *testing.T, sink *errorSink) (*testutil.FakeConnection, *client.Store[[]todo]) {
	t.Helper()
	fc := testutil.NewFakeConnection(t)
	store := client.NewStore(fc.Connection, []todo{}, todoReducers(),
		client.WithPrefix("todos/"),
		client.WithErrorHandler(sink.add),
	)
	t.Cleanup(store.Close)
	waitState(t, fc.Connection, client.StateOpen)
	return fc, store
}

func waitSent(t *testing.T, fc *testutil.FakeConnection, n int) {
	t.Helper()
	require.NoError(t, testutil.WaitFor(t, "sent frames", waitTimeout, func() bool {
		tr := fc.Dialer.Last()
		return tr != nil && len(tr.Sent()) >= n
	}))
}

func TestStoreDispatchIssuesCorrelatedIDs(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	h1, err := store.Dispatch("todos/insert", todo{Title: "a"})
	require.NoError(t, err)
	h2, err := store.Dispatch("todos/insert", todo{Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, "todos/insert:1", h1.ID())
	assert.Equal(t, "todos/insert:2", h2.ID())
	assert.Equal(t, map[string]bool{"1": true, "2": true}, store.Loaders().Get())
	assert.Equal(t, 2, store.Pending())

	waitSent(t, fc, 2)
	reqs, err := fc.Dialer.Last().SentRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "2.0", reqs[0].JSONRPC)
	assert.Equal(t, "todos/insert", reqs[0].Method)
	assert.Equal(t, "todos/insert:1", reqs[0].ID)
	assert.JSONEq(t, `{"id":0,"title":"a"}`, string(reqs[0].Params))
	assert.Equal(t, "todos/insert:2", reqs[1].ID)
}

func TestStoreDispatchExplicitLocalID(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	h, err := store.Dispatch("todos/list", nil, "all")
	require.NoError(t, err)
	assert.Equal(t, "todos/list:all", h.ID())
	_, loading := store.Loaders().Lookup("all")
	assert.True(t, loading)

	waitSent(t, fc, 1)
	reqs, err := fc.Dialer.Last().SentRequests()
	require.NoError(t, err)
	assert.Empty(t, reqs[0].Params, "nil params are omitted")

	_, err = store.Dispatch("todos/list", nil, "a:b")
	assert.ErrorIs(t, err, client.ErrInvalidMethod)
	_, err = store.Dispatch("todos:list", nil)
	assert.ErrorIs(t, err, client.ErrInvalidMethod)
}

func TestStoreReducesSuccessfulResponses(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	var states [][]todo
	var mu sync.Mutex
	store.Subscribe(func(s []todo) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	h, err := store.Dispatch("todos/insert", todo{Title: "milk"})
	require.NoError(t, err)
	fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","result":{"id":1,"title":"milk"}}`)

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, client.RequestStatus{Fulfilled: true}, h.Status())
	assert.Equal(t, []todo{{ID: 1, Title: "milk"}}, store.Get())
	assert.Zero(t, store.Loaders().Len())
	assert.Zero(t, store.Errors().Len())
	assert.Zero(t, store.Pending())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]todo{{}, {{ID: 1, Title: "milk"}}}, states)
}

func TestStoreErrorResponse(t *testing.T) {
	sink := &errorSink{}
	fc, store := newTodoStore(t, sink)

	h, err := store.Dispatch("todos/insert", todo{Title: "x"})
	require.NoError(t, err)
	fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","error":{"message":"boom"}}`)

	werr := h.Wait(context.Background())
	var appErr *client.ApplicationError
	require.ErrorAs(t, werr, &appErr)
	assert.Equal(t, "todos/insert:1", appErr.ID)
	assert.JSONEq(t, `{"message":"boom"}`, string(appErr.Payload))
	obj, parsed := appErr.Object()
	require.True(t, parsed)
	assert.Equal(t, "boom", obj.Message)

	stored, ok := store.Errors().Lookup("1")
	require.True(t, ok)
	assert.Equal(t, werr, stored)
	loading, _ := store.Loaders().Lookup("1")
	assert.True(t, loading, "loader flag survives an error response")
	assert.Equal(t, []todo{}, store.Get())
	require.Len(t, sink.all(), 1)
	assert.ErrorAs(t, sink.all()[0], &appErr)
}

func TestStoreErrorPayloadIsOpaque(t *testing.T) {
	payloads := []string{
		`{"code":"NOT_FOUND","message":"boom"}`,
		`42`,
		`["boom"]`,
		`{"message":{"text":"boom"}}`,
		`true`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			sink := &errorSink{}
			fc, store := newTodoStore(t, sink)

			h, err := store.Dispatch("todos/insert", todo{Title: "x"})
			require.NoError(t, err)
			fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","error":` + payload + `}`)

			werr := waitHandle(t, h)
			var appErr *client.ApplicationError
			require.ErrorAs(t, werr, &appErr)
			assert.JSONEq(t, payload, string(appErr.Payload))
			assert.Contains(t, appErr.Error(), "todos/insert:1")

			stored, ok := store.Errors().Lookup("1")
			require.True(t, ok)
			assert.Equal(t, werr, stored)
			require.Len(t, sink.all(), 1)
		})
	}
}

func TestStoreFalsyErrorMemberIsIgnored(t *testing.T) {
	for _, member := range []string{`null`, `""`, `false`, `0`} {
		t.Run("with result/"+member, func(t *testing.T) {
			sink := &errorSink{}
			fc, store := newTodoStore(t, sink)

			h, err := store.Dispatch("todos/insert", todo{Title: "x"})
			require.NoError(t, err)
			fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","error":` + member + `,"result":{"id":1,"title":"x"}}`)

			require.NoError(t, waitHandle(t, h))
			assert.Equal(t, []todo{{ID: 1, Title: "x"}}, store.Get())
			assert.Zero(t, store.Errors().Len())
			assert.Empty(t, sink.all())
		})

		t.Run("without result/"+member, func(t *testing.T) {
			sink := &errorSink{}
			fc, store := newTodoStore(t, sink)

			h, err := store.Dispatch("todos/insert", todo{Title: "x"})
			require.NoError(t, err)
			fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","error":` + member + `}`)

			werr := waitHandle(t, h)
			assert.ErrorIs(t, werr, client.ErrMissingResult)
			var appErr *client.ApplicationError
			assert.False(t, errors.As(werr, &appErr))
		})
	}
}

func TestStoreErrorsReset(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	for i := 0; i < 2; i++ {
		_, err := store.Dispatch("todos/insert", todo{})
		require.NoError(t, err)
	}
	tr := fc.Dialer.Last()
	tr.Deliver(`{"id":"todos/insert:1","error":"nope"}`)
	tr.Deliver(`{"id":"todos/insert:2","error":{"code":-1,"message":"nope"}}`)
	require.NoError(t, testutil.WaitFor(t, "two errors", waitTimeout, func() bool {
		return store.Errors().Len() == 2
	}))

	store.Errors().Reset("1")
	_, ok := store.Errors().Lookup("1")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Errors().Len())

	store.Errors().Reset()
	assert.Zero(t, store.Errors().Len())
}

func TestStoreLaterSuccessClearsError(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	_, err := store.Dispatch("todos/list", nil, "all")
	require.NoError(t, err)
	tr := fc.Dialer.Last()
	tr.Deliver(`{"id":"todos/list:all","error":{"message":"busy"}}`)
	tr.Deliver(`{"id":"todos/list:all","result":[{"id":3,"title":"c"}]}`)

	require.NoError(t, testutil.WaitFor(t, "list applied", waitTimeout, func() bool {
		return len(store.Get()) == 1
	}))
	assert.Zero(t, store.Errors().Len())
	assert.Zero(t, store.Loaders().Len())
}

func TestStoreProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"missing id", `{"result":[1]}`, client.ErrMissingID},
		{"unknown method", `{"id":"todos/remove:1","result":true}`, client.ErrNoHandler},
		{"null result", `{"id":"todos/insert:1","result":null}`, client.ErrMissingResult},
		{"absent result", `{"id":"todos/insert:1"}`, client.ErrMissingResult},
		{"false result", `{"id":"todos/insert:1","result":false}`, client.ErrMissingResult},
		{"zero result", `{"id":"todos/insert:1","result":0}`, client.ErrMissingResult},
		{"empty string result", `{"id":"todos/insert:1","result":""}`, client.ErrMissingResult},
		{"undecodable result", `{"id":"todos/insert:1","result":"milk"}`, client.ErrDecodeResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &errorSink{}
			fc := testutil.NewFakeConnection(t)
			// unprefixed so frames without an id reach the store
			store := client.NewStore(fc.Connection, []todo{}, todoReducers(), client.WithErrorHandler(sink.add))
			defer store.Close()
			waitState(t, fc.Connection, client.StateOpen)

			fc.Dialer.Last().Deliver(tt.frame)
			require.NoError(t, testutil.WaitFor(t, "error reported", waitTimeout, func() bool {
				return len(sink.all()) == 1
			}))
			err := sink.all()[0]
			assert.ErrorIs(t, err, tt.want)
			var perr *client.ProtocolError
			assert.ErrorAs(t, err, &perr)
			assert.Equal(t, []todo{}, store.Get())
		})
	}
}

func TestStoreMissingResultRejectsHandle(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})
	h, err := store.Dispatch("todos/insert", todo{})
	require.NoError(t, err)
	fc.Dialer.Last().Deliver(`{"id":"todos/insert:1","result":null}`)

	assert.ErrorIs(t, h.Wait(context.Background()), client.ErrMissingResult)
	_, ok := store.Errors().Lookup("1")
	assert.True(t, ok)
}

func TestStoreDiscardsInitialValueEcho(t *testing.T) {
	type counter struct {
		Count int `json:"count"`
	}
	sink := &errorSink{}
	fc := testutil.NewFakeConnection(t)
	store := client.NewStore(fc.Connection, counter{}, map[string]client.Reducer[counter]{
		"count/get": client.Reduce(func(_ counter, n int) counter { return counter{Count: n} }),
	}, client.WithErrorHandler(sink.add))
	defer store.Close()
	waitState(t, fc.Connection, client.StateOpen)

	tr := fc.Dialer.Last()
	tr.Deliver(`{"count":0}`)
	tr.Deliver(`{"id":"count/get:1","result":5}`)
	require.NoError(t, testutil.WaitFor(t, "count applied", waitTimeout, func() bool {
		return store.Get().Count == 5
	}))
	assert.Empty(t, sink.all(), "the echo is discarded before the id check")
}

func TestStoreWithoutErrorHandlerDropsErrors(t *testing.T) {
	fc := testutil.NewFakeConnection(t)
	store := client.NewStore(fc.Connection, []todo{}, todoReducers())
	defer store.Close()
	waitState(t, fc.Connection, client.StateOpen)

	tr := fc.Dialer.Last()
	tr.Deliver(`{"id":"nothing:1","result":1}`)
	tr.Deliver(`{"id":"todos/list:1","result":[{"id":1}]}`)
	require.NoError(t, testutil.WaitFor(t, "list applied", waitTimeout, func() bool {
		return len(store.Get()) == 1
	}))
}

func TestStoreIgnoresErrorReducerKey(t *testing.T) {
	sink := &errorSink{}
	fc := testutil.NewFakeConnection(t)
	reducers := todoReducers()
	reducerCalls := 0
	reducers["error"] = func(state []todo, _ json.RawMessage) ([]todo, error) {
		reducerCalls++
		return state, nil
	}
	store := client.NewStore(fc.Connection, []todo{}, reducers, client.WithErrorHandler(sink.add))
	defer store.Close()
	waitState(t, fc.Connection, client.StateOpen)

	fc.Dialer.Last().Deliver(`{"id":"error:1","result":[1]}`)
	require.NoError(t, testutil.WaitFor(t, "error reported", waitTimeout, func() bool {
		return len(sink.all()) == 1
	}))
	assert.ErrorIs(t, sink.all()[0], client.ErrNoHandler)
	assert.Zero(t, reducerCalls)
}

func TestStoresSharingAConnection(t *testing.T) {
	fc := testutil.NewFakeConnection(t)
	type user struct {
		Name string `json:"name"`
	}
	todos := client.NewStore(fc.Connection, []todo{}, todoReducers(), client.WithPrefix("todos/"))
	defer todos.Close()
	users := client.NewStore(fc.Connection, []user{}, map[string]client.Reducer[[]user]{
		"users/list": client.Reduce(func(_ []user, l []user) []user { return l }),
	}, client.WithPrefix("users/"))
	defer users.Close()
	assert.Equal(t, 2, fc.Subscriptions())

	ht, err := todos.Dispatch("todos/list", nil)
	require.NoError(t, err)
	hu, err := users.Dispatch("users/list", nil)
	require.NoError(t, err)
	assert.Equal(t, "todos/list:1", ht.ID())
	assert.Equal(t, "users/list:1", hu.ID(), "each store counts on its own")

	waitState(t, fc.Connection, client.StateOpen)
	assert.Equal(t, 1, fc.Dialer.Dials())
	tr := fc.Dialer.Last()
	tr.Deliver(`{"id":"users/list:1","result":[{"name":"ada"}]}`)
	tr.Deliver(`{"id":"todos/list:1","result":[{"id":1,"title":"t"}]}`)

	require.NoError(t, hu.Wait(context.Background()))
	require.NoError(t, ht.Wait(context.Background()))
	assert.Equal(t, []user{{Name: "ada"}}, users.Get())
	assert.Equal(t, []todo{{ID: 1, Title: "t"}}, todos.Get())
}

func TestStoreFire(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})

	require.NoError(t, store.Fire("todos/list", json.RawMessage(`{"done":false}`)))
	loading, _ := store.Loaders().Lookup("todos/list")
	assert.True(t, loading)
	assert.Zero(t, store.Pending())

	waitSent(t, fc, 1)
	reqs, err := fc.Dialer.Last().SentRequests()
	require.NoError(t, err)
	assert.Equal(t, "todos/list", reqs[0].ID)
	assert.JSONEq(t, `{"done":false}`, string(reqs[0].Params))

	fc.Dialer.Last().Deliver(`{"id":"todos/list","result":[{"id":9,"title":"z"}]}`)
	require.NoError(t, testutil.WaitFor(t, "fire applied", waitTimeout, func() bool {
		return len(store.Get()) == 1
	}))
	assert.Zero(t, store.Loaders().Len())

	assert.ErrorIs(t, store.Fire("todos:list", nil), client.ErrInvalidMethod)
}

func TestStoreCloseReleasesConnection(t *testing.T) {
	fc, store := newTodoStore(t, &errorSink{})
	tr := fc.Dialer.Last()

	store.Close()
	store.Close()
	assert.Zero(t, fc.Subscriptions())
	waitState(t, fc.Connection, client.StateClosed)
	assert.True(t, tr.IsClosed())
	assert.Empty(t, fc.Clock.Pending(), "no reopen after the last subscriber leaves")

	_, err := store.Dispatch("todos/list", nil)
	assert.ErrorIs(t, err, client.ErrStoreClosed)
	assert.ErrorIs(t, store.Fire("todos/list", nil), client.ErrStoreClosed)
}

func TestStoreParamsMarshalError(t *testing.T) {
	_, store := newTodoStore(t, &errorSink{})
	_, err := store.Dispatch("todos/insert", make(chan int))
	require.Error(t, err)
	assert.False(t, errors.Is(err, client.ErrInvalidMethod))
	assert.Zero(t, store.Pending())
}
