package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRequestUnavailableAfterUnregister(t *testing.T) {
	b := New("http://host")
	b.RegisterServer(3000, func(req Request) (Response, error) {
		return Response{StatusCode: 200}, nil
	})
	b.UnregisterServer(3000)

	resp, err := b.HandleRequest(Request{Port: 3000, Method: "GET", URL: "/"})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHandleRequestUnregisteredPort(t *testing.T) {
	b := New("http://host")
	resp, err := b.HandleRequest(Request{Port: 4000, Method: "GET", URL: "/"})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestGetServerURL(t *testing.T) {
	b := New("http://host")
	assert.Equal(t, "http://host/__virtual__/3000", b.GetServerURL(3000))
}

func TestHandleRequestRoutesToRegisteredServer(t *testing.T) {
	b := New("http://host")
	b.RegisterServer(3000, func(req Request) (Response, error) {
		assert.Equal(t, "GET", req.Method)
		assert.Equal(t, "/hello", req.URL)
		return Response{StatusCode: 200, Body: []byte("world")}, nil
	})

	resp, err := b.HandleRequest(Request{Port: 3000, Method: "GET", URL: "/hello"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "world", string(resp.Body))
}

func TestHandleStreamingRequestFabricatesSingleChunkForBufferedHandler(t *testing.T) {
	b := New("http://host")
	b.RegisterServer(3000, func(req Request) (Response, error) {
		return Response{StatusCode: 200, Body: []byte("abc")}, nil
	})

	var started bool
	var chunks [][]byte
	var ended bool
	err := b.HandleStreamingRequest(Request{Port: 3000, Method: "GET", URL: "/"},
		func(status int, msg string, headers map[string]string) {
			started = true
			assert.Equal(t, 200, status)
		},
		func(chunk []byte) { chunks = append(chunks, chunk) },
		func() { ended = true },
	)
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, ended)
	require.Len(t, chunks, 1)
	assert.Equal(t, "abc", string(chunks[0]))
}

func TestHandleStreamingRequestUsesRegisteredStreamingHandler(t *testing.T) {
	b := New("http://host")
	b.RegisterStreamingServer(3000, func(req Request, onStart func(int, string, map[string]string), onChunk func([]byte), onEnd func()) {
		onStart(200, "OK", nil)
		onChunk([]byte("one"))
		onChunk([]byte("two"))
		onEnd()
	})

	var chunks [][]byte
	err := b.HandleStreamingRequest(Request{Port: 3000, Method: "GET", URL: "/"},
		func(int, string, map[string]string) {},
		func(chunk []byte) { chunks = append(chunks, chunk) },
		func() {},
	)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one", string(chunks[0]))
	assert.Equal(t, "two", string(chunks[1]))
}

func TestEventEmitterFiresServerReady(t *testing.T) {
	b := New("http://host")
	events := make(chan string, 1)
	b.OnEvent(func(event string, port int) {
		assert.Equal(t, 5000, port)
		events <- event
	})
	b.RegisterServer(5000, func(req Request) (Response, error) { return Response{}, nil })

	select {
	case ev := <-events:
		assert.Equal(t, "server-ready", ev)
	default:
		t.Fatal("expected server-ready event to fire synchronously")
	}
}

func TestNextRequestIDIsMonotonic(t *testing.T) {
	b := New("http://host")
	first := b.NextRequestID()
	second := b.NextRequestID()
	assert.Equal(t, first+1, second)
}

func TestIsRegistered(t *testing.T) {
	b := New("http://host")
	assert.False(t, b.IsRegistered(1))
	b.RegisterServer(1, func(req Request) (Response, error) { return Response{}, nil })
	assert.True(t, b.IsRegistered(1))
	b.UnregisterServer(1)
	assert.False(t, b.IsRegistered(1))
}
