package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startEchoBridge wires a Bridge with one registered server and an HTTP
// endpoint that upgrades to a Channel and serves it, mirroring what
// Router does for "/__bridge__" but without going through rex so the
// test can use httptest directly.
func startEchoBridge(t *testing.T) (*httptest.Server, *Bridge) {
	t.Helper()
	b := New("http://host")
	b.RegisterServer(7000, func(req Request) (Response, error) {
		return Response{StatusCode: 200, Headers: map[string]string{"x-from": "server"}, Body: []byte("echo:" + req.URL)}, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go b.serveChannel(ch)
	}))
	return srv, b
}

func TestChannelRequestResponseRoundTrip(t *testing.T) {
	srv, _ := startEchoBridge(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := Message{
		Type: KindRequest,
		ID:   1,
		Data: RequestData{Port: 7000, Method: "GET", URL: "/hello", Headers: map[string]string{}},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != KindResponse || resp.ID != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	var data ResponseData
	if err := DecodeData(resp, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.StatusCode != 200 || data.Headers["x-from"] != "server" {
		t.Fatalf("data = %+v", data)
	}
}

func TestChannelStreamingRequestSendsStartChunkEnd(t *testing.T) {
	b := New("http://host")
	b.RegisterStreamingServer(8000, func(req Request, onStart func(int, string, map[string]string), onChunk func([]byte), onEnd func()) {
		onStart(200, "OK", nil)
		onChunk([]byte("a"))
		onChunk([]byte("b"))
		onEnd()
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go b.serveChannel(ch)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := Message{
		Type: KindRequest,
		ID:   42,
		Data: RequestData{Port: 8000, Method: "GET", URL: "/stream", Streaming: true},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var kinds []MessageKind
	for i := 0; i < 4; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		kinds = append(kinds, msg.Type)
		if msg.Type == KindStreamEnd {
			break
		}
	}
	if len(kinds) < 3 || kinds[0] != KindStreamStart || kinds[len(kinds)-1] != KindStreamEnd {
		t.Fatalf("kinds = %v", kinds)
	}
}
