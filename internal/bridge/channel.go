package bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/esmkit/esmkit/internal/logx"
)

// Channel is the gorilla/websocket stand-in for the page<->Service-Worker
// MessageChannel of spec §4.6. There is no separate browser process here,
// so the "page" and "SW" sides of the protocol are just the two ends of
// one websocket connection: the bridge's HTTP side (Router's "/__bridge__"
// route, served by serveChannel) plays the page, a connected client plays
// the controller. Messages are framed
// exactly as spec §6 describes, so a real browser extension speaking the
// same JSON protocol could attach to the same endpoint.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan Message

	keepaliveStop chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade promotes an incoming HTTP request to a Channel and starts its
// keepalive ping loop (spec §4.6 step 6's 20-second interval).
func Upgrade(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		conn:          conn,
		pending:       make(map[uint64]chan Message),
		keepaliveStop: make(chan struct{}),
	}
	go ch.keepaliveLoop()
	return ch, nil
}

func (ch *Channel) keepaliveLoop() {
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := ch.Send(Message{Type: KindKeepalive}); err != nil {
				logx.L.Debugf("[bridge] keepalive send failed: %v", err)
				return
			}
		case <-ch.keepaliveStop:
			return
		}
	}
}

// Send writes msg as a single JSON text frame.
func (ch *Channel) Send(msg Message) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(msg)
}

// SendResponse base64-encodes resp's body and sends it as a "response"
// message correlated to id (spec §6's request/response correlation).
func (ch *Channel) SendResponse(id uint64, resp Response) error {
	return ch.Send(Message{
		Type: KindResponse,
		ID:   id,
		Data: ResponseData{
			StatusCode:    resp.StatusCode,
			StatusMessage: resp.StatusMessage,
			Headers:       resp.Headers,
			BodyBase64:    base64.StdEncoding.EncodeToString(resp.Body),
		},
	})
}

// SendStreamStart/Chunk/End send the three-part streaming sequence of
// spec §4.6, each correlated to id.
func (ch *Channel) SendStreamStart(id uint64, status int, msg string, headers map[string]string) error {
	return ch.Send(Message{Type: KindStreamStart, ID: id, Data: StreamStartData{status, msg, headers}})
}

func (ch *Channel) SendStreamChunk(id uint64, chunk []byte) error {
	return ch.Send(Message{Type: KindStreamChunk, ID: id, Data: StreamChunkData{base64.StdEncoding.EncodeToString(chunk)}})
}

func (ch *Channel) SendStreamEnd(id uint64) error {
	return ch.Send(Message{Type: KindStreamEnd, ID: id})
}

// Await registers a pending correlation id and returns, without blocking,
// a buffered channel to which ReadLoop delivers the message carrying that
// id. The channel is not closed when the connection closes.
func (ch *Channel) Await(id uint64) <-chan Message {
	c := make(chan Message, 1)
	ch.pendingMu.Lock()
	ch.pending[id] = c
	ch.pendingMu.Unlock()
	return c
}

// ReadLoop blocks reading frames off the connection, dispatching each to
// onMessage. It returns when the connection closes.
func (ch *Channel) ReadLoop(onMessage func(Message)) error {
	defer close(ch.keepaliveStop)
	for {
		var msg Message
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.ID != 0 {
			ch.pendingMu.Lock()
			c, ok := ch.pending[msg.ID]
			if ok {
				delete(ch.pending, msg.ID)
			}
			ch.pendingMu.Unlock()
			if ok {
				c <- msg
				continue
			}
		}
		onMessage(msg)
	}
}

// Close terminates the underlying connection and stops the keepalive
// loop.
func (ch *Channel) Close() error {
	return ch.conn.Close()
}

// DecodeData unmarshals msg.Data (already JSON-decoded into map[string]any
// by encoding/json) into target via a marshal/unmarshal round trip.
func DecodeData(msg Message, target any) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
