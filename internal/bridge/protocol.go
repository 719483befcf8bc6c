// Package bridge implements the Server Bridge of spec §4.6: virtual HTTP
// servers keyed by port, reachable under /__virtual__/<port>/..., with a
// Service-Worker-equivalent message protocol standing in for the
// page<->SW MessageChannel a real browser would use. Grounded on
// gorilla/websocket as the same-process transport and on the teacher's
// rex-based HTTP routing (server/router.go).
package bridge

import "time"

// MessageKind enumerates spec §6's message protocol kinds.
type MessageKind string

const (
	KindInit              MessageKind = "init"
	KindRequest           MessageKind = "request"
	KindResponse          MessageKind = "response"
	KindStreamStart       MessageKind = "stream-start"
	KindStreamChunk       MessageKind = "stream-chunk"
	KindStreamEnd         MessageKind = "stream-end"
	KindServerRegistered  MessageKind = "server-registered"
	KindServerUnregistered MessageKind = "server-unregistered"
	KindKeepalive         MessageKind = "keepalive"
	KindSWNeedsInit       MessageKind = "sw-needs-init"
)

// Message is the JSON-cloneable envelope every protocol kind shares.
// Binary payloads travel as base64 strings to avoid structured-clone
// restrictions (spec §6).
type Message struct {
	Type MessageKind `json:"type"`
	ID   uint64      `json:"id,omitempty"`
	Data any         `json:"data,omitempty"`
}

// RequestData is the payload of a "request" message.
type RequestData struct {
	Port      int               `json:"port"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body,omitempty"` // base64
	Streaming bool              `json:"streaming,omitempty"`
}

// ResponseData is the payload of a "response" message.
type ResponseData struct {
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
	Headers       map[string]string `json:"headers"`
	BodyBase64    string            `json:"bodyBase64"`
}

// StreamStartData is the payload of a "stream-start" message.
type StreamStartData struct {
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
	Headers       map[string]string `json:"headers"`
}

// StreamChunkData is the payload of a "stream-chunk" message.
type StreamChunkData struct {
	ChunkBase64 string `json:"chunkBase64"`
}

// keepaliveInterval is the Service Worker dead-man's-switch period of
// spec §4.6 step 6.
const keepaliveInterval = 20 * time.Second
