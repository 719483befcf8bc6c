package bridge

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ije/rex"
	"github.com/mssola/useragent"
	"github.com/rs/cors"

	"github.com/esmkit/esmkit/internal/logx"
)

// virtualPathPrefix is the routing prefix under which every registered
// port is reachable, per spec §8 scenario #6.
const virtualPathPrefix = "/__virtual__/"

// BrowserCondition is the package.json "exports" condition a request
// should resolve under, chosen by sniffing the client's User-Agent the
// way the teacher's query() middleware sniffs for Deno/bun/workerd
// request headers. A real server-side JS runtime never sees a browser
// User-Agent, so the bridge treats any recognized browser UA as the
// "browser" condition and everything else as "node".
type BrowserCondition string

const (
	ConditionBrowser BrowserCondition = "browser"
	ConditionNode    BrowserCondition = "node"
)

// SniffCondition inspects r's User-Agent the way spec §4.6's runtime
// selection step does, to decide which package.json "exports" condition
// a bridged request should resolve under.
func SniffCondition(r *http.Request) BrowserCondition {
	ua := useragent.New(r.UserAgent())
	browserName, _ := ua.Browser()
	if browserName != "" && !ua.Bot() {
		return ConditionBrowser
	}
	return ConditionNode
}

// Router returns a rex.Handle serving two routes: a websocket upgrade at
// "/__bridge__" for the Service-Worker-equivalent message channel (see
// channel.go), and buffered HTTP passthrough at "/__virtual__/<port>/..."
// for callers that want a plain request/response round trip without
// going through the message protocol at all. Grounded on the teacher's
// router() in server/router.go, whose single rex.Handle dispatches on
// ctx.Path.String() the same way.
func (b *Bridge) Router() rex.Handle {
	return func(ctx *rex.Context) interface{} {
		pathname := ctx.Path.String()

		if pathname == "/__bridge__" {
			ch, err := Upgrade(ctx.W, ctx.R)
			if err != nil {
				return rex.Status(400, "websocket upgrade failed: "+err.Error())
			}
			go b.serveChannel(ch)
			return nil
		}

		if !strings.HasPrefix(pathname, virtualPathPrefix) {
			return rex.Status(404, "not found")
		}
		rest := pathname[len(virtualPathPrefix):]
		slash := strings.IndexByte(rest, '/')
		portStr := rest
		upstreamPath := "/"
		if slash >= 0 {
			portStr = rest[:slash]
			upstreamPath = rest[slash:]
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return rex.Status(400, "bad virtual port: "+portStr)
		}

		body, err := io.ReadAll(ctx.R.Body)
		if err != nil {
			return rex.Status(400, "read body: "+err.Error())
		}
		headers := make(map[string]string, len(ctx.R.Header))
		for k := range ctx.R.Header {
			headers[k] = ctx.R.Header.Get(k)
		}
		headers["x-esmkit-condition"] = string(SniffCondition(ctx.R))

		url := upstreamPath
		if ctx.R.URL.RawQuery != "" {
			url += "?" + ctx.R.URL.RawQuery
		}
		resp, err := b.HandleRequest(Request{
			Port:    port,
			Method:  ctx.R.Method,
			URL:     url,
			Headers: headers,
			Body:    body,
		})
		if err != nil {
			return rex.Status(500, err.Error())
		}
		for k, v := range resp.Headers {
			ctx.W.Header().Set(k, v)
		}
		ctx.W.WriteHeader(resp.StatusCode)
		ctx.W.Write(resp.Body)
		return nil
	}
}

// serveChannel runs a bridge connection's message loop. "request" messages
// with the streaming flag go through HandleStreamingRequest and are answered
// with the "stream-start"/"stream-chunk"/"stream-end" sequence; other
// requests go through HandleRequest and are answered with one "response".
// "keepalive" is ignored, and "init" and other kinds get no reply.
func (b *Bridge) serveChannel(ch *Channel) {
	defer ch.Close()
	err := ch.ReadLoop(func(msg Message) {
		switch msg.Type {
		case KindRequest:
			var data RequestData
			if err := DecodeData(msg, &data); err != nil {
				logx.L.Debugf("[bridge] decode request: %v", err)
				return
			}
			req := Request{
				Port:    data.Port,
				Method:  data.Method,
				URL:     data.URL,
				Headers: data.Headers,
				Body:    decodeBodyBase64(data.Body),
			}
			if data.Streaming {
				b.HandleStreamingRequest(req,
					func(status int, smsg string, headers map[string]string) {
						ch.SendStreamStart(msg.ID, status, smsg, headers)
					},
					func(chunk []byte) { ch.SendStreamChunk(msg.ID, chunk) },
					func() { ch.SendStreamEnd(msg.ID) },
				)
				return
			}
			resp, err := b.HandleRequest(req)
			if err != nil {
				resp = Response{StatusCode: 500, StatusMessage: "Internal Error", Body: []byte(err.Error())}
			}
			ch.SendResponse(msg.ID, resp)
		case KindKeepalive:
			// liveness pong; nothing to do.
		}
	})
	if err != nil {
		logx.L.Debugf("[bridge] channel closed: %v", err)
	}
}

func decodeBodyBase64(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// StandaloneHandler serves the same "/__virtual__/<port>/..." routing as
// Router, but as a plain net/http.Handler wrapped in rs/cors, for callers
// that embed the bridge outside of a rex.Serve process (spec §2's domain
// stack table calls this out explicitly: rs/cors mirrors rex.Cors's job
// "as the plain middleware when the bridge runs standalone"). The
// websocket channel endpoint is intentionally not exposed here since a
// standalone embedder talks to the bridge in-process, not over HTTP.
func (b *Bridge) StandaloneHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(virtualPathPrefix, func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, virtualPathPrefix)
		slash := strings.IndexByte(rest, '/')
		portStr := rest
		upstreamPath := "/"
		if slash >= 0 {
			portStr = rest[:slash]
			upstreamPath = rest[slash:]
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			http.Error(w, "bad virtual port: "+portStr, http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		headers["x-esmkit-condition"] = string(SniffCondition(r))
		url := upstreamPath
		if r.URL.RawQuery != "" {
			url += "?" + r.URL.RawQuery
		}
		resp, err := b.HandleRequest(Request{Port: port, Method: r.Method, URL: url, Headers: headers, Body: body})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
