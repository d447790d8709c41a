package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"roomview/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// protooServer is an in-process room server speaking the protoo envelope.
type protooServer struct {
	t      *testing.T
	srv    *httptest.Server
	conns  chan *websocket.Conn
	query  chan string
	proto  chan string
	handle func(conn *websocket.Conn, msg map[string]interface{})
}

func newProtooServer(t *testing.T, handle func(conn *websocket.Conn, msg map[string]interface{})) *protooServer {
	t.Helper()
	s := &protooServer{
		t:      t,
		conns:  make(chan *websocket.Conn, 4),
		query:  make(chan string, 4),
		proto:  make(chan string, 4),
		handle: handle,
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.query <- r.URL.RawQuery
		s.proto <- conn.Subprotocol()
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if s.handle != nil {
				s.handle(conn, msg)
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *protooServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *protooServer) conn() *websocket.Conn {
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		s.t.Fatal("no client connected")
		return nil
	}
}

// echoHandler answers every request with ok and echoes the data back, except
// for method "fail" which is rejected.
func echoHandler(conn *websocket.Conn, msg map[string]interface{}) {
	if msg["request"] != true {
		return
	}
	if msg["method"] == "fail" {
		_ = conn.WriteJSON(map[string]interface{}{
			"response":    true,
			"id":          msg["id"],
			"ok":          false,
			"errorCode":   404,
			"errorReason": "no such room",
		})
		return
	}
	_ = conn.WriteJSON(map[string]interface{}{
		"response": true,
		"id":       msg["id"],
		"ok":       true,
		"data":     msg["data"],
	})
}

type events struct {
	mu    sync.Mutex
	names []string
	open  chan struct{}
	close chan struct{}
	fail  chan error
}

func watch(p *Peer) *events {
	e := &events{open: make(chan struct{}, 1), close: make(chan struct{}, 4), fail: make(chan error, 1)}
	p.OnOpen(func() { e.add("open"); e.open <- struct{}{} })
	p.OnFailed(func(err error) { e.add("failed"); e.fail <- err })
	p.OnDisconnected(func() { e.add("disconnected") })
	p.OnClose(func() { e.add("close"); e.close <- struct{}{} })
	return e
}

func (e *events) add(name string) {
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func testConfig() PeerConfig {
	cfg := DefaultPeerConfig()
	cfg.HandshakeTimeout = time.Second
	return cfg
}

func openPeer(t *testing.T, s *protooServer, query string) (*Peer, *events) {
	t.Helper()
	p := NewPeer(s.url()+"/?"+query, testConfig(), nil)
	ev := watch(p)
	p.Open()
	waitFor(t, ev.open, "open")
	t.Cleanup(func() { p.Close() })
	return p, ev
}

func TestPeer_OpenSendsQueryAndSubprotocol(t *testing.T) {
	s := newProtooServer(t, echoHandler)
	_, _ = openPeer(t, s, "roomId=garage&peerId=abc&camera=combined")

	assert.Equal(t, "roomId=garage&peerId=abc&camera=combined", <-s.query)
	assert.Equal(t, Subprotocol, <-s.proto)
}

func TestPeer_RequestDecodesResponse(t *testing.T) {
	s := newProtooServer(t, echoHandler)
	p, _ := openPeer(t, s, "roomId=r")

	var out domain.CreateTransportRequest
	err := p.Request(context.Background(), domain.MethodCreateWebRtcTransport,
		domain.CreateTransportRequest{Consuming: true}, &out)
	require.NoError(t, err)
	assert.True(t, out.Consuming)
	assert.False(t, out.Producing)
}

func TestPeer_RequestNilDataSendsEmptyObject(t *testing.T) {
	got := make(chan interface{}, 1)
	s := newProtooServer(t, func(conn *websocket.Conn, msg map[string]interface{}) {
		got <- msg["data"]
		echoHandler(conn, msg)
	})
	p, _ := openPeer(t, s, "roomId=r")

	require.NoError(t, p.Request(context.Background(), domain.MethodGetRouterRtpCapabilities, nil, nil))
	assert.Equal(t, map[string]interface{}{}, <-got)
}

func TestPeer_RequestRejected(t *testing.T) {
	s := newProtooServer(t, echoHandler)
	p, _ := openPeer(t, s, "roomId=r")

	err := p.Request(context.Background(), "fail", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSignalingRequest))

	var sigErr *domain.SignalingError
	require.True(t, errors.As(err, &sigErr))
	assert.Equal(t, "fail", sigErr.Method)
	assert.Equal(t, 404, sigErr.Code)
	assert.Equal(t, "no such room", sigErr.Reason)
}

func TestPeer_RequestContextCancelled(t *testing.T) {
	s := newProtooServer(t, nil) // never answers
	p, _ := openPeer(t, s, "roomId=r")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Request(ctx, domain.MethodJoin, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPeer_DialFailureEmitsFailedThenClose(t *testing.T) {
	s := newProtooServer(t, nil)
	url := s.url()
	s.srv.Close()

	p := NewPeer(url, testConfig(), nil)
	ev := watch(p)
	p.Open()

	select {
	case err := <-ev.fail:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected failed event")
	}
	waitFor(t, ev.close, "close")
	assert.Equal(t, []string{"failed", "close"}, ev.list())
}

func TestPeer_ServerDropEmitsDisconnectedAndFailsPending(t *testing.T) {
	s := newProtooServer(t, nil)
	p, ev := openPeer(t, s, "roomId=r")
	conn := s.conn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Request(context.Background(), domain.MethodJoin, nil, nil)
	}()

	// Give the request time to be registered before dropping.
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	waitFor(t, ev.close, "close")
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrLinkClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed")
	}
	assert.Equal(t, []string{"open", "disconnected", "close"}, ev.list())
}

func TestPeer_CloseEmitsCloseOnce(t *testing.T) {
	s := newProtooServer(t, echoHandler)
	p, ev := openPeer(t, s, "roomId=r")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	waitFor(t, ev.close, "close")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"open", "close"}, ev.list())

	err := p.Request(context.Background(), domain.MethodJoin, nil, nil)
	assert.ErrorIs(t, err, domain.ErrLinkClosed)
}

func TestPeer_CloseBeforeOpen(t *testing.T) {
	p := NewPeer("ws://127.0.0.1:1/", testConfig(), nil)
	ev := watch(p)

	require.NoError(t, p.Close())
	waitFor(t, ev.close, "close")
	p.Open()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"close"}, ev.list())
}

func readResponse(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["response"] == true {
			return msg
		}
	}
}

// inboundServer lets the test drive the connection directly.
func inboundServer(t *testing.T) *protooServer {
	t.Helper()
	s := &protooServer{
		t:     t,
		conns: make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestPeer_InboundRequestAnsweredByHandler(t *testing.T) {
	s := inboundServer(t)
	p := NewPeer(s.url(), testConfig(), nil)
	ev := watch(p)

	afterSend := make(chan struct{})
	p.OnRequest(func(ctx context.Context, req domain.Request) domain.Reply {
		if req.Method == domain.MethodNewConsumer {
			return domain.Accept(map[string]string{"hello": "world"}).Then(func() { close(afterSend) })
		}
		return domain.Reject(errors.New("nope"))
	})
	p.Open()
	waitFor(t, ev.open, "open")
	defer p.Close()
	conn := s.conn()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"request": true, "id": 7, "method": domain.MethodNewConsumer, "data": map[string]interface{}{},
	}))
	resp := readResponse(t, conn)
	assert.Equal(t, float64(7), resp["id"])
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, map[string]interface{}{"hello": "world"}, resp["data"])
	waitFor(t, afterSend, "after send")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"request": true, "id": 8, "method": "other", "data": map[string]interface{}{},
	}))
	resp = readResponse(t, conn)
	assert.Equal(t, float64(8), resp["id"])
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "nope", resp["errorReason"])
}

func TestPeer_InboundRequestWithoutHandlerIsAccepted(t *testing.T) {
	s := inboundServer(t)
	p := NewPeer(s.url(), testConfig(), nil)
	ev := watch(p)
	p.Open()
	waitFor(t, ev.open, "open")
	defer p.Close()
	conn := s.conn()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"request": true, "id": 3, "method": "peerClosed", "data": map[string]interface{}{},
	}))
	resp := readResponse(t, conn)
	assert.Equal(t, true, resp["ok"])
}

func TestPeer_NotificationDelivered(t *testing.T) {
	s := inboundServer(t)
	p := NewPeer(s.url(), testConfig(), nil)
	ev := watch(p)

	got := make(chan domain.Notification, 1)
	p.OnNotification(func(n domain.Notification) { got <- n })
	p.Open()
	waitFor(t, ev.open, "open")
	defer p.Close()
	conn := s.conn()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"notification": true, "method": "activeSpeaker", "data": map[string]interface{}{"peerId": "x"},
	}))

	select {
	case n := <-got:
		assert.Equal(t, "activeSpeaker", n.Method)
		assert.JSONEq(t, `{"peerId":"x"}`, string(n.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestDialer_NewLink(t *testing.T) {
	d := NewDialer(testConfig(), nil)
	link := d.NewLink("ws://localhost:8000/?roomId=r")
	require.NotNil(t, link)
	assert.NoError(t, link.Close())
}
