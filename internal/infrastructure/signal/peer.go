package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
	"roomview/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// errorCodeRejected is sent back when a local request handler rejects.
const errorCodeRejected = 500

type PeerConfig struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		PingInterval:     20 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

type peerState int

const (
	stateNew peerState = iota
	stateConnecting
	stateOpen
	stateClosed
)

type response struct {
	msg *message
	err error
}

// Peer is the client side of a protoo signaling link.
type Peer struct {
	url    string
	cfg    PeerConfig
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   peerState
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan response

	onOpen         func()
	onFailed       func(error)
	onDisconnected func()
	onClose        func()
	onRequest      ports.RequestHandler
	onNotification func(domain.Notification)

	writeMu sync.Mutex
}

var _ ports.SignalingLink = (*Peer)(nil)

func NewPeer(url string, cfg PeerConfig, logger *zap.SugaredLogger) *Peer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		url:     url,
		cfg:     cfg,
		logger:  logger.With("component", "signal_peer"),
		ctx:     ctx,
		cancel:  cancel,
		nextID:  1,
		pending: make(map[uint64]chan response),
	}
}

func (p *Peer) OnOpen(fn func()) {
	p.mu.Lock()
	p.onOpen = fn
	p.mu.Unlock()
}

func (p *Peer) OnFailed(fn func(err error)) {
	p.mu.Lock()
	p.onFailed = fn
	p.mu.Unlock()
}

func (p *Peer) OnDisconnected(fn func()) {
	p.mu.Lock()
	p.onDisconnected = fn
	p.mu.Unlock()
}

func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *Peer) OnRequest(h ports.RequestHandler) {
	p.mu.Lock()
	p.onRequest = h
	p.mu.Unlock()
}

func (p *Peer) OnNotification(fn func(n domain.Notification)) {
	p.mu.Lock()
	p.onNotification = fn
	p.mu.Unlock()
}

// Open dials the server in the background. Calling it more than once has no
// effect.
func (p *Peer) Open() {
	p.mu.Lock()
	if p.state != stateNew {
		p.mu.Unlock()
		return
	}
	p.state = stateConnecting
	p.mu.Unlock()

	go p.run()
}

func (p *Peer) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: p.cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, resp, err := dialer.DialContext(p.ctx, p.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		p.mu.Lock()
		if p.state == stateClosed {
			p.mu.Unlock()
			return
		}
		p.state = stateClosed
		onFailed, onClose := p.onFailed, p.onClose
		p.mu.Unlock()

		p.cancel()
		p.logger.Warnw("signaling dial failed", "url", p.url, "error", err)
		if onFailed != nil {
			onFailed(err)
		}
		if onClose != nil {
			onClose()
		}
		return
	}

	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.state = stateOpen
	p.conn = conn
	onOpen := p.onOpen
	p.mu.Unlock()

	if p.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(p.cfg.MaxMessageSize)
	}
	if p.cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * p.cfg.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * p.cfg.PingInterval))
		})
		go p.pingLoop(conn)
	}

	p.logger.Infow("signaling link open", "url", p.url)
	if onOpen != nil {
		onOpen()
	}

	p.readLoop(conn)
}

func (p *Peer) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(p.cfg.WriteTimeout)
			p.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, deadline)
			p.writeMu.Unlock()
			if err != nil {
				p.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

func (p *Peer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.handleDrop(err)
			return
		}
		if p.cfg.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * p.cfg.PingInterval))
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warnw("discarding malformed signaling message", "error", err)
			continue
		}
		if err := msg.validate(); err != nil {
			p.logger.Warnw("discarding invalid signaling message", "error", err)
			continue
		}

		switch {
		case msg.Response:
			p.handleResponse(&msg)
		case msg.Request:
			go p.handleRequest(msg)
		case msg.Notification:
			p.handleNotification(&msg)
		}
	}
}

// handleDrop runs when the read side fails. A drop we did not initiate emits
// disconnected then close.
func (p *Peer) handleDrop(cause error) {
	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return
	}
	p.state = stateClosed
	conn := p.conn
	pending := p.takePendingLocked()
	onDisconnected, onClose := p.onDisconnected, p.onClose
	p.mu.Unlock()

	p.cancel()
	if conn != nil {
		conn.Close()
	}
	failPending(pending)

	p.logger.Warnw("signaling link disconnected", "url", p.url, "error", cause)
	if onDisconnected != nil {
		onDisconnected()
	}
	if onClose != nil {
		onClose()
	}
}

func (p *Peer) handleResponse(msg *message) {
	p.mu.Lock()
	ch, ok := p.pending[msg.ID]
	if ok {
		delete(p.pending, msg.ID)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debugw("response for unknown request", "id", msg.ID)
		return
	}
	ch <- response{msg: msg}
}

func (p *Peer) handleRequest(msg message) {
	p.mu.Lock()
	h := p.onRequest
	p.mu.Unlock()

	reply := domain.Accept(nil)
	if h != nil {
		reply = h(p.ctx, domain.Request{ID: msg.ID, Method: msg.Method, Data: msg.Data})
	}

	var out *message
	if reply.Err != nil {
		out = newErrorResponse(msg.ID, errorCodeRejected, reply.Err.Error())
	} else {
		var err error
		out, err = newSuccessResponse(msg.ID, reply.Data)
		if err != nil {
			out = newErrorResponse(msg.ID, errorCodeRejected, err.Error())
		}
	}

	if err := p.write(out); err != nil {
		p.logger.Warnw("failed to answer request", "method", msg.Method, "id", msg.ID, "error", err)
		return
	}
	if reply.AfterSend != nil {
		reply.AfterSend()
	}
}

func (p *Peer) handleNotification(msg *message) {
	p.mu.Lock()
	fn := p.onNotification
	p.mu.Unlock()

	if fn == nil {
		return
	}
	fn(domain.Notification{Method: msg.Method, Data: msg.Data})
}

// Request sends method and waits for the matching response. A rejected
// request yields a *domain.SignalingError.
func (p *Peer) Request(ctx context.Context, method string, data interface{}, out interface{}) error {
	ctx, span := tracing.TraceSignalingRequest(ctx, method)
	defer span.End()

	err := p.request(ctx, method, data, out)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (p *Peer) request(ctx context.Context, method string, data interface{}, out interface{}) error {
	p.mu.Lock()
	if p.state != stateOpen {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", method, domain.ErrLinkClosed)
	}
	id := p.nextID
	p.nextID++
	ch := make(chan response, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	msg, err := newRequest(id, method, data)
	if err != nil {
		p.dropPending(id)
		return fmt.Errorf("%s: %w", method, err)
	}

	p.logger.Debugw("sending request", "method", method, "id", id)
	if err := p.write(msg); err != nil {
		p.dropPending(id)
		return fmt.Errorf("%s: %w: %v", method, domain.ErrLinkClosed, err)
	}

	select {
	case <-ctx.Done():
		p.dropPending(id)
		return ctx.Err()
	case resp := <-ch:
		if resp.err != nil {
			return fmt.Errorf("%s: %w", method, resp.err)
		}
		if !resp.msg.succeeded() {
			return &domain.SignalingError{
				Method: method,
				Code:   resp.msg.ErrorCode,
				Reason: resp.msg.ErrorReason,
			}
		}
		if out != nil && len(resp.msg.Data) > 0 {
			if err := json.Unmarshal(resp.msg.Data, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", method, err)
			}
		}
		return nil
	}
}

// Close shuts the link down. The close handler fires once no matter how the
// link ends.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = stateClosed
	conn := p.conn
	pending := p.takePendingLocked()
	onClose := p.onClose
	p.mu.Unlock()

	p.cancel()
	failPending(pending)

	var err error
	if conn != nil {
		deadline := time.Now().Add(p.cfg.WriteTimeout)
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		p.writeMu.Unlock()
		err = conn.Close()
	}

	p.logger.Infow("signaling link closed", "url", p.url)
	if onClose != nil {
		onClose()
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (p *Peer) write(msg *message) error {
	p.mu.Lock()
	conn := p.conn
	open := p.state == stateOpen
	p.mu.Unlock()

	if !open || conn == nil {
		return domain.ErrLinkClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	}
	return conn.WriteJSON(msg)
}

func (p *Peer) dropPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Peer) takePendingLocked() map[uint64]chan response {
	pending := p.pending
	p.pending = make(map[uint64]chan response)
	return pending
}

func failPending(pending map[uint64]chan response) {
	for _, ch := range pending {
		ch <- response{err: domain.ErrLinkClosed}
	}
}

// Dialer builds signaling links sharing one configuration.
type Dialer struct {
	cfg    PeerConfig
	logger *zap.SugaredLogger
}

var _ ports.LinkFactory = (*Dialer)(nil)

func NewDialer(cfg PeerConfig, logger *zap.SugaredLogger) *Dialer {
	return &Dialer{cfg: cfg, logger: logger}
}

func (d *Dialer) NewLink(url string) ports.SignalingLink {
	return NewPeer(url, d.cfg, d.logger)
}
