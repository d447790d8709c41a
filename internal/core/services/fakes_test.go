package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type openMode int

const (
	openSucceeds openMode = iota
	openFails
	openHangs
)

type responder func(data interface{}) (interface{}, error)

type fakeLink struct {
	mu             sync.Mutex
	url            string
	mode           openMode
	responders     map[string]responder
	onOpen         func()
	onFailed       func(error)
	onDisconnected func()
	onClose        func()
	onRequest      ports.RequestHandler
	onNotification func(domain.Notification)
	requests       []recordedRequest
	closed         bool
	closeCount     int
}

type recordedRequest struct {
	Method string
	Data   interface{}
}

func (l *fakeLink) OnOpen(fn func())                            { l.mu.Lock(); l.onOpen = fn; l.mu.Unlock() }
func (l *fakeLink) OnFailed(fn func(err error))                 { l.mu.Lock(); l.onFailed = fn; l.mu.Unlock() }
func (l *fakeLink) OnDisconnected(fn func())                    { l.mu.Lock(); l.onDisconnected = fn; l.mu.Unlock() }
func (l *fakeLink) OnClose(fn func())                           { l.mu.Lock(); l.onClose = fn; l.mu.Unlock() }
func (l *fakeLink) OnRequest(h ports.RequestHandler)            { l.mu.Lock(); l.onRequest = h; l.mu.Unlock() }
func (l *fakeLink) OnNotification(fn func(domain.Notification)) { l.mu.Lock(); l.onNotification = fn; l.mu.Unlock() }

func (l *fakeLink) Open() {
	l.mu.Lock()
	mode, onOpen, onFailed := l.mode, l.onOpen, l.onFailed
	l.mu.Unlock()

	switch mode {
	case openSucceeds:
		go onOpen()
	case openFails:
		go func() {
			onFailed(errors.New("connection refused"))
			l.Close()
		}()
	}
}

func (l *fakeLink) Request(ctx context.Context, method string, data interface{}, out interface{}) error {
	l.mu.Lock()
	l.requests = append(l.requests, recordedRequest{Method: method, Data: data})
	closed := l.closed
	respond := l.responders[method]
	l.mu.Unlock()

	if closed {
		return domain.ErrLinkClosed
	}
	if respond == nil {
		return nil
	}
	resp, err := respond(data)
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.closeCount++
	onClose := l.onClose
	l.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// drop simulates the server going away.
func (l *fakeLink) drop() {
	l.mu.Lock()
	onDisconnected := l.onDisconnected
	l.mu.Unlock()
	if onDisconnected != nil {
		onDisconnected()
	}
	l.Close()
}

// push delivers a server request the way the signaling peer does, running
// AfterSend once the reply is "sent".
func (l *fakeLink) push(method string, data interface{}) domain.Reply {
	raw, _ := json.Marshal(data)
	l.mu.Lock()
	h := l.onRequest
	l.mu.Unlock()

	reply := domain.Accept(nil)
	if h != nil {
		reply = h(context.Background(), domain.Request{ID: 1, Method: method, Data: raw})
	}
	if reply.Accepted() && reply.AfterSend != nil {
		reply.AfterSend()
	}
	return reply
}

func (l *fakeLink) methods() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.requests))
	for _, r := range l.requests {
		out = append(out, r.Method)
	}
	return out
}

func (l *fakeLink) request(method string) (interface{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.requests {
		if r.Method == method {
			return r.Data, true
		}
	}
	return nil, false
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeLinkFactory struct {
	mu    sync.Mutex
	build func(url string) *fakeLink
	links []*fakeLink
}

func (f *fakeLinkFactory) NewLink(url string) ports.SignalingLink {
	link := f.build(url)
	link.url = url
	f.mu.Lock()
	f.links = append(f.links, link)
	f.mu.Unlock()
	return link
}

func (f *fakeLinkFactory) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

type fakeDevice struct {
	mu        sync.Mutex
	loadErr   error
	createErr error
	loaded    bool
	caps      domain.RtpCapabilities
	transport *fakeTransport
}

func (d *fakeDevice) Load(routerCaps domain.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadErr != nil {
		return d.loadErr
	}
	d.loaded = true
	d.caps = routerCaps
	return nil
}

func (d *fakeDevice) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *fakeDevice) RtpCapabilities() (domain.RtpCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return domain.RtpCapabilities{}, domain.ErrDeviceNotLoaded
	}
	return d.caps, nil
}

func (d *fakeDevice) CreateRecvTransport(opts domain.TransportOptions) (ports.RecvTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.transport = &fakeTransport{id: opts.ID}
	return d.transport, nil
}

type fakeDeviceFactory struct {
	mu      sync.Mutex
	device  func() *fakeDevice
	devices []*fakeDevice
}

func (f *fakeDeviceFactory) NewDevice() ports.Device {
	d := &fakeDevice{}
	if f.device != nil {
		d = f.device()
	}
	f.mu.Lock()
	f.devices = append(f.devices, d)
	f.mu.Unlock()
	return d
}

func (f *fakeDeviceFactory) lastTransport() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	d := f.devices[len(f.devices)-1]
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport
}

type fakeTransport struct {
	mu         sync.Mutex
	id         string
	onConnect  ports.ConnectHandler
	connected  bool
	consumeErr error
	consumers  []*fakeConsumer
	closed     bool
	state      string
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) OnConnect(fn ports.ConnectHandler) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Consume(ctx context.Context, opts domain.ConsumerOptions) (ports.Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	if t.consumeErr != nil {
		err := t.consumeErr
		t.mu.Unlock()
		return nil, err
	}
	connect := !t.connected
	t.connected = true
	onConnect := t.onConnect
	t.mu.Unlock()

	if connect && onConnect != nil {
		dtls := domain.DtlsParameters{
			Role:         domain.DtlsRoleClient,
			Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "ab:cd"}},
		}
		if err := onConnect(ctx, dtls); err != nil {
			return nil, err
		}
	}

	c := &fakeConsumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		params:     opts.RtpParameters,
		track:      &fakeTrack{id: "track-" + opts.ID, kind: opts.Kind},
		paused:     true,
		appData:    opts.AppData,
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) ConnectionState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == "" {
		return "new"
	}
	return t.state
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeConsumer struct {
	mu         sync.Mutex
	id         string
	producerID string
	kind       domain.MediaKind
	params     domain.RtpParameters
	track      *fakeTrack
	paused     bool
	closed     bool
	closeCount int
	appData    map[string]interface{}

	// closeEntered is closed when Close starts; Close then waits on
	// closeUnblock. Both are used once.
	closeEntered chan struct{}
	closeUnblock chan struct{}
}

func (c *fakeConsumer) ID() string                          { return c.id }
func (c *fakeConsumer) ProducerID() string                  { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind              { return c.kind }
func (c *fakeConsumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *fakeConsumer) Track() domain.MediaTrack            { return c.track }
func (c *fakeConsumer) ProducerPaused() bool                { return false }

func (c *fakeConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *fakeConsumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	entered, unblock := c.closeEntered, c.closeUnblock
	c.closeEntered, c.closeUnblock = nil, nil
	c.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if unblock != nil {
		<-unblock
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

func (c *fakeConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.MediaKind
	stopped int
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind   { return t.kind }
func (t *fakeTrack) Stats() domain.TrackStats { return domain.TrackStats{Bound: true} }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type MockSessionMetrics struct {
	mock.Mock
}

func newMockMetrics() *MockSessionMetrics {
	m := &MockSessionMetrics{}
	m.On("StartAttempt").Maybe()
	m.On("StartSucceeded", mock.Anything).Maybe()
	m.On("StartFailed", mock.Anything).Maybe()
	m.On("Teardown", mock.Anything).Maybe()
	m.On("SetStreaming", mock.Anything).Maybe()
	m.On("ConsumerCreated", mock.Anything).Maybe()
	m.On("ConsumerFailed").Maybe()
	return m
}

func (m *MockSessionMetrics) StartAttempt()                      { m.Called() }
func (m *MockSessionMetrics) StartSucceeded(d time.Duration)     { m.Called(d) }
func (m *MockSessionMetrics) StartFailed(reason string)          { m.Called(reason) }
func (m *MockSessionMetrics) Teardown(reason string)             { m.Called(reason) }
func (m *MockSessionMetrics) SetStreaming(streaming bool)        { m.Called(streaming) }
func (m *MockSessionMetrics) ConsumerCreated(k domain.MediaKind) { m.Called(k) }
func (m *MockSessionMetrics) ConsumerFailed()                    { m.Called() }

var routerCapsFixture = domain.RtpCapabilities{
	Codecs: []domain.RtpCodecCapability{
		{Kind: domain.MediaKindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	},
}

var transportFixture = domain.TransportOptions{
	ID:            "transport-1",
	IceParameters: domain.IceParameters{UsernameFragment: "ufrag", Password: "pwd", IceLite: true},
	IceCandidates: []domain.IceCandidate{{Foundation: "udpcandidate", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
	DtlsParameters: domain.DtlsParameters{
		Role:         domain.DtlsRoleAuto,
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	},
}

func newConsumerFixture(id string) domain.NewConsumerRequest {
	return domain.NewConsumerRequest{
		PeerID:     "producer-peer",
		ProducerID: "producer-" + id,
		ID:         id,
		Kind:       domain.MediaKindVideo,
		RtpParameters: domain.RtpParameters{
			Codecs: []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000}},
		},
		Type: "simple",
	}
}

// serverLink returns a link that answers the join sequence like a room
// server would.
func serverLink() *fakeLink {
	return &fakeLink{
		mode: openSucceeds,
		responders: map[string]responder{
			domain.MethodGetRouterRtpCapabilities: func(interface{}) (interface{}, error) { return routerCapsFixture, nil },
			domain.MethodCreateWebRtcTransport:    func(interface{}) (interface{}, error) { return transportFixture, nil },
			domain.MethodJoin: func(interface{}) (interface{}, error) {
				return domain.JoinResponse{Peers: []domain.JoinedPeer{{ID: "producer-peer", DisplayName: "camera"}}}, nil
			},
		},
	}
}
