package webrtc

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
	"roomview/pkg/tracing"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RecvTransport receives consumer media over one pion PeerConnection. The
// server is always the offerer; every Consume adds an m-section to the
// synthesised remote offer and runs one offer/answer round.
type RecvTransport struct {
	id     string
	caps   domain.RtpCapabilities
	logger *zap.SugaredLogger
	pc     *webrtc.PeerConnection
	remote *remoteSdp

	// negotiateMu serializes offer/answer rounds.
	negotiateMu sync.Mutex

	mu        sync.Mutex
	onConnect ports.ConnectHandler
	connected bool
	closed    bool
	nextMid   int
	consumers map[string]*Consumer
	bySSRC    map[uint32]*Consumer
	state     webrtc.PeerConnectionState
}

var _ ports.RecvTransport = (*RecvTransport)(nil)

func newRecvTransport(cfg Config, opts domain.TransportOptions, caps domain.RtpCapabilities, logger *zap.SugaredLogger) (*RecvTransport, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("transport options without id")
	}
	if opts.IceParameters.UsernameFragment == "" || opts.IceParameters.Password == "" {
		return nil, fmt.Errorf("transport %s: missing ICE parameters", opts.ID)
	}
	if len(opts.DtlsParameters.Fingerprints) == 0 {
		return nil, fmt.Errorf("transport %s: missing DTLS fingerprints", opts.ID)
	}

	api, err := newAPI(cfg, caps)
	if err != nil {
		return nil, fmt.Errorf("transport %s: %w", opts.ID, err)
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:    cfg.ICEServers,
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		SDPSemantics:  webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("transport %s: failed to create peer connection: %w", opts.ID, err)
	}

	t := &RecvTransport{
		id:        opts.ID,
		caps:      caps,
		logger:    logger.With("transport_id", opts.ID),
		pc:        pc,
		remote:    newRemoteSdp(opts),
		consumers: make(map[string]*Consumer),
		bySSRC:    make(map[uint32]*Consumer),
		state:     webrtc.PeerConnectionStateNew,
	}

	pc.OnTrack(t.handleTrack)
	pc.OnConnectionStateChange(t.handleConnectionState)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debugw("ICE connection state changed", "ice_state", state.String())
	})

	return t, nil
}

// newAPI registers exactly the negotiated codecs, with the router's payload
// types, plus pion's default interceptors.
func newAPI(cfg Config, caps domain.RtpCapabilities) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		feedback := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
		for _, fb := range c.RtcpFeedback {
			feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     codecChannels(c.Kind, c.Channels),
				SDPFmtpLine:  domain.FormatParameters(c.Parameters),
				RTCPFeedback: feedback,
			},
			PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := m.RegisterCodec(params, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s/%d: %w", c.MimeType, c.PreferredPayloadType, err)
		}
	}
	for _, ext := range caps.HeaderExtensions {
		err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext.URI},
			codecType(ext.Kind), webrtc.RTPTransceiverDirectionRecvonly)
		if err != nil {
			return nil, fmt.Errorf("register header extension %s: %w", ext.URI, err)
		}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	// The answer must carry setup:active so the server stays DTLS server.
	if err := se.SetAnsweringDTLSRole(webrtc.DTLSRoleClient); err != nil {
		return nil, fmt.Errorf("set DTLS role: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func (t *RecvTransport) ID() string {
	return t.id
}

// OnConnect sets the hook that forwards local DTLS parameters to the server.
// It runs once, during the first Consume.
func (t *RecvTransport) OnConnect(fn ports.ConnectHandler) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *RecvTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *RecvTransport) ConnectionState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.String()
}

// Consume adds a consumer for the given server-side parameters.
func (t *RecvTransport) Consume(ctx context.Context, opts domain.ConsumerOptions) (ports.Consumer, error) {
	ctx, span := tracing.TraceConsumer(ctx, t.id, opts.ID, string(opts.Kind))
	defer span.End()

	consumer, err := t.consume(ctx, opts)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return consumer, nil
}

func (t *RecvTransport) consume(ctx context.Context, opts domain.ConsumerOptions) (*Consumer, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("consumer without id")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("consumer %s: invalid kind %q", opts.ID, opts.Kind)
	}
	if !canReceive(t.caps, opts.RtpParameters) {
		return nil, fmt.Errorf("consumer %s: cannot receive rtp parameters: %w", opts.ID, domain.ErrCapabilityMismatch)
	}
	if len(opts.RtpParameters.Encodings) == 0 || opts.RtpParameters.Encodings[0].SSRC == 0 {
		return nil, fmt.Errorf("consumer %s: missing encoding ssrc", opts.ID)
	}
	codec, _ := opts.RtpParameters.MediaCodec()
	ssrc := opts.RtpParameters.Encodings[0].SSRC

	t.negotiateMu.Lock()
	defer t.negotiateMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	if _, dup := t.bySSRC[ssrc]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("consumer %s: ssrc %d already consumed", opts.ID, ssrc)
	}
	mid := opts.RtpParameters.Mid
	if mid == "" {
		mid = strconv.Itoa(t.nextMid)
	}
	t.nextMid++

	track := newRemoteTrack(opts.ID, opts.Kind, ssrc, codec.MimeType, t.pc.WriteRTCP, t.logger)
	consumer := newConsumer(t, opts, mid, track)
	t.consumers[consumer.id] = consumer
	t.bySSRC[ssrc] = consumer
	connected, onConnect := t.connected, t.onConnect
	t.mu.Unlock()

	fail := func(err error) (*Consumer, error) {
		t.forget(consumer)
		t.remote.Disable(mid)
		track.Stop()
		return nil, fmt.Errorf("consumer %s: %w", opts.ID, err)
	}

	streamID := consumer.rtpParameters.Rtcp.CNAME
	if streamID == "" {
		streamID = "-"
	}
	if err := t.remote.Receive(mid, opts.Kind, consumer.rtpParameters, streamID, opts.ID); err != nil {
		return fail(err)
	}

	offer, err := t.remote.Offer()
	if err != nil {
		return fail(err)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}

	if !connected {
		dtls, err := localDtlsParameters(answer.SDP)
		if err != nil {
			return fail(err)
		}
		if onConnect != nil {
			if err := onConnect(ctx, dtls); err != nil {
				return fail(fmt.Errorf("connect transport: %w", err))
			}
		}
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
		t.logger.Infow("transport connected", "dtls_role", dtls.Role)
	}

	if err := t.pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	t.logger.Infow("consumer created",
		"consumer_id", opts.ID,
		"producer_id", opts.ProducerID,
		"kind", opts.Kind,
		"mid", mid,
		"ssrc", ssrc,
	)
	return consumer, nil
}

func (t *RecvTransport) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	ssrc := uint32(remote.SSRC())

	t.mu.Lock()
	consumer := t.bySSRC[ssrc]
	t.mu.Unlock()

	if consumer == nil {
		t.logger.Warnw("track for unknown ssrc", "ssrc", ssrc, "codec", remote.Codec().MimeType)
		return
	}
	if consumer.track.bind(remote, receiver) {
		t.logger.Infow("consumer track bound",
			"consumer_id", consumer.id,
			"ssrc", ssrc,
			"codec", remote.Codec().MimeType,
		)
	}
}

func (t *RecvTransport) handleConnectionState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	t.logger.Infow("transport connection state changed", "connection_state", state.String())
}

func (t *RecvTransport) forget(c *Consumer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumers[c.id] == c {
		delete(t.consumers, c.id)
	}
	for ssrc, sc := range t.bySSRC {
		if sc == c {
			delete(t.bySSRC, ssrc)
		}
	}
}

// removeConsumer drops a closed consumer and renegotiates its m-section to
// inactive. Failures are logged only.
func (t *RecvTransport) removeConsumer(c *Consumer) {
	t.forget(c)
	if t.Closed() {
		return
	}

	t.negotiateMu.Lock()
	defer t.negotiateMu.Unlock()

	if !t.remote.Disable(c.mid) {
		return
	}
	if err := t.renegotiate(); err != nil {
		t.logger.Warnw("failed to disable consumer m-section", "consumer_id", c.id, "mid", c.mid, "error", err)
	}
}

func (t *RecvTransport) renegotiate() error {
	if t.Closed() {
		return domain.ErrTransportClosed
	}
	offer, err := t.remote.Offer()
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// Close closes every consumer and the peer connection.
func (t *RecvTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.consumers = make(map[string]*Consumer)
	t.bySSRC = make(map[uint32]*Consumer)
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed()
	}

	if err := t.pc.Close(); err != nil {
		return fmt.Errorf("transport %s: close peer connection: %w", t.id, err)
	}
	t.logger.Infow("transport closed")
	return nil
}
