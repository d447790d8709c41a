package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
	"roomview/pkg/race"
	"roomview/pkg/tracing"
	"roomview/pkg/utils"
	"roomview/pkg/validation"

	"go.uber.org/zap"
)

// SessionConfig carries the values one viewing session is started with.
type SessionConfig struct {
	ServerURL      string
	RoomID         string
	Camera         domain.Camera
	ConnectTimeout time.Duration
	DeviceName     string
	DeviceVersion  string
}

// SessionController owns the lifecycle of a single receive-only session:
// signaling link, device, receive transport and the consumer feeding the
// view.
type SessionController struct {
	links    ports.LinkFactory
	devices  ports.DeviceFactory
	metrics  ports.SessionMetrics
	registry *ConsumerRegistry
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	cfg        SessionConfig
	generation uint64
	streaming  bool
	starting   bool
	peerID     string
	link       ports.SignalingLink
	device     ports.Device
	transport  ports.RecvTransport
}

var _ ports.SessionService = (*SessionController)(nil)

func NewSessionController(
	cfg SessionConfig,
	links ports.LinkFactory,
	devices ports.DeviceFactory,
	metrics ports.SessionMetrics,
	logger *zap.SugaredLogger,
) *SessionController {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Camera == "" {
		cfg.Camera = domain.CameraCombined
	}
	return &SessionController{
		links:    links,
		devices:  devices,
		metrics:  metrics,
		registry: NewConsumerRegistry(logger),
		logger:   logger,
		cfg:      cfg,
	}
}

// Start runs the join sequence. It is a no-op while streaming and fails with
// ErrStartInProgress while another Start is running. On failure everything
// acquired so far is torn down before the error is returned.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return nil
	}
	if c.starting {
		c.mu.Unlock()
		return domain.ErrStartInProgress
	}
	c.starting = true
	cfg := c.cfg
	gen := c.generation
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	c.metrics.StartAttempt()
	started := time.Now()

	ctx, span := tracing.StartSpan(ctx, "session.start")
	defer span.End()

	if err := c.start(ctx, cfg, gen); err != nil {
		c.logger.Warnw("session start failed",
			"server_url", cfg.ServerURL,
			"room_id", cfg.RoomID,
			"error", err,
		)
		tracing.RecordError(ctx, err)
		c.stop("start_failed")
		c.metrics.StartFailed(domain.FailureReason(err))
		return err
	}

	tracing.MeasureDuration(ctx, started, "session.start")
	c.metrics.StartSucceeded(time.Since(started))
	return nil
}

func (c *SessionController) start(ctx context.Context, cfg SessionConfig, gen uint64) error {
	if err := validation.ValidateRoomID(cfg.RoomID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRoom, err)
	}

	peerID := utils.GeneratePeerID()
	if !c.commit(gen, func() { c.peerID = peerID }) {
		return errStoppedDuringStart
	}

	logger := c.logger.With("room_id", cfg.RoomID, "peer_id", peerID)
	logger.Infow("starting session", "server_url", cfg.ServerURL, "camera", cfg.Camera)

	var link ports.SignalingLink
	err := c.step(ctx, "open_link", peerID, cfg.RoomID, func(ctx context.Context) error {
		var err error
		link, err = c.openLink(ctx, buildLinkURL(cfg, peerID), cfg.ConnectTimeout)
		return err
	})
	if err != nil {
		return err
	}
	if !c.commit(gen, func() { c.link = link }) {
		link.Close()
		return errStoppedDuringStart
	}

	var device ports.Device
	err = c.step(ctx, "load_device", peerID, cfg.RoomID, func(ctx context.Context) error {
		var routerCaps domain.RtpCapabilities
		if err := link.Request(ctx, domain.MethodGetRouterRtpCapabilities, nil, &routerCaps); err != nil {
			return fmt.Errorf("get router rtp capabilities: %w", err)
		}
		device = c.devices.NewDevice()
		if err := device.Load(routerCaps); err != nil {
			if errors.Is(err, domain.ErrCapabilityMismatch) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrCapabilityMismatch, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !c.commit(gen, func() { c.device = device }) {
		return errStoppedDuringStart
	}

	var transport ports.RecvTransport
	err = c.step(ctx, "create_transport", peerID, cfg.RoomID, func(ctx context.Context) error {
		var opts domain.TransportOptions
		req := domain.CreateTransportRequest{ForceTCP: false, Producing: false, Consuming: true}
		if err := link.Request(ctx, domain.MethodCreateWebRtcTransport, req, &opts); err != nil {
			return fmt.Errorf("create webrtc transport: %w", err)
		}
		var err error
		transport, err = device.CreateRecvTransport(opts)
		if err != nil {
			return fmt.Errorf("create receive transport: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	transport.OnConnect(func(ctx context.Context, dtls domain.DtlsParameters) error {
		req := domain.ConnectTransportRequest{TransportID: transport.ID(), DtlsParameters: dtls}
		if err := link.Request(ctx, domain.MethodConnectWebRtcTransport, req, nil); err != nil {
			logger.Warnw("transport connect rejected", "transport_id", transport.ID(), "error", err)
			return err
		}
		logger.Debugw("transport connected", "transport_id", transport.ID(), "dtls_role", dtls.Role)
		return nil
	})
	if !c.commit(gen, func() { c.transport = transport }) {
		transport.Close()
		return errStoppedDuringStart
	}

	// Consumers may be pushed before the join response arrives.
	dispatcher := NewRequestDispatcher(logger)
	dispatcher.Handle(domain.MethodNewConsumer, c.handleNewConsumer(gen, link, transport, cfg.ConnectTimeout))
	link.OnRequest(dispatcher.Dispatch)

	var joined domain.JoinResponse
	err = c.step(ctx, "join", peerID, cfg.RoomID, func(ctx context.Context) error {
		caps, err := device.RtpCapabilities()
		if err != nil {
			return err
		}
		req := domain.JoinRequest{
			DisplayName:     utils.GenerateDisplayName(),
			Device:          domain.DeviceInfo{Name: cfg.DeviceName, Version: cfg.DeviceVersion},
			RtpCapabilities: caps,
		}
		if err := link.Request(ctx, domain.MethodJoin, req, &joined); err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !c.commit(gen, func() { c.streaming = true }) {
		return fmt.Errorf("%w: link lost while joining", domain.ErrLinkFailure)
	}
	c.metrics.SetStreaming(true)
	logger.Infow("session streaming", "transport_id", transport.ID(), "peers", len(joined.Peers))
	return nil
}

var errStoppedDuringStart = fmt.Errorf("%w: session stopped during start", domain.ErrLinkFailure)

// commit applies fn under the lock unless the session was torn down since
// the attempt began.
func (c *SessionController) commit(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	fn()
	return true
}

func (c *SessionController) step(ctx context.Context, name, peerID, roomID string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.TraceSessionStep(ctx, name, peerID, roomID)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (c *SessionController) openLink(ctx context.Context, linkURL string, timeout time.Duration) (ports.SignalingLink, error) {
	link := c.links.NewLink(linkURL)
	opened := race.New()

	link.OnOpen(func() {
		opened.Resolve()
	})
	link.OnFailed(func(err error) {
		opened.Reject(fmt.Errorf("%w: %w", domain.ErrLinkFailure, err))
	})
	link.OnDisconnected(func() {
		c.linkDown(link, "disconnected")
	})
	link.OnClose(func() {
		opened.Reject(fmt.Errorf("%w: closed before open", domain.ErrLinkFailure))
		c.linkDown(link, "closed")
	})
	link.OnNotification(func(n domain.Notification) {
		c.logger.Debugw("notification received", "method", n.Method)
	})

	link.Open()
	if err := opened.Wait(ctx, timeout, domain.ErrConnectionTimeout); err != nil {
		link.Close()
		return nil, err
	}
	return link, nil
}

// linkDown tears the session down asynchronously, but only when link is
// still the active one.
func (c *SessionController) linkDown(link ports.SignalingLink, reason string) {
	go func() {
		c.mu.Lock()
		active := c.link == link
		c.mu.Unlock()
		if !active {
			return
		}
		c.logger.Warnw("signaling link lost", "reason", reason)
		c.stop("link_" + reason)
	}()
}

func (c *SessionController) handleNewConsumer(gen uint64, link ports.SignalingLink, transport ports.RecvTransport, resumeTimeout time.Duration) ports.RequestHandler {
	return func(ctx context.Context, req domain.Request) domain.Reply {
		var data domain.NewConsumerRequest
		if err := json.Unmarshal(req.Data, &data); err != nil {
			c.metrics.ConsumerFailed()
			return domain.Reject(fmt.Errorf("%w: decode request: %v", domain.ErrConsumerCreation, err))
		}

		consumer, err := transport.Consume(ctx, domain.ConsumerOptions{
			ID:             data.ID,
			ProducerID:     data.ProducerID,
			Kind:           data.Kind,
			RtpParameters:  data.RtpParameters,
			AppData:        mergeAppData(data.AppData, data.PeerID),
			ProducerPaused: data.ProducerPaused,
		})
		if err != nil {
			c.metrics.ConsumerFailed()
			c.logger.Warnw("failed to create consumer",
				"consumer_id", data.ID,
				"producer_id", data.ProducerID,
				"kind", data.Kind,
				"error", err,
			)
			return domain.Reject(fmt.Errorf("%w: %w", domain.ErrConsumerCreation, err))
		}

		stream := domain.NewMediaStream(consumer.Track())

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			consumer.Close()
			stream.Stop()
			return domain.Reject(fmt.Errorf("%w: session is no longer active", domain.ErrConsumerCreation))
		}
		releasePrevious := c.registry.Swap(consumer, stream)
		c.mu.Unlock()
		releasePrevious()

		c.metrics.ConsumerCreated(consumer.Kind())
		c.logger.Infow("consumer created",
			"consumer_id", consumer.ID(),
			"producer_id", consumer.ProducerID(),
			"kind", consumer.Kind(),
			"stream_id", stream.ID(),
		)

		return domain.Accept(nil).Then(func() {
			c.resumeConsumer(link, consumer, resumeTimeout)
		})
	}
}

func (c *SessionController) resumeConsumer(link ports.SignalingLink, consumer ports.Consumer, timeout time.Duration) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := domain.ResumeConsumerRequest{ConsumerID: consumer.ID()}
	if err := link.Request(ctx, domain.MethodResumeConsumer, req, nil); err != nil {
		c.logger.Warnw("failed to resume consumer", "consumer_id", consumer.ID(), "error", err)
		return
	}
	consumer.Resume()
}

// Stop tears the session down. It never fails and is safe to call in any
// state.
func (c *SessionController) Stop() {
	c.stop("requested")
}

func (c *SessionController) stop(reason string) {
	c.mu.Lock()
	c.generation++
	link, transport, device := c.link, c.transport, c.device
	wasStreaming := c.streaming
	c.link, c.transport, c.device = nil, nil, nil
	c.streaming = false
	c.mu.Unlock()

	c.registry.Release()

	if link != nil {
		if err := link.Close(); err != nil {
			c.logger.Warnw("failed to close signaling link", "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Warnw("failed to close transport", "transport_id", transport.ID(), "error", err)
		}
	}

	if link == nil && transport == nil && device == nil && !wasStreaming {
		return
	}
	c.metrics.SetStreaming(false)
	c.metrics.Teardown(reason)
	c.logger.Infow("session stopped", "reason", reason, "was_streaming", wasStreaming)
}

func (c *SessionController) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := domain.SessionSnapshot{
		Streaming: c.streaming,
		Starting:  c.starting,
		ServerURL: c.cfg.ServerURL,
		RoomID:    c.cfg.RoomID,
		PeerID:    c.peerID,
		Camera:    c.cfg.Camera,
	}
	if c.transport != nil {
		snap.TransportState = c.transport.ConnectionState()
	}
	if _, stream := c.registry.Current(); stream != nil {
		info := stream.Info()
		snap.Stream = &info
	}
	return snap
}

// Stream returns the stream currently published to the view, or nil.
func (c *SessionController) Stream() *domain.MediaStream {
	_, stream := c.registry.Current()
	return stream
}

// SetRoomID changes the room used by the next Start.
func (c *SessionController) SetRoomID(roomID string) error {
	if err := validation.ValidateRoomID(roomID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRoom, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming || c.starting {
		return domain.ErrSessionActive
	}
	c.cfg.RoomID = roomID
	return nil
}

func buildLinkURL(cfg SessionConfig, peerID string) string {
	return fmt.Sprintf("%s/?roomId=%s&peerId=%s&camera=%s",
		strings.TrimRight(cfg.ServerURL, "/"),
		url.QueryEscape(cfg.RoomID),
		url.QueryEscape(peerID),
		url.QueryEscape(string(cfg.Camera)),
	)
}

func mergeAppData(appData map[string]interface{}, peerID string) map[string]interface{} {
	if peerID == "" {
		return appData
	}
	out := make(map[string]interface{}, len(appData)+1)
	for k, v := range appData {
		out[k] = v
	}
	out["peerId"] = peerID
	return out
}
