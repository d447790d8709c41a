package webrtc

import (
	"sync"
	"sync/atomic"

	"roomview/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// rtpSource is the read side of an inbound pion track.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// rtcpSource is the pion receiver feeding a track.
type rtcpSource interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
	Stop() error
}

// remoteTrack is the MediaTrack behind a consumer. It is created unbound and
// attached to the pion track once the first packet for its SSRC shows up.
type remoteTrack struct {
	id        string
	kind      domain.MediaKind
	ssrc      uint32
	mimeType  string
	writeRTCP func([]rtcp.Packet) error
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	receiver rtcpSource
	bound    bool
	ended    bool
	done     chan struct{}
	stopOnce sync.Once

	packets   atomic.Uint64
	bytes     atomic.Uint64
	keyFrames atomic.Uint64
}

var _ domain.MediaTrack = (*remoteTrack)(nil)

func newRemoteTrack(id string, kind domain.MediaKind, ssrc uint32, mimeType string,
	writeRTCP func([]rtcp.Packet) error, logger *zap.SugaredLogger) *remoteTrack {
	return &remoteTrack{
		id:        id,
		kind:      kind,
		ssrc:      ssrc,
		mimeType:  mimeType,
		writeRTCP: writeRTCP,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (t *remoteTrack) ID() string {
	return t.id
}

func (t *remoteTrack) Kind() domain.MediaKind {
	return t.kind
}

func (t *remoteTrack) Stats() domain.TrackStats {
	t.mu.Lock()
	bound, ended := t.bound, t.ended
	t.mu.Unlock()

	return domain.TrackStats{
		Packets:   t.packets.Load(),
		Bytes:     t.bytes.Load(),
		KeyFrames: t.keyFrames.Load(),
		Bound:     bound,
		Ended:     ended,
	}
}

// bind attaches the pion track and starts draining it. It returns false if
// the track was already bound or stopped.
func (t *remoteTrack) bind(src rtpSource, receiver rtcpSource) bool {
	t.mu.Lock()
	if t.bound || t.ended {
		t.mu.Unlock()
		return false
	}
	t.bound = true
	t.receiver = receiver
	t.mu.Unlock()

	if t.kind == domain.MediaKindVideo && t.writeRTCP != nil {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: t.ssrc}}
		if err := t.writeRTCP(pli); err != nil {
			t.logger.Debugw("failed to request keyframe", "track_id", t.id, "error", err)
		}
	}

	go t.readRTP(src)
	if receiver != nil {
		go t.readRTCP(receiver)
	}
	return true
}

func (t *remoteTrack) readRTP(src rtpSource) {
	for {
		packet, _, err := src.ReadRTP()
		if err != nil {
			t.markEnded()
			select {
			case <-t.done:
			default:
				t.logger.Infow("track ended", "track_id", t.id, "ssrc", t.ssrc, "error", err)
			}
			return
		}

		t.packets.Add(1)
		t.bytes.Add(uint64(packet.MarshalSize()))
		if t.kind == domain.MediaKindVideo && isKeyframe(t.mimeType, packet) {
			t.keyFrames.Add(1)
		}
	}
}

// readRTCP keeps the receiver's interceptors fed; the packets themselves are
// not used.
func (t *remoteTrack) readRTCP(receiver rtcpSource) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (t *remoteTrack) markEnded() {
	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()
}

// Stop ends the track and stops its receiver.
func (t *remoteTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		close(t.done)
		t.ended = true
		receiver := t.receiver
		t.mu.Unlock()

		if receiver != nil {
			if err := receiver.Stop(); err != nil {
				t.logger.Debugw("failed to stop receiver", "track_id", t.id, "error", err)
			}
		}
	})
}
