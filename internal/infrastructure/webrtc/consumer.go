package webrtc

import (
	"sync"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
)

// Consumer is one inbound producer stream on a receive transport. Server
// side consumers start paused, so a new Consumer is paused until Resume.
type Consumer struct {
	id            string
	producerID    string
	kind          domain.MediaKind
	rtpParameters domain.RtpParameters
	mid           string
	appData       map[string]interface{}
	track         *remoteTrack
	transport     *RecvTransport

	mu             sync.Mutex
	paused         bool
	producerPaused bool
	closed         bool
}

var _ ports.Consumer = (*Consumer)(nil)

func newConsumer(transport *RecvTransport, opts domain.ConsumerOptions, mid string, track *remoteTrack) *Consumer {
	params := opts.RtpParameters
	params.Mid = mid
	return &Consumer{
		id:             opts.ID,
		producerID:     opts.ProducerID,
		kind:           opts.Kind,
		rtpParameters:  params,
		mid:            mid,
		appData:        opts.AppData,
		track:          track,
		transport:      transport,
		paused:         true,
		producerPaused: opts.ProducerPaused,
	}
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.rtpParameters }
func (c *Consumer) AppData() map[string]interface{}     { return c.appData }

func (c *Consumer) Track() domain.MediaTrack {
	return c.track
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.paused = false
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the track and disables the consumer's m-section. Closing twice
// is a no-op.
func (c *Consumer) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.track.Stop()
	c.transport.removeConsumer(c)
	return nil
}

// transportClosed is called when the owning transport goes away.
func (c *Consumer) transportClosed() {
	if c.markClosed() {
		c.track.Stop()
	}
}

func (c *Consumer) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.paused = true
	return true
}
