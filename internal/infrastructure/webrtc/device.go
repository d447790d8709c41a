package webrtc

import (
	"fmt"
	"sync"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"

	"go.uber.org/zap"
)

// Device negotiates what this client can receive from a router and creates
// receive transports bound to that result.
type Device struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu         sync.RWMutex
	loaded     bool
	routerCaps domain.RtpCapabilities
	recvCaps   domain.RtpCapabilities
}

var _ ports.Device = (*Device)(nil)

func NewDevice(cfg Config, logger *zap.SugaredLogger) *Device {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Device{cfg: cfg, logger: logger.With("component", "device")}
}

// Load computes the receive capabilities. A device loads once.
func (d *Device) Load(routerCaps domain.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return domain.ErrDeviceLoaded
	}

	recv, err := negotiateRecvCapabilities(routerCaps)
	if err != nil {
		return err
	}

	d.routerCaps = routerCaps
	d.recvCaps = recv
	d.loaded = true

	d.logger.Infow("device loaded",
		"router_codecs", len(routerCaps.Codecs),
		"recv_codecs", len(recv.Codecs),
		"header_extensions", len(recv.HeaderExtensions),
	)
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RtpCapabilities returns what join announces to the server.
func (d *Device) RtpCapabilities() (domain.RtpCapabilities, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.loaded {
		return domain.RtpCapabilities{}, domain.ErrDeviceNotLoaded
	}
	return d.recvCaps, nil
}

// CanReceive reports whether a consumer with params could be created.
func (d *Device) CanReceive(params domain.RtpParameters) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.loaded {
		return false, domain.ErrDeviceNotLoaded
	}
	return canReceive(d.recvCaps, params), nil
}

func (d *Device) CreateRecvTransport(opts domain.TransportOptions) (ports.RecvTransport, error) {
	d.mu.RLock()
	loaded, caps := d.loaded, d.recvCaps
	d.mu.RUnlock()

	if !loaded {
		return nil, domain.ErrDeviceNotLoaded
	}

	t, err := newRecvTransport(d.cfg, opts, caps, d.logger)
	if err != nil {
		return nil, fmt.Errorf("create receive transport: %w", err)
	}
	return t, nil
}

// DeviceFactory hands out fresh, unloaded devices.
type DeviceFactory struct {
	cfg    Config
	logger *zap.SugaredLogger
}

var _ ports.DeviceFactory = (*DeviceFactory)(nil)

func NewDeviceFactory(cfg Config, logger *zap.SugaredLogger) *DeviceFactory {
	return &DeviceFactory{cfg: cfg, logger: logger}
}

func (f *DeviceFactory) NewDevice() ports.Device {
	return NewDevice(f.cfg, f.logger)
}
