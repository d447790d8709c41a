package ports

import (
	"context"

	"roomview/internal/core/domain"
)

// Device negotiates local receive capabilities against the router's.
type Device interface {
	Load(routerCaps domain.RtpCapabilities) error
	Loaded() bool
	RtpCapabilities() (domain.RtpCapabilities, error)
	CreateRecvTransport(opts domain.TransportOptions) (RecvTransport, error)
}

type DeviceFactory interface {
	NewDevice() Device
}

// ConnectHandler is invoked once per transport with the local DTLS
// parameters. A nil return lets the transport proceed.
type ConnectHandler func(ctx context.Context, dtls domain.DtlsParameters) error

type RecvTransport interface {
	ID() string
	OnConnect(fn ConnectHandler)
	Consume(ctx context.Context, opts domain.ConsumerOptions) (Consumer, error)
	// ConnectionState is the peer connection state name ("new",
	// "connected", "failed", ...).
	ConnectionState() string
	Close() error
	Closed() bool
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Track() domain.MediaTrack
	Paused() bool
	ProducerPaused() bool
	Resume()
	Close() error
	Closed() bool
}
