package ports

import (
	"context"

	"roomview/internal/core/domain"
)

// RequestHandler answers one server-initiated request.
type RequestHandler func(ctx context.Context, req domain.Request) domain.Reply

// SignalingLink is a message-oriented connection to the room server that
// carries request/response calls and server pushes.
type SignalingLink interface {
	OnOpen(fn func())
	OnFailed(fn func(err error))
	OnDisconnected(fn func())
	OnClose(fn func())
	OnRequest(h RequestHandler)
	OnNotification(fn func(n domain.Notification))

	// Open starts connecting in the background; the outcome is reported
	// through the open/failed handlers.
	Open()
	// Request sends method with data and decodes the response into out
	// (which may be nil).
	Request(ctx context.Context, method string, data interface{}, out interface{}) error
	Close() error
}

type LinkFactory interface {
	NewLink(url string) SignalingLink
}
