package ports

import (
	"context"
	"time"

	"roomview/internal/core/domain"
)

// SessionService is what the view layer drives: start, stop and read state.
type SessionService interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() domain.SessionSnapshot
	Stream() *domain.MediaStream
	SetRoomID(roomID string) error
}

type SessionMetrics interface {
	StartAttempt()
	StartSucceeded(d time.Duration)
	StartFailed(reason string)
	Teardown(reason string)
	SetStreaming(streaming bool)
	ConsumerCreated(kind domain.MediaKind)
	ConsumerFailed()
}
