package services

import (
	"context"
	"fmt"
	"sync"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"

	"go.uber.org/zap"
)

// RequestDispatcher routes server-initiated requests by method. Requests
// without a handler are accepted with an empty body.
type RequestDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]ports.RequestHandler
	logger   *zap.SugaredLogger
}

func NewRequestDispatcher(logger *zap.SugaredLogger) *RequestDispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RequestDispatcher{
		handlers: make(map[string]ports.RequestHandler),
		logger:   logger,
	}
}

func (d *RequestDispatcher) Handle(method string, h ports.RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Dispatch matches ports.RequestHandler so it can be installed on a link.
func (d *RequestDispatcher) Dispatch(ctx context.Context, req domain.Request) (reply domain.Reply) {
	d.mu.RLock()
	h, ok := d.handlers[req.Method]
	d.mu.RUnlock()

	if !ok {
		d.logger.Debugw("no handler for request, accepting", "method", req.Method, "request_id", req.ID)
		return domain.Accept(nil)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("request handler panicked", "method", req.Method, "panic", r)
			reply = domain.Reject(fmt.Errorf("handler for %s panicked: %v", req.Method, r))
		}
	}()

	return h(ctx, req)
}
