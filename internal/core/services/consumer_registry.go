package services

import (
	"sync"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"

	"go.uber.org/zap"
)

// ConsumerRegistry holds the single consumer currently feeding the view and
// the stream built from its track.
type ConsumerRegistry struct {
	mu       sync.Mutex
	consumer ports.Consumer
	stream   *domain.MediaStream
	logger   *zap.SugaredLogger
}

func NewConsumerRegistry(logger *zap.SugaredLogger) *ConsumerRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConsumerRegistry{logger: logger}
}

// Replace publishes consumer and stream, closing whatever they displace.
func (r *ConsumerRegistry) Replace(consumer ports.Consumer, stream *domain.MediaStream) {
	r.Swap(consumer, stream)()
}

// Swap publishes consumer and stream and returns a func that closes the
// displaced pair. Closing a consumer renegotiates its transport, so callers
// holding their own locks run the func after releasing them.
func (r *ConsumerRegistry) Swap(consumer ports.Consumer, stream *domain.MediaStream) (release func()) {
	r.mu.Lock()
	prevConsumer, prevStream := r.consumer, r.stream
	r.consumer, r.stream = consumer, stream
	r.mu.Unlock()

	if prevConsumer != nil && prevConsumer != consumer {
		r.logger.Debugw("replacing consumer", "previous", prevConsumer.ID(), "consumer_id", consumer.ID())
	}
	return func() {
		r.release(prevConsumer, prevStream, consumer, stream)
	}
}

func (r *ConsumerRegistry) Current() (ports.Consumer, *domain.MediaStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumer, r.stream
}

// Release closes the current consumer, then stops the stream's tracks.
func (r *ConsumerRegistry) Release() {
	r.mu.Lock()
	consumer, stream := r.consumer, r.stream
	r.consumer, r.stream = nil, nil
	r.mu.Unlock()

	r.release(consumer, stream, nil, nil)
}

func (r *ConsumerRegistry) release(consumer ports.Consumer, stream *domain.MediaStream, keepConsumer ports.Consumer, keepStream *domain.MediaStream) {
	if consumer != nil && consumer != keepConsumer {
		if err := consumer.Close(); err != nil {
			r.logger.Warnw("failed to close consumer", "consumer_id", consumer.ID(), "error", err)
		}
	}
	if stream != nil && stream != keepStream {
		stream.Stop()
	}
}
