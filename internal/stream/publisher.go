package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the event buffer size used when none is configured.
const DefaultCapacity = 32

// partialHeadroom is the buffer space partial events leave free for the
// progress and terminal events that follow them.
const partialHeadroom = 4

var (
	// ErrTerminated is returned for sends after the terminal event.
	ErrTerminated = errors.New("stream already terminated")
	// ErrCancelled is returned for sends after Cancel.
	ErrCancelled = errors.New("stream cancelled")
	// ErrBufferFull is returned when a partial event is dropped for lack of room.
	ErrBufferFull = errors.New("stream buffer full")
)

// Publisher sequences and delivers the events of one session.
type Publisher struct {
	sessionID string
	events    chan Event
	done      chan struct{}
	cancel    sync.Once
	now       func() time.Time

	// mu serializes sends and the close of events; the flags are read without it.
	mu         sync.Mutex
	seq        atomic.Uint64
	terminated atomic.Bool
	closed     atomic.Bool
}

// NewPublisher creates a publisher with a bounded buffer.
func NewPublisher(sessionID string, capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{
		sessionID: sessionID,
		events:    make(chan Event, capacity),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *Publisher) SessionID() string { return p.sessionID }

// Events returns the receive side of the channel.
func (p *Publisher) Events() <-chan Event { return p.events }

// Done is closed by Cancel.
func (p *Publisher) Done() <-chan struct{} { return p.done }

// Progress enqueues an intermediate state event.
func (p *Publisher) Progress(ctx context.Context, payload ProgressPayload) error {
	return p.send(ctx, KindProgress, payload)
}

// Partial enqueues an incrementally recovered field. It never waits for a
// consumer: when the buffer is short of room the event is dropped and
// ErrBufferFull returned, without consuming a sequence number.
func (p *Publisher) Partial(ctx context.Context, payload PartialPayload) error {
	return p.send(ctx, KindPartial, payload)
}

// Complete enqueues the successful terminal event and closes the channel.
func (p *Publisher) Complete(ctx context.Context, payload any) error {
	return p.send(ctx, KindComplete, payload)
}

// Fail enqueues the error terminal event and closes the channel.
func (p *Publisher) Fail(ctx context.Context, payload ErrorPayload) error {
	return p.send(ctx, KindError, payload)
}

func (p *Publisher) send(ctx context.Context, kind Kind, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated.Load() {
		return ErrTerminated
	}
	if p.closed.Load() || p.cancelled() {
		return ErrCancelled
	}

	event := Event{
		SessionID: p.sessionID,
		Sequence:  p.seq.Load() + 1,
		Kind:      kind,
		At:        p.now(),
		Payload:   payload,
	}
	if kind == KindPartial {
		if len(p.events) >= cap(p.events)-partialHeadroom {
			return ErrBufferFull
		}
		p.events <- event
	} else {
		select {
		case p.events <- event:
		case <-p.done:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.seq.Store(event.Sequence)
	if kind.Terminal() {
		p.terminated.Store(true)
		p.closed.Store(true)
		close(p.events)
	}
	return nil
}

func (p *Publisher) cancelled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Cancel stops the stream. Pending and future sends fail with ErrCancelled
// and the channel is closed if no terminal event closed it already. Cancel is
// safe to call more than once and concurrently with sends.
func (p *Publisher) Cancel() {
	p.cancel.Do(func() { close(p.done) })
	p.mu.Lock()
	if !p.closed.Load() {
		p.closed.Store(true)
		close(p.events)
	}
	p.mu.Unlock()
}

// Terminated reports whether the terminal event has been enqueued.
func (p *Publisher) Terminated() bool { return p.terminated.Load() }

// Cancelled reports whether Cancel was called.
func (p *Publisher) Cancelled() bool { return p.cancelled() }

// Sequence returns the sequence number of the last enqueued event.
func (p *Publisher) Sequence() uint64 { return p.seq.Load() }

// drained reports whether the channel is closed with nothing left to read.
func (p *Publisher) drained() bool {
	return p.closed.Load() && len(p.events) == 0
}
