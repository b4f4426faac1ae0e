package pipeline

import "context"

// ErrDisconnected is returned by Send when the receiving mailbox has closed.
var ErrDisconnected = &disconnectedError{}

type disconnectedError struct{}

func (*disconnectedError) Error() string { return "pipeline: disconnected" }

// Mailbox is a bounded, two-priority inter-stage channel. High-priority
// control messages (commit requests, shutdown, observe) are always drained
// before any low-priority data message. Low capacity is bounded (typically
// 1-3); high is effectively unbounded but short-lived. Sends on a full low
// channel suspend the sender: this is the pipeline's only backpressure
// mechanism.
type Mailbox[Low, High any] struct {
	low    chan Low
	high   chan High
	closed chan struct{}
}

// NewMailbox constructs a Mailbox with the given low-priority capacity.
func NewMailbox[Low, High any](lowCapacity int) *Mailbox[Low, High] {
	return &Mailbox[Low, High]{
		low:    make(chan Low, lowCapacity),
		high:   make(chan High, 64),
		closed: make(chan struct{}),
	}
}

// SendLow enqueues a data message, suspending the caller if the low channel
// is full, until space frees up, ctx is done, or abort trips.
func (m *Mailbox[Low, High]) SendLow(ctx context.Context, abort *AbortSignal, msg Low) error {
	select {
	case <-m.closed:
		return ErrDisconnected
	default:
	}
	select {
	case m.low <- msg:
		return nil
	case <-m.closed:
		return ErrDisconnected
	case <-abort.Done():
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendHigh enqueues a control message, taking priority over any pending low
// message at the receiver.
func (m *Mailbox[Low, High]) SendHigh(ctx context.Context, abort *AbortSignal, msg High) error {
	select {
	case <-m.closed:
		return ErrDisconnected
	default:
	}
	select {
	case m.high <- msg:
		return nil
	case <-m.closed:
		return ErrDisconnected
	case <-abort.Done():
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a high-priority message, a low-priority message, abort,
// ctx cancellation, or mailbox close, in that priority order. ok is false
// only when the mailbox closed with nothing left to deliver.
func (m *Mailbox[Low, High]) Recv(ctx context.Context, abort *AbortSignal) (low Low, high High, isHigh bool, ok bool, err error) {
	// high priority drains first, non-blocking check.
	// A closed high channel falls through to the low channel (closed first by
	// Close, so this read never blocks) to deliver any buffered low messages.
	select {
	case high, ok = <-m.high:
		if ok {
			return low, high, true, true, nil
		}
		low, ok = <-m.low
		return low, high, false, ok, nil
	default:
	}

	select {
	case high, ok = <-m.high:
		if ok {
			return low, high, true, true, nil
		}
		low, ok = <-m.low
		return low, high, false, ok, nil
	case low, ok = <-m.low:
		return low, high, false, ok, nil
	case <-abort.Done():
		return low, high, false, false, ErrAborted
	case <-ctx.Done():
		return low, high, false, false, ctx.Err()
	}
}

// Close closes both channels. Further Send calls return ErrDisconnected.
// Receivers drain what's buffered before observing closure.
func (m *Mailbox[Low, High]) Close() {
	select {
	case <-m.closed:
		return
	default:
		close(m.closed)
		close(m.low)
		close(m.high)
	}
}
