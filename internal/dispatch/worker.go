package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/relay/pkg/deferred"
	"github.com/rzbill/relay/pkg/log"
	"github.com/rzbill/relay/pkg/report"
)

// Defaults for queue sizing and graceful-stop drain.
const (
	DefaultQueueCapacity = 128
	DefaultDrainTimeout  = 30 * time.Second
)

var (
	// ErrStopped reports an enqueue after Stop.
	ErrStopped = errors.New("dispatch: worker stopped")
	// ErrQueueFull reports a rejected non-blocking enqueue.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrDiscarded reports a batch dropped by a forced stop before it was
	// dispatched.
	ErrDiscarded = errors.New("dispatch: batch discarded on forced stop")
	// ErrDrainTimeout reports that a graceful stop gave up waiting for the
	// queue to drain.
	ErrDrainTimeout = errors.New("dispatch: drain timed out")
)

// TransportError wraps a delivery failure for one batch. The failure is
// isolated to its batch; subsequent batches are still attempted.
type TransportError struct {
	Seq uint64
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dispatch: batch %d delivery failed: %v", e.Seq, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Sender performs one delivery attempt for a sealed batch.
type Sender interface {
	SendBatch(ctx context.Context, batch report.Batch) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, batch report.Batch) error

func (f SenderFunc) SendBatch(ctx context.Context, batch report.Batch) error {
	return f(ctx, batch)
}

// FailureSink receives batches whose delivery attempt failed. Implementations
// decide whether to persist, re-route or drop them.
type FailureSink interface {
	HandleFailure(batch report.Batch, cause error)
}

// LogSink is the default FailureSink: it records the loss and drops the
// batch.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) HandleFailure(batch report.Batch, cause error) {
	s.Logger.Error("dropping failed batch",
		log.Uint64("seq", batch.Seq),
		log.Int("records", len(batch.Records)),
		log.Err(cause))
}

// Options configures a Worker.
type Options struct {
	// QueueCapacity bounds pending batches; producers block (or are
	// rejected via TryEnqueue) past it. Zero means DefaultQueueCapacity.
	QueueCapacity int
	// DrainTimeout caps how long a graceful Stop waits for queued batches.
	// Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger log.Logger
	// Sink receives failed batches. Defaults to a LogSink.
	Sink FailureSink
}

type queued struct {
	batch report.Batch
	ack   *deferred.Deferred[report.BatchAck]
}

// Worker owns the batch queue and the single dispatch goroutine.
type Worker struct {
	sender Sender
	opts   Options
	logger log.Logger
	sink   FailureSink

	queue   chan queued
	done    chan struct{}
	discard atomic.Bool

	mu      sync.Mutex
	stopped bool
}

// New builds a Worker. Call Start to launch the dispatch goroutine.
func New(sender Sender, opts Options) *Worker {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithComponent("dispatch")
	sink := opts.Sink
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Worker{
		sender: sender,
		opts:   opts,
		logger: logger,
		sink:   sink,
		queue:  make(chan queued, opts.QueueCapacity),
		done:   make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Enqueue hands a sealed batch to the worker, blocking while the queue is
// at capacity. The returned deferred resolves once the batch has been
// dispatched, or fails with the delivery error.
func (w *Worker) Enqueue(ctx context.Context, batch report.Batch) (*deferred.Deferred[report.BatchAck], error) {
	ack := deferred.New[report.BatchAck]()
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrStopped
	}
	// The lock is held across the channel send so Stop cannot close the
	// queue under a blocked producer. The worker keeps draining, so a full
	// queue always frees up.
	defer w.mu.Unlock()
	select {
	case w.queue <- queued{batch: batch, ack: ack}:
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryEnqueue is the non-blocking variant; it returns ErrQueueFull when the
// queue is at capacity.
func (w *Worker) TryEnqueue(batch report.Batch) (*deferred.Deferred[report.BatchAck], error) {
	ack := deferred.New[report.BatchAck]()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil, ErrStopped
	}
	select {
	case w.queue <- queued{batch: batch, ack: ack}:
		return ack, nil
	default:
		return nil, ErrQueueFull
	}
}

// Pending returns the number of batches waiting in the queue.
func (w *Worker) Pending() int { return len(w.queue) }

// Stop shuts the worker down. Graceful stop waits up to DrainTimeout for
// every queued batch to be dispatched (or fail); forced stop discards
// batches not yet handed to the Sender, while a send already in flight is
// allowed to complete or fail normally.
func (w *Worker) Stop(graceful bool) error {
	return w.StopWithin(graceful, w.opts.DrainTimeout)
}

// StopWithin is Stop with an explicit bound on the wait for the dispatch
// goroutine to finish. The queue is closed regardless; an elapsed wait
// returns ErrDrainTimeout while draining continues in the background.
func (w *Worker) StopWithin(graceful bool, timeout time.Duration) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		if !graceful {
			w.discard.Store(true)
		}
		close(w.queue)
	} else if !graceful {
		// Escalate an in-progress graceful stop.
		w.discard.Store(true)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return ErrDrainTimeout
	}
}

// Done is closed once the dispatch goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) run() {
	defer close(w.done)
	for it := range w.queue {
		if w.discard.Load() {
			w.fail(it, ErrDiscarded)
			continue
		}
		w.send(it)
	}
}

func (w *Worker) send(it queued) {
	err := w.sender.SendBatch(context.Background(), it.batch)
	if err != nil {
		terr := &TransportError{Seq: it.batch.Seq, Err: err}
		w.logger.Error("batch delivery failed",
			log.Uint64("seq", it.batch.Seq),
			log.Int("records", len(it.batch.Records)),
			log.Err(err))
		w.sink.HandleFailure(it.batch, terr)
		w.fail(it, terr)
		return
	}
	ackVal := report.BatchAck{Seq: it.batch.Seq, Records: len(it.batch.Records)}
	_ = it.ack.Resolve(ackVal)
	for _, rec := range it.batch.Records {
		if rec.Ack != nil {
			_ = rec.Ack.Resolve(ackVal)
		}
	}
	w.logger.Debug("batch sent",
		log.Uint64("seq", it.batch.Seq),
		log.Int("records", len(it.batch.Records)),
		log.Int("bytes", it.batch.SizeBytes))
}

func (w *Worker) fail(it queued, err error) {
	_ = it.ack.Fail(err)
	for _, rec := range it.batch.Records {
		if rec.Ack != nil {
			_ = rec.Ack.Fail(err)
		}
	}
}
