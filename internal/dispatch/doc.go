// Package dispatch delivers sealed batches to a Sender in strict seal
// order.
//
// One background worker drains a bounded FIFO queue; when the queue is
// empty the worker blocks on the channel receive rather than polling. A
// failed delivery is logged, handed to the configured FailureSink and the
// worker moves on to the next batch: one bad batch never blocks the
// pipeline, and failed batches are not requeued automatically.
package dispatch
