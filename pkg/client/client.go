package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/relay/internal/batcher"
	"github.com/rzbill/relay/internal/dispatch"
	"github.com/rzbill/relay/internal/itemstack"
	"github.com/rzbill/relay/internal/recordfilter"
	"github.com/rzbill/relay/pkg/client/transports"
	"github.com/rzbill/relay/pkg/deferred"
	"github.com/rzbill/relay/pkg/log"
	"github.com/rzbill/relay/pkg/report"
)

// Client reports one launch hierarchy to a reporting service. Producers may
// call it from any number of goroutines; records are batched and delivered
// in submission order by a single background worker.
//
// A Client is an explicit instance. There is no package-level singleton;
// pass the client to whatever needs it.
type Client struct {
	opts      Options
	transport transports.ReportTransport
	logger    log.Logger
	filter    recordfilter.Filter

	batcher *batcher.Batcher
	worker  *dispatch.Worker
	stacks  *itemstack.Registry[*ItemHandle]

	// calls tracks in-flight start/finish round-trips so a graceful Stop
	// can wait for them before draining the batch queue.
	calls sync.WaitGroup

	mu      sync.Mutex
	launch  report.ItemRef
	stopped bool
}

// New builds a Client and starts its dispatch worker.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("client: Options.Transport is required")
	}
	filter, err := recordfilter.New(opts.FilterExpr)
	if err != nil {
		return nil, fmt.Errorf("client: compile filter: %w", err)
	}
	opts = opts.withDefaults()

	c := &Client{
		opts:      opts,
		transport: opts.Transport,
		logger:    opts.Logger.WithComponent("client"),
		filter:    filter,
		stacks:    itemstack.NewRegistry[*ItemHandle](),
	}
	c.batcher = batcher.New(batcher.Options{
		MaxEntries:      opts.MaxEntries,
		MaxPayloadBytes: opts.MaxPayloadBytes,
	}, c.enqueueSealed)
	c.worker = dispatch.New(dispatch.SenderFunc(c.sendBatch), dispatch.Options{
		QueueCapacity: opts.QueueCapacity,
		DrainTimeout:  opts.DrainTimeout,
		Logger:        opts.Logger,
		Sink:          opts.Sink,
	})
	c.worker.Start()
	return c, nil
}

// StartLaunchOptions describes a new launch.
type StartLaunchOptions struct {
	Name        string
	Description string
	Attributes  []report.Attribute
	Mode        report.LaunchMode
	Rerun       bool
	RerunOf     string
	// StartTimeMs defaults to the current time.
	StartTimeMs int64
}

// StartLaunch begins a launch and returns a handle for its UUID. The call
// never blocks on the network; the handle resolves once the start request
// round-trips (immediately under ClientGeneratedIDs).
func (c *Client) StartLaunch(ctx context.Context, opts StartLaunchOptions) *deferred.Deferred[string] {
	d := deferred.New[string]()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return deferred.Failed[string](ErrStopped)
	}
	c.launch = report.PendingRef{D: d}
	c.mu.Unlock()

	req := transports.StartLaunchRequest{
		Name:        opts.Name,
		Description: opts.Description,
		StartTimeMs: c.orNow(opts.StartTimeMs),
		Mode:        opts.Mode,
		Attributes:  report.TruncateAttributes(opts.Attributes),
		Rerun:       opts.Rerun,
		RerunOf:     opts.RerunOf,
	}
	if c.opts.ClientGeneratedIDs {
		req.UUID = c.opts.IDs.NewUUID()
	}
	if c.opts.LaunchUUIDPrint {
		out := c.opts.LaunchUUIDOutput
		d.OnResolve(func(uuid string, err error) {
			if err == nil {
				fmt.Fprintf(out, "Report launch UUID: %s\n", uuid)
			}
		})
	}

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		uuid, err := c.transport.StartLaunch(ctx, req)
		if err != nil {
			c.logger.Error("start launch failed", log.Str("name", opts.Name), log.Err(err))
			if req.UUID == "" {
				_ = d.Fail(err)
				return
			}
			// Locally minted id stays usable; the records referencing it
			// will surface the delivery failure themselves.
			uuid = req.UUID
		}
		_ = d.Resolve(uuid)
	}()
	return d
}

// FinishLaunchOptions closes the launch.
type FinishLaunchOptions struct {
	Status      report.Status
	Description string
	Attributes  []report.Attribute
	// EndTimeMs defaults to the current time.
	EndTimeMs int64
}

// FinishLaunch closes the current launch. The returned handle resolves to
// the launch UUID once the finish request round-trips.
func (c *Client) FinishLaunch(ctx context.Context, opts FinishLaunchOptions) *deferred.Deferred[string] {
	c.mu.Lock()
	ref := c.launch
	c.mu.Unlock()
	if ref == nil {
		return deferred.Failed[string](usageErr("FinishLaunch", ErrNoLaunch))
	}

	endTime := c.orNow(opts.EndTimeMs)
	d := deferred.New[string]()
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		uuid, err := ref.UUID(ctx)
		if err != nil {
			_ = d.Fail(fmt.Errorf("client: finish launch: launch uuid unresolved: %w", err))
			return
		}
		err = c.transport.FinishLaunch(ctx, transports.FinishLaunchRequest{
			LaunchUUID:  uuid,
			EndTimeMs:   endTime,
			Status:      opts.Status,
			Description: opts.Description,
			Attributes:  report.TruncateAttributes(opts.Attributes),
		})
		if err != nil {
			c.logger.Error("finish launch failed", log.Str("uuid", uuid), log.Err(err))
			_ = d.Fail(err)
			return
		}
		_ = d.Resolve(uuid)
	}()
	return d
}

// LogOptions describes one log record.
type LogOptions struct {
	// ContextKey selects the item stack supplying the implicit target.
	ContextKey string
	// Item targets an explicit item. Nil resolves the current item from
	// the context stack; with an empty stack the record is launch-level.
	Item       *ItemHandle
	Level      report.Level
	Message    string
	Attachment *report.Attachment
	// TimeMs defaults to the current time.
	TimeMs int64
}

// Log submits one record to the batching pipeline. The returned handle
// resolves once the record's sealed batch is dispatched, or fails with the
// delivery error. Records dropped by the filter resolve immediately.
func (c *Client) Log(opts LogOptions) *deferred.Deferred[report.BatchAck] {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return deferred.Failed[report.BatchAck](ErrStopped)
	}
	launch := c.launch
	c.mu.Unlock()
	if launch == nil {
		return deferred.Failed[report.BatchAck](usageErr("Log", ErrNoLaunch))
	}

	var item report.ItemRef
	if opts.Item != nil {
		item = opts.Item.Ref()
	} else if top, ok := c.stacks.ForContext(opts.ContextKey).Peek(); ok {
		item = top.Ref()
	}

	level := opts.Level
	if level == 0 {
		level = report.LevelInfo
	}
	rec := report.LogRecord{
		Launch:     launch,
		Item:       item,
		TimeMs:     c.orNow(opts.TimeMs),
		Level:      level,
		Message:    opts.Message,
		Attachment: opts.Attachment,
		Ack:        deferred.New[report.BatchAck](),
	}
	if !c.filter.Keep(rec) {
		return deferred.Resolved(report.BatchAck{})
	}
	c.batcher.Offer(rec)

	// A Stop racing between the check above and Offer may have flushed
	// before the record landed in the open batch. Resealing hands it to
	// the worker, which either delivers it or rejects it so the handle
	// fails instead of hanging.
	c.mu.Lock()
	stoppedNow := c.stopped
	c.mu.Unlock()
	if stoppedNow {
		c.batcher.Flush()
	}
	return rec.Ack
}

// Flush seals the open batch, if any, and hands it to the worker. It does
// not wait for delivery; await the individual record handles for that.
func (c *Client) Flush() {
	c.batcher.Flush()
}

// Stop shuts the pipeline down. Graceful stop waits for in-flight start and
// finish round-trips, flushes the open batch and drains the queue, all
// within a single DrainTimeout budget. Forced stop discards queued batches;
// the send already in flight completes or fails normally. The transport is
// not closed.
func (c *Client) Stop(graceful bool) error {
	c.mu.Lock()
	already := c.stopped
	c.stopped = true
	c.mu.Unlock()

	deadline := time.Now().Add(c.opts.DrainTimeout)
	if graceful && !already {
		if !waitTimeout(&c.calls, time.Until(deadline)) {
			c.logger.Warn("stop: timed out waiting for in-flight requests")
		}
		c.batcher.Flush()
	}
	return c.worker.StopWithin(graceful, time.Until(deadline))
}

// Clone returns a new Client sharing this client's transport, options and
// launch, with its own pipeline. The current item of contextKey, when one
// is open, seeds the clone's stack so logs default to it.
func (c *Client) Clone(contextKey string) (*Client, error) {
	nc, err := New(c.opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	nc.launch = c.launch
	c.mu.Unlock()
	if top, ok := c.stacks.ForContext(contextKey).Peek(); ok {
		nc.stacks.ForContext(contextKey).Push(top)
	}
	return nc, nil
}

// LaunchRef returns the current launch reference, or nil before
// StartLaunch.
func (c *Client) LaunchRef() report.ItemRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launch
}

// enqueueSealed is the batcher's seal callback. It runs under the
// accumulator lock, so batches enter the queue in seal order.
func (c *Client) enqueueSealed(b report.Batch) {
	if _, err := c.worker.Enqueue(context.Background(), b); err != nil {
		for _, rec := range b.Records {
			if rec.Ack != nil {
				_ = rec.Ack.Fail(err)
			}
		}
	}
}

// sendBatch is the dispatch sender: it substitutes item identifiers and
// invokes the transport. A record whose identifier never resolves fails on
// its own; the rest of the batch is still delivered.
func (c *Client) sendBatch(ctx context.Context, b report.Batch) error {
	rctx, cancel := context.WithTimeout(ctx, c.opts.ResolveTimeout)
	defer cancel()

	entries := make([]transports.LogEntry, 0, len(b.Records))
	for _, rec := range b.Records {
		launchUUID, err := rec.Launch.UUID(rctx)
		if err != nil {
			failRecord(rec, fmt.Errorf("client: launch uuid unresolved: %w", err))
			continue
		}
		entry := transports.LogEntry{
			LaunchUUID: launchUUID,
			TimeMs:     rec.TimeMs,
			Level:      rec.Level.String(),
			Message:    rec.Message,
		}
		if rec.Item != nil {
			itemUUID, err := rec.Item.UUID(rctx)
			if err != nil {
				failRecord(rec, fmt.Errorf("client: item uuid unresolved: %w", err))
				continue
			}
			entry.ItemUUID = itemUUID
		}
		if rec.Attachment != nil {
			entry.File = &transports.LogFile{
				Name:        rec.Attachment.Name,
				ContentType: rec.Attachment.ContentType,
				Content:     rec.Attachment.Content,
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil
	}
	return c.transport.SendLogBatch(ctx, entries)
}

func (c *Client) orNow(ms int64) int64 {
	if ms != 0 {
		return ms
	}
	return c.opts.NowMs()
}

func failRecord(rec report.LogRecord, err error) {
	if rec.Ack != nil {
		_ = rec.Ack.Fail(err)
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
