package client

import (
	"io"
	"os"
	"time"

	"github.com/rzbill/relay/internal/batcher"
	"github.com/rzbill/relay/internal/dispatch"
	"github.com/rzbill/relay/pkg/client/transports"
	"github.com/rzbill/relay/pkg/id"
	"github.com/rzbill/relay/pkg/log"
)

// DefaultResolveTimeout bounds how long a delivery waits for a pending item
// identifier before failing the record.
const DefaultResolveTimeout = 10 * time.Second

// Options configures a Client. Transport is the only required field.
type Options struct {
	// Transport delivers launches, items and log batches. The caller owns
	// its lifecycle; Stop does not close it.
	Transport transports.ReportTransport

	// MaxEntries caps records per log batch. Zero means
	// batcher.DefaultMaxEntries (20).
	MaxEntries int
	// MaxPayloadBytes caps the estimated batch size. Zero means
	// batcher.DefaultMaxPayloadBytes (just under 64 MiB).
	MaxPayloadBytes int
	// QueueCapacity bounds sealed batches awaiting dispatch; producers
	// block past it. Zero means dispatch.DefaultQueueCapacity.
	QueueCapacity int
	// DrainTimeout caps how long a graceful Stop waits. Zero means
	// dispatch.DefaultDrainTimeout.
	DrainTimeout time.Duration
	// ResolveTimeout bounds the wait for a pending item identifier at send
	// time. Zero means DefaultResolveTimeout.
	ResolveTimeout time.Duration

	// FilterExpr is an optional CEL expression over {level, level_name,
	// message, item_id, size, has_attachment, now_ms} deciding whether a
	// record is reported. Empty keeps everything.
	FilterExpr string

	// SkippedAnIssue counts skipped items toward defect statistics. When
	// set to false, finishing an item as SKIPPED with no explicit issue
	// attaches the NOT_ISSUE defect type so the item needs no triage.
	// Nil means true.
	SkippedAnIssue *bool

	// ClientGeneratedIDs mints launch and item UUIDs locally so start
	// handles resolve immediately; the service is asked to adopt them.
	ClientGeneratedIDs bool
	// IDs supplies locally minted UUIDs. Defaults to id.RandomUUIDs.
	IDs id.UUIDSource

	// LaunchUUIDPrint writes the launch UUID to LaunchUUIDOutput (stdout
	// by default) once it is known.
	LaunchUUIDPrint  bool
	LaunchUUIDOutput io.Writer

	// Sink receives batches whose delivery failed. Defaults to a log-only
	// sink.
	Sink dispatch.FailureSink

	// Logger defaults to a no-op logger.
	Logger log.Logger

	// NowMs supplies record timestamps; overridable in tests.
	NowMs func() int64
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = batcher.DefaultMaxEntries
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = batcher.DefaultMaxPayloadBytes
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = dispatch.DefaultQueueCapacity
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = dispatch.DefaultDrainTimeout
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = DefaultResolveTimeout
	}
	if o.SkippedAnIssue == nil {
		skipped := true
		o.SkippedAnIssue = &skipped
	}
	if o.IDs == nil {
		o.IDs = id.RandomUUIDs{}
	}
	if o.LaunchUUIDOutput == nil {
		o.LaunchUUIDOutput = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.NowMs == nil {
		o.NowMs = id.NowMs
	}
	return o
}
