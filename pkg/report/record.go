package report

import "github.com/rzbill/relay/pkg/deferred"

// Size accounting mirrors the multipart encoding used on the wire: each
// record contributes its message and attachment bytes plus fixed framing
// overhead, and each batch carries a fixed footer allowance.
const (
	// RecordOverheadBytes approximates the JSON body and multipart part
	// headers added per record.
	RecordOverheadBytes = 256
	// BatchOverheadBytes approximates the multipart footer of one batch
	// request.
	BatchOverheadBytes = 152
)

// Attachment is a file payload reported alongside a log record.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// LogRecord is one log entry destined for the reporting service. Records are
// immutable once offered to the pipeline.
type LogRecord struct {
	// Launch names the owning launch; Item names the target item. Item may
	// be nil for launch-level logs.
	Launch ItemRef
	Item   ItemRef

	TimeMs     int64
	Level      Level
	Message    string
	Attachment *Attachment

	// Ack, when non-nil, is resolved once the record's sealed batch has been
	// dispatched (or has failed).
	Ack *deferred.Deferred[BatchAck]
}

// SizeEstimate returns the deterministic byte cost this record contributes
// to a batch. The estimate is monotonic in message and attachment size.
func (r LogRecord) SizeEstimate() int {
	n := len(r.Message) + RecordOverheadBytes
	if r.Attachment != nil {
		n += len(r.Attachment.Content) + len(r.Attachment.Name) + len(r.Attachment.ContentType)
	}
	return n
}

// Batch is an ordered run of records sealed for one delivery call. A batch
// is immutable once handed to the dispatch worker.
type Batch struct {
	// Seq is assigned at seal time and increases monotonically per pipeline.
	Seq       uint64
	Records   []LogRecord
	SizeBytes int
}

// BatchAck describes a completed delivery attempt.
type BatchAck struct {
	Seq     uint64
	Records int
}
