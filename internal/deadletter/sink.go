package deadletter

import (
	"github.com/rzbill/relay/pkg/log"
	"github.com/rzbill/relay/pkg/report"
)

// Sink is a dispatch failure sink that persists failed batches instead of
// dropping them. Persistence errors are logged; the worker is never blocked
// on the local store.
type Sink struct {
	store  *Store
	logger log.Logger
}

// NewSink wraps a store for use as a failure sink.
func NewSink(store *Store, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Sink{store: store, logger: logger.WithComponent("deadletter")}
}

func (s *Sink) HandleFailure(batch report.Batch, cause error) {
	entryID, err := s.store.Put(batch, cause)
	if err != nil {
		s.logger.Error("failed to persist dead-lettered batch",
			log.Uint64("seq", batch.Seq),
			log.Int("records", len(batch.Records)),
			log.Err(err))
		return
	}
	s.logger.Warn("batch dead-lettered",
		log.Str("entry", entryID),
		log.Uint64("seq", batch.Seq),
		log.Int("records", len(batch.Records)),
		log.Err(cause))
}
