package deadletter

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/pkg/id"
	"github.com/rzbill/relay/pkg/report"
)

// Entry is one persisted failed batch.
type Entry struct {
	// ID is the hex store key suffix, sortable by failure time.
	ID         string      `json:"id"`
	StoredAtMs int64       `json:"stored_at_ms"`
	Reason     string      `json:"reason"`
	Batch      StoredBatch `json:"batch"`
}

// StoredBatch is the JSON-stable shape of a failed batch. Item references
// are flattened to plain UUIDs; a reference that never resolved is stored
// as the empty string.
type StoredBatch struct {
	Seq       uint64         `json:"seq"`
	SizeBytes int            `json:"size_bytes"`
	Records   []StoredRecord `json:"records"`
}

type StoredRecord struct {
	LaunchUUID string            `json:"launch_uuid"`
	ItemUUID   string            `json:"item_uuid,omitempty"`
	TimeMs     int64             `json:"time_ms"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Attachment *StoredAttachment `json:"attachment,omitempty"`
}

type StoredAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// ToBatch rebuilds a dispatchable batch from a stored one. The rebuilt
// records carry static references, so a resend does not block on pending
// identifiers.
func (sb StoredBatch) ToBatch() report.Batch {
	recs := make([]report.LogRecord, 0, len(sb.Records))
	for _, sr := range sb.Records {
		rec := report.LogRecord{
			Launch:  report.StaticRef(sr.LaunchUUID),
			TimeMs:  sr.TimeMs,
			Level:   report.ParseLevel(sr.Level),
			Message: sr.Message,
		}
		if sr.ItemUUID != "" {
			rec.Item = report.StaticRef(sr.ItemUUID)
		}
		if sr.Attachment != nil {
			rec.Attachment = &report.Attachment{
				Name:        sr.Attachment.Name,
				ContentType: sr.Attachment.ContentType,
				Content:     sr.Attachment.Content,
			}
		}
		recs = append(recs, rec)
	}
	return report.Batch{Seq: sb.Seq, Records: recs, SizeBytes: sb.SizeBytes}
}

// Store keeps failed batches in a local Pebble database.
type Store struct {
	db  *pebblestore.DB
	gen *id.Generator
}

// NewStore wraps an open database. The caller owns the database lifecycle.
func NewStore(db *pebblestore.DB) *Store {
	return &Store{db: db, gen: id.NewGenerator()}
}

// Put persists a failed batch and returns the entry ID.
func (s *Store) Put(batch report.Batch, cause error) (string, error) {
	eid := s.gen.Next()
	entry := Entry{
		ID:         eid.String(),
		StoredAtMs: id.NowMs(),
		Batch:      storedBatch(batch),
	}
	if cause != nil {
		entry.Reason = cause.Error()
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("deadletter: encode entry: %w", err)
	}
	if err := s.db.Set(entryKey(eid), buf); err != nil {
		return "", fmt.Errorf("deadletter: store entry: %w", err)
	}
	return entry.ID, nil
}

// Get returns the entry with the given ID, or (nil, nil) when absent.
func (s *Store) Get(entryID string) (*Entry, error) {
	eid, err := id.Parse(entryID)
	if err != nil {
		return nil, fmt.Errorf("deadletter: %w", err)
	}
	buf, err := s.db.Get(entryKey(eid))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("deadletter: read entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(buf, &entry); err != nil {
		return nil, fmt.Errorf("deadletter: decode entry %s: %w", entryID, err)
	}
	return &entry, nil
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Entry, error) {
	lower, upper := prefixBounds()
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("deadletter: open iterator: %w", err)
	}
	defer it.Close()

	var out []Entry
	for ok := it.First(); ok; ok = it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var entry Entry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			return nil, fmt.Errorf("deadletter: decode entry at %x: %w", it.Key(), err)
		}
		out = append(out, entry)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("deadletter: scan: %w", err)
	}
	return out, nil
}

// Delete removes one entry. Deleting an absent entry is not an error.
func (s *Store) Delete(entryID string) error {
	eid, err := id.Parse(entryID)
	if err != nil {
		return fmt.Errorf("deadletter: %w", err)
	}
	if err := s.db.Delete(entryKey(eid)); err != nil {
		return fmt.Errorf("deadletter: delete entry: %w", err)
	}
	return nil
}

// Purge removes all entries and reports how many were deleted.
func (s *Store) Purge() (int, error) {
	entries, err := s.List(0)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := s.Delete(e.ID); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

func storedBatch(batch report.Batch) StoredBatch {
	sb := StoredBatch{
		Seq:       batch.Seq,
		SizeBytes: batch.SizeBytes,
		Records:   make([]StoredRecord, 0, len(batch.Records)),
	}
	for _, rec := range batch.Records {
		sr := StoredRecord{
			TimeMs:  rec.TimeMs,
			Level:   rec.Level.String(),
			Message: rec.Message,
		}
		if rec.Launch != nil {
			sr.LaunchUUID, _ = rec.Launch.TryUUID()
		}
		if rec.Item != nil {
			sr.ItemUUID, _ = rec.Item.TryUUID()
		}
		if rec.Attachment != nil {
			sr.Attachment = &StoredAttachment{
				Name:        rec.Attachment.Name,
				ContentType: rec.Attachment.ContentType,
				Content:     rec.Attachment.Content,
			}
		}
		sb.Records = append(sb.Records, sr)
	}
	return sb
}
