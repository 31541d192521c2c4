package broker

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
)

// Feed is a durable append-only event log with blocking reads and per-group
// committed cursors. Task lifecycle events flow through a Feed.
type Feed struct {
	db   *pebblestore.DB
	name string

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// Event is one entry read from a feed.
type Event struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// OpenFeed initializes a Feed and loads the last sequence from metadata.
func OpenFeed(db *pebblestore.DB, name string) (*Feed, error) {
	f := &Feed{db: db, name: name, notifyCh: make(chan struct{})}
	if meta, err := db.Get(feedMetaKey(name)); err == nil && len(meta) >= 8 {
		f.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return f, nil
}

// Append writes one event atomically and wakes blocked readers.
func (f *Feed) Append(ctx context.Context, header, payload []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.db.NewBatch()
	defer b.Close()

	f.lastSeq++
	seq := f.lastSeq
	if err := b.Set(feedEntryKey(f.name, seq), EncodeRecord(header, payload), nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], f.lastSeq)
	if err := b.Set(feedMetaKey(f.name), meta[:], nil); err != nil {
		return 0, err
	}
	if err := f.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	close(f.notifyCh)
	f.notifyCh = make(chan struct{})
	return seq, nil
}

// Read returns up to limit events with seq > after. A limit of 0 means no cap.
func (f *Feed) Read(after uint64, limit int) ([]Event, error) {
	low := feedEntryKey(f.name, after+1)
	hi := upperBound(feedPrefix(f.name, "e/"))
	iter, err := f.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	items := []Event{}
	for ok := iter.First(); ok; ok = iter.Next() {
		if limit > 0 && len(items) >= limit {
			break
		}
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec {
			continue
		}
		items = append(items, Event{Seq: seqFromIndexKey(iter.Key()), Header: dec.Header, Payload: dec.Payload})
	}
	return items, nil
}

// WaitForAppend blocks until a new append occurs, the timeout elapses, or ctx
// is done. It returns true only when woken by an append.
func (f *Feed) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	ch := f.notifyCh
	f.mu.Unlock()
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// LastSeq returns the highest assigned sequence.
func (f *Feed) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeq
}

// CommitCursor durably stores the last processed sequence for a group.
// Commits that move the cursor backwards are ignored.
func (f *Feed) CommitCursor(group string, seq uint64) error {
	key := feedCursorKey(f.name, group)
	if cur, err := f.db.Get(key); err == nil && len(cur) >= 8 {
		if seq <= binary.BigEndian.Uint64(cur[:8]) {
			return nil
		}
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return f.db.Set(key, b[:])
}

// GetCursor loads the committed cursor for a group.
func (f *Feed) GetCursor(group string) (uint64, bool) {
	cur, err := f.db.Get(feedCursorKey(f.name, group))
	if err != nil || len(cur) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(cur[:8]), true
}
