package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
)

// Queue is a durable priority work queue with delayed delivery, leases and a
// dead letter queue. One Queue instance owns a name within the store; callers
// must not open the same name twice in a process.
type Queue struct {
	db   *pebblestore.DB
	name string

	mu      sync.Mutex
	lastSeq uint64

	sweepMu   sync.Mutex
	sweepStop chan struct{}
}

// EnqueueOptions control placement of a message.
type EnqueueOptions struct {
	// JobID is an idempotency key. Re-enqueueing an id already known to the
	// queue returns the original sequence without writing a second message.
	JobID string
	// Priority orders delivery; lower values are delivered first.
	Priority uint32
	// DelayMs defers availability by the given duration.
	DelayMs int64
}

// Leased is a message handed to a consumer under a lease.
type Leased struct {
	Seq      uint64
	Header   []byte
	Payload  []byte
	Attempts uint32
	ExpiryMs int64
}

// OpenQueue initializes a Queue and restores lastSeq from metadata if present.
func OpenQueue(db *pebblestore.DB, name string) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("broker: queue name is required")
	}
	q := &Queue{db: db, name: name}
	if meta, err := db.Get(queueMetaKey(name)); err == nil && len(meta) >= 8 {
		q.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue inserts a message. It returns the assigned sequence and whether the
// message was a duplicate of an earlier enqueue with the same JobID.
func (q *Queue) Enqueue(ctx context.Context, header, payload []byte, opts EnqueueOptions) (uint64, bool, error) {
	nowMs := time.Now().UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.JobID != "" {
		if existing, err := q.db.Get(idemKey(q.name, opts.JobID)); err == nil && len(existing) >= 8 {
			return binary.BigEndian.Uint64(existing[:8]), true, nil
		}
	}

	b := q.db.NewBatch()
	defer b.Close()

	q.lastSeq++
	seq := q.lastSeq
	if err := b.Set(msgKey(q.name, seq), EncodeRecord(header, payload), nil); err != nil {
		return 0, false, err
	}
	if opts.JobID != "" {
		var sb [8]byte
		binary.BigEndian.PutUint64(sb[:], seq)
		if err := b.Set(idemKey(q.name, opts.JobID), sb[:], nil); err != nil {
			return 0, false, err
		}
	}

	if opts.DelayMs > 0 {
		fire := uint64(nowMs + opts.DelayMs)
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[0:4], opts.Priority)
		// attempts start at zero
		if err := b.Set(delayKey(q.name, fire, seq), buf[:], nil); err != nil {
			return 0, false, err
		}
	} else {
		var attempts [4]byte
		if err := b.Set(prioKey(q.name, opts.Priority, seq), attempts[:], nil); err != nil {
			return 0, false, err
		}
	}

	avail := q.availableCount()
	if opts.DelayMs <= 0 {
		avail++
	}
	if err := b.Set(queueMetaKey(q.name), encodeMeta(q.lastSeq, avail), nil); err != nil {
		return 0, false, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, false, err
	}
	return seq, false, nil
}

func encodeMeta(lastSeq uint64, available int) []byte {
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], lastSeq)
	if available < 0 {
		available = 0
	}
	binary.BigEndian.PutUint32(meta[8:12], uint32(available))
	return meta[:]
}

func (q *Queue) availableCount() int {
	meta, err := q.db.Get(queueMetaKey(q.name))
	if err != nil || len(meta) < 12 {
		return 0
	}
	return int(binary.BigEndian.Uint32(meta[8:12]))
}

// Available reports how many messages are ready for delivery.
func (q *Queue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.availableCount()
}

// promoteDue moves delayed messages whose fire time has passed into the
// priority index, preserving priority and attempts.
func (q *Queue) promoteDue(ctx context.Context, nowMs int64, max int) (int, error) {
	prefix := delayPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, nil
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix)+16 {
			continue
		}
		fire := int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
		if fire > nowMs {
			break
		}
		seq := seqFromIndexKey(key)
		val := iter.Value()
		if len(val) < 8 {
			continue
		}
		prio := binary.BigEndian.Uint32(val[0:4])
		attempts := val[4:8]
		if err := b.Delete(key, nil); err != nil {
			return promoted, err
		}
		if err := b.Set(prioKey(q.name, prio, seq), append([]byte(nil), attempts...), nil); err != nil {
			return promoted, err
		}
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted > 0 {
		avail := q.availableCount() + promoted
		if err := b.Set(queueMetaKey(q.name), encodeMeta(q.lastSeq, avail), nil); err != nil {
			return promoted, err
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return promoted, err
		}
	}
	return promoted, nil
}

// Dequeue acquires up to count messages ordered by priority, creating leases.
func (q *Queue) Dequeue(ctx context.Context, count int, leaseMs int64) ([]Leased, error) {
	nowMs := time.Now().UnixMilli()
	if count <= 0 {
		count = 1
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.promoteDue(ctx, nowMs, count*4); err != nil {
		return nil, err
	}

	prefix := prioPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, nil
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	msgs := make([]Leased, 0, count)
	for ok := iter.First(); ok && len(msgs) < count; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+12 {
			continue
		}
		prio := binary.BigEndian.Uint32(k[len(prefix) : len(prefix)+4])
		seq := seqFromIndexKey(k)
		attempts := uint32(0)
		if v := iter.Value(); len(v) >= 4 {
			attempts = binary.BigEndian.Uint32(v[:4])
		}
		val, errGet := q.db.Get(msgKey(q.name, seq))
		if errGet != nil {
			_ = b.Delete(k, nil)
			continue
		}
		dec, okDec := DecodeRecord(val)
		if !okDec {
			_ = b.Delete(k, nil)
			continue
		}
		exp := nowMs + leaseMs
		if err := b.Set(leaseKey(q.name, seq), encodeLease(exp, attempts, prio), nil); err != nil {
			return nil, err
		}
		if err := b.Set(leaseIdxKey(q.name, uint64(exp), seq), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
		msgs = append(msgs, Leased{Seq: seq, Header: dec.Header, Payload: dec.Payload, Attempts: attempts, ExpiryMs: exp})
	}
	if len(msgs) > 0 {
		avail := q.availableCount() - len(msgs)
		if err := b.Set(queueMetaKey(q.name), encodeMeta(q.lastSeq, avail), nil); err != nil {
			return nil, err
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Lease value: expires_ms(8) | attempts(4) | priority(4)
func encodeLease(expiresMs int64, attempts, priority uint32) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(expiresMs))
	binary.BigEndian.PutUint32(buf[8:12], attempts)
	binary.BigEndian.PutUint32(buf[12:16], priority)
	return buf[:]
}

func decodeLease(v []byte) (expiresMs int64, attempts, priority uint32, ok bool) {
	if len(v) < 16 {
		return 0, 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(v[0:8])),
		binary.BigEndian.Uint32(v[8:12]),
		binary.BigEndian.Uint32(v[12:16]),
		true
}

// ExtendLease pushes the expiry of a held lease forward.
func (q *Queue) ExtendLease(ctx context.Context, seq uint64, leaseMs int64) error {
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.db.Get(leaseKey(q.name, seq))
	if err != nil {
		return fmt.Errorf("broker: extend lease seq %d: %w", seq, err)
	}
	_, attempts, prio, ok := decodeLease(existing)
	if !ok {
		return fmt.Errorf("broker: corrupt lease for seq %d", seq)
	}
	exp := time.Now().UnixMilli() + leaseMs
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(leaseKey(q.name, seq), encodeLease(exp, attempts, prio), nil); err != nil {
		return err
	}
	if err := b.Set(leaseIdxKey(q.name, uint64(exp), seq), nil, nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Complete removes the lease and the message payload. The idempotency mapping
// is kept so a re-enqueue with the same job id stays a duplicate.
func (q *Queue) Complete(ctx context.Context, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(leaseKey(q.name, seq), nil); err != nil {
		return err
	}
	if err := b.Delete(msgKey(q.name, seq), nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Fail releases the lease and either schedules a retry after retryAfterMs or
// routes the message to the dead letter queue. The attempt counter increments
// in both cases.
func (q *Queue) Fail(ctx context.Context, seq uint64, retryAfterMs int64, toDLQ bool) error {
	nowMs := time.Now().UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	attempts := uint32(0)
	prio := uint32(0)
	if existing, err := q.db.Get(leaseKey(q.name, seq)); err == nil {
		if _, a, p, ok := decodeLease(existing); ok {
			attempts, prio = a, p
		}
	}
	attempts++

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(leaseKey(q.name, seq), nil); err != nil {
		return err
	}
	if toDLQ {
		if val, err := q.db.Get(msgKey(q.name, seq)); err == nil {
			if err := b.Set(dlqKey(q.name, seq), val, nil); err != nil {
				return err
			}
		}
		if err := b.Delete(msgKey(q.name, seq), nil); err != nil {
			return err
		}
	} else {
		fire := uint64(nowMs + retryAfterMs)
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[0:4], prio)
		binary.BigEndian.PutUint32(buf[4:8], attempts)
		if err := b.Set(delayKey(q.name, fire, seq), buf[:], nil); err != nil {
			return err
		}
	}
	return q.db.CommitBatch(ctx, b)
}

// DeadLetters returns up to limit dead-lettered messages.
func (q *Queue) DeadLetters(limit int) ([]Leased, error) {
	prefix := dlqPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []Leased{}
	for ok := iter.First(); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec {
			continue
		}
		out = append(out, Leased{Seq: seqFromIndexKey(iter.Key()), Header: dec.Header, Payload: dec.Payload})
	}
	return out, nil
}

// ReclaimExpired returns messages whose leases expired to availability,
// preserving priority and attempts. Stale index entries are cleaned up.
func (q *Queue) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	prefix := leaseIdxPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, nil
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	reclaimed := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+16 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if exp > nowMs {
			break
		}
		seq := seqFromIndexKey(k)
		_ = b.Delete(k, nil)

		lease, errGet := q.db.Get(leaseKey(q.name, seq))
		if errGet != nil {
			continue // lease already resolved; index entry was stale
		}
		leaseExp, attempts, prio, okLease := decodeLease(lease)
		if !okLease || leaseExp > nowMs {
			continue // renewed since this index entry was written
		}
		_ = b.Delete(leaseKey(q.name, seq), nil)
		var av [4]byte
		binary.BigEndian.PutUint32(av[:], attempts)
		if err := b.Set(prioKey(q.name, prio, seq), av[:], nil); err != nil {
			return reclaimed, err
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if reclaimed > 0 {
		avail := q.availableCount() + reclaimed
		if err := b.Set(queueMetaKey(q.name), encodeMeta(q.lastSeq, avail), nil); err != nil {
			return reclaimed, err
		}
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return reclaimed, err
	}
	return reclaimed, nil
}

// StartSweeper runs a background loop reclaiming expired leases.
func (q *Queue) StartSweeper(interval time.Duration, maxPerTick int) {
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()
	if q.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	stop := make(chan struct{})
	q.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = q.ReclaimExpired(context.Background(), time.Now().UnixMilli(), maxPerTick)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (q *Queue) StopSweeper() {
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()
	if q.sweepStop != nil {
		close(q.sweepStop)
		q.sweepStop = nil
	}
}
