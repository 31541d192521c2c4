package broker

import "encoding/binary"

// Keyspace (byte-wise, lexicographically sortable):
//
//	q/{queue}/m                              queue metadata: lastSeq(8) | available(4)
//	q/{queue}/msg/{seq_be8}                  message record
//	q/{queue}/prio/{prio_be4}{seq_be8}       availability index, value attempts(4)
//	q/{queue}/delay/{fire_be8}{seq_be8}      delayed delivery, value prio(4) | attempts(4)
//	q/{queue}/lease/{seq_be8}                lease, value expires_ms(8) | attempts(4)
//	q/{queue}/leaseidx/{exp_be8}{seq_be8}    lease expiry index
//	q/{queue}/dlq/{seq_be8}                  dead letter copy
//	q/{queue}/idem/{job_id}                  idempotency: job id -> seq(8)
//	feed/{name}/m                            feed metadata: lastSeq(8)
//	feed/{name}/e/{seq_be8}                  feed entry
//	feed/{name}/cursor/{group}               committed cursor: seq(8)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func queuePrefix(queue, seg string) []byte {
	k := make([]byte, 0, 2+len(queue)+1+len(seg))
	k = append(k, "q/"...)
	k = append(k, queue...)
	k = append(k, '/')
	k = append(k, seg...)
	return k
}

func queueMetaKey(queue string) []byte { return queuePrefix(queue, "m") }

func msgKey(queue string, seq uint64) []byte {
	return appendBE8(queuePrefix(queue, "msg/"), seq)
}

func prioKey(queue string, priority uint32, seq uint64) []byte {
	return appendBE8(appendBE4(queuePrefix(queue, "prio/"), priority), seq)
}

func prioPrefix(queue string) []byte { return queuePrefix(queue, "prio/") }

func delayKey(queue string, fireMs uint64, seq uint64) []byte {
	return appendBE8(appendBE8(queuePrefix(queue, "delay/"), fireMs), seq)
}

func delayPrefix(queue string) []byte { return queuePrefix(queue, "delay/") }

func leaseKey(queue string, seq uint64) []byte {
	return appendBE8(queuePrefix(queue, "lease/"), seq)
}

func leaseIdxKey(queue string, expiresMs uint64, seq uint64) []byte {
	return appendBE8(appendBE8(queuePrefix(queue, "leaseidx/"), expiresMs), seq)
}

func leaseIdxPrefix(queue string) []byte { return queuePrefix(queue, "leaseidx/") }

func dlqKey(queue string, seq uint64) []byte {
	return appendBE8(queuePrefix(queue, "dlq/"), seq)
}

func dlqPrefix(queue string) []byte { return queuePrefix(queue, "dlq/") }

func idemKey(queue, jobID string) []byte {
	return append(queuePrefix(queue, "idem/"), jobID...)
}

func feedPrefix(name, seg string) []byte {
	k := make([]byte, 0, 5+len(name)+1+len(seg))
	k = append(k, "feed/"...)
	k = append(k, name...)
	k = append(k, '/')
	k = append(k, seg...)
	return k
}

func feedMetaKey(name string) []byte { return feedPrefix(name, "m") }

func feedEntryKey(name string, seq uint64) []byte {
	return appendBE8(feedPrefix(name, "e/"), seq)
}

func feedCursorKey(name, group string) []byte {
	return append(feedPrefix(name, "cursor/"), group...)
}

// upperBound returns the exclusive scan bound for a prefix.
func upperBound(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}

// seqFromIndexKey extracts the trailing big-endian sequence from an index key.
func seqFromIndexKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
