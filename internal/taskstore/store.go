// Package taskstore persists task records and conversation messages. It is
// the queryable mirror of what flows through the queues; the events listener
// keeps it in sync with task lifecycle events.
package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("taskstore: record not found")

// Record is the durable view of one task.
type Record struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	ParentTaskID string          `json:"parentTaskId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Message is one conversation turn kept for history.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"` // user | assistant
	Content        string    `json:"content"`
	TaskID         string    `json:"taskId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store reads and writes records on the shared Pebble database.
type Store struct {
	db *pebblestore.DB
}

// New creates a Store over db.
func New(db *pebblestore.DB) *Store { return &Store{db: db} }

func taskKey(id string) []byte { return []byte("rec/task/" + id) }

func messageKey(conversationID, id string) []byte {
	return []byte("rec/msg/" + conversationID + "/" + id)
}

// Upsert writes the record keyed by task id. Re-applying the same event is a
// harmless overwrite, which keeps the listener's delivery at-least-once safe.
func (s *Store) Upsert(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("taskstore: record id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("taskstore: marshal record: %w", err)
	}
	return s.db.Set(taskKey(rec.ID), b)
}

// SetStatus updates status, result and error of an existing record, creating
// a minimal one when the status event arrives before the waiting mirror.
func (s *Store) SetStatus(id, queue, action, status string, result json.RawMessage, errMsg string) error {
	rec, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		rec = Record{ID: id, Queue: queue, Action: action, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return err
	}
	rec.Status = status
	if result != nil {
		rec.Result = result
	}
	rec.Error = errMsg
	return s.Upsert(rec)
}

// Get loads one record by task id.
func (s *Store) Get(id string) (Record, error) {
	b, err := s.db.Get(taskKey(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("taskstore: unmarshal record %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records. Order follows the key space (task id).
func (s *Store) List(limit int) ([]Record, error) {
	return scan[Record](s.db, "rec/task/", limit)
}

// InsertMessage appends a conversation message.
func (s *Store) InsertMessage(msg Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("taskstore: message id and conversation id are required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("taskstore: marshal message: %w", err)
	}
	return s.db.Set(messageKey(msg.ConversationID, msg.ID), b)
}

// Messages returns up to limit messages for one conversation.
func (s *Store) Messages(conversationID string, limit int) ([]Message, error) {
	return scan[Message](s.db, "rec/msg/"+conversationID+"/", limit)
}

func scan[T any](db *pebblestore.DB, prefix string, limit int) ([]T, error) {
	low := []byte(prefix)
	hi := append(append([]byte{}, low...), 0xFF)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []T{}
	for ok := iter.First(); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
