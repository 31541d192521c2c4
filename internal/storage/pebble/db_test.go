package pebblestore

import (
	"context"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q", got)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	db := openTestDB(t)

	b := db.NewBatch()
	_ = b.Set([]byte("a"), []byte("1"), nil)
	_ = b.Set([]byte("b"), []byte("2"), nil)
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if ok, _ := db.Has([]byte(k)); !ok {
			t.Fatalf("missing key %q after batch commit", k)
		}
	}
}

func TestParseFsyncMode(t *testing.T) {
	cases := []struct {
		in   string
		want FsyncMode
		ok   bool
	}{
		{"", FsyncModeAlways, true},
		{"always", FsyncModeAlways, true},
		{"interval", FsyncModeInterval, true},
		{"never", FsyncModeNever, true},
		{"sometimes", FsyncModeUnspecified, false},
	}
	for _, tc := range cases {
		got, err := ParseFsyncMode(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseFsyncMode(%q) = %v, %v", tc.in, got, err)
		}
	}
}
