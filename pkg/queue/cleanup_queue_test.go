package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

type fakeDeleter struct {
	deleted []string
	fail    map[string]bool
}

func (f *fakeDeleter) Delete(_ context.Context, key string) error {
	if f.fail[key] {
		return errors.New("storage down")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestQueue(t *testing.T) *CleanupQueue {
	t.Helper()
	redis := miniredis.RunT(t)
	q, err := NewCleanupQueue(redis.Addr(), "", "test:cleanup")
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestEnqueueAndDrain(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "a_med.jpg", "b_med.jpg", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("len = %d, err = %v, want 2", n, err)
	}
	d := &fakeDeleter{}
	deleted, err := q.Drain(ctx, d, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if deleted != 2 || len(d.deleted) != 2 {
		t.Fatalf("drained %d keys, want 2", deleted)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty, has %d", n)
	}
}

func TestDrainReparksFailedKeys(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "bad_med.jpg"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d := &fakeDeleter{fail: map[string]bool{"bad_med.jpg": true}}
	deleted, err := q.Drain(ctx, d, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("nothing should have been deleted, got %d", deleted)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("failed key should be re-parked, queue len = %d", n)
	}
}

func TestNewCleanupQueueRequiresAddr(t *testing.T) {
	if _, err := NewCleanupQueue("", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
