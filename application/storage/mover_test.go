package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestPrefixMover_CopiesBeforeDeleting(t *testing.T) {
	store := newMemStore("primary")
	store.objects["user/u1/Beach/a.jpg"] = []byte("a")
	store.objects["user/u1/Beach/sub/b.jpg"] = []byte("b")
	store.objects["user/u1/Beachfront/c.jpg"] = []byte("c")

	result, err := NewPrefixMover(nil).Move(context.Background(), store, "user/u1/Beach", "user/u1/Lake")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Copied) != 2 || len(result.Deleted) != 2 {
		t.Fatalf("expected 2 copies and 2 deletes, got %+v", result)
	}
	for _, key := range []string{"user/u1/Lake/a.jpg", "user/u1/Lake/sub/b.jpg"} {
		if !store.has(key) {
			t.Errorf("expected %s after move", key)
		}
	}
	if store.has("user/u1/Beach/a.jpg") {
		t.Error("expected original to be deleted")
	}
	if !store.has("user/u1/Beachfront/c.jpg") {
		t.Error("sibling folder sharing a name prefix must be untouched")
	}

	seenDelete := false
	for _, op := range store.ops {
		if strings.HasPrefix(op, "delete") {
			seenDelete = true
		}
		if strings.HasPrefix(op, "copy") && seenDelete {
			t.Fatalf("copy issued after a delete: %v", store.ops)
		}
	}
}

func TestPrefixMover_CopyFailureKeepsOriginals(t *testing.T) {
	store := newMemStore("primary")
	store.objects["user/u1/Beach/a.jpg"] = []byte("a")
	store.copyErr = errors.New("access denied")

	_, err := NewPrefixMover(nil).Move(context.Background(), store, "user/u1/Beach/", "user/u1/Lake/")
	if err == nil {
		t.Fatal("expected error")
	}
	if !store.has("user/u1/Beach/a.jpg") {
		t.Error("originals must survive a failed copy")
	}
}

func TestPrefixMover_EmptyAndSamePrefix(t *testing.T) {
	store := newMemStore("primary")
	mover := NewPrefixMover(nil)

	result, err := mover.Move(context.Background(), store, "user/u1/Empty/", "user/u1/Other/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Copied) != 0 {
		t.Errorf("expected nothing copied, got %v", result.Copied)
	}

	store.objects["user/u1/A/x.jpg"] = []byte("x")
	if _, err := mover.Move(context.Background(), store, "user/u1/A", "user/u1/A/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.has("user/u1/A/x.jpg") {
		t.Error("same-prefix move must be a no-op")
	}
}
