package memory

import (
	"context"
	"errors"
	"testing"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

func TestSnapshotStore_GetNearest(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	for _, h := range []int64{100, 200} {
		if err := store.Put(ctx, &domain.CapTableSnapshot{Mint: "m", BlockHeight: h}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	snap, err := store.GetNearest(ctx, "m", 150)
	if err != nil {
		t.Fatalf("GetNearest failed: %v", err)
	}
	if snap.BlockHeight != 100 {
		t.Errorf("height = %d, want 100", snap.BlockHeight)
	}

	_, err = store.GetNearest(ctx, "m", 50)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, _ := store.List(ctx, "m", 0)
	if len(list) != 2 || list[0].BlockHeight != 200 {
		t.Errorf("List not newest-first: %+v", list)
	}
}
