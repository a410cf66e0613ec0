package storage

import (
	"context"
	"testing"

	"github.com/example/roadside-assist/internal/models"
)

func TestMemoryStoreKeepsDistinctHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := &models.ServiceRequest{ID: 7, Status: models.StatusPending}
	_ = m.SaveRequest(ctx, r)
	_ = m.UpdateRequest(ctx, r)
	r.Status = models.StatusAccepted
	_ = m.UpdateRequest(ctx, r)

	h := m.History(7)
	if len(h) != 2 || h[0] != models.StatusPending || h[1] != models.StatusAccepted {
		t.Fatalf("unexpected history %v", h)
	}
}

func TestMemoryStoreStoresCopies(t *testing.T) {
	m := NewMemoryStore()
	r := &models.ServiceRequest{ID: 1, Status: models.StatusPending}
	_ = m.SaveRequest(context.Background(), r)
	r.Status = models.StatusRejected

	got, ok := m.Get(1)
	if !ok || got.Status != models.StatusPending {
		t.Fatalf("expected stored pending copy, got %+v", got)
	}
	if _, ok := m.Get(2); ok {
		t.Fatalf("expected miss for unknown id")
	}
}
