package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDecideReservation(t *testing.T) {
	now := fixedTime
	pending := &Record{Key: "k", Fingerprint: "fp", Status: StatusPending, ExpiresAt: now.Add(time.Hour)}
	completed := &Record{Key: "k", Fingerprint: "fp", Status: StatusCompleted, ResponseStatus: 201, ExpiresAt: now.Add(time.Hour)}
	expired := &Record{Key: "k", Fingerprint: "other", Status: StatusCompleted, ExpiresAt: now}

	cases := []struct {
		name      string
		existing  *Record
		wantState ReservationState
		wantWrite bool
		wantErr   error
	}{
		{name: "fresh", existing: nil, wantState: ReservationStateNew, wantWrite: true},
		{name: "pending", existing: pending, wantState: ReservationStatePending},
		{name: "completed", existing: completed, wantState: ReservationStateCompleted},
		{name: "expired reuse", existing: expired, wantState: ReservationStateNew, wantWrite: true},
		{name: "mismatch", existing: &Record{Fingerprint: "nope", ExpiresAt: now.Add(time.Hour)}, wantErr: ErrFingerprintMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, write, err := decideReservation(tc.existing, "k", "fp", now, time.Hour)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.State != tc.wantState {
				t.Fatalf("expected state %d, got %d", tc.wantState, res.State)
			}
			if (write != nil) != tc.wantWrite {
				t.Fatalf("expected write=%v, got %+v", tc.wantWrite, write)
			}
			if write != nil && !write.ExpiresAt.Equal(now.Add(time.Hour)) {
				t.Fatalf("expected expiry in one hour, got %s", write.ExpiresAt)
			}
		})
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	resp := Response{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"now"}}, Body: []byte(`{}`)}
	if err := store.SaveResponse(ctx, "k", "fp", resp, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	res, err := store.Reserve(ctx, "k", "fp", fixedTime.Add(30*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("Reserve replay: %v", err)
	}
	if res.State != ReservationStateCompleted || string(res.Record.ResponseBody) != `{}` {
		t.Fatalf("expected stored response, got %+v", res)
	}
	if _, ok := res.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("hop and date headers should be dropped")
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired record removed, got %d", removed)
	}
}

func TestMemoryStoreReleaseOnlyDropsOwnPendingReservation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Reserve(ctx, "pending", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Release(ctx, "pending", "someone-else"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, _ := store.Reserve(ctx, "pending", "fp", fixedTime, time.Minute); res.State != ReservationStatePending {
		t.Fatalf("foreign release should keep reservation, got state %d", res.State)
	}
	if err := store.Release(ctx, "pending", "fp"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, _ := store.Reserve(ctx, "pending", "fp", fixedTime, time.Minute); res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after release, got state %d", res.State)
	}

	if err := store.SaveResponse(ctx, "pending", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	if err := store.Release(ctx, "pending", "fp"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, _ := store.Reserve(ctx, "pending", "fp", fixedTime, time.Minute); res.State != ReservationStateCompleted {
		t.Fatalf("completed record should survive release, got state %d", res.State)
	}
}
