package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.InvalidArgument},
	}
	for _, tc := range cases {
		err := WrapError("carts.update", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "cancel")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	wrapped := fmt.Errorf("tx: %w", context.Canceled)
	if err := WrapError("op", wrapped); err != wrapped {
		t.Fatalf("expected context error to pass through unchanged")
	}
}

func TestWrapErrorKeepsSentinelsAndOperation(t *testing.T) {
	sentinel := errors.New("ledger rejected")
	err := WrapError("transaction", fmt.Errorf("mutate: %w", sentinel))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel to stay reachable")
	}

	first := WrapError("carts.get", status.Error(codes.NotFound, "missing"))
	again := WrapError("transaction", first)
	if again.Error() != first.Error() {
		t.Fatalf("expected original operation to be kept, got %q", again.Error())
	}
	if !errors.Is(WrapError("op", ErrProviderClosed), ErrProviderClosed) {
		t.Fatalf("expected closed provider error to unwrap")
	}
	var repoErr *Error
	if !errors.As(WrapError("op", ErrProviderClosed), &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected closed provider to classify as unavailable")
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}
