package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
)

func TestTranslateStorageConflict(t *testing.T) {
	err := translate(fmt.Errorf("lock wallet: %w", storage.ErrConflict))
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if IsRetryable(ErrInsufficientFunds) {
		t.Fatalf("insufficient funds must not be retryable")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrInvalidQuantity, KindInvalidInput},
		{fmt.Errorf("wrapped: %w", ErrOrderNotFound), KindNotFound},
		{ErrInsufficientQuantity, KindInsufficientQuantity},
		{ErrAlreadyResolved, KindAlreadyResolved},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
	if errors.Is(ErrOrderNotFound, ErrAssetNotFound) {
		t.Fatalf("distinct sentinels of one kind must not match")
	}
}
