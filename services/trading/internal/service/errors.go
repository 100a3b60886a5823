package service

import (
	"errors"
	"fmt"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
)

type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindInsufficientQuantity Kind = "insufficient_quantity"
	KindAlreadyResolved      Kind = "already_resolved"
	KindConcurrencyConflict  Kind = "concurrency_conflict"
	KindInternal             Kind = "internal"
)

// Error is a domain failure. Two errors are equal under errors.Is when both
// kind and message match, so the package-level sentinels can be compared
// after wrapping.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrInvalidInput     = newError(KindInvalidInput, "invalid input")
	ErrInvalidQuantity  = newError(KindInvalidInput, "quantity must be positive")
	ErrInvalidAmount    = newError(KindInvalidInput, "amount must be positive")
	ErrInvalidOrderType = newError(KindInvalidInput, "invalid order type")
	ErrNegativeQuantity = newError(KindInvalidInput, "resulting quantity would be negative")
	ErrSelfTransfer     = newError(KindInvalidInput, "cannot transfer to own wallet")
	ErrAmountScale      = newError(KindInvalidInput, "amount has more than 18 decimal places")
	ErrQuantityScale    = newError(KindInvalidInput, "quantity has more than 18 decimal places")
	ErrOrderTooSmall    = newError(KindInvalidInput, "order total rounds to zero")

	ErrOrderNotFound          = newError(KindNotFound, "order not found")
	ErrAssetNotFound          = newError(KindNotFound, "asset not found")
	ErrPositionNotFound       = newError(KindNotFound, "position not found")
	ErrWalletNotFound         = newError(KindNotFound, "wallet not found")
	ErrWithdrawalNotFound     = newError(KindNotFound, "withdrawal not found")
	ErrPaymentOrderNotFound   = newError(KindNotFound, "payment order not found")
	ErrPaymentDetailsNotFound = newError(KindNotFound, "payment details not found")

	ErrInsufficientFunds    = newError(KindInsufficientFunds, "insufficient funds")
	ErrInsufficientQuantity = newError(KindInsufficientQuantity, "insufficient quantity")
	ErrDuplicatePosition    = newError(KindAlreadyResolved, "position already exists")
	ErrAlreadyResolved      = newError(KindAlreadyResolved, "already resolved")
	ErrConcurrencyConflict  = newError(KindConcurrencyConflict, "concurrent update conflict, retry")
)

func invalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the domain kind of err, KindInternal for anything else.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the whole operation may be retried unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrencyConflict
}

// translate maps storage failures to domain errors and leaves domain errors as is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}
