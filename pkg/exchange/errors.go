package exchange

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/ledger"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrExecutorForbidden = errors.New("executor forbidden")
	ErrOrderNotListed    = errors.New("order not listed")
	ErrOrderExpired      = errors.New("order expired")
	ErrOrderAlreadyUsed  = errors.New("order already used")
	ErrSoldOut           = errors.New("sold out")
	ErrOutOfStock        = errors.New("out of stock")
	ErrCancelConflict    = errors.New("cancel conflict")
	ErrTransferNoFund    = errors.New("transfer no fund")
	// ErrTransferRejected covers asset transfers refused for reasons other
	// than funds: wrong owner, missing operator approval, unknown token.
	ErrTransferRejected = errors.New("transfer rejected")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidRequest, "invalidRequest"},
	{ErrInvalidSignature, "invalidSignature"},
	{ErrExecutorForbidden, "executorForbidden"},
	{ErrOrderNotListed, "orderNotListed"},
	{ErrOrderExpired, "orderExpired"},
	{ErrOrderAlreadyUsed, "orderAlreadyUsed"},
	{ErrSoldOut, "soldOut"},
	{ErrOutOfStock, "outOfStock"},
	{ErrCancelConflict, "cancelConflict"},
	{ErrTransferNoFund, "transferNoFund"},
	{ErrTransferRejected, "transferRejected"},
}

// Code returns the stable string code of err, "internal" for errors outside
// the taxonomy and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// capacityErr translates a ledger reservation failure into the family's
// exhaustion error. Store failures pass through untouched.
func capacityErr(err, exhausted error) error {
	switch {
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return fmt.Errorf("%w: %w", exhausted, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}

func cancelErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrCancelConflict):
		return fmt.Errorf("%w: %w", ErrCancelConflict, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}

func transferErr(err error) error {
	switch {
	case errors.Is(err, asset.ErrInsufficientFunds),
		errors.Is(err, asset.ErrInsufficientAllowance),
		errors.Is(err, asset.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrTransferNoFund, err)
	case errors.Is(err, asset.ErrNotOwner),
		errors.Is(err, asset.ErrNotApproved),
		errors.Is(err, asset.ErrUnknownToken),
		errors.Is(err, asset.ErrInvalidTransfer):
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	return err
}
