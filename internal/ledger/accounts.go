package ledger

import (
	"context"
	"errors"
	"time"
)

// Accounts is the account store facade used by collaborators outside the
// transaction engine (bank transfers, provisioning, reporting).
type Accounts struct {
	store Store
	settings
}

func NewAccounts(store Store, opts ...Option) *Accounts {
	return &Accounts{store: store, settings: newSettings(opts)}
}

// Account returns the wallet of userID.
func (a *Accounts) Account(ctx context.Context, userID string) (Account, error) {
	var acc Account
	err := a.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		acc, err = uow.Accounts().Get(ctx, userID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Account{}, notFound("account not found for user with ID: %s", userID)
	}
	return acc, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// Balance returns the balance of userID in minor units.
func (a *Accounts) Balance(ctx context.Context, userID string) (int64, error) {
	acc, err := a.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Adjust applies balance += delta under the account lock. A negative result
// fails with ErrInvalidBalance and changes nothing.
func (a *Accounts) Adjust(ctx context.Context, userID string, delta int64) (Account, error) {
	var acc Account
	err := a.store.Atomic(ctx, []string{userID}, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		acc, err = adjust(ctx, uow, userID, delta, a.clock())
		return err
	})
	if err != nil {
		a.log.Warn("balance adjustment failed", "user_id", userID, "delta", delta, "error", err)
		return Account{}, wrapInfra(err, ErrSave, "failed to save updated balance")
	}
	a.log.Info("balance adjusted", "user_id", userID, "delta", delta, "balance", acc.Balance)
	return acc, nil
}

func adjust(ctx context.Context, uow UnitOfWork, userID string, delta int64, at time.Time) (Account, error) {
	acc, err := uow.Accounts().Adjust(ctx, userID, delta, at)
	switch {
	case errors.Is(err, ErrInvalidBalance):
		return Account{}, &Error{
			Kind: ErrInvalidBalance,
			Msg:  "balance can't be negative for user ID: " + userID,
			Err:  err,
		}
	case errors.Is(err, ErrNotFound):
		return Account{}, notFound("account not found for user with ID: %s", userID)
	}
	return acc, err
}
