package ledger

import (
	"context"
	"errors"
	"strings"

	"buddypay.org/internal/ids"
)

// Banking moves money between a user's wallet and the external bank accounts
// linked to it. No fee is charged and no daily limit applies.
type Banking struct {
	store Store
	settings
}

func NewBanking(store Store, opts ...Option) *Banking {
	return &Banking{store: store, settings: newSettings(opts)}
}

// Link attaches an external bank account to userID. openingBalance is what the
// bank reports as available for deposits.
func (b *Banking) Link(ctx context.Context, userID, externalNumber string, openingBalance int64) (BankAccount, error) {
	externalNumber = strings.TrimSpace(externalNumber)
	if externalNumber == "" {
		return BankAccount{}, invalidArgument("bank account number is required")
	}
	if openingBalance < 0 || openingBalance > MaxAmount {
		return BankAccount{}, invalidArgument("opening balance must be between 0 and %s", FormatAmount(MaxAmount))
	}
	now := b.clock()
	acc := BankAccount{
		ID:             ids.NewAt(now),
		UserID:         userID,
		ExternalNumber: externalNumber,
		Balance:        openingBalance,
		Active:         true,
		CreatedAt:      now,
	}
	err := b.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, userID); err != nil {
			return err
		}
		return uow.BankAccounts().Create(ctx, &acc)
	})
	if err != nil {
		b.log.Warn("link bank account failed", "user_id", userID, "error", err)
		return BankAccount{}, wrapInfra(err, ErrSave, "failed to save bank account")
	}
	b.log.Info("bank account linked", "user_id", userID, "bank_account_id", acc.ID)
	return acc, nil
}

// List returns the bank accounts linked to userID.
func (b *Banking) List(ctx context.Context, userID string) ([]BankAccount, error) {
	var out []BankAccount
	err := b.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, userID); err != nil {
			return err
		}
		var err error
		out, err = uow.BankAccounts().ListByUser(ctx, userID)
		return err
	})
	return out, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// SetActive enables or disables transfers through a bank account.
func (b *Banking) SetActive(ctx context.Context, userID, bankAccountID string, active bool) (BankAccount, error) {
	var acc BankAccount
	err := b.store.Atomic(ctx, []string{userID}, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		acc, err = ownedBankAccount(ctx, uow, userID, bankAccountID)
		if err != nil {
			return err
		}
		if err := uow.BankAccounts().SetActive(ctx, bankAccountID, active); err != nil {
			return err
		}
		acc.Active = active
		return nil
	})
	if err != nil {
		return BankAccount{}, wrapInfra(err, ErrSave, "failed to update bank account")
	}
	b.log.Info("bank account status updated", "bank_account_id", bankAccountID, "active", active)
	return acc, nil
}

// Deposit moves amount from the bank account into the wallet of userID.
func (b *Banking) Deposit(ctx context.Context, userID, bankAccountID string, amount int64) (Account, error) {
	return b.transfer(ctx, userID, bankAccountID, amount, false)
}

// Withdraw moves amount from the wallet of userID to the bank account.
func (b *Banking) Withdraw(ctx context.Context, userID, bankAccountID string, amount int64) (Account, error) {
	return b.transfer(ctx, userID, bankAccountID, amount, true)
}

func (b *Banking) transfer(ctx context.Context, userID, bankAccountID string, amount int64, toBank bool) (Account, error) {
	if err := checkAmount(amount, "transfer amount"); err != nil {
		return Account{}, err
	}
	walletDelta, bankDelta := amount, -amount
	if toBank {
		walletDelta, bankDelta = -amount, amount
	}
	now := b.clock()
	var acc Account
	err := b.store.Atomic(ctx, []string{userID}, func(ctx context.Context, uow UnitOfWork) error {
		bank, err := ownedBankAccount(ctx, uow, userID, bankAccountID)
		if err != nil {
			return err
		}
		if !bank.Active {
			return NewError(ErrIllegalState, "bank account %s is inactive", bankAccountID)
		}
		if _, err := uow.BankAccounts().Adjust(ctx, bankAccountID, bankDelta, now); err != nil {
			if errors.Is(err, ErrInvalidBalance) {
				return &Error{
					Kind: ErrInsufficientBalance,
					Msg:  "insufficient balance in bank account with ID: " + bankAccountID,
					Err:  err,
				}
			}
			return err
		}
		acc, err = adjust(ctx, uow, userID, walletDelta, now)
		if errors.Is(err, ErrInvalidBalance) {
			return &Error{
				Kind: ErrInsufficientBalance,
				Msg:  "insufficient balance in account of user ID: " + userID,
				Err:  err,
			}
		}
		return err
	})
	if err != nil {
		b.log.Warn("bank transfer failed", "user_id", userID, "bank_account_id", bankAccountID, "amount", amount, "to_bank", toBank, "error", err)
		return Account{}, wrapInfra(err, ErrSave, "failed to transfer funds")
	}
	b.log.Info("bank transfer completed", "user_id", userID, "bank_account_id", bankAccountID, "amount", amount, "to_bank", toBank)
	return acc, nil
}

func ownedBankAccount(ctx context.Context, uow UnitOfWork, userID, id string) (BankAccount, error) {
	acc, err := uow.BankAccounts().Find(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && acc.UserID != userID) {
		return BankAccount{}, notFound("bank account not found with ID: %s", id)
	}
	return acc, err
}
