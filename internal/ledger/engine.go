package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"buddypay.org/internal/ids"
)

const maxDescriptionLen = 255

// Engine moves money between accounts, charging the active fee.
//
// Each transfer or cancellation runs as one unit of work holding the account
// locks of both parties, so balance checks, the daily-limit aggregate and all
// writes commit or roll back together.
type Engine struct {
	store Store
	settings
}

func NewEngine(store Store, opts ...Option) *Engine {
	return &Engine{store: store, settings: newSettings(opts)}
}

// CreateTransaction transfers amount from sender to receiver. The sender is
// debited amount plus the fee, the receiver credited amount, and the fee is
// booked as revenue.
func (e *Engine) CreateTransaction(ctx context.Context, senderID, receiverID string, amount int64, description string) (Receipt, error) {
	receipt, err := e.createTransaction(ctx, senderID, receiverID, amount, description)
	if err != nil {
		e.rejected(err)
		return Receipt{}, err
	}
	e.committed(receipt.Transaction)
	return receipt, nil
}

func (e *Engine) createTransaction(ctx context.Context, senderID, receiverID string, amount int64, description string) (Receipt, error) {
	log := e.log.With("sender_id", senderID, "receiver_id", receiverID, "amount", amount)
	if err := checkAmount(amount, "transaction amount"); err != nil {
		return Receipt{}, err
	}
	if senderID == receiverID {
		return Receipt{}, invalidArgument("sender and receiver must be different users")
	}
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLen {
		return Receipt{}, invalidArgument("description must be at most %d characters", maxDescriptionLen)
	}

	now := e.clock()
	var (
		tx       Transaction
		fee      int64
		receiver User
	)
	err := e.store.Atomic(ctx, []string{senderID, receiverID}, func(ctx context.Context, uow UnitOfWork) error {
		sender, err := resolvePrincipal(ctx, uow, senderID)
		if err != nil {
			return err
		}
		receiver, err = findUser(ctx, uow, receiverID)
		if err != nil {
			return err
		}

		related, err := uow.Relations().Exists(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		if !related {
			return notFound("no relation exists between the sender and receiver")
		}

		active, err := uow.Fees().Active(ctx, now)
		if errors.Is(err, ErrNotFound) {
			return notFound("no active transaction fee found")
		}
		if err != nil {
			return err
		}
		fee = FeeFor(amount, active.Percentage)
		amountWithFee := amount + fee

		from, to := e.dayBounds(now)
		spent, err := uow.Transactions().SumSent(ctx, senderID, from, to)
		if err != nil {
			return err
		}
		if amountWithFee > sender.Role.DailyLimit-spent {
			return &Error{
				Kind:   ErrInsufficientBalance,
				Reason: ErrDailyLimitExceeded,
				Msg: fmt.Sprintf("transaction limit exceeded for the day: limit %s, already sent %s, requested %s",
					FormatAmount(sender.Role.DailyLimit), FormatAmount(spent), FormatAmount(amountWithFee)),
			}
		}

		acc, err := uow.Accounts().Get(ctx, senderID)
		if err != nil {
			return err
		}
		if acc.Balance < amountWithFee {
			return &Error{
				Kind: ErrInsufficientBalance,
				Msg: fmt.Sprintf("insufficient balance for user ID: %s: available %s, required %s",
					senderID, FormatAmount(acc.Balance), FormatAmount(amountWithFee)),
			}
		}

		if _, err := adjust(ctx, uow, senderID, -amountWithFee, now); err != nil {
			return err
		}
		if _, err := adjust(ctx, uow, receiverID, amount, now); err != nil {
			return err
		}

		tx = Transaction{
			ID:              ids.NewAt(now),
			SenderID:        senderID,
			ReceiverID:      receiverID,
			Description:     description,
			Amount:          amount,
			AmountWithFee:   amountWithFee,
			TransactionDate: now,
			Status:          StatusCommitted,
		}
		if err := uow.Transactions().Insert(ctx, &tx); err != nil {
			return err
		}
		_, err = recordRevenue(ctx, uow, tx.ID, fee)
		return err
	})
	if err != nil {
		if KindOf(err) == nil {
			log.Error("transaction failed to save", "error", err)
		} else {
			log.Warn("transaction rejected", "error", err)
		}
		return Receipt{}, wrapInfra(err, ErrSave, "failed to save transaction")
	}

	log.Info("transaction committed", "transaction_id", tx.ID, "fee", fee, "amount_with_fee", tx.AmountWithFee)
	return Receipt{
		Transaction: tx,
		Fee:         fee,
		Message: fmt.Sprintf("Transaction successful: sent %s to %s (fee %s, total debited %s)",
			FormatAmount(amount), receiver.DisplayName, FormatAmount(fee), FormatAmount(tx.AmountWithFee)),
	}, nil
}

// CancelTransaction reverses a transaction dated no more than the cancel
// window ago: the sender gets AmountWithFee back, the receiver gives Amount
// back, and the fee is removed from revenue. The record is kept, marked canceled.
func (e *Engine) CancelTransaction(ctx context.Context, txID string) (Transaction, error) {
	tx, err := e.cancelTransaction(ctx, txID)
	if err != nil {
		return Transaction{}, err
	}
	e.canceled(tx)
	return tx, nil
}

func (e *Engine) cancelTransaction(ctx context.Context, txID string) (Transaction, error) {
	log := e.log.With("transaction_id", txID)

	// The parties are needed to take their locks; the record is re-read
	// under the locks before anything is decided.
	var parties []string
	err := e.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		tx, err := getTransaction(ctx, uow, txID)
		if err != nil {
			return err
		}
		parties = []string{tx.SenderID, tx.ReceiverID}
		return nil
	})
	if err != nil {
		return Transaction{}, wrapInfra(err, ErrUnavailable, msgUnavailable)
	}

	now := e.clock()
	var tx Transaction
	err = e.store.Atomic(ctx, parties, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		tx, err = getTransaction(ctx, uow, txID)
		if err != nil {
			return err
		}
		if tx.Status == StatusCanceled {
			return NewError(ErrIllegalState, "transaction %s is already canceled", txID)
		}
		if now.Sub(tx.TransactionDate) > e.cancelWindow {
			return NewError(ErrIllegalState, "transaction cannot be canceled after %s", humanWindow(e.cancelWindow))
		}

		if _, err := adjust(ctx, uow, tx.SenderID, tx.AmountWithFee, now); err != nil {
			return err
		}
		if _, err := adjust(ctx, uow, tx.ReceiverID, -tx.Amount, now); err != nil {
			if errors.Is(err, ErrInvalidBalance) {
				return &Error{
					Kind: ErrInsufficientBalance,
					Msg:  "the receiver no longer holds the transferred amount; transaction cannot be canceled",
					Err:  err,
				}
			}
			return err
		}
		if err := uow.Transactions().MarkCanceled(ctx, tx.ID, now); err != nil {
			return err
		}
		if err := uow.Monetization().DeleteByTransaction(ctx, tx.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		tx.Status = StatusCanceled
		tx.CanceledAt = &now
		return nil
	})
	if err != nil {
		if KindOf(err) == nil {
			log.Error("cancel failed to persist", "error", err)
		} else {
			log.Warn("cancel rejected", "error", err)
		}
		return Transaction{}, wrapInfra(err, ErrDelete, "failed to delete transaction with ID: "+txID)
	}
	log.Info("transaction canceled", "sender_id", tx.SenderID, "receiver_id", tx.ReceiverID)
	return tx, nil
}

// Transaction returns one transaction by id.
func (e *Engine) Transaction(ctx context.Context, txID string) (Transaction, error) {
	var tx Transaction
	err := e.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		tx, err = getTransaction(ctx, uow, txID)
		return err
	})
	return tx, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// CalculateTotalFees sums the fees of all committed transactions.
func (e *Engine) CalculateTotalFees(ctx context.Context) (int64, error) {
	var total int64
	err := e.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		total, err = uow.Transactions().SumFees(ctx)
		return err
	})
	return total, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// History returns the transactions sent or received by userID, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]Transaction, error) {
	var txs []Transaction
	err := e.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, userID); err != nil {
			return err
		}
		var err error
		txs, err = uow.Transactions().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, wrapInfra(err, ErrUnavailable, msgUnavailable)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].TransactionDate.Equal(txs[j].TransactionDate) {
			return txs[i].Sequence > txs[j].Sequence
		}
		return txs[i].TransactionDate.After(txs[j].TransactionDate)
	})
	return txs, nil
}

// SpentToday returns what userID has sent today, fees included, and the
// daily limit of its role.
func (e *Engine) SpentToday(ctx context.Context, userID string) (spent, limit int64, err error) {
	from, to := e.dayBounds(e.clock())
	err = e.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		p, err := resolvePrincipal(ctx, uow, userID)
		if err != nil {
			return err
		}
		limit = p.Role.DailyLimit
		spent, err = uow.Transactions().SumSent(ctx, userID, from, to)
		return err
	})
	return spent, limit, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// dayBounds returns the UTC bounds of the calendar day containing t in the
// configured location.
func (e *Engine) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(e.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func getTransaction(ctx context.Context, uow UnitOfWork, txID string) (Transaction, error) {
	tx, err := uow.Transactions().Get(ctx, txID)
	if errors.Is(err, ErrNotFound) {
		return Transaction{}, notFound("transaction not found with ID: %s", txID)
	}
	return tx, err
}

func humanWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
