package ledger

import (
	"context"
	"errors"

	"buddypay.org/internal/ids"
)

// Monetization is the fee revenue ledger.
type Monetization struct {
	store Store
	settings
}

func NewMonetization(store Store, opts ...Option) *Monetization {
	return &Monetization{store: store, settings: newSettings(opts)}
}

// Record books fee as revenue for txID in its own unit of work. The engine
// books revenue inside the transfer unit instead.
func (m *Monetization) Record(ctx context.Context, txID string, fee int64) (MonetizationEntry, error) {
	var entry MonetizationEntry
	err := m.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		entry, err = recordRevenue(ctx, uow, txID, fee)
		return err
	})
	if err != nil {
		m.log.Error("save monetization failed", "transaction_id", txID, "error", err)
		return MonetizationEntry{}, wrapInfra(err, ErrSave, "failed to save tax monetization")
	}
	return entry, nil
}

// TotalRevenue sums every entry. An empty ledger yields 0.
func (m *Monetization) TotalRevenue(ctx context.Context) (int64, error) {
	var total int64
	err := m.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		total, err = uow.Monetization().Total(ctx)
		return err
	})
	return total, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// FindByTransaction returns the entry booked for txID.
func (m *Monetization) FindByTransaction(ctx context.Context, txID string) (MonetizationEntry, error) {
	var entry MonetizationEntry
	err := m.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		entry, err = uow.Monetization().FindByTransaction(ctx, txID)
		if errors.Is(err, ErrNotFound) {
			return notFound("monetization not found for transaction ID: %s", txID)
		}
		return err
	})
	return entry, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

func recordRevenue(ctx context.Context, uow UnitOfWork, txID string, fee int64) (MonetizationEntry, error) {
	if fee < 0 {
		return MonetizationEntry{}, invalidArgument("fee must not be negative")
	}
	entry := MonetizationEntry{ID: ids.New(), TransactionID: txID, Result: fee}
	if err := uow.Monetization().Insert(ctx, &entry); err != nil {
		return MonetizationEntry{}, err
	}
	return entry, nil
}
