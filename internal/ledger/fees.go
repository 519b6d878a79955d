package ledger

import (
	"context"
	"errors"

	"buddypay.org/internal/ids"
)

// FeeSchedule reads and administers fee policies.
type FeeSchedule struct {
	store Store
	settings
}

func NewFeeSchedule(store Store, opts ...Option) *FeeSchedule {
	return &FeeSchedule{store: store, settings: newSettings(opts)}
}

// ActiveFee returns the fee in force now. It is queried on every call.
func (f *FeeSchedule) ActiveFee(ctx context.Context) (Fee, error) {
	var fee Fee
	err := f.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		fee, err = uow.Fees().Active(ctx, f.clock())
		return err
	})
	if errors.Is(err, ErrNotFound) {
		f.log.Error("no active transaction fee found")
		return Fee{}, notFound("no active transaction fee found")
	}
	return fee, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// ComputeFee returns the fee charged on amount under the active fee.
func (f *FeeSchedule) ComputeFee(ctx context.Context, amount int64) (int64, error) {
	if err := checkAmount(amount, "transaction amount"); err != nil {
		return 0, err
	}
	fee, err := f.ActiveFee(ctx)
	if err != nil {
		return 0, err
	}
	return FeeFor(amount, fee.Percentage), nil
}

// CreateFee registers a new fee policy effective immediately.
func (f *FeeSchedule) CreateFee(ctx context.Context, percentage int64) (Fee, error) {
	if err := checkPercentage(percentage); err != nil {
		return Fee{}, err
	}
	now := f.clock()
	fee := Fee{ID: ids.NewAt(now), Percentage: percentage, EffectiveDate: now}
	err := f.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Fees().Create(ctx, &fee)
	})
	if err != nil {
		f.log.Error("create fee failed", "percentage", percentage, "error", err)
		return Fee{}, wrapInfra(err, ErrSave, "failed to save transaction fee")
	}
	f.log.Info("transaction fee created", "fee_id", fee.ID, "percentage", FormatPercentage(percentage))
	return fee, nil
}

// UpdatePercentage changes the percentage of an existing policy.
// Transactions already committed keep the fee they were charged.
func (f *FeeSchedule) UpdatePercentage(ctx context.Context, id string, percentage int64) (Fee, error) {
	if err := checkPercentage(percentage); err != nil {
		return Fee{}, err
	}
	var fee Fee
	err := f.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		if err := uow.Fees().SetPercentage(ctx, id, percentage); err != nil {
			return err
		}
		var err error
		fee, err = uow.Fees().Find(ctx, id)
		return err
	})
	if err != nil {
		return Fee{}, wrapInfra(err, ErrSave, "failed to update transaction fee")
	}
	f.log.Info("transaction fee updated", "fee_id", id, "percentage", FormatPercentage(percentage))
	return fee, nil
}

// DeleteFee removes a policy.
func (f *FeeSchedule) DeleteFee(ctx context.Context, id string) error {
	err := f.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Fees().Delete(ctx, id)
	})
	if err != nil {
		return wrapInfra(err, ErrDelete, "failed to delete transaction fee with ID: "+id)
	}
	f.log.Info("transaction fee deleted", "fee_id", id)
	return nil
}

// ListFees returns every policy, newest effective date first.
func (f *FeeSchedule) ListFees(ctx context.Context) ([]Fee, error) {
	var fees []Fee
	err := f.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		fees, err = uow.Fees().List(ctx)
		return err
	})
	return fees, wrapInfra(err, ErrUnavailable, msgUnavailable)
}
