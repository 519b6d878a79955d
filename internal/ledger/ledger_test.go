package ledger_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"buddypay.org/internal/ledger"
	"buddypay.org/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	committed []ledger.Transaction
	canceled  []ledger.Transaction
	rejected  []error
}

func (r *recorder) TransactionCommitted(tx ledger.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, tx)
}

func (r *recorder) TransactionCanceled(tx ledger.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, tx)
}

func (r *recorder) TransactionRejected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, err)
}

type harness struct {
	store     *memory.Store
	clock     *fakeClock
	events    *recorder
	dir       *ledger.Directory
	accounts  *ledger.Accounts
	fees      *ledger.FeeSchedule
	relations *ledger.Relations
	revenue   *ledger.Monetization
	banking   *ledger.Banking
	engine    *ledger.Engine
}

const userLimit = 1_000_000

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		clock:  &fakeClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)},
		events: &recorder{},
	}
	opts := []ledger.Option{ledger.WithClock(h.clock.Now), ledger.WithObserver(h.events)}
	h.dir = ledger.NewDirectory(h.store, opts...)
	h.accounts = ledger.NewAccounts(h.store, opts...)
	h.fees = ledger.NewFeeSchedule(h.store, opts...)
	h.relations = ledger.NewRelations(h.store, opts...)
	h.revenue = ledger.NewMonetization(h.store, opts...)
	h.banking = ledger.NewBanking(h.store, opts...)
	h.engine = ledger.NewEngine(h.store, opts...)

	ctx := context.Background()
	_, err := h.dir.EnsureRole(ctx, ledger.RoleUser, userLimit)
	require.NoError(t, err)
	_, err = h.dir.EnsureRole(ctx, ledger.RoleAdmin, 10*userLimit)
	require.NoError(t, err)
	h.clock.Advance(-time.Minute)
	_, err = h.fees.CreateFee(ctx, 5000)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return h
}

// user registers a user and funds its wallet.
func (h *harness) user(t *testing.T, email string, balance int64) ledger.User {
	t.Helper()
	ctx := context.Background()
	u, err := h.dir.RegisterUser(ctx, email, email, ledger.RoleUser)
	require.NoError(t, err)
	if balance > 0 {
		_, err = h.accounts.Adjust(ctx, u.ID, balance)
		require.NoError(t, err)
	}
	return u
}

func (h *harness) pair(t *testing.T, senderBalance int64) (ledger.User, ledger.User) {
	t.Helper()
	a := h.user(t, "alice@example.com", senderBalance)
	b := h.user(t, "bob@example.com", 0)
	require.NoError(t, h.relations.AddMutualByID(context.Background(), a.ID, b.ID))
	return a, b
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := h.accounts.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestCreateTransactionChargesFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	receipt, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "dinner")
	require.NoError(t, err)
	require.Equal(t, int64(500), receipt.Fee)
	require.Equal(t, int64(10500), receipt.Transaction.AmountWithFee)
	require.Equal(t, ledger.StatusCommitted, receipt.Transaction.Status)
	require.Contains(t, receipt.Message, "100.00")

	require.Equal(t, int64(9500), h.balance(t, a.ID))
	require.Equal(t, int64(10000), h.balance(t, b.ID))

	entry, err := h.revenue.FindByTransaction(ctx, receipt.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), entry.Result)
	require.Len(t, h.events.committed, 1)
}

func TestCreateTransactionInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	_, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 20000, "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.NotErrorIs(t, err, ledger.ErrDailyLimitExceeded)

	require.Equal(t, int64(20000), h.balance(t, a.ID))
	require.Equal(t, int64(0), h.balance(t, b.ID))
	total, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Len(t, h.events.rejected, 1)
}

func TestDailyLimitExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.dir.SetRoleDailyLimit(ctx, ledger.RoleUser, 15000)
	require.NoError(t, err)
	a, b := h.pair(t, 100000)

	// 14286 + 714 = 15000
	r1, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 14286, "")
	require.NoError(t, err)
	require.Equal(t, int64(15000), r1.Transaction.AmountWithFee)

	// 953 + 47 = 1000
	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 953, "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.ErrorIs(t, err, ledger.ErrDailyLimitExceeded)

	spent, limit, err := h.engine.SpentToday(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(15000), spent)
	require.Equal(t, int64(15000), limit)

	// A new calendar day resets the aggregate.
	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 953, "")
	require.NoError(t, err)
}

func TestDailyLimitIgnoresCanceledTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.dir.SetRoleDailyLimit(ctx, ledger.RoleUser, 15000)
	require.NoError(t, err)
	a, b := h.pair(t, 100000)

	r1, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 14286, "")
	require.NoError(t, err)
	_, err = h.engine.CancelTransaction(ctx, r1.Transaction.ID)
	require.NoError(t, err)

	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 14286, "")
	require.NoError(t, err)
}

func TestCancelRestoresBalancesAndRevenue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)

	tx, err := h.engine.CancelTransaction(ctx, r.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCanceled, tx.Status)
	require.NotNil(t, tx.CanceledAt)

	require.Equal(t, int64(20000), h.balance(t, a.ID))
	require.Equal(t, int64(0), h.balance(t, b.ID))

	stored, err := h.engine.Transaction(ctx, r.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCanceled, stored.Status)

	_, err = h.revenue.FindByTransaction(ctx, r.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	fees, err := h.engine.CalculateTotalFees(ctx)
	require.NoError(t, err)
	require.Zero(t, fees)
	require.Len(t, h.events.canceled, 1)

	_, err = h.engine.CancelTransaction(ctx, r.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrIllegalState)
}

func TestCancelWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 100000)

	older, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 1000, "")
	require.NoError(t, err)
	h.clock.Advance(time.Nanosecond)
	newer, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 1000, "")
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.CancelTransaction(ctx, newer.Transaction.ID)
	require.NoError(t, err, "exactly 24h old")
	_, err = h.engine.CancelTransaction(ctx, older.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrIllegalState, "24h and 1ns old")
}

func TestCancelAfterWindowFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)

	_, err = h.engine.CancelTransaction(ctx, r.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrIllegalState)
	require.Equal(t, int64(9500), h.balance(t, a.ID))
	require.Equal(t, int64(10000), h.balance(t, b.ID))
}

func TestCancelFailsWhenReceiverSpentFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)
	_, err = h.engine.CreateTransaction(ctx, b.ID, a.ID, 5000, "")
	require.NoError(t, err)

	_, err = h.engine.CancelTransaction(ctx, r.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.Equal(t, int64(9500+5000), h.balance(t, a.ID))
}

func TestCancelUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CancelTransaction(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestTotalRevenue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 100000)

	total, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)
	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 6000, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		total, err = h.revenue.TotalRevenue(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(800), total)
	}
	fees, err := h.engine.CalculateTotalFees(ctx)
	require.NoError(t, err)
	require.Equal(t, total, fees)
}

func TestCreateTransactionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)
	c := h.user(t, "carol@example.com", 0)

	_, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 0, "")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = h.engine.CreateTransaction(ctx, a.ID, a.ID, 100, "")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = h.engine.CreateTransaction(ctx, a.ID, c.ID, 100, "")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = h.engine.CreateTransaction(ctx, a.ID, "nobody", 100, "")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.Equal(t, int64(20000), h.balance(t, a.ID))
}

func TestExactBalanceWithoutFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 19)

	// 19 * 5000 / 100000 truncates to 0.
	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 19, "")
	require.NoError(t, err)
	require.Zero(t, r.Fee)
	require.Zero(t, h.balance(t, a.ID))
	require.Equal(t, int64(19), h.balance(t, b.ID))
}

func TestNoActiveFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 20000)

	fees, err := h.fees.ListFees(ctx)
	require.NoError(t, err)
	for _, f := range fees {
		require.NoError(t, h.fees.DeleteFee(ctx, f.ID))
	}

	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 100, "")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.fees.ActiveFee(ctx)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 100000)

	first, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 1000, "first")
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.engine.CreateTransaction(ctx, b.ID, a.ID, 500, "second")
	require.NoError(t, err)

	history, err := h.engine.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, second.Transaction.ID, history[0].ID)
	require.Equal(t, first.Transaction.ID, history[1].ID)
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	users := []ledger.User{
		h.user(t, "u0@example.com", 50000),
		h.user(t, "u1@example.com", 50000),
		h.user(t, "u2@example.com", 50000),
	}
	for i := range users {
		for j := i + 1; j < len(users); j++ {
			require.NoError(t, h.relations.AddMutualByID(ctx, users[i].ID, users[j].ID))
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := users[i%3]
			to := users[(i+1)%3]
			_, _ = h.engine.CreateTransaction(ctx, from.ID, to.ID, int64(700+i), "")
		}(i)
	}
	wg.Wait()

	var sum int64
	for _, u := range users {
		b := h.balance(t, u.ID)
		require.GreaterOrEqual(t, b, int64(0))
		sum += b
	}
	revenue, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(150000), sum+revenue)

	fees, err := h.engine.CalculateTotalFees(ctx)
	require.NoError(t, err)
	require.Equal(t, revenue, fees)
}

func TestConcurrentTransfersRespectDailyLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.dir.SetRoleDailyLimit(ctx, ledger.RoleUser, 10500)
	require.NoError(t, err)
	a, b := h.pair(t, 1_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.CreateTransaction(ctx, a.ID, b.ID, 1000, "")
		}()
	}
	wg.Wait()

	spent, _, err := h.engine.SpentToday(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10*1050), spent)
	require.Equal(t, int64(10*1000), h.balance(t, b.ID))
}

func TestRoleLimitAppliesToFutureTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 100000)

	_, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)

	p, err := h.dir.ChangeRole(ctx, a.ID, ledger.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, ledger.RoleAdmin, p.Role.Name)

	_, err = h.dir.SetRoleDailyLimit(ctx, ledger.RoleAdmin, 11000)
	require.NoError(t, err)
	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, 1000, "")
	require.ErrorIs(t, err, ledger.ErrDailyLimitExceeded)

	_, err = h.dir.SetRoleDailyLimit(ctx, ledger.RoleAdmin, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestCreateTransactionRejectsOverflowingAmounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 100)
	_, err := h.fees.CreateFee(ctx, 5001)
	require.NoError(t, err)

	for _, amount := range []int64{math.MaxInt64, ledger.MaxAmount + 1} {
		_, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, amount, "")
		require.ErrorIs(t, err, ledger.ErrInvalidArgument, "amount=%d", amount)
	}

	require.Equal(t, int64(100), h.balance(t, a.ID))
	require.Zero(t, h.balance(t, b.ID))
	total, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, h.events.committed)
}

func TestLargeTransferKeepsMoneyConserved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.dir.SetRoleDailyLimit(ctx, ledger.RoleUser, math.MaxInt64)
	require.NoError(t, err)
	_, err = h.fees.CreateFee(ctx, 5001)
	require.NoError(t, err)

	start := int64(2 * ledger.MaxAmount)
	a, b := h.pair(t, start)

	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, ledger.MaxAmount, "")
	require.NoError(t, err)
	require.Equal(t, ledger.FeeFor(ledger.MaxAmount, 5001), r.Fee)
	require.Positive(t, r.Fee)
	require.Equal(t, ledger.MaxAmount+r.Fee, r.Transaction.AmountWithFee)

	total, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Equal(t, start, h.balance(t, a.ID)+h.balance(t, b.ID)+total)

	// The day's spend is close to the remaining balance; the second transfer
	// fails on balance, not through a wrapped sum.
	_, err = h.engine.CreateTransaction(ctx, a.ID, b.ID, ledger.MaxAmount, "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.NotErrorIs(t, err, ledger.ErrDailyLimitExceeded)
}
