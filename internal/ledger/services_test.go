package ledger_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddypay.org/internal/ledger"
)

func TestFeeFor(t *testing.T) {
	cases := []struct {
		amount, pct, want int64
	}{
		{10000, 5000, 500},
		{6000, 5000, 300},
		{19, 5000, 0},
		{14286, 5000, 714},
		{100, 100000, 100},
		{12345, 1250, 154},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ledger.FeeFor(c.amount, c.pct), "amount=%d pct=%d", c.amount, c.pct)
	}
	assert.Equal(t, "105.00", ledger.FormatAmount(10500))
	assert.Equal(t, "0.07", ledger.FormatAmount(7))
	assert.Equal(t, "5.000%", ledger.FormatPercentage(5000))
}

func TestFeeScheduleAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.fees.ComputeFee(ctx, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	fee, err := h.fees.ComputeFee(ctx, 10000)
	require.NoError(t, err)
	require.Equal(t, int64(500), fee)

	_, err = h.fees.CreateFee(ctx, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.fees.CreateFee(ctx, 100001)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = h.fees.ComputeFee(ctx, math.MaxInt64/5000+1)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	fee, err = h.fees.ComputeFee(ctx, ledger.MaxAmount)
	require.NoError(t, err)
	require.Equal(t, int64(ledger.MaxAmount/20), fee)

	created, err := h.fees.CreateFee(ctx, 2500)
	require.NoError(t, err)
	active, err := h.fees.ActiveFee(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, active.ID)

	updated, err := h.fees.UpdatePercentage(ctx, created.ID, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), updated.Percentage)
	_, err = h.fees.UpdatePercentage(ctx, created.ID, 100001)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.fees.UpdatePercentage(ctx, created.ID, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = h.fees.UpdatePercentage(ctx, "missing", 1000)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.ErrorIs(t, h.fees.DeleteFee(ctx, "missing"), ledger.ErrNotFound)

	fees, err := h.fees.ListFees(ctx)
	require.NoError(t, err)
	require.Len(t, fees, 2)
	require.Equal(t, created.ID, fees[0].ID)
}

func TestFeeChangeKeepsPastTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 50000)

	r, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)
	_, err = h.fees.CreateFee(ctx, 10000)
	require.NoError(t, err)

	stored, err := h.engine.Transaction(ctx, r.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), stored.Fee())

	r2, err := h.engine.CreateTransaction(ctx, a.ID, b.ID, 10000, "")
	require.NoError(t, err)
	require.Equal(t, int64(1000), r2.Fee)
}

func TestRelations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "alice@example.com", 0)
	b := h.user(t, "Bob@Example.com", 0)

	rel, err := h.relations.AddMutual(ctx, a.ID, " bob@example.com ")
	require.NoError(t, err)
	require.Equal(t, b.ID, rel.ID)

	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		ok, err := h.relations.Exists(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = h.relations.AddMutual(ctx, b.ID, "alice@example.com")
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	_, err = h.relations.AddMutual(ctx, a.ID, "alice@example.com")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.relations.AddMutual(ctx, a.ID, "not-an-email")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.relations.AddMutual(ctx, a.ID, "ghost@example.com")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	related, err := h.relations.Related(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, "bob@example.com", related[0].Email)

	// Removal is one-directional.
	require.NoError(t, h.relations.Remove(ctx, a.ID, b.ID))
	ok, err := h.relations.Exists(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = h.relations.Exists(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, h.relations.Remove(ctx, a.ID, b.ID), ledger.ErrNotFound)
}

func TestRelatedSkipsDeletedUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.pair(t, 0)

	require.NoError(t, h.dir.DeleteUser(ctx, b.ID))
	related, err := h.relations.Related(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, related)

	_, err = h.dir.User(ctx, b.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.accounts.Balance(ctx, b.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRegisterUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.dir.RegisterUser(ctx, "Dana@Example.com", "Dana", ledger.RoleUser)
	require.NoError(t, err)
	require.Equal(t, "dana@example.com", u.Email)

	acc, err := h.accounts.Account(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, acc.Balance)

	_, err = h.dir.RegisterUser(ctx, "dana@example.com", "Dana", ledger.RoleUser)
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	_, err = h.dir.RegisterUser(ctx, "bad", "Dana", ledger.RoleUser)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.dir.RegisterUser(ctx, "eve@example.com", "", ledger.RoleUser)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	p, err := h.dir.Principal(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.RoleUser, p.Role.Name)
	require.Equal(t, int64(userLimit), p.Role.DailyLimit)

	byEmail, err := h.dir.UserByEmail(ctx, "DANA@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	roles, err := h.dir.Roles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
}

func TestUpdateUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "ivan@example.com", 0)
	h.user(t, "jane@example.com", 0)
	gone := h.user(t, "kate@example.com", 0)
	require.NoError(t, h.dir.DeleteUser(ctx, gone.ID))

	updated, err := h.dir.UpdateUser(ctx, u.ID, " Ivan.New@Example.com ", "")
	require.NoError(t, err)
	require.Equal(t, "ivan.new@example.com", updated.Email)
	require.Equal(t, "ivan@example.com", updated.DisplayName)

	updated, err = h.dir.UpdateUser(ctx, u.ID, "", "Ivan")
	require.NoError(t, err)
	require.Equal(t, "ivan.new@example.com", updated.Email)
	require.Equal(t, "Ivan", updated.DisplayName)

	byEmail, err := h.dir.UserByEmail(ctx, "ivan.new@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	_, err = h.dir.UpdateUser(ctx, u.ID, "jane@example.com", "")
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	_, err = h.dir.UpdateUser(ctx, u.ID, "not-an-email", "")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.dir.UpdateUser(ctx, gone.ID, "", "Kate")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	users, err := h.dir.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "ivan.new@example.com", users[0].Email)
	require.Equal(t, "jane@example.com", users[1].Email)
}

func TestAccountsAdjust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "frank@example.com", 100)

	_, err := h.accounts.Adjust(ctx, u.ID, -101)
	require.ErrorIs(t, err, ledger.ErrInvalidBalance)
	require.Equal(t, int64(100), h.balance(t, u.ID))

	acc, err := h.accounts.Adjust(ctx, u.ID, -100)
	require.NoError(t, err)
	require.Zero(t, acc.Balance)

	_, err = h.accounts.Adjust(ctx, "missing", 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestBanking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "gina@example.com", 0)
	other := h.user(t, "hank@example.com", 0)

	_, err := h.banking.Link(ctx, u.ID, "  ", 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = h.banking.Link(ctx, u.ID, "FR76 0000", ledger.MaxAmount+1)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	bank, err := h.banking.Link(ctx, u.ID, "FR76 3000 6000 0112 3456 7890 189", 50000)
	require.NoError(t, err)
	require.True(t, bank.Active)

	acc, err := h.banking.Deposit(ctx, u.ID, bank.ID, 20000)
	require.NoError(t, err)
	require.Equal(t, int64(20000), acc.Balance)

	_, err = h.banking.Deposit(ctx, u.ID, bank.ID, 30001)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, err = h.banking.Deposit(ctx, u.ID, bank.ID, math.MaxInt64)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	acc, err = h.banking.Withdraw(ctx, u.ID, bank.ID, 5000)
	require.NoError(t, err)
	require.Equal(t, int64(15000), acc.Balance)

	_, err = h.banking.Withdraw(ctx, u.ID, bank.ID, 15001)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = h.banking.Deposit(ctx, other.ID, bank.ID, 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = h.banking.SetActive(ctx, u.ID, bank.ID, false)
	require.NoError(t, err)
	_, err = h.banking.Deposit(ctx, u.ID, bank.ID, 1)
	require.ErrorIs(t, err, ledger.ErrIllegalState)

	banks, err := h.banking.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, banks, 1)
	require.Equal(t, int64(35000), banks[0].Balance)
	require.False(t, banks[0].Active)
	require.NotNil(t, banks[0].LastTransfer)
}

func TestMonetizationRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.revenue.Record(ctx, "tx-1", 250)
	require.NoError(t, err)
	_, err = h.revenue.Record(ctx, "tx-1", 250)
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	_, err = h.revenue.Record(ctx, "tx-2", -1)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	total, err := h.revenue.TotalRevenue(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(250), total)
}
