package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"buddypay.org/internal/ledger"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAtomicLocksAccountsInSortedOrder(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts where user_id").WithArgs("a").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))
	mock.ExpectQuery("select 1 from accounts where user_id").WithArgs("b").WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectCommit()

	err := s.Atomic(context.Background(), []string{"b", "a", "b"}, func(context.Context, ledger.UnitOfWork) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(context.Context, ledger.UnitOfWork) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustNegativeBalance(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("update accounts set balance").WithArgs("u1", int64(-500), at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "last_update"}))
	mock.ExpectQuery("select id, user_id, balance, created_at, last_update from accounts").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "last_update"}).AddRow("acc1", "u1", 100, at, at))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		_, err := uow.Accounts().Adjust(ctx, "u1", -500, at)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInvalidBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustMissingAccount(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("update accounts set balance").WithArgs("ghost", int64(10), at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "last_update"}))
	mock.ExpectQuery("select id, user_id, balance, created_at, last_update from accounts").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "last_update"}))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		_, err := uow.Accounts().Adjust(ctx, "ghost", 10, at)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationMapsToAlreadyExists(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into monetization").WithArgs("m1", "t1", int64(500)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.Monetization().Insert(ctx, &ledger.MonetizationEntry{ID: "m1", TransactionID: "t1", Result: 500})
	})
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionAssignsSequence(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tx := ledger.Transaction{
		ID: "t1", SenderID: "a", ReceiverID: "b", Amount: 10000, AmountWithFee: 10500,
		TransactionDate: at, Status: ledger.StatusCommitted,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("insert into transactions").
		WithArgs("t1", "a", "b", "", int64(10000), int64(10500), at, "committed", nil).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(42)))
	mock.ExpectQuery("select coalesce\\(sum\\(amount_with_fee\\),0\\) from transactions").
		WithArgs("a", "committed", at, at.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(10500)))
	mock.ExpectCommit()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		if err := uow.Transactions().Insert(ctx, &tx); err != nil {
			return err
		}
		sum, err := uow.Transactions().SumSent(ctx, "a", at, at.Add(24*time.Hour))
		require.Equal(t, int64(10500), sum)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), tx.Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveFeeNotFound(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, percentage, effective_date from transaction_fees").WithArgs(at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "percentage", "effective_date"}))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		_, err := uow.Fees().Active(ctx, at)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRelationNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from user_relation").WithArgs("a", "b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.Relations().Delete(ctx, "a", "b")
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureIsWrapped(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := s.Atomic(context.Background(), nil, func(context.Context, ledger.UnitOfWork) error { return nil })
	require.Error(t, err)
	require.Nil(t, ledger.KindOf(err))
}

func TestUpdateUserMissing(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("update users set email").WithArgs("ghost", "g@example.com", "Ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.Users().Update(ctx, ledger.User{ID: "ghost", Email: "g@example.com", DisplayName: "Ghost"})
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersSkipsDeleted(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("from users where deleted=false order by email").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name", "role_id", "created_at", "deleted"}).
			AddRow("u1", "a@example.com", "A", "r1", at, false).
			AddRow("u2", "b@example.com", "B", "r1", at, false))
	mock.ExpectCommit()

	var users []ledger.User
	err := s.Atomic(context.Background(), nil, func(ctx context.Context, uow ledger.UnitOfWork) error {
		var err error
		users, err = uow.Users().List(ctx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "b@example.com", users[1].Email)
	require.NoError(t, mock.ExpectationsWereMet())
}
