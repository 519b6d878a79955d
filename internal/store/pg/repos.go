package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"buddypay.org/internal/ids"
	"buddypay.org/internal/ledger"
)

type unit struct {
	tx *sql.Tx
}

func (u *unit) Roles() ledger.RoleRepo { return roleRepo{u.tx} }
func (u *unit) Users() ledger.UserRepo { return userRepo{u.tx} }
func (u *unit) Accounts() ledger.AccountRepo { return accountRepo{u.tx} }
func (u *unit) Transactions() ledger.TransactionRepo { return txRepo{u.tx} }
func (u *unit) Fees() ledger.FeeRepo { return feeRepo{u.tx} }
func (u *unit) Monetization() ledger.MonetizationRepo { return revenueRepo{u.tx} }
func (u *unit) Relations() ledger.RelationRepo { return relationRepo{u.tx} }
func (u *unit) BankAccounts() ledger.BankAccountRepo { return bankRepo{u.tx} }

func notFound(format string, args ...any) error {
	return ledger.NewError(ledger.ErrNotFound, format, args...)
}

// affected returns a not-found error when res touched no row.
func affected(res sql.Result, err error, op string, missing error) error {
	if err != nil {
		return mapErr(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, op)
	}
	if n == 0 {
		return missing
	}
	return nil
}

type roleRepo struct{ tx *sql.Tx }

func (r roleRepo) Create(ctx context.Context, role *ledger.Role) error {
	_, err := r.tx.ExecContext(ctx, `insert into roles(id, name, daily_limit) values ($1,$2,$3)`,
		role.ID, string(role.Name), role.DailyLimit)
	if err != nil {
		return mapErr(err, "insert role")
	}
	return nil
}

func (r roleRepo) Find(ctx context.Context, id string) (ledger.Role, error) {
	return r.scanOne(ctx, `select id, name, daily_limit from roles where id=$1`, id)
}

func (r roleRepo) FindByName(ctx context.Context, name ledger.RoleName) (ledger.Role, error) {
	return r.scanOne(ctx, `select id, name, daily_limit from roles where name=$1`, string(name))
}

func (r roleRepo) scanOne(ctx context.Context, query string, arg any) (ledger.Role, error) {
	var (
		role ledger.Role
		name string
	)
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(&role.ID, &name, &role.DailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Role{}, notFound("role not found: %v", arg)
	}
	if err != nil {
		return ledger.Role{}, mapErr(err, "select role")
	}
	role.Name = ledger.RoleName(name)
	return role, nil
}

func (r roleRepo) SetDailyLimit(ctx context.Context, id string, limit int64) error {
	res, err := r.tx.ExecContext(ctx, `update roles set daily_limit=$2 where id=$1`, id, limit)
	return affected(res, err, "update role", notFound("role not found with ID: %s", id))
}

func (r roleRepo) List(ctx context.Context) ([]ledger.Role, error) {
	rows, err := r.tx.QueryContext(ctx, `select id, name, daily_limit from roles order by name`)
	if err != nil {
		return nil, mapErr(err, "list roles")
	}
	defer rows.Close()
	var out []ledger.Role
	for rows.Next() {
		var (
			role ledger.Role
			name string
		)
		if err := rows.Scan(&role.ID, &name, &role.DailyLimit); err != nil {
			return nil, mapErr(err, "scan role")
		}
		role.Name = ledger.RoleName(name)
		out = append(out, role)
	}
	return out, rows.Err()
}

type userRepo struct{ tx *sql.Tx }

const userColumns = `id, email, display_name, role_id, created_at, deleted`

func (r userRepo) Create(ctx context.Context, user *ledger.User, at time.Time) error {
	if _, err := r.tx.ExecContext(ctx, `
		insert into users(id, email, display_name, role_id, created_at, deleted)
		values ($1,$2,$3,$4,$5,false)
	`, user.ID, user.Email, user.DisplayName, user.RoleID, user.CreatedAt); err != nil {
		return mapErr(err, "insert user")
	}
	if _, err := r.tx.ExecContext(ctx, `
		insert into accounts(id, user_id, balance, created_at, last_update)
		values ($1,$2,0,$3,$3)
	`, ids.NewAt(at), user.ID, at); err != nil {
		return mapErr(err, "insert account")
	}
	return nil
}

func (r userRepo) Find(ctx context.Context, id string) (ledger.User, error) {
	return r.scanOne(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (ledger.User, error) {
	return r.scanOne(ctx, `select `+userColumns+` from users where email=$1`, email)
}

func (r userRepo) scanOne(ctx context.Context, query, arg string) (ledger.User, error) {
	var u ledger.User
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleID, &u.CreatedAt, &u.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, notFound("user not found: %s", arg)
	}
	if err != nil {
		return ledger.User{}, mapErr(err, "select user")
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (r userRepo) SetRole(ctx context.Context, userID, roleID string) error {
	res, err := r.tx.ExecContext(ctx, `update users set role_id=$2 where id=$1`, userID, roleID)
	return affected(res, err, "update user role", notFound("user not found with ID: %s", userID))
}

func (r userRepo) Update(ctx context.Context, user ledger.User) error {
	res, err := r.tx.ExecContext(ctx, `update users set email=$2, display_name=$3 where id=$1`,
		user.ID, user.Email, user.DisplayName)
	return affected(res, err, "update user", notFound("user not found with ID: %s", user.ID))
}

func (r userRepo) List(ctx context.Context) ([]ledger.User, error) {
	rows, err := r.tx.QueryContext(ctx, `select `+userColumns+` from users where deleted=false order by email`)
	if err != nil {
		return nil, mapErr(err, "list users")
	}
	defer rows.Close()
	var out []ledger.User
	for rows.Next() {
		var u ledger.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleID, &u.CreatedAt, &u.Deleted); err != nil {
			return nil, mapErr(err, "scan user")
		}
		u.CreatedAt = u.CreatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r userRepo) Delete(ctx context.Context, id string) error {
	res, err := r.tx.ExecContext(ctx, `update users set deleted=true where id=$1`, id)
	if err := affected(res, err, "delete user", notFound("user not found with ID: %s", id)); err != nil {
		return err
	}
	if _, err := r.tx.ExecContext(ctx, `delete from accounts where user_id=$1`, id); err != nil {
		return mapErr(err, "delete account")
	}
	return nil
}

type accountRepo struct{ tx *sql.Tx }

func (r accountRepo) Get(ctx context.Context, userID string) (ledger.Account, error) {
	var acc ledger.Account
	err := r.tx.QueryRowContext(ctx, `
		select id, user_id, balance, created_at, last_update from accounts where user_id=$1
	`, userID).Scan(&acc.ID, &acc.UserID, &acc.Balance, &acc.CreatedAt, &acc.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, notFound("account not found for user with ID: %s", userID)
	}
	if err != nil {
		return ledger.Account{}, mapErr(err, "select account")
	}
	acc.CreatedAt, acc.LastUpdate = acc.CreatedAt.UTC(), acc.LastUpdate.UTC()
	return acc, nil
}

func (r accountRepo) Adjust(ctx context.Context, userID string, delta int64, at time.Time) (ledger.Account, error) {
	var acc ledger.Account
	err := r.tx.QueryRowContext(ctx, `
		update accounts set balance = balance + $2, last_update = $3
		where user_id=$1 and balance + $2 >= 0
		returning id, user_id, balance, created_at, last_update
	`, userID, delta, at).Scan(&acc.ID, &acc.UserID, &acc.Balance, &acc.CreatedAt, &acc.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.Get(ctx, userID); err != nil {
			return ledger.Account{}, err
		}
		return ledger.Account{}, ledger.NewError(ledger.ErrInvalidBalance, "balance can't be negative for user ID: %s", userID)
	}
	if err != nil {
		return ledger.Account{}, mapErr(err, "update account")
	}
	acc.CreatedAt, acc.LastUpdate = acc.CreatedAt.UTC(), acc.LastUpdate.UTC()
	return acc, nil
}

type txRepo struct{ tx *sql.Tx }

const txColumns = `id, sequence, sender_id, receiver_id, description, amount, amount_with_fee, transaction_date, status, canceled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t        ledger.Transaction
		status   string
		canceled sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Sequence, &t.SenderID, &t.ReceiverID, &t.Description, &t.Amount,
		&t.AmountWithFee, &t.TransactionDate, &status, &canceled); err != nil {
		return ledger.Transaction{}, err
	}
	t.Status = ledger.Status(status)
	t.TransactionDate = t.TransactionDate.UTC()
	t.CanceledAt = timePtr(canceled)
	return t, nil
}

func (r txRepo) Insert(ctx context.Context, t *ledger.Transaction) error {
	err := r.tx.QueryRowContext(ctx, `
		insert into transactions(id, sender_id, receiver_id, description, amount, amount_with_fee, transaction_date, status, canceled_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9) returning sequence
	`, t.ID, t.SenderID, t.ReceiverID, t.Description, t.Amount, t.AmountWithFee, t.TransactionDate,
		string(t.Status), nullTime(t.CanceledAt)).Scan(&t.Sequence)
	if err != nil {
		return mapErr(err, "insert transaction")
	}
	return nil
}

func (r txRepo) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRowContext(ctx, `select `+txColumns+` from transactions where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, notFound("transaction not found with ID: %s", id)
	}
	if err != nil {
		return ledger.Transaction{}, mapErr(err, "select transaction")
	}
	return t, nil
}

func (r txRepo) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	res, err := r.tx.ExecContext(ctx, `update transactions set status=$2, canceled_at=$3 where id=$1`,
		id, string(ledger.StatusCanceled), at)
	return affected(res, err, "cancel transaction", notFound("transaction not found with ID: %s", id))
}

func (r txRepo) SumSent(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var sum int64
	err := r.tx.QueryRowContext(ctx, `
		select coalesce(sum(amount_with_fee),0) from transactions
		where sender_id=$1 and status=$2 and transaction_date >= $3 and transaction_date < $4
	`, userID, string(ledger.StatusCommitted), from, to).Scan(&sum)
	if err != nil {
		return 0, mapErr(err, "sum sent")
	}
	return sum, nil
}

func (r txRepo) SumFees(ctx context.Context) (int64, error) {
	var sum int64
	err := r.tx.QueryRowContext(ctx, `
		select coalesce(sum(amount_with_fee - amount),0) from transactions where status=$1
	`, string(ledger.StatusCommitted)).Scan(&sum)
	if err != nil {
		return 0, mapErr(err, "sum fees")
	}
	return sum, nil
}

func (r txRepo) ListByUser(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	rows, err := r.tx.QueryContext(ctx, `
		select `+txColumns+` from transactions
		where sender_id=$1 or receiver_id=$1
		order by sequence desc
	`, userID)
	if err != nil {
		return nil, mapErr(err, "list transactions")
	}
	defer rows.Close()
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapErr(err, "scan transaction")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type feeRepo struct{ tx *sql.Tx }

func (r feeRepo) Create(ctx context.Context, fee *ledger.Fee) error {
	_, err := r.tx.ExecContext(ctx, `insert into transaction_fees(id, percentage, effective_date) values ($1,$2,$3)`,
		fee.ID, fee.Percentage, fee.EffectiveDate)
	if err != nil {
		return mapErr(err, "insert fee")
	}
	return nil
}

func (r feeRepo) scanOne(ctx context.Context, query string, arg any) (ledger.Fee, error) {
	var f ledger.Fee
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(&f.ID, &f.Percentage, &f.EffectiveDate)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Fee{}, notFound("transaction fee not found")
	}
	if err != nil {
		return ledger.Fee{}, mapErr(err, "select fee")
	}
	f.EffectiveDate = f.EffectiveDate.UTC()
	return f, nil
}

func (r feeRepo) Find(ctx context.Context, id string) (ledger.Fee, error) {
	return r.scanOne(ctx, `select id, percentage, effective_date from transaction_fees where id=$1`, id)
}

func (r feeRepo) Active(ctx context.Context, at time.Time) (ledger.Fee, error) {
	return r.scanOne(ctx, `
		select id, percentage, effective_date from transaction_fees
		where effective_date <= $1
		order by effective_date desc, id desc
		limit 1
	`, at)
}

func (r feeRepo) SetPercentage(ctx context.Context, id string, percentage int64) error {
	res, err := r.tx.ExecContext(ctx, `update transaction_fees set percentage=$2 where id=$1`, id, percentage)
	return affected(res, err, "update fee", notFound("transaction fee not found with ID: %s", id))
}

func (r feeRepo) Delete(ctx context.Context, id string) error {
	res, err := r.tx.ExecContext(ctx, `delete from transaction_fees where id=$1`, id)
	return affected(res, err, "delete fee", notFound("transaction fee not found with ID: %s", id))
}

func (r feeRepo) List(ctx context.Context) ([]ledger.Fee, error) {
	rows, err := r.tx.QueryContext(ctx, `
		select id, percentage, effective_date from transaction_fees order by effective_date desc, id desc
	`)
	if err != nil {
		return nil, mapErr(err, "list fees")
	}
	defer rows.Close()
	var out []ledger.Fee
	for rows.Next() {
		var f ledger.Fee
		if err := rows.Scan(&f.ID, &f.Percentage, &f.EffectiveDate); err != nil {
			return nil, mapErr(err, "scan fee")
		}
		f.EffectiveDate = f.EffectiveDate.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

type revenueRepo struct{ tx *sql.Tx }

func (r revenueRepo) Insert(ctx context.Context, e *ledger.MonetizationEntry) error {
	_, err := r.tx.ExecContext(ctx, `insert into monetization(id, transaction_id, result) values ($1,$2,$3)`,
		e.ID, e.TransactionID, e.Result)
	if err != nil {
		return mapErr(err, "insert monetization")
	}
	return nil
}

func (r revenueRepo) FindByTransaction(ctx context.Context, txID string) (ledger.MonetizationEntry, error) {
	var e ledger.MonetizationEntry
	err := r.tx.QueryRowContext(ctx, `
		select id, transaction_id, result from monetization where transaction_id=$1
	`, txID).Scan(&e.ID, &e.TransactionID, &e.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.MonetizationEntry{}, notFound("monetization not found for transaction ID: %s", txID)
	}
	if err != nil {
		return ledger.MonetizationEntry{}, mapErr(err, "select monetization")
	}
	return e, nil
}

func (r revenueRepo) DeleteByTransaction(ctx context.Context, txID string) error {
	res, err := r.tx.ExecContext(ctx, `delete from monetization where transaction_id=$1`, txID)
	return affected(res, err, "delete monetization", notFound("monetization not found for transaction ID: %s", txID))
}

func (r revenueRepo) Total(ctx context.Context) (int64, error) {
	var sum int64
	if err := r.tx.QueryRowContext(ctx, `select coalesce(sum(result),0) from monetization`).Scan(&sum); err != nil {
		return 0, mapErr(err, "sum monetization")
	}
	return sum, nil
}

type relationRepo struct{ tx *sql.Tx }

func (r relationRepo) Exists(ctx context.Context, userID, relatedUserID string) (bool, error) {
	var ok bool
	err := r.tx.QueryRowContext(ctx, `
		select exists(select 1 from user_relation where user_id=$1 and related_user_id=$2)
	`, userID, relatedUserID).Scan(&ok)
	if err != nil {
		return false, mapErr(err, "select relation")
	}
	return ok, nil
}

func (r relationRepo) Insert(ctx context.Context, rel ledger.Relation) error {
	_, err := r.tx.ExecContext(ctx, `
		insert into user_relation(user_id, related_user_id, active, created_at) values ($1,$2,$3,$4)
	`, rel.UserID, rel.RelatedUserID, rel.Active, rel.CreatedAt)
	if err != nil {
		return mapErr(err, "insert relation")
	}
	return nil
}

func (r relationRepo) Delete(ctx context.Context, userID, relatedUserID string) error {
	res, err := r.tx.ExecContext(ctx, `delete from user_relation where user_id=$1 and related_user_id=$2`, userID, relatedUserID)
	return affected(res, err, "delete relation", notFound("relation not found"))
}

func (r relationRepo) ListFrom(ctx context.Context, userID string) ([]ledger.Relation, error) {
	rows, err := r.tx.QueryContext(ctx, `
		select user_id, related_user_id, active, created_at from user_relation
		where user_id=$1 order by created_at, related_user_id
	`, userID)
	if err != nil {
		return nil, mapErr(err, "list relations")
	}
	defer rows.Close()
	var out []ledger.Relation
	for rows.Next() {
		var rel ledger.Relation
		if err := rows.Scan(&rel.UserID, &rel.RelatedUserID, &rel.Active, &rel.CreatedAt); err != nil {
			return nil, mapErr(err, "scan relation")
		}
		rel.CreatedAt = rel.CreatedAt.UTC()
		out = append(out, rel)
	}
	return out, rows.Err()
}

type bankRepo struct{ tx *sql.Tx }

const bankColumns = `id, user_id, external_number, balance, active, created_at, last_transfer`

func scanBank(row rowScanner) (ledger.BankAccount, error) {
	var (
		b    ledger.BankAccount
		last sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.ExternalNumber, &b.Balance, &b.Active, &b.CreatedAt, &last); err != nil {
		return ledger.BankAccount{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.LastTransfer = timePtr(last)
	return b, nil
}

func (r bankRepo) Create(ctx context.Context, b *ledger.BankAccount) error {
	_, err := r.tx.ExecContext(ctx, `
		insert into bank_accounts(id, user_id, external_number, balance, active, created_at, last_transfer)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, b.ID, b.UserID, b.ExternalNumber, b.Balance, b.Active, b.CreatedAt, nullTime(b.LastTransfer))
	if err != nil {
		return mapErr(err, "insert bank account")
	}
	return nil
}

func (r bankRepo) Find(ctx context.Context, id string) (ledger.BankAccount, error) {
	b, err := scanBank(r.tx.QueryRowContext(ctx, `select `+bankColumns+` from bank_accounts where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.BankAccount{}, notFound("bank account not found with ID: %s", id)
	}
	if err != nil {
		return ledger.BankAccount{}, mapErr(err, "select bank account")
	}
	return b, nil
}

func (r bankRepo) ListByUser(ctx context.Context, userID string) ([]ledger.BankAccount, error) {
	rows, err := r.tx.QueryContext(ctx, `select `+bankColumns+` from bank_accounts where user_id=$1 order by id`, userID)
	if err != nil {
		return nil, mapErr(err, "list bank accounts")
	}
	defer rows.Close()
	var out []ledger.BankAccount
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, mapErr(err, "scan bank account")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r bankRepo) Adjust(ctx context.Context, id string, delta int64, at time.Time) (ledger.BankAccount, error) {
	b, err := scanBank(r.tx.QueryRowContext(ctx, `
		update bank_accounts set balance = balance + $2, last_transfer = $3
		where id=$1 and balance + $2 >= 0
		returning `+bankColumns, id, delta, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.Find(ctx, id); err != nil {
			return ledger.BankAccount{}, err
		}
		return ledger.BankAccount{}, ledger.NewError(ledger.ErrInvalidBalance, "insufficient balance in bank account with ID: %s", id)
	}
	if err != nil {
		return ledger.BankAccount{}, mapErr(err, "update bank account")
	}
	return b, nil
}

func (r bankRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.tx.ExecContext(ctx, `update bank_accounts set active=$2 where id=$1`, id, active)
	return affected(res, err, "update bank account", notFound("bank account not found with ID: %s", id))
}
