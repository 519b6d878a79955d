package ledger

import (
	"context"
	"time"
)

// Store demarcates units of work over the ledger tables.
//
// Atomic runs fn with a UnitOfWork whose writes commit together when fn
// returns nil and are discarded otherwise. Before fn runs, the accounts owned
// by lockUsers are locked (in a deterministic order) for the whole unit, so
// units touching the same account serialize while unrelated accounts proceed
// in parallel. Users without an account have nothing to lock and are skipped;
// callers resolve them inside fn.
type Store interface {
	Atomic(ctx context.Context, lockUsers []string, fn func(ctx context.Context, uow UnitOfWork) error) error
	Ping(ctx context.Context) error
}

// UnitOfWork exposes the repositories bound to one unit.
type UnitOfWork interface {
	Roles() RoleRepo
	Users() UserRepo
	Accounts() AccountRepo
	Transactions() TransactionRepo
	Fees() FeeRepo
	Monetization() MonetizationRepo
	Relations() RelationRepo
	BankAccounts() BankAccountRepo
}

// RoleRepo persists roles. Names are unique.
type RoleRepo interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (Role, error)
	FindByName(ctx context.Context, name RoleName) (Role, error)
	SetDailyLimit(ctx context.Context, id string, limit int64) error
	List(ctx context.Context) ([]Role, error)
}

// UserRepo persists users. Emails are unique. Create also opens the user's
// account with a zero balance; Delete soft-deletes the user and removes the
// account.
type UserRepo interface {
	Create(ctx context.Context, user *User, at time.Time) error
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	SetRole(ctx context.Context, userID, roleID string) error
	// Update stores Email and DisplayName of user.
	Update(ctx context.Context, user User) error
	// List returns users that are not deleted, ordered by email.
	List(ctx context.Context) ([]User, error)
	Delete(ctx context.Context, id string) error
}

// AccountRepo is the only writer of balances.
type AccountRepo interface {
	Get(ctx context.Context, userID string) (Account, error)
	// Adjust applies balance += delta and stamps LastUpdate. It fails with
	// ErrInvalidBalance, leaving the account untouched, if the result is negative.
	Adjust(ctx context.Context, userID string, delta int64, at time.Time) (Account, error)
}

// TransactionRepo persists transfers. Insert assigns Sequence.
type TransactionRepo interface {
	Insert(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	MarkCanceled(ctx context.Context, id string, at time.Time) error
	// SumSent totals AmountWithFee of committed transactions sent by userID
	// with from <= TransactionDate < to.
	SumSent(ctx context.Context, userID string, from, to time.Time) (int64, error)
	// SumFees totals AmountWithFee - Amount of committed transactions.
	SumFees(ctx context.Context) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]Transaction, error)
}

// FeeRepo persists fee policies.
type FeeRepo interface {
	Create(ctx context.Context, fee *Fee) error
	Find(ctx context.Context, id string) (Fee, error)
	// Active returns the fee with the latest EffectiveDate <= at.
	Active(ctx context.Context, at time.Time) (Fee, error)
	SetPercentage(ctx context.Context, id string, percentage int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Fee, error)
}

// MonetizationRepo persists fee revenue, one entry per transaction.
type MonetizationRepo interface {
	Insert(ctx context.Context, entry *MonetizationEntry) error
	FindByTransaction(ctx context.Context, txID string) (MonetizationEntry, error)
	DeleteByTransaction(ctx context.Context, txID string) error
	Total(ctx context.Context) (int64, error)
}

// RelationRepo persists directed relation edges.
type RelationRepo interface {
	Exists(ctx context.Context, userID, relatedUserID string) (bool, error)
	Insert(ctx context.Context, rel Relation) error
	Delete(ctx context.Context, userID, relatedUserID string) error
	ListFrom(ctx context.Context, userID string) ([]Relation, error)
}

// BankAccountRepo persists linked external bank accounts.
type BankAccountRepo interface {
	Create(ctx context.Context, acc *BankAccount) error
	Find(ctx context.Context, id string) (BankAccount, error)
	ListByUser(ctx context.Context, userID string) ([]BankAccount, error)
	Adjust(ctx context.Context, id string, delta int64, at time.Time) (BankAccount, error)
	SetActive(ctx context.Context, id string, active bool) error
}
