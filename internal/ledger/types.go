package ledger

import (
	"time"
)

// RoleName is the closed set of roles a user can hold.
type RoleName string

const (
	RoleUser  RoleName = "USER"
	RoleAdmin RoleName = "ADMIN"
)

// Valid reports whether r is a known role.
func (r RoleName) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Role is a named limit bucket. DailyLimit is in minor units.
type Role struct {
	ID         string   `json:"id"`
	Name       RoleName `json:"name"`
	DailyLimit int64    `json:"daily_limit"`
}

// User is the identity anchor. Every non-deleted user owns exactly one Account.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	RoleID      string    `json:"role_id"`
	CreatedAt   time.Time `json:"created_at"`
	Deleted     bool      `json:"deleted"`
}

// Principal is a user with its role resolved once, at engine entry.
type Principal struct {
	User User `json:"user"`
	Role Role `json:"role"`
}

// Account is the wallet balance of one user, in minor units. Balance is never negative.
type Account struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	LastUpdate time.Time `json:"last_update"`
}

// Relation is a directed "UserID may pay RelatedUserID" edge.
type Relation struct {
	UserID        string    `json:"user_id"`
	RelatedUserID string    `json:"related_user_id"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// RelatedUser is the payee view of a relation.
type RelatedUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Status of a persisted transaction. Pending transactions are never stored.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusCanceled  Status = "canceled"
)

// Transaction is the immutable record of one transfer.
// Amount is what the receiver got, AmountWithFee what the sender paid.
type Transaction struct {
	ID              string     `json:"id"`
	Sequence        uint64     `json:"sequence"`
	SenderID        string     `json:"sender_id"`
	ReceiverID      string     `json:"receiver_id"`
	Description     string     `json:"description"`
	Amount          int64      `json:"amount"`
	AmountWithFee   int64      `json:"amount_with_fee"`
	TransactionDate time.Time  `json:"transaction_date"`
	Status          Status     `json:"status"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
}

// Fee returns the part of AmountWithFee retained by the platform.
func (t Transaction) Fee() int64 { return t.AmountWithFee - t.Amount }

// Fee is a percentage policy. Percentage uses three implied decimals of a
// percent: 100000 is 100%, 5000 is 5.000%.
type Fee struct {
	ID            string    `json:"id"`
	Percentage    int64     `json:"percentage"`
	EffectiveDate time.Time `json:"effective_date"`
}

// MonetizationEntry records the fee collected for one transaction.
type MonetizationEntry struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Result        int64  `json:"result"`
}

// BankAccount is an external bank account linked to a user.
type BankAccount struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ExternalNumber string     `json:"external_number"`
	Balance        int64      `json:"balance"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastTransfer   *time.Time `json:"last_transfer,omitempty"`
}

// Receipt is returned by a successful transfer.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Fee         int64       `json:"fee"`
	Message     string      `json:"message"`
}
