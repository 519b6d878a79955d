package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"buddypay.org/internal/ids"
	"buddypay.org/internal/ledger"
)

type unit struct {
	store *Store

	roles     *table[string, ledger.Role]
	users     *table[string, ledger.User]
	accounts  *table[string, ledger.Account]
	txs       *table[string, ledger.Transaction]
	fees      *table[string, ledger.Fee]
	revenue   *table[string, ledger.MonetizationEntry]
	relations *table[relKey, ledger.Relation]
	banks     *table[string, ledger.BankAccount]
}

func (u *unit) Roles() ledger.RoleRepo { return roleRepo{u} }
func (u *unit) Users() ledger.UserRepo { return userRepo{u} }
func (u *unit) Accounts() ledger.AccountRepo { return accountRepo{u} }
func (u *unit) Transactions() ledger.TransactionRepo { return txRepo{u} }
func (u *unit) Fees() ledger.FeeRepo { return feeRepo{u} }
func (u *unit) Monetization() ledger.MonetizationRepo { return revenueRepo{u} }
func (u *unit) Relations() ledger.RelationRepo { return relationRepo{u} }
func (u *unit) BankAccounts() ledger.BankAccountRepo { return bankRepo{u} }

// validate checks the constraints a database would enforce at commit.
// Callers hold the store write lock.
func (u *unit) validate() error {
	if _, ok := u.roles.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "role already exists")
	}
	if _, ok := u.users.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "user already exists")
	}
	if _, ok := u.accounts.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "account already exists")
	}
	if _, ok := u.txs.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "transaction already exists")
	}
	if _, ok := u.fees.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "transaction fee already exists")
	}
	if txID, ok := u.revenue.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "monetization already recorded for transaction ID: %s", txID)
	}
	if _, ok := u.relations.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "relation already exists")
	}
	if _, ok := u.banks.conflicts(); ok {
		return ledger.NewError(ledger.ErrAlreadyExists, "bank account already exists")
	}

	emails := make(map[string]string, len(u.store.users))
	for id, usr := range u.store.users {
		if c, ok := u.users.staged[id]; ok {
			if c.deleted {
				continue
			}
			usr = c.val
		}
		emails[usr.Email] = id
	}
	for id, c := range u.users.staged {
		if c.deleted {
			continue
		}
		if other, ok := emails[c.val.Email]; ok && other != id {
			return ledger.NewError(ledger.ErrAlreadyExists, "a user with email %s already exists", c.val.Email)
		}
		emails[c.val.Email] = id
	}

	names := make(map[ledger.RoleName]string, len(u.store.roles))
	for id, r := range u.store.roles {
		if c, ok := u.roles.staged[id]; ok {
			if c.deleted {
				continue
			}
			r = c.val
		}
		names[r.Name] = id
	}
	for id, c := range u.roles.staged {
		if c.deleted {
			continue
		}
		if other, ok := names[c.val.Name]; ok && other != id {
			return ledger.NewError(ledger.ErrAlreadyExists, "role %s already exists", c.val.Name)
		}
		names[c.val.Name] = id
	}
	return nil
}

type roleRepo struct{ u *unit }

func (r roleRepo) Create(_ context.Context, role *ledger.Role) error {
	for _, existing := range r.u.roles.rows() {
		if existing.Name == role.Name {
			return ledger.NewError(ledger.ErrAlreadyExists, "role %s already exists", role.Name)
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	if !r.u.roles.insert(role.ID, *role) {
		return ledger.NewError(ledger.ErrAlreadyExists, "role already exists")
	}
	return nil
}

func (r roleRepo) Find(_ context.Context, id string) (ledger.Role, error) {
	role, ok := r.u.roles.get(id)
	if !ok {
		return ledger.Role{}, ledger.NewError(ledger.ErrNotFound, "role not found with ID: %s", id)
	}
	return role, nil
}

func (r roleRepo) FindByName(_ context.Context, name ledger.RoleName) (ledger.Role, error) {
	for _, role := range r.u.roles.rows() {
		if role.Name == name {
			return role, nil
		}
	}
	return ledger.Role{}, ledger.NewError(ledger.ErrNotFound, "role not found: %s", name)
}

func (r roleRepo) SetDailyLimit(ctx context.Context, id string, limit int64) error {
	role, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	role.DailyLimit = limit
	r.u.roles.put(id, role)
	return nil
}

func (r roleRepo) List(context.Context) ([]ledger.Role, error) {
	roles := r.u.roles.rows()
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

type userRepo struct{ u *unit }

func (r userRepo) Create(ctx context.Context, user *ledger.User, at time.Time) error {
	if _, err := r.FindByEmail(ctx, user.Email); err == nil {
		return ledger.NewError(ledger.ErrAlreadyExists, "a user with email %s already exists", user.Email)
	}
	if user.ID == "" {
		user.ID = ids.NewAt(at)
	}
	if !r.u.users.insert(user.ID, *user) {
		return ledger.NewError(ledger.ErrAlreadyExists, "user already exists")
	}
	acc := ledger.Account{ID: ids.NewAt(at), UserID: user.ID, CreatedAt: at, LastUpdate: at}
	if !r.u.accounts.insert(user.ID, acc) {
		return ledger.NewError(ledger.ErrAlreadyExists, "account already exists for user with ID: %s", user.ID)
	}
	return nil
}

func (r userRepo) Find(_ context.Context, id string) (ledger.User, error) {
	user, ok := r.u.users.get(id)
	if !ok {
		return ledger.User{}, ledger.NewError(ledger.ErrNotFound, "user not found with ID: %s", id)
	}
	return user, nil
}

func (r userRepo) FindByEmail(_ context.Context, email string) (ledger.User, error) {
	for _, user := range r.u.users.rows() {
		if user.Email == email {
			return user, nil
		}
	}
	return ledger.User{}, ledger.NewError(ledger.ErrNotFound, "user with email not found: %s", email)
}

func (r userRepo) SetRole(ctx context.Context, userID, roleID string) error {
	user, err := r.Find(ctx, userID)
	if err != nil {
		return err
	}
	user.RoleID = roleID
	r.u.users.put(userID, user)
	return nil
}

func (r userRepo) Update(ctx context.Context, user ledger.User) error {
	cur, err := r.Find(ctx, user.ID)
	if err != nil {
		return err
	}
	if other, err := r.FindByEmail(ctx, user.Email); err == nil && other.ID != user.ID {
		return ledger.NewError(ledger.ErrAlreadyExists, "a user with email %s already exists", user.Email)
	}
	cur.Email = user.Email
	cur.DisplayName = user.DisplayName
	r.u.users.put(user.ID, cur)
	return nil
}

func (r userRepo) List(context.Context) ([]ledger.User, error) {
	var out []ledger.User
	for _, user := range r.u.users.rows() {
		if !user.Deleted {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r userRepo) Delete(ctx context.Context, id string) error {
	user, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	user.Deleted = true
	r.u.users.put(id, user)
	r.u.accounts.remove(id)
	return nil
}

type accountRepo struct{ u *unit }

func (r accountRepo) Get(_ context.Context, userID string) (ledger.Account, error) {
	acc, ok := r.u.accounts.get(userID)
	if !ok {
		return ledger.Account{}, ledger.NewError(ledger.ErrNotFound, "account not found for user with ID: %s", userID)
	}
	return acc, nil
}

func (r accountRepo) Adjust(ctx context.Context, userID string, delta int64, at time.Time) (ledger.Account, error) {
	acc, err := r.Get(ctx, userID)
	if err != nil {
		return ledger.Account{}, err
	}
	next, ok := addBalance(acc.Balance, delta)
	if !ok {
		return ledger.Account{}, ledger.NewError(ledger.ErrInvalidBalance, "balance can't be negative for user ID: %s", userID)
	}
	acc.Balance = next
	acc.LastUpdate = at
	r.u.accounts.put(userID, acc)
	return acc, nil
}

type txRepo struct{ u *unit }

func (r txRepo) Insert(_ context.Context, tx *ledger.Transaction) error {
	tx.Sequence = r.u.store.seq.Add(1)
	if !r.u.txs.insert(tx.ID, *tx) {
		return ledger.NewError(ledger.ErrAlreadyExists, "transaction already exists with ID: %s", tx.ID)
	}
	return nil
}

func (r txRepo) Get(_ context.Context, id string) (ledger.Transaction, error) {
	tx, ok := r.u.txs.get(id)
	if !ok {
		return ledger.Transaction{}, ledger.NewError(ledger.ErrNotFound, "transaction not found with ID: %s", id)
	}
	return tx, nil
}

func (r txRepo) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	tx, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	tx.Status = ledger.StatusCanceled
	tx.CanceledAt = &at
	r.u.txs.put(id, tx)
	return nil
}

func (r txRepo) SumSent(_ context.Context, userID string, from, to time.Time) (int64, error) {
	var sum int64
	for _, tx := range r.u.txs.rows() {
		if tx.SenderID != userID || tx.Status != ledger.StatusCommitted {
			continue
		}
		if tx.TransactionDate.Before(from) || !tx.TransactionDate.Before(to) {
			continue
		}
		sum += tx.AmountWithFee
	}
	return sum, nil
}

func (r txRepo) SumFees(context.Context) (int64, error) {
	var sum int64
	for _, tx := range r.u.txs.rows() {
		if tx.Status == ledger.StatusCommitted {
			sum += tx.Fee()
		}
	}
	return sum, nil
}

func (r txRepo) ListByUser(_ context.Context, userID string) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range r.u.txs.rows() {
		if tx.SenderID == userID || tx.ReceiverID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return out, nil
}

type feeRepo struct{ u *unit }

func (r feeRepo) Create(_ context.Context, fee *ledger.Fee) error {
	if fee.ID == "" {
		fee.ID = ids.NewAt(fee.EffectiveDate)
	}
	if !r.u.fees.insert(fee.ID, *fee) {
		return ledger.NewError(ledger.ErrAlreadyExists, "transaction fee already exists with ID: %s", fee.ID)
	}
	return nil
}

func (r feeRepo) Find(_ context.Context, id string) (ledger.Fee, error) {
	fee, ok := r.u.fees.get(id)
	if !ok {
		return ledger.Fee{}, ledger.NewError(ledger.ErrNotFound, "transaction fee not found with ID: %s", id)
	}
	return fee, nil
}

func (r feeRepo) Active(_ context.Context, at time.Time) (ledger.Fee, error) {
	var (
		best  ledger.Fee
		found bool
	)
	for _, fee := range r.u.fees.rows() {
		if fee.EffectiveDate.After(at) {
			continue
		}
		if !found || fee.EffectiveDate.After(best.EffectiveDate) ||
			(fee.EffectiveDate.Equal(best.EffectiveDate) && fee.ID > best.ID) {
			best, found = fee, true
		}
	}
	if !found {
		return ledger.Fee{}, ledger.NewError(ledger.ErrNotFound, "no active transaction fee found")
	}
	return best, nil
}

func (r feeRepo) SetPercentage(ctx context.Context, id string, percentage int64) error {
	fee, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	fee.Percentage = percentage
	r.u.fees.put(id, fee)
	return nil
}

func (r feeRepo) Delete(_ context.Context, id string) error {
	if !r.u.fees.remove(id) {
		return ledger.NewError(ledger.ErrNotFound, "transaction fee not found with ID: %s", id)
	}
	return nil
}

func (r feeRepo) List(context.Context) ([]ledger.Fee, error) {
	fees := r.u.fees.rows()
	sort.Slice(fees, func(i, j int) bool {
		if fees[i].EffectiveDate.Equal(fees[j].EffectiveDate) {
			return fees[i].ID > fees[j].ID
		}
		return fees[i].EffectiveDate.After(fees[j].EffectiveDate)
	})
	return fees, nil
}

type revenueRepo struct{ u *unit }

func (r revenueRepo) Insert(_ context.Context, entry *ledger.MonetizationEntry) error {
	if !r.u.revenue.insert(entry.TransactionID, *entry) {
		return ledger.NewError(ledger.ErrAlreadyExists, "monetization already recorded for transaction ID: %s", entry.TransactionID)
	}
	return nil
}

func (r revenueRepo) FindByTransaction(_ context.Context, txID string) (ledger.MonetizationEntry, error) {
	entry, ok := r.u.revenue.get(txID)
	if !ok {
		return ledger.MonetizationEntry{}, ledger.NewError(ledger.ErrNotFound, "monetization not found for transaction ID: %s", txID)
	}
	return entry, nil
}

func (r revenueRepo) DeleteByTransaction(_ context.Context, txID string) error {
	if !r.u.revenue.remove(txID) {
		return ledger.NewError(ledger.ErrNotFound, "monetization not found for transaction ID: %s", txID)
	}
	return nil
}

func (r revenueRepo) Total(context.Context) (int64, error) {
	var sum int64
	for _, e := range r.u.revenue.rows() {
		sum += e.Result
	}
	return sum, nil
}

type relationRepo struct{ u *unit }

func (r relationRepo) Exists(_ context.Context, userID, relatedUserID string) (bool, error) {
	_, ok := r.u.relations.get(relKey{userID, relatedUserID})
	return ok, nil
}

func (r relationRepo) Insert(_ context.Context, rel ledger.Relation) error {
	if !r.u.relations.insert(relKey{rel.UserID, rel.RelatedUserID}, rel) {
		return ledger.NewError(ledger.ErrAlreadyExists, "relation already exists between user ID: %s and user ID: %s", rel.UserID, rel.RelatedUserID)
	}
	return nil
}

func (r relationRepo) Delete(_ context.Context, userID, relatedUserID string) error {
	if !r.u.relations.remove(relKey{userID, relatedUserID}) {
		return ledger.NewError(ledger.ErrNotFound, "relation not found")
	}
	return nil
}

func (r relationRepo) ListFrom(_ context.Context, userID string) ([]ledger.Relation, error) {
	var out []ledger.Relation
	for _, rel := range r.u.relations.rows() {
		if rel.UserID == userID {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RelatedUserID < out[j].RelatedUserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type bankRepo struct{ u *unit }

func (r bankRepo) Create(_ context.Context, acc *ledger.BankAccount) error {
	if acc.ID == "" {
		acc.ID = ids.NewAt(acc.CreatedAt)
	}
	if !r.u.banks.insert(acc.ID, *acc) {
		return ledger.NewError(ledger.ErrAlreadyExists, "bank account already exists with ID: %s", acc.ID)
	}
	return nil
}

func (r bankRepo) Find(_ context.Context, id string) (ledger.BankAccount, error) {
	acc, ok := r.u.banks.get(id)
	if !ok {
		return ledger.BankAccount{}, ledger.NewError(ledger.ErrNotFound, "bank account not found with ID: %s", id)
	}
	return acc, nil
}

func (r bankRepo) ListByUser(_ context.Context, userID string) ([]ledger.BankAccount, error) {
	var out []ledger.BankAccount
	for _, acc := range r.u.banks.rows() {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r bankRepo) Adjust(ctx context.Context, id string, delta int64, at time.Time) (ledger.BankAccount, error) {
	acc, err := r.Find(ctx, id)
	if err != nil {
		return ledger.BankAccount{}, err
	}
	next, ok := addBalance(acc.Balance, delta)
	if !ok {
		return ledger.BankAccount{}, ledger.NewError(ledger.ErrInvalidBalance, "insufficient balance in bank account with ID: %s", id)
	}
	acc.Balance = next
	acc.LastTransfer = &at
	r.u.banks.put(id, acc)
	return acc, nil
}

func (r bankRepo) SetActive(ctx context.Context, id string, active bool) error {
	acc, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	acc.Active = active
	r.u.banks.put(id, acc)
	return nil
}

// addBalance returns balance+delta, or false when the result is negative or
// does not fit in int64 (bigint in the pg schema).
func addBalance(balance, delta int64) (int64, bool) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, false
	}
	next := balance + delta
	return next, next >= 0
}
