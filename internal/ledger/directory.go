package ledger

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"buddypay.org/internal/ids"
)

// Directory provisions users with their accounts and resolves them into
// principals for the engine.
type Directory struct {
	store Store
	settings
}

func NewDirectory(store Store, opts ...Option) *Directory {
	return &Directory{store: store, settings: newSettings(opts)}
}

// EnsureRole creates the role if no role with that name exists and returns it.
func (d *Directory) EnsureRole(ctx context.Context, name RoleName, dailyLimit int64) (Role, error) {
	if !name.Valid() {
		return Role{}, invalidArgument("unknown role: %s", name)
	}
	if dailyLimit <= 0 {
		return Role{}, invalidArgument("daily limit must be a positive value")
	}
	var role Role
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		existing, err := uow.Roles().FindByName(ctx, name)
		if err == nil {
			role = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		role = Role{ID: ids.New(), Name: name, DailyLimit: dailyLimit}
		return uow.Roles().Create(ctx, &role)
	})
	if err != nil {
		return Role{}, wrapInfra(err, ErrSave, "failed to save role")
	}
	return role, nil
}

// Roles lists all roles.
func (d *Directory) Roles(ctx context.Context) ([]Role, error) {
	var roles []Role
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		roles, err = uow.Roles().List(ctx)
		return err
	})
	return roles, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// SetRoleDailyLimit changes the limit applied to future transactions of
// every user holding the role.
func (d *Directory) SetRoleDailyLimit(ctx context.Context, name RoleName, limit int64) (Role, error) {
	if limit <= 0 {
		return Role{}, invalidArgument("daily limit must be a positive value")
	}
	var role Role
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		role, err = uow.Roles().FindByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return notFound("role not found: %s", name)
		}
		if err != nil {
			return err
		}
		if err := uow.Roles().SetDailyLimit(ctx, role.ID, limit); err != nil {
			return err
		}
		role.DailyLimit = limit
		return nil
	})
	if err != nil {
		return Role{}, wrapInfra(err, ErrSave, "error while updating the daily limit for role: "+string(name))
	}
	d.log.Info("role daily limit updated", "role", name, "daily_limit", limit)
	return role, nil
}

// RegisterUser creates a user holding role together with its empty account.
func (d *Directory) RegisterUser(ctx context.Context, email, displayName string, role RoleName) (User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return User{}, invalidArgument("invalid email format: %s", email)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return User{}, invalidArgument("display name is required")
	}
	now := d.clock()
	var user User
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		r, err := uow.Roles().FindByName(ctx, role)
		if errors.Is(err, ErrNotFound) {
			return notFound("role not found: %s", role)
		}
		if err != nil {
			return err
		}
		user = User{
			ID:          ids.NewAt(now),
			Email:       email,
			DisplayName: displayName,
			RoleID:      r.ID,
			CreatedAt:   now,
		}
		return uow.Users().Create(ctx, &user, now)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return User{}, NewError(ErrAlreadyExists, "a user with email %s already exists", email)
	}
	if err != nil {
		return User{}, wrapInfra(err, ErrSave, "failed to save user")
	}
	d.log.Info("user registered", "user_id", user.ID, "role", role)
	return user, nil
}

// User returns a user by id.
func (d *Directory) User(ctx context.Context, id string) (User, error) {
	var user User
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		user, err = findUser(ctx, uow, id)
		return err
	})
	return user, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// UserByEmail resolves an email to a live user.
func (d *Directory) UserByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	var user User
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		user, err = findUserByEmail(ctx, uow, email)
		return err
	})
	return user, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// Principal resolves a user and its role.
func (d *Directory) Principal(ctx context.Context, id string) (Principal, error) {
	var p Principal
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		p, err = resolvePrincipal(ctx, uow, id)
		return err
	})
	return p, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// ChangeRole moves a user to another role. Past transactions are unaffected.
func (d *Directory) ChangeRole(ctx context.Context, userID string, role RoleName) (Principal, error) {
	var p Principal
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		r, err := uow.Roles().FindByName(ctx, role)
		if errors.Is(err, ErrNotFound) {
			return notFound("role not found: %s", role)
		}
		if err != nil {
			return err
		}
		if _, err := findUser(ctx, uow, userID); err != nil {
			return err
		}
		if err := uow.Users().SetRole(ctx, userID, r.ID); err != nil {
			return err
		}
		p, err = resolvePrincipal(ctx, uow, userID)
		return err
	})
	if err != nil {
		return Principal{}, wrapInfra(err, ErrSave, "failed to update user role")
	}
	return p, nil
}

// UpdateUser changes the email and display name of a user. Blank values keep
// the current ones.
func (d *Directory) UpdateUser(ctx context.Context, id, email, displayName string) (User, error) {
	email = normalizeEmail(email)
	if email != "" && !validEmail(email) {
		return User{}, invalidArgument("invalid email format: %s", email)
	}
	displayName = strings.TrimSpace(displayName)
	var user User
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		user, err = findUser(ctx, uow, id)
		if err != nil {
			return err
		}
		if email != "" && email != user.Email {
			if _, err := uow.Users().FindByEmail(ctx, email); err == nil {
				return NewError(ErrAlreadyExists, "a user with email %s already exists", email)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			user.Email = email
		}
		if displayName != "" {
			user.DisplayName = displayName
		}
		return uow.Users().Update(ctx, user)
	})
	if err != nil {
		return User{}, wrapInfra(err, ErrSave, "failed to update user")
	}
	d.log.Info("user updated", "user_id", id)
	return user, nil
}

// Users lists live users ordered by email.
func (d *Directory) Users(ctx context.Context) ([]User, error) {
	var users []User
	err := d.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		users, err = uow.Users().List(ctx)
		return err
	})
	return users, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// DeleteUser soft-deletes a user and removes its account.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	err := d.store.Atomic(ctx, []string{id}, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, id); err != nil {
			return err
		}
		return uow.Users().Delete(ctx, id)
	})
	if err != nil {
		return wrapInfra(err, ErrDelete, "failed to delete user with ID: "+id)
	}
	d.log.Info("user deleted", "user_id", id)
	return nil
}

func findUser(ctx context.Context, uow UnitOfWork, id string) (User, error) {
	user, err := uow.Users().Find(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && user.Deleted) {
		return User{}, notFound("user not found with ID: %s", id)
	}
	return user, err
}

func findUserByEmail(ctx context.Context, uow UnitOfWork, email string) (User, error) {
	user, err := uow.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) || (err == nil && user.Deleted) {
		return User{}, notFound("user with email not found: %s", email)
	}
	return user, err
}

func resolvePrincipal(ctx context.Context, uow UnitOfWork, id string) (Principal, error) {
	user, err := findUser(ctx, uow, id)
	if err != nil {
		return Principal{}, err
	}
	role, err := uow.Roles().Find(ctx, user.RoleID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, notFound("role not found with ID: %s", user.RoleID)
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Role: role}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}
