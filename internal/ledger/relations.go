package ledger

import (
	"context"
	"errors"
)

// Relations maintains the can-pay graph between users.
type Relations struct {
	store Store
	settings
}

func NewRelations(store Store, opts ...Option) *Relations {
	return &Relations{store: store, settings: newSettings(opts)}
}

// Exists reports whether the ordered edge (userID -> relatedUserID) exists.
func (r *Relations) Exists(ctx context.Context, userID, relatedUserID string) (bool, error) {
	var ok bool
	err := r.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		ok, err = uow.Relations().Exists(ctx, userID, relatedUserID)
		return err
	})
	return ok, wrapInfra(err, ErrUnavailable, msgUnavailable)
}

// AddMutual makes userID and the user registered under email payees of each
// other. Both edges are created in one unit with the same timestamp.
func (r *Relations) AddMutual(ctx context.Context, userID, email string) (RelatedUser, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return RelatedUser{}, invalidArgument("invalid email format: %s", email)
	}
	var target User
	err := r.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		target, err = findUserByEmail(ctx, uow, email)
		return err
	})
	if err != nil {
		r.log.Warn("relation target not resolved", "user_id", userID, "error", err)
		return RelatedUser{}, wrapInfra(err, ErrUnavailable, msgUnavailable)
	}
	if err := r.AddMutualByID(ctx, userID, target.ID); err != nil {
		return RelatedUser{}, err
	}
	return RelatedUser{ID: target.ID, Email: target.Email, DisplayName: target.DisplayName}, nil
}

// AddMutualByID creates the edges (a -> b) and (b -> a).
func (r *Relations) AddMutualByID(ctx context.Context, a, b string) error {
	if a == b {
		return invalidArgument("you can't add yourself as a relation")
	}
	now := r.clock()
	err := r.store.Atomic(ctx, []string{a, b}, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, a); err != nil {
			return err
		}
		if _, err := findUser(ctx, uow, b); err != nil {
			return err
		}
		for _, pair := range [][2]string{{a, b}, {b, a}} {
			exists, err := uow.Relations().Exists(ctx, pair[0], pair[1])
			if err != nil {
				return err
			}
			if exists {
				return NewError(ErrAlreadyExists, "relation already exists between user ID: %s and user ID: %s", a, b)
			}
		}
		if err := uow.Relations().Insert(ctx, Relation{UserID: a, RelatedUserID: b, Active: true, CreatedAt: now}); err != nil {
			return err
		}
		return uow.Relations().Insert(ctx, Relation{UserID: b, RelatedUserID: a, Active: true, CreatedAt: now})
	})
	if err != nil {
		r.log.Warn("add relation failed", "user_id", a, "related_user_id", b, "error", err)
		return wrapInfra(err, ErrSave, "failed to save the new relation")
	}
	r.log.Info("relation added", "user_id", a, "related_user_id", b)
	return nil
}

// Remove deletes only the (userID -> relatedUserID) edge. The reverse edge stays.
func (r *Relations) Remove(ctx context.Context, userID, relatedUserID string) error {
	err := r.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		err := uow.Relations().Delete(ctx, userID, relatedUserID)
		if errors.Is(err, ErrNotFound) {
			return notFound("relation not found")
		}
		return err
	})
	if err != nil {
		return wrapInfra(err, ErrDelete, "failed to delete the relation")
	}
	r.log.Info("relation removed", "user_id", userID, "related_user_id", relatedUserID)
	return nil
}

// Related lists the live users userID can pay.
func (r *Relations) Related(ctx context.Context, userID string) ([]RelatedUser, error) {
	var out []RelatedUser
	err := r.store.Atomic(ctx, nil, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := findUser(ctx, uow, userID); err != nil {
			return err
		}
		edges, err := uow.Relations().ListFrom(ctx, userID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if !e.Active {
				continue
			}
			u, err := uow.Users().Find(ctx, e.RelatedUserID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if u.Deleted {
				continue
			}
			out = append(out, RelatedUser{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName})
		}
		return nil
	})
	return out, wrapInfra(err, ErrUnavailable, msgUnavailable)
}
