package app

import (
	"context"
	"fmt"
	"strings"

	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

// ProfileInput carries the fields a user may change about themselves.
// An empty Email keeps the current address.
type ProfileInput struct {
	Email     string         `json:"email"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Phone     string         `json:"phone"`
	Address   domain.Address `json:"address"`
}

// UpdateProfile overwrites the caller's profile fields.
func (a *App) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (domain.User, error) {
	uow := a.begin()
	defer uow.Close()
	user, err := liveUser(ctx, uow, userID, "Role")
	if err != nil {
		return domain.User{}, err
	}
	if email := normalizeEmail(in.Email); email != "" && email != user.Email {
		taken, err := uow.Users().Count(ctx, store.Where("email = ? AND id <> ?", email, user.ID))
		if err != nil {
			return domain.User{}, err
		}
		if taken > 0 {
			return domain.User{}, ErrEmailTaken
		}
		user.Email = email
	}
	user.FirstName = strings.TrimSpace(in.FirstName)
	user.LastName = strings.TrimSpace(in.LastName)
	user.Phone = strings.TrimSpace(in.Phone)
	user.Address = in.Address
	user.UpdatedAt = a.now()
	if err := uow.Users().Update(&user); err != nil {
		return domain.User{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.User{}, fmt.Errorf("save profile: %w", err)
	}
	return user, nil
}

// ListUsers pages through live accounts matching keyword on email, username or name.
func (a *App) ListUsers(ctx context.Context, keyword string, page, pageSize int) (store.PageResult[domain.User], error) {
	opts := []store.QueryOption{
		store.Where("is_deleted = ?", false),
		store.Include("Role"),
		store.OrderBy("created_at DESC"),
	}
	if strings.TrimSpace(keyword) != "" {
		p := likePattern(keyword)
		opts = append(opts, store.Where(
			"(LOWER(email) LIKE ? OR LOWER(username) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)",
			p, p, p, p,
		))
	}
	uow := a.begin()
	defer uow.Close()
	return uow.Users().GetPage(ctx, page, pageSize, opts...)
}

// DeleteUser flags an account deleted, drops its refresh tokens and rejects every
// access token issued to it so far.
func (a *App) DeleteUser(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}
	uow := a.begin()
	defer uow.Close()
	user, err := liveUser(ctx, uow, id)
	if err != nil {
		return err
	}
	now := a.now()
	user.IsDeleted = true
	user.UpdatedAt = now
	if err := uow.Users().Update(&user); err != nil {
		return err
	}
	tokens, err := uow.RefreshTokens().Get(ctx, store.Where("user_id = ?", id))
	if err != nil {
		return err
	}
	for i := range tokens {
		if err := uow.RefreshTokens().Delete(&tokens[i]); err != nil {
			return err
		}
	}
	if _, err := uow.Save(ctx); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := a.signer.RevokeUser(id, now); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func liveUser(ctx context.Context, uow *store.UnitOfWork, id string, includes ...string) (domain.User, error) {
	user, ok, err := uow.Users().GetByID(ctx, id, includes...)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || user.IsDeleted {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return user, nil
}
