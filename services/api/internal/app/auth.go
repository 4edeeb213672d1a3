package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore/internal/util"
	"bookstore/pkg/auth"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

const refreshTokenBytes = 32

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Email     string         `json:"email"`
	Username  string         `json:"username"`
	Password  string         `json:"password"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Phone     string         `json:"phone"`
	Address   domain.Address `json:"address"`
}

// Session is the token pair handed to a signed-in user.
type Session struct {
	User             domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Register creates an account and signs it in. The very first account becomes Admin.
func (a *App) Register(ctx context.Context, in RegisterInput) (Session, error) {
	uow := a.begin()
	defer uow.Close()
	user, err := insertUser(ctx, uow, in, "", a.now())
	if err != nil {
		return Session{}, err
	}
	return a.startSession(ctx, uow, user)
}

// CreateAdmin commits a new Admin account through uow without signing it in.
func CreateAdmin(ctx context.Context, uow *store.UnitOfWork, in RegisterInput) (domain.User, error) {
	user, err := insertUser(ctx, uow, in, domain.RoleAdmin, time.Now().UTC())
	if err != nil {
		return domain.User{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// insertUser validates in and stages the new account. An empty roleName picks
// Admin for the first account and Customer afterwards.
func insertUser(ctx context.Context, uow *store.UnitOfWork, in RegisterInput, roleName string, now time.Time) (domain.User, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if email == "" || username == "" || in.Password == "" {
		return domain.User{}, fmt.Errorf("%w: email, username and password are required", ErrInvalidInput)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, err
	}

	users := uow.Users()
	if n, err := users.Count(ctx, store.Where("email = ?", email)); err != nil {
		return domain.User{}, err
	} else if n > 0 {
		return domain.User{}, ErrEmailTaken
	}
	if n, err := users.Count(ctx, store.Where("username = ?", username)); err != nil {
		return domain.User{}, err
	} else if n > 0 {
		return domain.User{}, ErrUsernameTaken
	}
	if roleName == "" {
		total, err := users.Count(ctx)
		if err != nil {
			return domain.User{}, err
		}
		roleName = domain.RoleCustomer
		if total == 0 {
			roleName = domain.RoleAdmin
		}
	}
	role, err := roleByName(ctx, uow, roleName)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		Address:      in.Address,
		PasswordHash: hash,
		RoleID:       role.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Insert(&user); err != nil {
		return domain.User{}, err
	}
	user.Role = &role
	return user, nil
}

// Login accepts either the email address or the username.
func (a *App) Login(ctx context.Context, login, password string) (Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	uow := a.begin()
	defer uow.Close()
	matches, err := uow.Users().Get(ctx,
		store.Where("(email = ? OR username = ?) AND is_deleted = ?", normalizeEmail(login), login, false),
		store.Include("Role"),
	)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if len(matches) == 0 {
		return Session{}, ErrInvalidCredentials
	}
	user := matches[0]
	if !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	return a.startSession(ctx, uow, user)
}

// Refresh rotates a refresh token. When accessToken is given, possibly expired,
// it must belong to the same user.
func (a *App) Refresh(ctx context.Context, refreshToken, accessToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrRefreshTokenRequired
	}
	userID := ""
	if accessToken = strings.TrimSpace(accessToken); accessToken != "" {
		claims, err := a.signer.ParseExpired(accessToken)
		if err != nil {
			return Session{}, ErrInvalidRefreshToken
		}
		userID = claims.Subject
	}

	uow := a.begin()
	defer uow.Close()
	record, err := a.validateRefreshToken(ctx, uow, userID, refreshToken)
	if err != nil {
		return Session{}, err
	}
	user, ok, err := uow.Users().GetByID(ctx, record.UserID, "Role")
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if err := uow.RefreshTokens().Delete(&record); err != nil {
		return Session{}, err
	}
	if !ok || user.IsDeleted {
		if _, err := uow.Save(ctx); err != nil {
			return Session{}, fmt.Errorf("drop refresh token: %w", err)
		}
		return Session{}, ErrInvalidRefreshToken
	}
	return a.startSession(ctx, uow, user)
}

// ValidateRefreshToken checks that token exists, has not expired and, when userID
// is set, belongs to that user.
func (a *App) ValidateRefreshToken(ctx context.Context, userID, token string) (domain.RefreshToken, error) {
	uow := a.begin()
	defer uow.Close()
	return a.validateRefreshToken(ctx, uow, userID, token)
}

func (a *App) validateRefreshToken(ctx context.Context, uow *store.UnitOfWork, userID, token string) (domain.RefreshToken, error) {
	records, err := uow.RefreshTokens().Get(ctx, store.Where("token_hash = ?", hashToken(token)))
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("fetch refresh token: %w", err)
	}
	if len(records) == 0 {
		return domain.RefreshToken{}, ErrInvalidRefreshToken
	}
	record := records[0]
	if record.IsExpired(a.now()) || (userID != "" && record.UserID != userID) {
		return domain.RefreshToken{}, ErrInvalidRefreshToken
	}
	return record, nil
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (a *App) RevokeRefreshToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	uow := a.begin()
	defer uow.Close()
	records, err := uow.RefreshTokens().Get(ctx, store.Where("token_hash = ?", hashToken(token)))
	if err != nil {
		return fmt.Errorf("fetch refresh token: %w", err)
	}
	for i := range records {
		if err := uow.RefreshTokens().Delete(&records[i]); err != nil {
			return err
		}
	}
	if _, err := uow.Save(ctx); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Logout revokes the access token and deletes the refresh token; either may be empty.
func (a *App) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken = strings.TrimSpace(accessToken); accessToken != "" {
		if err := a.signer.Revoke(accessToken); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return a.RevokeRefreshToken(ctx, refreshToken)
}

// Authenticate verifies an access token and loads the live user it names.
// The role comes from the database, not from the token.
func (a *App) Authenticate(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := a.signer.Verify(accessToken)
	if err != nil {
		if errors.Is(err, store.ErrInvalidToken) || errors.Is(err, store.ErrTokenRevoked) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, err
	}
	uow := a.begin()
	defer uow.Close()
	user, ok, err := uow.Users().GetByID(ctx, claims.Subject, "Role")
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || user.IsDeleted {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// startSession stages a fresh refresh token, commits everything staged in uow and
// signs an access token.
func (a *App) startSession(ctx context.Context, uow *store.UnitOfWork, user domain.User) (Session, error) {
	now := a.now()
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshToken := hex.EncodeToString(raw)
	record := domain.RefreshToken{
		ID:        util.NewID(),
		TokenHash: hashToken(refreshToken),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.refreshTTL),
		CreatedAt: now,
	}
	if err := uow.RefreshTokens().Insert(&record); err != nil {
		return Session{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	roleName := ""
	if user.Role != nil {
		roleName = user.Role.Name
	}
	accessToken, claims, err := a.signer.Issue(store.Principal{UserID: user.ID, Username: user.Username, Role: roleName})
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	return Session{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func roleByName(ctx context.Context, uow *store.UnitOfWork, name string) (domain.Role, error) {
	roles, err := uow.Roles().Get(ctx, store.Where("name = ?", name))
	if err != nil {
		return domain.Role{}, err
	}
	if len(roles) == 0 {
		return domain.Role{}, fmt.Errorf("role %s is not seeded", name)
	}
	return roles[0], nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
