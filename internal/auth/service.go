package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"backend-locshare/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL    = 15 * time.Minute
	refreshTokenTTL   = 7 * 24 * time.Hour
	profileWriteTTL   = 10 * time.Second
	minPasswordLength = 6

	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	ErrInvalidRegistration = errors.New("fill in every field correctly (password min. 6 characters)")
	ErrEmailInUse          = errors.New("email already in use")
	ErrCreateFailed        = errors.New("could not create the account, try again")
	ErrUserNotFound        = errors.New("user does not exist")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRecentLoginRequired = errors.New("this operation is sensitive, sign in again")
	ErrWeakPassword        = errors.New("password must be at least 6 characters")
	ErrInvalidRefreshToken = errors.New("refresh token invalid")
)

var (
	signTokenFn = func(token *jwt.Token, key []byte) (string, error) {
		return token.SignedString(key)
	}
	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims
)

// ProfileWriter stores the descriptive profile created at registration.
type ProfileWriter interface {
	CreateProfile(ctx context.Context, uid, name, email, phone string) error
}

type Service struct {
	secret      []byte
	db          db.Querier
	profiles    ProfileWriter
	recentLogin time.Duration
	log         *slog.Logger

	mu        sync.Mutex
	onSignOut []func(uid string)
	pending   sync.WaitGroup
}

// Claims carries auth_time, the moment the user last proved their password.
// Refreshing copies it unchanged, so it never moves forward without a login.
type Claims struct {
	UserID    string           `json:"user_id"`
	TokenType string           `json:"typ"`
	AuthTime  *jwt.NumericDate `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

func NewService(secret string, db db.Querier, profiles ProfileWriter, recentLogin time.Duration) *Service {
	if recentLogin <= 0 {
		recentLogin = 5 * time.Minute
	}
	return &Service{
		secret:      []byte(secret),
		db:          db,
		profiles:    profiles,
		recentLogin: recentLogin,
		log:         slog.Default().With("component", "auth"),
	}
}

// OnSignOut registers a hook run after a user signs out, used to release
// per-user state-holders.
func (s *Service) OnSignOut(fn func(uid string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignOut = append(s.onSignOut, fn)
}

// Register creates the account, then writes the profile in the background
// without waiting for it. The account stays valid if that write fails.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Account, TokenResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Phone == "" || req.Email == "" || len(req.Password) < minPasswordLength {
		return Account{}, TokenResponse{}, ErrInvalidRegistration
	}

	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("hash password failed", "error", err)
		return Account{}, TokenResponse{}, ErrCreateFailed
	}

	account := Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash)
		VALUES ($1,$2,$3)
		RETURNING created_at, updated_at
	`, account.ID, account.Email, account.PasswordHash)
	if err := row.Scan(&account.CreatedAt, &account.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return Account{}, TokenResponse{}, ErrEmailInUse
		}
		s.log.Error("create account failed", "email", account.Email, "error", err)
		return Account{}, TokenResponse{}, ErrCreateFailed
	}

	s.writeProfile(account.ID, req.Name, account.Email, req.Phone)

	tokens, err := s.GenerateTokens(ctx, account.ID)
	if err != nil {
		s.log.Error("issue tokens failed", "user_id", account.ID, "error", err)
		return Account{}, TokenResponse{}, ErrCreateFailed
	}
	s.log.Info("account created", "user_id", account.ID)
	return account, tokens, nil
}

func (s *Service) writeProfile(uid, name, email, phone string) {
	if s.profiles == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), profileWriteTTL)
		defer cancel()
		if err := s.profiles.CreateProfile(ctx, uid, name, email, phone); err != nil {
			s.log.Warn("profile write after registration failed", "user_id", uid, "error", err)
		}
	}()
}

// Wait blocks until background profile writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (Account, TokenResponse, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, strings.TrimSpace(req.Email))

	var account Account
	if err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, TokenResponse{}, ErrUserNotFound
		}
		return Account{}, TokenResponse{}, fmt.Errorf("unexpected error: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return Account{}, TokenResponse{}, ErrInvalidCredentials
	}

	tokens, err := s.GenerateTokens(ctx, account.ID)
	if err != nil {
		return Account{}, TokenResponse{}, fmt.Errorf("unexpected error: %w", err)
	}
	return account, tokens, nil
}

// Me returns the signed-in account.
func (s *Service) Me(ctx context.Context, uid string) (Account, error) {
	var account Account
	err := s.db.QueryRow(ctx, `
		SELECT id, email, created_at, updated_at
		FROM accounts WHERE id = $1
	`, uid).Scan(&account.ID, &account.Email, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrUserNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) AccountEmail(ctx context.Context, uid string) (string, error) {
	account, err := s.Me(ctx, uid)
	if err != nil {
		return "", err
	}
	return account.Email, nil
}

// ChangePassword requires a password sign-in within the recent-login window.
// authTime is the auth_time claim of the caller's access token. On success
// every refresh token of the user is revoked.
func (s *Service) ChangePassword(ctx context.Context, uid, password string, authTime time.Time) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	if authTime.IsZero() || time.Since(authTime) > s.recentLogin {
		return ErrRecentLoginRequired
	}

	hash, err := hashPasswordFn([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, uid, string(hash))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if err := s.revokeRefreshTokens(ctx, uid); err != nil {
		s.log.Warn("revoke refresh tokens after password change failed", "user_id", uid, "error", err)
	}
	s.log.Info("password changed", "user_id", uid)
	return nil
}

// SignOut revokes the user's refresh tokens and runs the sign-out hooks,
// even when the revocation fails.
func (s *Service) SignOut(ctx context.Context, uid string) error {
	err := s.revokeRefreshTokens(ctx, uid)

	s.mu.Lock()
	hooks := append([]func(string){}, s.onSignOut...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(uid)
	}
	return err
}

// GenerateTokens issues tokens for a password sign-in, so auth_time is now.
func (s *Service) GenerateTokens(ctx context.Context, userID string) (TokenResponse, error) {
	return s.issueTokens(ctx, userID, time.Now())
}

// RefreshTokens exchanges a refresh token for a new pair. The new tokens
// keep the auth_time of the refresh token.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (TokenResponse, error) {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return TokenResponse{}, err
	}
	var authTime time.Time
	if claims.AuthTime != nil {
		authTime = claims.AuthTime.Time
	}
	return s.issueTokens(ctx, claims.UserID, authTime)
}

func (s *Service) issueTokens(ctx context.Context, userID string, authTime time.Time) (TokenResponse, error) {
	access, err := s.signToken(userID, tokenAccess, accessTokenTTL, authTime)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := s.signToken(userID, tokenRefresh, refreshTokenTTL, authTime)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, userID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := s.validateRefresh(ctx, token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *Service) validateRefresh(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	if claims.TokenType != tokenRefresh {
		return nil, ErrInvalidRefreshToken
	}

	userID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || userID != claims.UserID || time.Now().After(expiresAt) {
		return nil, ErrInvalidRefreshToken
	}
	return claims, nil
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	if claims.TokenType != tokenAccess {
		return "", errors.New("token invalid")
	}
	return claims.UserID, nil
}

func (s *Service) signToken(userID, tokenType string, ttl time.Duration, authTime time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	if !authTime.IsZero() {
		claims.AuthTime = jwt.NewNumericDate(authTime)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return signTokenFn(token, s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	return parseClaims(token, s.secret)
}

func parseClaims(token string, secret []byte) (*Claims, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), userID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) revokeRefreshTokens(ctx context.Context, uid string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, uid)
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var userID string
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return userID, expiresAt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
