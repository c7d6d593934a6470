package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	RoleAdmin   = "admin"
	RoleEditor  = "editor"
	RoleStudent = "student"
)

const MinPasswordLength = 8

type Service struct {
	db                *sql.DB
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	now               func() time.Time

	mu        sync.Mutex
	guards    map[string]*loginGuard
	nextSweep time.Time
}

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
}

type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
}

type loginGuard struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		now:               time.Now,
		guards:            make(map[string]*loginGuard),
	}
}

// AuthenticatePassword checks a username or e-mail against the stored bcrypt
// hash. Students cannot sign in to the admin service.
func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	guardKey := strings.ToLower(identifier)
	if s.isLocked(guardKey) {
		return nil, ErrRateLimited
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, password_hash
		FROM users
		WHERE username = $1 OR LOWER(email) = LOWER($1)
		LIMIT 1
	`, identifier)

	var u User
	var email sql.NullString
	var active bool
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &active, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.registerFailure(guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		s.registerFailure(guardKey)
		return nil, ErrInvalidCredentials
	}
	if !active || u.Role == RoleStudent {
		return nil, ErrForbidden
	}

	s.clearGuard(guardKey)
	_, _ = s.db.ExecContext(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, u.ID)
	return &u, nil
}

// EnsureAdmin creates the admin account on an empty install. An existing
// account with the same username is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(password) < MinPasswordLength {
		return false, fmt.Errorf("%w: admin username and a password of at least %d characters are required", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, 'Administrator', 'admin', TRUE, now(), now())
		ON CONFLICT (username) DO NOTHING
	`, username, hash)
	if err != nil {
		return false, fmt.Errorf("insert admin: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("auth: bootstrap admin %q created", username)
	}
	return n > 0, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := s.now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		  AND u.is_active = TRUE
		LIMIT 1
	`, hashToken(token))

	var u User
	var email sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeUserSessions ends every open session of a user, e.g. after a
// deactivation or password reset.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE user_id = $1
		  AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *Service) isLocked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[key]
	return ok && s.now().Before(g.lockedUntil)
}

// registerFailure counts a failed login. Failures older than the lock
// duration are forgotten, and idle guards are dropped once per lock duration.
func (s *Service) registerFailure(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.After(s.nextSweep) {
		for k, g := range s.guards {
			if s.guardExpired(g, now) {
				delete(s.guards, k)
			}
		}
		s.nextSweep = now.Add(s.loginLockDuration)
	}

	g, ok := s.guards[key]
	if !ok || s.guardExpired(g, now) {
		g = &loginGuard{}
		s.guards[key] = g
	}
	g.failures++
	g.lastFailure = now
	if g.failures >= s.loginMaxFailures {
		g.failures = 0
		g.lockedUntil = now.Add(s.loginLockDuration)
		log.Printf("auth: login locked for %q until %s", key, g.lockedUntil.Format(time.RFC3339))
	}
}

func (s *Service) guardExpired(g *loginGuard, now time.Time) bool {
	return !now.Before(g.lockedUntil) && now.Sub(g.lastFailure) >= s.loginLockDuration
}

func (s *Service) guardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guards)
}

func (s *Service) clearGuard(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guards, key)
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
