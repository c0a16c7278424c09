package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config configures API authentication
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"` // plaintext or bcrypt hash
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// DefaultUsername is the login name when none is configured
const DefaultUsername = "admin"

// Authenticator checks the single operator account and issues API tokens
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates a new authenticator. The configured password may
// be a bcrypt hash; anything else is hashed at startup.
func NewAuthenticator(cfg Config) *Authenticator {
	a := &Authenticator{
		enabled:    cfg.Enabled,
		username:   cfg.Username,
		jwtManager: NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
	}
	if a.username == "" {
		a.username = DefaultUsername
	}
	if !cfg.Enabled {
		return a
	}

	switch {
	case cfg.Password == "":
		log.Printf("[Auth] Authentication enabled without a password; all logins will fail")
	case isBcryptHash(cfg.Password):
		a.passwordHash = []byte(cfg.Password)
	default:
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[Auth] Failed to hash password: %v", err)
			break
		}
		a.passwordHash = hash
	}
	return a
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks the credentials and returns a signed token with its
// expiry as a Unix timestamp
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}
	if a.passwordHash == nil {
		return "", 0, ErrInvalidCredentials
	}

	// Always run bcrypt so an unknown user costs as much as a wrong password
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(a.username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
