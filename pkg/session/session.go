// Package session issues and parses the signed login sessions used by the
// web surface. Sessions are HS256 JWTs carrying the user identity.
package session

import (
	"crypto/sha256"
	"errors"
	"time"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/security"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	issuer = "ristosmart"
)

var ErrInvalidSession = errors.New("session: invalid or expired session")

var Module = fx.Module("session",
	fx.Provide(ProvideManager),
)

type Identity struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Manager struct {
	key    []byte
	signer jose.Signer
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: empty secret")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	// HS256 wants a 32 byte key regardless of how the secret was configured
	sum := sha256.Sum256(secret)
	key := sum[:]

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, err
	}

	return &Manager{key: key, signer: signer, ttl: ttl, now: time.Now}, nil
}

func ProvideManager(cfg *config.Config) (*Manager, error) {
	secret := cfg.Session.Secret
	if secret == "" {
		if cfg.AppEnv == "production" {
			return nil, errors.New("session: SESSION.SECRET is required in production")
		}
		generated, err := security.GenerateBase64Secret(32)
		if err != nil {
			return nil, err
		}
		zap.L().Warn("[Session] SESSION.SECRET not set, sessions will not survive a restart")
		secret = generated
	}
	return NewManager([]byte(secret), cfg.Session.TTL)
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) Issue(id Identity) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	std := jwt.Claims{
		Issuer:   issuer,
		Subject:  id.UserID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
	}
	raw, err := jwt.Signed(m.signer).Claims(std).Claims(id).Serialize()
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, exp, nil
}

func (m *Manager) Parse(raw string) (*Identity, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalidSession
	}

	var std jwt.Claims
	var id Identity
	if err := tok.Claims(m.key, &std, &id); err != nil {
		return nil, ErrInvalidSession
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: m.now()}, 0); err != nil {
		return nil, ErrInvalidSession
	}
	if id.UserID == "" || id.UserID != std.Subject {
		return nil, ErrInvalidSession
	}
	return &id, nil
}
