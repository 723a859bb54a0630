package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/security"
	"ristosmart-license/pkg/session"
	"ristosmart-license/pkg/token"
	"ristosmart-license/pkg/validation"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MinPasswordLength = 8

var (
	emailRule    = "required,email"
	passwordRule = fmt.Sprintf("required,min=%d", MinPasswordLength)
)

var loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "user_logins_total",
	Help: "Login attempts by result.",
}, []string{"result"})

type Service struct {
	store      *Store
	node       *snowflake.Node
	adminEmail string
	now        func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return New(NewStore(p.DB), p.Node, p.Config.Admin.Email)
}

func New(store *Store, node *snowflake.Node, adminEmail string) *Service {
	return &Service{
		store:      store,
		node:       node,
		adminEmail: token.NormalizeEmail(adminEmail),
		now:        time.Now,
	}
}

func (s *Service) Store() *Store {
	return s.store
}

type RegisterParams struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	NewsletterOptIn bool
}

func (s *Service) Register(ctx context.Context, p RegisterParams) (*User, error) {
	role := session.RoleUser
	if token.NormalizeEmail(p.Email) == s.adminEmail {
		role = session.RoleAdmin
	}
	return s.register(ctx, p, role)
}

func (s *Service) register(ctx context.Context, p RegisterParams, role string) (*User, error) {
	email := token.NormalizeEmail(p.Email)
	if err := validation.Var(email, emailRule); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := validation.Var(p.Password, passwordRule); err != nil {
		return nil, ErrWeakPassword
	}

	hash, err := security.HashArgon2(p.Password)
	if err != nil {
		return nil, errutil.Internal("failed to hash password", err)
	}

	u := &User{
		ID:              s.node.Generate().String(),
		FirstName:       strings.TrimSpace(p.FirstName),
		LastName:        strings.TrimSpace(p.LastName),
		Email:           email,
		PasswordHash:    hash,
		Role:            role,
		NewsletterOptIn: p.NewsletterOptIn,
		RegisteredAt:    s.now(),
	}
	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, ErrEmailTaken
		}
		return nil, storageErr(err)
	}

	zap.L().Info("[User] registered", zap.String("id", u.ID), zap.Bool("newsletter", u.NewsletterOptIn))
	return u, nil
}

// Authenticate checks the password. Unknown emails and wrong passwords give
// the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.FindByEmail(ctx, token.NormalizeEmail(email))
	if err != nil {
		return nil, storageErr(err)
	}
	if u == nil {
		loginsTotal.WithLabelValues("unknown_email").Inc()
		return nil, ErrInvalidCredentials
	}

	ok, err := security.VerifyArgon2(u.PasswordHash, password)
	if err != nil {
		zap.L().Error("[User] stored password hash unreadable", zap.String("id", u.ID), zap.Error(err))
		loginsTotal.WithLabelValues("bad_hash").Inc()
		return nil, ErrInvalidCredentials
	}
	if !ok {
		loginsTotal.WithLabelValues("bad_password").Inc()
		return nil, ErrInvalidCredentials
	}

	if u.Email == s.adminEmail && u.Role != session.RoleAdmin {
		if err := s.store.SetRole(ctx, u.ID, session.RoleAdmin); err != nil {
			return nil, storageErr(err)
		}
		u.Role = session.RoleAdmin
	}
	loginsTotal.WithLabelValues("ok").Inc()
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil, errutil.WithReason("user_not_found"))
	}
	return u, nil
}

func (s *Service) SetNewsletter(ctx context.Context, id string, optIn bool) error {
	if err := s.store.SetNewsletter(ctx, id, optIn); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("user not found", err, errutil.WithReason("user_not_found"))
		}
		return storageErr(err)
	}
	return nil
}

// EnsureAdmin creates the admin account, or resets its password and role
// when it already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*User, error) {
	email = token.NormalizeEmail(email)
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, storageErr(err)
	}
	if u == nil {
		return s.register(ctx, RegisterParams{FirstName: "Admin", Email: email, Password: password}, session.RoleAdmin)
	}

	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := security.HashArgon2(password)
	if err != nil {
		return nil, errutil.Internal("failed to hash password", err)
	}
	if err := s.store.users.Update(ctx, u.ID, map[string]any{"password_hash": hash, "role": session.RoleAdmin}); err != nil {
		return nil, storageErr(err)
	}
	u.PasswordHash = hash
	u.Role = session.RoleAdmin
	return u, nil
}
