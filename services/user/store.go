package user

import (
	"context"
	"time"

	"ristosmart-license/pkg/repository"
	"ristosmart-license/pkg/session"

	"gorm.io/gorm"
)

type Store struct {
	db    *gorm.DB
	users repository.Repository[User]
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, users: repository.ProvideStore[User](db)}
}

func (s *Store) Insert(ctx context.Context, u *User) error {
	return s.users.Create(ctx, u)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.users.FindOne(ctx, &User{Email: email})
}

func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	return s.users.FindOne(ctx, &User{ID: id})
}

func (s *Store) SetRole(ctx context.Context, id, role string) error {
	return s.users.Update(ctx, id, map[string]any{"role": role})
}

func (s *Store) SetNewsletter(ctx context.Context, id string, optIn bool) error {
	return s.users.Update(ctx, id, map[string]any{"newsletter_opt_in": optIn})
}

// DripCandidates returns opted-in users registered at or before cutoff that
// have not reached the final drip stage.
func (s *Store) DripCandidates(ctx context.Context, cutoff time.Time, finalStage int) ([]*User, error) {
	var out []*User
	err := s.db.WithContext(ctx).
		Where("newsletter_opt_in = ? AND role <> ?", true, session.RoleAdmin).
		Where("registered_at <= ? AND promo_last_stage < ?", cutoff, finalStage).
		Order("registered_at asc").
		Find(&out).Error
	return out, err
}

// AdvancePromoStage records stage as sent. It reports false when the user
// is already at or beyond stage.
func (s *Store) AdvancePromoStage(ctx context.Context, id string, stage int, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND promo_last_stage < ?", id, stage).
		Updates(map[string]any{"promo_last_stage": stage, "promo_last_sent_at": at})
	return res.RowsAffected > 0, res.Error
}
