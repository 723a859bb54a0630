package user

import (
	"time"

	"ristosmart-license/pkg/session"
)

type User struct {
	ID              string     `gorm:"column:id;primaryKey;size:32" json:"id"`
	FirstName       string     `gorm:"column:first_name;size:100" json:"first_name"`
	LastName        string     `gorm:"column:last_name;size:100" json:"last_name"`
	Email           string     `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash    string     `gorm:"column:password_hash;not null" json:"-"`
	Role            string     `gorm:"column:role;size:16;not null;default:user" json:"role"`
	NewsletterOptIn bool       `gorm:"column:newsletter_opt_in;not null" json:"newsletter_opt_in"`
	RegisteredAt    time.Time  `gorm:"column:registered_at;not null;index" json:"registered_at"`
	PromoLastStage  int        `gorm:"column:promo_last_stage;not null;default:0" json:"promo_last_stage"`
	PromoLastSentAt *time.Time `gorm:"column:promo_last_sent_at" json:"promo_last_sent_at"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) Identity() session.Identity {
	return session.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// DisplayName is the first name, or the full name when only the last name
// is known.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.LastName
}
