package license

import (
	"time"

	"ristosmart-license/pkg/calendar"

	"gorm.io/datatypes"
)

const (
	ActorSelfService = "self-service"
	ActorAdmin       = "admin"
)

// AllowedMonths are the renewal durations a caller may request.
var AllowedMonths = map[int]bool{1: true, 12: true, 24: true}

type License struct {
	ID         string                       `gorm:"column:id;primaryKey;size:32" json:"id"`
	LicenseKey string                       `gorm:"column:license_key;size:64;not null;uniqueIndex" json:"license_key"`
	OwnerEmail string                       `gorm:"column:owner_email;size:255;not null;index" json:"owner_email"`
	HolderName string                       `gorm:"column:holder_name;size:255" json:"holder_name"`
	ExpiresOn  *calendar.Date               `gorm:"column:expires_on;index" json:"expires_on"`
	Active     bool                         `gorm:"column:active;not null" json:"active"`
	Markers    ReminderMarkers              `gorm:"embedded" json:"markers"`
	Delivery   datatypes.JSONType[Delivery] `gorm:"column:delivery" json:"delivery"`
	CreatedAt  time.Time                    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time                    `gorm:"column:updated_at" json:"updated_at"`
}

func (License) TableName() string {
	return "licenses"
}

func (l *License) IsBound() bool {
	return l.OwnerEmail != ""
}

// IsExpired reports whether the expiry lies strictly before today. A
// license without expiry never expires.
func (l *License) IsExpired(today calendar.Date) bool {
	return l.ExpiresOn != nil && l.ExpiresOn.Before(today)
}

// GrantsAccess is the in-memory form of the access predicate.
func (l *License) GrantsAccess(email string, today calendar.Date) bool {
	return l.Active && l.OwnerEmail != "" && l.OwnerEmail == email && !l.IsExpired(today)
}

// ReminderStage is the number of days before expiry a reminder goes out.
type ReminderStage int

const (
	Stage10 ReminderStage = 10
	Stage5  ReminderStage = 5
	Stage1  ReminderStage = 1
)

// ReminderStages lists the actionable thresholds, earliest first.
var ReminderStages = []ReminderStage{Stage10, Stage5, Stage1}

func StageForDaysLeft(days int) (ReminderStage, bool) {
	switch ReminderStage(days) {
	case Stage10, Stage5, Stage1:
		return ReminderStage(days), true
	}
	return 0, false
}

func (s ReminderStage) Column() string {
	switch s {
	case Stage10:
		return "exp10_sent_at"
	case Stage5:
		return "exp5_sent_at"
	case Stage1:
		return "exp1_sent_at"
	}
	return ""
}

func (s ReminderStage) String() string {
	return s.Column()
}

type ReminderMarkers struct {
	Exp10SentAt *time.Time `gorm:"column:exp10_sent_at" json:"exp10_sent_at,omitempty"`
	Exp5SentAt  *time.Time `gorm:"column:exp5_sent_at" json:"exp5_sent_at,omitempty"`
	Exp1SentAt  *time.Time `gorm:"column:exp1_sent_at" json:"exp1_sent_at,omitempty"`
}

func (m ReminderMarkers) SentAt(s ReminderStage) *time.Time {
	switch s {
	case Stage10:
		return m.Exp10SentAt
	case Stage5:
		return m.Exp5SentAt
	case Stage1:
		return m.Exp1SentAt
	}
	return nil
}

func (m ReminderMarkers) IsZero() bool {
	return m.Exp10SentAt == nil && m.Exp5SentAt == nil && m.Exp1SentAt == nil
}

// clearedMarkers is the column set written by a renewal.
func clearedMarkers() map[string]any {
	out := make(map[string]any, len(ReminderStages))
	for _, s := range ReminderStages {
		out[s.Column()] = nil
	}
	return out
}

const (
	ChannelEmail   = "email"
	ChannelWA      = "wa"
	ChannelUnknown = "unknown"
)

// Delivery records how the key was handed to the customer.
type Delivery struct {
	ShipEmail   string     `json:"ship_email,omitempty"`
	WAPhone     string     `json:"wa_phone,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LastChannel string     `json:"last_channel,omitempty"`
}

// RenewalRecord is append only. It is never removed with its license.
type RenewalRecord struct {
	ID         string        `gorm:"column:id;primaryKey;size:32" json:"id"`
	LicenseKey string        `gorm:"column:license_key;size:64;not null;index" json:"license_key"`
	Email      string        `gorm:"column:email;size:255;not null" json:"email"`
	Months     int           `gorm:"column:months;not null" json:"months"`
	OldExpiry  calendar.Date `gorm:"column:old_expiry;not null" json:"old_expiry"`
	NewExpiry  calendar.Date `gorm:"column:new_expiry;not null" json:"new_expiry"`
	Actor      string        `gorm:"column:actor;size:32;not null" json:"actor"`
	CreatedAt  time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (RenewalRecord) TableName() string {
	return "license_renewals"
}
