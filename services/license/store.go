package license

import (
	"context"
	"strings"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/db/option"
	"ristosmart-license/pkg/db/pagination"
	"ristosmart-license/pkg/repository"

	"gorm.io/gorm"
)

// Store is the persistence gateway for licenses and their renewal history.
// Errors are returned raw; the service maps them.
type Store struct {
	db       *gorm.DB
	licenses repository.Repository[License]
	renewals repository.Repository[RenewalRecord]
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		licenses: repository.ProvideStore[License](db),
		renewals: repository.ProvideStore[RenewalRecord](db),
	}
}

// InTx runs fn against a Store bound to a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{
			db:       tx,
			licenses: s.licenses.WithTrx(tx),
			renewals: s.renewals.WithTrx(tx),
		})
	})
}

func (s *Store) Insert(ctx context.Context, l *License) error {
	return s.licenses.Create(ctx, l)
}

func (s *Store) FindByKey(ctx context.Context, key string) (*License, error) {
	return s.licenses.FindOne(ctx, &License{LicenseKey: key})
}

// FindByKeyForUpdate locks the row until the surrounding transaction ends.
func (s *Store) FindByKeyForUpdate(ctx context.Context, key string) (*License, error) {
	return s.licenses.FindOne(ctx, &License{LicenseKey: key}, option.WithLockingUpdate())
}

func (s *Store) FindByID(ctx context.Context, id string) (*License, error) {
	return s.licenses.FindOne(ctx, &License{ID: id})
}

func (s *Store) List(ctx context.Context, p pagination.Pagination, opts ...option.QueryOption) ([]*License, error) {
	opts = append(opts, option.ApplyPagination(p))
	return s.licenses.Find(ctx, &License{}, opts...)
}

// HasActiveAccess evaluates the access predicate in the database against
// the supplied today.
func (s *Store) HasActiveAccess(ctx context.Context, email string, today calendar.Date) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&License{}).
		Where("owner_email = ? AND owner_email <> '' AND active = ?", email, true).
		Where("expires_on IS NULL OR expires_on >= ?", today).
		Count(&n).Error
	return n > 0, err
}

// Bind sets owner and active unless another email holds the license while
// it is active. It reports false when the condition no longer holds.
func (s *Store) Bind(ctx context.Context, id, email string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("id = ?", id).
		Where("NOT (active = ? AND owner_email <> '' AND owner_email <> ?)", true, email).
		Updates(map[string]any{"owner_email": email, "active": true})
	return res.RowsAffected > 0, res.Error
}

// ExtendExpiry moves the expiry from old to next, reactivates the license
// and clears the reminder markers. It reports false when the stored expiry
// is no longer old.
func (s *Store) ExtendExpiry(ctx context.Context, id string, old, next calendar.Date) (bool, error) {
	values := clearedMarkers()
	values["expires_on"] = next
	values["active"] = true

	res := s.db.WithContext(ctx).Model(&License{}).
		Where("id = ? AND expires_on = ?", id, old).
		Updates(values)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) SetExpiry(ctx context.Context, id string, expiry *calendar.Date) error {
	values := map[string]any{"expires_on": nil}
	if expiry != nil {
		values["expires_on"] = *expiry
	}
	return s.licenses.Update(ctx, id, values)
}

func (s *Store) SetDelivery(ctx context.Context, l *License) error {
	return s.licenses.Update(ctx, l.ID, map[string]any{"delivery": l.Delivery})
}

func (s *Store) AppendRenewal(ctx context.Context, r *RenewalRecord) error {
	return s.renewals.Create(ctx, r)
}

func (s *Store) Renewals(ctx context.Context, key string) ([]*RenewalRecord, error) {
	return s.renewals.Find(ctx, &RenewalRecord{LicenseKey: key},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
}

// EachBatch walks every license in id order, size rows at a time.
func (s *Store) EachBatch(ctx context.Context, size int, fn func([]*License) error) error {
	var batch []*License
	return s.db.WithContext(ctx).FindInBatches(&batch, size, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	return s.licenses.Delete(ctx, id)
}

// ListExpiring returns active licenses whose expiry falls in [from, to].
func (s *Store) ListExpiring(ctx context.Context, from, to calendar.Date) ([]*License, error) {
	return s.licenses.Find(ctx, &License{},
		option.ApplyOperator(
			option.Condition{Field: "active", Operator: option.EQ, Value: true},
			option.Condition{Field: "expires_on", Operator: option.NotNull},
			option.Condition{Field: "expires_on", Operator: option.GTE, Value: from},
			option.Condition{Field: "expires_on", Operator: option.LTE, Value: to},
		),
		option.WithSortBy(option.QuerySortBy{SortBy: "expires_on", OrderBy: "asc", Allow: map[string]bool{"expires_on": true}}),
	)
}

// StampMarker sets a reminder marker once. It reports false when the marker
// was already set.
func (s *Store) StampMarker(ctx context.Context, id string, stage ReminderStage, at time.Time) (bool, error) {
	col := stage.Column()
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("id = ?", id).
		Where(col + " IS NULL").
		Update(col, at)
	return res.RowsAffected > 0, res.Error
}

// ActiveOwners returns the subset of emails that currently hold access.
func (s *Store) ActiveOwners(ctx context.Context, emails []string, today calendar.Date) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(emails) == 0 {
		return out, nil
	}
	var owners []string
	err := s.db.WithContext(ctx).Model(&License{}).
		Where("owner_email IN ? AND active = ?", emails, true).
		Where("expires_on IS NULL OR expires_on >= ?", today).
		Distinct().
		Pluck("owner_email", &owners).Error
	if err != nil {
		return nil, err
	}
	for _, o := range owners {
		out[o] = true
	}
	return out, nil
}

type CleanupMode string

const (
	CleanupKeepEmail CleanupMode = "keep_email"
	CleanupKeepKey   CleanupMode = "keep_key"
)

// Cleanup deletes every license except the ones selected by mode and value,
// then purges renewal records whose license is gone. It returns the number
// of licenses kept and deleted.
func (s *Store) Cleanup(ctx context.Context, mode CleanupMode, value string, onlyActive bool) (kept, deleted int64, err error) {
	err = s.InTx(ctx, func(tx *Store) error {
		keep := tx.db.Model(&License{})
		switch mode {
		case CleanupKeepEmail:
			keep = keep.Where("LOWER(owner_email) = ?", strings.ToLower(value))
			if onlyActive {
				keep = keep.Where("active = ?", true)
			}
		case CleanupKeepKey:
			keep = keep.Where("license_key = ?", value)
		}

		var ids []string
		if err := keep.Pluck("id", &ids).Error; err != nil {
			return err
		}
		kept = int64(len(ids))
		if kept == 0 {
			return nil
		}

		res := tx.db.Where("id NOT IN ?", ids).Delete(&License{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected

		return tx.db.
			Where("license_key NOT IN (?)", tx.db.Model(&License{}).Select("license_key")).
			Delete(&RenewalRecord{}).Error
	})
	return kept, deleted, err
}
