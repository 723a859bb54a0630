package license

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/db/pagination"
	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/sequence"
	"ristosmart-license/pkg/token"
	"ristosmart-license/pkg/validation"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// maxKeyRegenerations is the number of fresh keys tried after the first
	// insert collides.
	maxKeyRegenerations = 3
	maxRenewAttempts    = 3
)

var (
	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_activations_total",
		Help: "License activation attempts by result.",
	}, []string{"result"})
	renewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_renewals_total",
		Help: "Successful license renewals by actor.",
	}, []string{"actor"})
)

type Settings struct {
	PublicURL  string
	AdminEmail string
	Location   *time.Location
}

type Service struct {
	store      *Store
	node       *snowflake.Node
	keys       sequence.KeyGenerator
	codec      *token.Codec
	outbox     mail.Outbox
	dispatcher mail.Dispatcher
	settings   Settings
	now        func() time.Time
	tracer     trace.Tracer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store *Store, node *snowflake.Node, keys sequence.KeyGenerator, codec *token.Codec,
	outbox mail.Outbox, dispatcher mail.Dispatcher, settings Settings, opts ...Option) *Service {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	s := &Service{
		store:      store,
		node:       node,
		keys:       keys,
		codec:      codec,
		outbox:     outbox,
		dispatcher: dispatcher,
		settings:   settings,
		now:        time.Now,
		tracer:     otel.Tracer("ristosmart-license/services/license"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Node       *snowflake.Node
	Keys       sequence.KeyGenerator
	Codec      *token.Codec
	Outbox     mail.Outbox
	Dispatcher mail.Dispatcher
	Config     *config.Config
}

func NewService(p ServiceParams) (*Service, error) {
	loc, err := time.LoadLocation(p.Config.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	adminEmail := p.Config.Mail.AdminEmail
	if adminEmail == "" {
		adminEmail = p.Config.Admin.Email
	}
	return New(NewStore(p.DB), p.Node, p.Keys, p.Codec, p.Outbox, p.Dispatcher, Settings{
		PublicURL:  p.Config.PublicURL,
		AdminEmail: adminEmail,
		Location:   loc,
	}), nil
}

func (s *Service) Store() *Store {
	return s.store
}

// Today is the current calendar date in the service location.
func (s *Service) Today() calendar.Date {
	return calendar.TodayIn(s.now(), s.settings.Location)
}

type CreateParams struct {
	LicenseKey string
	HolderName string
	ExpiresOn  *calendar.Date
}

// Create inserts an unbound, inactive license. A colliding key is replaced
// by a generated one up to maxKeyRegenerations times.
func (s *Service) Create(ctx context.Context, p CreateParams) (*License, error) {
	if p.ExpiresOn != nil && !p.ExpiresOn.After(s.Today()) {
		return nil, ErrInvalidExpiry
	}

	key := strings.ToUpper(strings.TrimSpace(p.LicenseKey))
	for attempt := 0; attempt <= maxKeyRegenerations; attempt++ {
		if key == "" {
			generated, err := s.keys.NextLicenseKey()
			if err != nil {
				return nil, errutil.Internal("failed to generate license key", err)
			}
			key = generated
		}

		lic := &License{
			ID:         s.node.Generate().String(),
			LicenseKey: key,
			HolderName: strings.TrimSpace(p.HolderName),
			ExpiresOn:  p.ExpiresOn,
		}
		err := s.store.Insert(ctx, lic)
		if err == nil {
			zap.L().Info("[License] created", zap.String("license_key", key))
			return lic, nil
		}
		if !isDuplicateKey(err) {
			return nil, storageErr(err)
		}
		zap.L().Warn("[License] key collision, regenerating", zap.String("license_key", key), zap.Int("attempt", attempt))
		key = ""
	}
	return nil, ErrKeyGenerationExhausted
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

// Activate binds key to email and marks it active.
func (s *Service) Activate(ctx context.Context, email, key string) error {
	ctx, span := s.tracer.Start(ctx, "license.Activate")
	defer span.End()

	lic, changed, err := s.activate(ctx, token.NormalizeEmail(email), strings.TrimSpace(key))
	if err != nil {
		reason := "error"
		if be, ok := errutil.As(err); ok {
			reason = be.Reason
		}
		activationsTotal.WithLabelValues(reason).Inc()
		span.SetAttributes(attribute.String("result", reason))
		return err
	}

	activationsTotal.WithLabelValues("ok").Inc()
	if changed {
		logger.FromContext(ctx).Info("[License] activated",
			zap.String("license_key", lic.LicenseKey),
			zap.String("email", lic.OwnerEmail),
		)
		s.notify(ctx, s.activationJobs(lic, lic.OwnerEmail)...)
	}
	return nil
}

func (s *Service) activate(ctx context.Context, email, key string) (*License, bool, error) {
	if email == "" || key == "" {
		return nil, false, withMessage(ErrInvalidArgument, "email and license key are required")
	}

	lic, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return nil, false, storageErr(err)
	}
	if lic == nil {
		return nil, false, ErrNotFound
	}
	if lic.IsExpired(s.Today()) {
		return nil, false, ErrExpired
	}
	if lic.Active && lic.IsBound() {
		if lic.OwnerEmail != email {
			return nil, false, ErrAlreadyBoundToOther
		}
		return lic, false, nil
	}

	ok, err := s.store.Bind(ctx, lic.ID, email)
	if err != nil {
		return nil, false, storageErr(err)
	}
	if !ok {
		// lost a race with another activation
		current, err := s.store.FindByID(ctx, lic.ID)
		if err != nil {
			return nil, false, storageErr(err)
		}
		if current == nil {
			return nil, false, ErrNotFound
		}
		if current.OwnerEmail == email && current.Active {
			return current, false, nil
		}
		return nil, false, ErrAlreadyBoundToOther
	}

	lic.OwnerEmail = email
	lic.Active = true
	return lic, true, nil
}

func (s *Service) HasActiveAccess(ctx context.Context, email string) (bool, error) {
	email = token.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	ok, err := s.store.HasActiveAccess(ctx, email, s.Today())
	if err != nil {
		return false, storageErr(err)
	}
	return ok, nil
}

type RenewParams struct {
	LicenseKey string
	Email      string
	Months     int
	Actor      string
}

type RenewResult struct {
	LicenseKey string        `json:"license_key"`
	HolderName string        `json:"holder_name"`
	Email      string        `json:"email"`
	OldExpiry  calendar.Date `json:"old_expiry"`
	NewExpiry  calendar.Date `json:"new_expiry"`
}

// Renew extends the expiry by p.Months from the later of the current expiry
// and today. The read, the conditional expiry write and the history insert
// share one transaction; a lost compare-and-swap is retried from a fresh
// read.
func (s *Service) Renew(ctx context.Context, p RenewParams) (*RenewResult, error) {
	ctx, span := s.tracer.Start(ctx, "license.Renew", trace.WithAttributes(
		attribute.Int("months", p.Months),
		attribute.String("actor", p.Actor),
	))
	defer span.End()

	if !AllowedMonths[p.Months] {
		return nil, ErrInvalidDuration
	}
	if p.Actor == "" {
		p.Actor = ActorSelfService
	}
	key := strings.TrimSpace(p.LicenseKey)
	email := token.NormalizeEmail(p.Email)

	var res *RenewResult
	var err error
	for attempt := 0; attempt < maxRenewAttempts; attempt++ {
		res, err = s.renewOnce(ctx, key, email, p.Months, p.Actor)
		if !errors.Is(err, errConcurrentUpdate) {
			break
		}
		logger.FromContext(ctx).Warn("[License] concurrent renewal, retrying",
			zap.String("license_key", key), zap.Int("attempt", attempt+1))
	}
	if errors.Is(err, errConcurrentUpdate) {
		return nil, errutil.Conflict("license was modified concurrently, retry", err, errutil.WithReason("concurrent_update"))
	}
	if err != nil {
		return nil, err
	}

	renewalsTotal.WithLabelValues(p.Actor).Inc()
	logger.FromContext(ctx).Info("[License] renewed",
		zap.String("license_key", res.LicenseKey),
		zap.String("email", res.Email),
		zap.String("actor", p.Actor),
		zap.Stringer("old_expiry", res.OldExpiry),
		zap.Stringer("new_expiry", res.NewExpiry),
	)
	s.notify(ctx, renewalJob(res, p.Actor))
	return res, nil
}

func (s *Service) renewOnce(ctx context.Context, key, email string, months int, actor string) (*RenewResult, error) {
	var res *RenewResult
	err := s.store.InTx(ctx, func(tx *Store) error {
		lic, err := tx.FindByKeyForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if lic == nil {
			return ErrNotFound
		}
		if lic.ExpiresOn == nil || !lic.ExpiresOn.IsSet() {
			return ErrNoCurrentExpiry
		}
		if !strings.EqualFold(strings.TrimSpace(lic.OwnerEmail), email) || email == "" {
			return ErrEmailMismatch
		}

		old := *lic.ExpiresOn
		next := calendar.Max(old, s.Today()).AddMonths(months)

		ok, err := tx.ExtendExpiry(ctx, lic.ID, old, next)
		if err != nil {
			return err
		}
		if !ok {
			return errConcurrentUpdate
		}

		if err := tx.AppendRenewal(ctx, &RenewalRecord{
			ID:         s.node.Generate().String(),
			LicenseKey: lic.LicenseKey,
			Email:      email,
			Months:     months,
			OldExpiry:  old,
			NewExpiry:  next,
			Actor:      actor,
		}); err != nil {
			return err
		}

		res = &RenewResult{
			LicenseKey: lic.LicenseKey,
			HolderName: lic.HolderName,
			Email:      email,
			OldExpiry:  old,
			NewExpiry:  next,
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return res, nil
}

// verifyToken collapses every verification failure into ErrInvalidToken.
// The specific cause only reaches the logs.
func (s *Service) verifyToken(ctx context.Context, raw string) (*token.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		logger.FromContext(ctx).Info("[License] renewal token rejected", zap.Error(err))
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RenewWithToken renews on behalf of the holder of a renewal link.
func (s *Service) RenewWithToken(ctx context.Context, raw string, months int) (*RenewResult, error) {
	claims, err := s.verifyToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.Renew(ctx, RenewParams{
		LicenseKey: claims.LicenseKey,
		Email:      claims.Email,
		Months:     months,
		Actor:      ActorSelfService,
	})
}

// View is the renewal form data shown for a license.
type View struct {
	LicenseKey string         `json:"license_key"`
	HolderName string         `json:"holder_name"`
	Email      string         `json:"email"`
	ExpiresOn  *calendar.Date `json:"expires_on"`
	Active     bool           `json:"active"`
	Expired    bool           `json:"expired"`
	Months     []int          `json:"months"`
}

func (s *Service) view(lic *License) *View {
	return &View{
		LicenseKey: lic.LicenseKey,
		HolderName: lic.HolderName,
		Email:      lic.OwnerEmail,
		ExpiresOn:  lic.ExpiresOn,
		Active:     lic.Active,
		Expired:    lic.IsExpired(s.Today()),
		Months:     []int{1, 12, 24},
	}
}

// PreviewRenewal resolves a renewal link to the license it targets.
func (s *Service) PreviewRenewal(ctx context.Context, raw string) (*View, error) {
	claims, err := s.verifyToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	lic, err := s.store.FindByKey(ctx, claims.LicenseKey)
	if err != nil {
		return nil, storageErr(err)
	}
	if lic == nil || !strings.EqualFold(lic.OwnerEmail, claims.Email) {
		return nil, withMessage(ErrNotFound, "license not found or email does not match")
	}
	return s.view(lic), nil
}

func (s *Service) Get(ctx context.Context, key string) (*License, error) {
	lic, err := s.store.FindByKey(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, storageErr(err)
	}
	if lic == nil {
		return nil, ErrNotFound
	}
	return lic, nil
}

func (s *Service) AdminView(ctx context.Context, key string) (*View, error) {
	lic, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.view(lic), nil
}

func (s *Service) List(ctx context.Context, p pagination.Pagination) ([]*License, *pagination.PageInfo, error) {
	rows, err := s.store.List(ctx, p)
	if err != nil {
		return nil, nil, storageErr(err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	data, info := pagination.Page(rows, limit, func(l *License) string {
		return pagination.IDCursor(l.ID)
	})
	return data, info, nil
}

// SetExpiry overwrites the expiry of key; nil clears it.
func (s *Service) SetExpiry(ctx context.Context, key string, expiry *calendar.Date) (*License, error) {
	lic, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetExpiry(ctx, lic.ID, expiry); err != nil {
		return nil, storageErr(err)
	}
	lic.ExpiresOn = expiry
	return lic, nil
}

// Revoke hard deletes the license. Its renewal history stays.
func (s *Service) Revoke(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	zap.L().Info("[License] revoked", zap.String("id", id))
	return nil
}

func (s *Service) History(ctx context.Context, key string) ([]*RenewalRecord, error) {
	records, err := s.store.Renewals(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, storageErr(err)
	}
	return records, nil
}

type MarkDeliveryParams struct {
	Email   string
	WAPhone string
	Channel string
}

// MarkDelivery records how the key was handed over. The channel is derived
// from the supplied contacts when not given.
func (s *Service) MarkDelivery(ctx context.Context, key string, p MarkDeliveryParams) (*Delivery, error) {
	lic, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	channel := strings.ToLower(strings.TrimSpace(p.Channel))
	if channel != ChannelEmail && channel != ChannelWA {
		channel = ""
	}
	email := token.NormalizeEmail(p.Email)
	phone := strings.TrimSpace(p.WAPhone)
	if channel == "" {
		switch {
		case email != "":
			channel = ChannelEmail
		case phone != "":
			channel = ChannelWA
		default:
			channel = ChannelUnknown
		}
	}

	d := lic.Delivery.Data()
	if email != "" {
		d.ShipEmail = email
	}
	if phone != "" {
		d.WAPhone = phone
	}
	now := s.now()
	d.SentAt = &now
	d.LastChannel = channel
	lic.Delivery = datatypes.NewJSONType(d)

	if err := s.store.SetDelivery(ctx, lic); err != nil {
		return nil, storageErr(err)
	}
	return &d, nil
}

// SendKey mails the key and activation instructions synchronously.
func (s *Service) SendKey(ctx context.Context, key, email, holder string) error {
	email = token.NormalizeEmail(email)
	if err := validation.Var(email, "required,email"); err != nil {
		return withMessage(ErrInvalidArgument, "a valid email is required")
	}
	lic, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if holder == "" {
		holder = lic.HolderName
	}
	if err := mail.SendOne(ctx, s.dispatcher, sendKeyJob(lic.LicenseKey, email, holder)); err != nil {
		var de *mail.DeliveryError
		msg := err.Error()
		if errors.As(err, &de) {
			msg = de.Reason
		}
		return errutil.BadGateway("mail delivery failed: "+msg, err, errutil.WithReason(ErrDispatchFailed.Reason))
	}
	return nil
}

const exportBatchSize = 200

var exportHeader = []string{
	"id", "email", "license_key", "holder_name", "expires_on", "active", "created_at", "delivery",
}

// Export writes every license to w as CSV. The output starts with a UTF-8
// byte order mark so spreadsheet tools pick the right encoding.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	var rows int
	err := s.store.EachBatch(ctx, exportBatchSize, func(batch []*License) error {
		for _, l := range batch {
			if err := cw.Write(exportRow(l)); err != nil {
				return err
			}
		}
		rows += len(batch)
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return storageErr(err)
	}

	cw.Flush()
	zap.L().Info("[License] export written", zap.Int("rows", rows))
	return cw.Error()
}

func exportRow(l *License) []string {
	expiry := ""
	if l.ExpiresOn != nil {
		expiry = l.ExpiresOn.String()
	}
	delivery := ""
	if d := l.Delivery.Data(); d != (Delivery{}) {
		if raw, err := l.Delivery.MarshalJSON(); err == nil {
			delivery = string(raw)
		}
	}
	return []string{
		l.ID,
		l.OwnerEmail,
		l.LicenseKey,
		l.HolderName,
		expiry,
		strconv.FormatBool(l.Active),
		l.CreatedAt.UTC().Format(time.RFC3339),
		delivery,
	}
}

type CleanupResult struct {
	Kept    int64 `json:"kept"`
	Deleted int64 `json:"deleted"`
}

func (s *Service) Cleanup(ctx context.Context, mode CleanupMode, value string, onlyActive bool) (*CleanupResult, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, withMessage(ErrInvalidArgument, "value is required")
	}
	if mode != CleanupKeepEmail && mode != CleanupKeepKey {
		return nil, withMessage(ErrInvalidArgument, "mode must be keep_email or keep_key")
	}

	kept, deleted, err := s.store.Cleanup(ctx, mode, value, onlyActive)
	if err != nil {
		return nil, storageErr(err)
	}
	if kept == 0 {
		return nil, withMessage(ErrNotFound, "no license matches the value to keep")
	}
	zap.L().Info("[License] cleanup",
		zap.String("mode", string(mode)),
		zap.Int64("kept", kept),
		zap.Int64("deleted", deleted),
	)
	return &CleanupResult{Kept: kept, Deleted: deleted}, nil
}
