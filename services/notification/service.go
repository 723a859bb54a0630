package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/token"
	"ristosmart-license/services/license"
	"ristosmart-license/services/user"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notifications_total",
	Help: "Scheduled notification mails by kind, stage and result.",
}, []string{"kind", "stage", "result"})

// Summary reports one sweep.
type Summary struct {
	OK      bool     `json:"ok"`
	Checked int      `json:"checked"`
	Queued  int      `json:"queued"`
	Sent    int      `json:"sent"`
	Errors  int      `json:"errors"`
	Failed  []string `json:"failed,omitempty"`
}

// ErrIncompleteSweep marks a sweep where some recipient was not delivered
// or not stamped.
var ErrIncompleteSweep = errors.New("notification sweep incomplete")

// Err returns ErrIncompleteSweep when the sweep left work behind.
func (s *Summary) Err() error {
	if s == nil || s.Errors == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d failed", ErrIncompleteSweep, s.Errors, s.Queued)
}

type Service struct {
	stager     *Stager
	licenses   *license.Store
	users      *user.Store
	dispatcher mail.Dispatcher
	location   *time.Location
	now        func() time.Time
	tracer     trace.Tracer
}

type ServiceParams struct {
	fx.In

	Licenses   *license.Service
	Users      *user.Service
	Codec      *token.Codec
	Dispatcher mail.Dispatcher
	Config     *config.Config
}

func NewService(p ServiceParams) (*Service, error) {
	loc, err := time.LoadLocation(p.Config.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	return New(p.Licenses.Store(), p.Users.Store(), p.Codec, p.Dispatcher, p.Config.PublicURL, loc), nil
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(licenses *license.Store, users *user.Store, codec *token.Codec, d mail.Dispatcher, publicURL string, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		stager:     NewStager(licenses, users, codec, publicURL, loc),
		licenses:   licenses,
		users:      users,
		dispatcher: d,
		location:   loc,
		now:        time.Now,
		tracer:     otel.Tracer("ristosmart-license/services/notification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Stager() *Stager {
	return s.stager
}

// RunExpiryReminders plans, sends and stamps the expiry reminders due
// today.
func (s *Service) RunExpiryReminders(ctx context.Context) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "notification.RunExpiryReminders")
	defer span.End()

	plan, err := s.stager.ExpiryPlan(ctx, calendar.TodayIn(s.now(), s.location))
	if err != nil {
		return nil, errutil.Wrap(license.ErrStorageUnavailable, err)
	}
	sum := s.execute(ctx, plan)
	span.SetAttributes(attribute.Int("queued", sum.Queued), attribute.Int("sent", sum.Sent))
	return sum, nil
}

// RunDrip plans, sends and records the drip campaign messages due now.
func (s *Service) RunDrip(ctx context.Context) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "notification.RunDrip")
	defer span.End()

	plan, err := s.stager.DripPlan(ctx, s.now())
	if err != nil {
		return nil, errutil.Wrap(license.ErrStorageUnavailable, err)
	}
	sum := s.execute(ctx, plan)
	span.SetAttributes(attribute.Int("queued", sum.Queued), attribute.Int("sent", sum.Sent))
	return sum, nil
}

// execute sends the whole plan in one batch and applies the update of every
// job that was delivered. Failed recipients keep their marker unset so the
// next sweep retries them alone.
func (s *Service) execute(ctx context.Context, plan *Plan) *Summary {
	sum := &Summary{OK: true, Checked: plan.Checked, Queued: len(plan.Jobs)}
	if len(plan.Jobs) == 0 {
		return sum
	}

	log := logger.FromContext(ctx)
	results := s.dispatcher.Send(ctx, plan.Jobs)
	at := s.now()

	for i, u := range plan.Updates {
		stage := strconv.Itoa(u.Stage)
		if i >= len(results) || !results[i].OK {
			sum.Errors++
			sum.Failed = append(sum.Failed, plan.Jobs[i].Email)
			notificationsTotal.WithLabelValues(string(u.Kind), stage, "failed").Inc()
			reason := "no result"
			if i < len(results) {
				reason = results[i].Error
			}
			log.Warn("[Notification] delivery failed, will retry",
				zap.String("kind", string(u.Kind)),
				zap.Int("stage", u.Stage),
				zap.String("email", plan.Jobs[i].Email),
				zap.String("reason", reason),
			)
			continue
		}

		sum.Sent++
		notificationsTotal.WithLabelValues(string(u.Kind), stage, "sent").Inc()
		if err := s.apply(ctx, u, at); err != nil {
			sum.Errors++
			log.Error("[Notification] marker not stored",
				zap.String("kind", string(u.Kind)),
				zap.String("id", u.ID),
				zap.Int("stage", u.Stage),
				zap.Error(err),
			)
		}
	}

	log.Info("[Notification] sweep done",
		zap.Int("checked", sum.Checked),
		zap.Int("queued", sum.Queued),
		zap.Int("sent", sum.Sent),
		zap.Int("errors", sum.Errors),
	)
	return sum
}

func (s *Service) apply(ctx context.Context, u Update, at time.Time) error {
	var (
		ok  bool
		err error
	)
	switch u.Kind {
	case KindExpiry:
		ok, err = s.licenses.StampMarker(ctx, u.ID, license.ReminderStage(u.Stage), at)
	case KindDrip:
		ok, err = s.users.AdvancePromoStage(ctx, u.ID, u.Stage, at)
	}
	if err != nil {
		return err
	}
	if !ok {
		zap.L().Debug("[Notification] marker already set", zap.String("id", u.ID), zap.Int("stage", u.Stage))
	}
	return nil
}
