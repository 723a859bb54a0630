package scheduler

import (
	"context"
	"time"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/db"
	"ristosmart-license/services/notification"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobExpiryReminders = "expiry-reminders"
	JobDrip            = "drip"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(migrate, register),
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Config        *config.Config
	Notifications *notification.Service
	Redis         *redis.Client `optional:"true"`
}

func NewScheduler(p Params) (*Scheduler, error) {
	loc, err := time.LoadLocation(p.Config.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	jobs := NotificationJobs(p.Notifications, p.Config.Scheduler.DripEnabled)

	var opts []Option
	if p.Redis != nil {
		opts = append(opts, WithLocker(NewRedisLocker(p.Redis)))
	}
	return New(p.DB, loc, jobs, opts...), nil
}

// NotificationJobs returns the daily notification sweeps. A sweep with any
// undelivered recipient fails, so the day stays open for the next tick.
func NotificationJobs(n *notification.Service, drip bool) []Job {
	jobs := []Job{{Name: JobExpiryReminders, Run: sweep(n.RunExpiryReminders)}}
	if drip {
		jobs = append(jobs, Job{Name: JobDrip, Run: sweep(n.RunDrip)})
	}
	return jobs
}

func sweep(run func(context.Context) (*notification.Summary, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		sum, err := run(ctx)
		if err != nil {
			return err
		}
		return sum.Err()
	}
}

func migrate(gdb *gorm.DB) error {
	return db.Migrate(gdb, &Marker{})
}

func register(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Info("[Scheduler] disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(cfg.Scheduler.Spec)
		},
		OnStop: s.Stop,
	})
}
