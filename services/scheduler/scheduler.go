// Package scheduler runs the daily sweeps. A cron trigger fires often; a
// durable per-job marker makes each job run at most once per calendar day
// across restarts, and only a successful run moves the marker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lockTTL = time.Hour

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scheduler_runs_total",
	Help: "Scheduled job executions by job and result.",
}, []string{"job", "result"})

type Marker struct {
	Name      string        `gorm:"column:name;primaryKey;size:64"`
	LastRunOn calendar.Date `gorm:"column:last_run_on;not null"`
	UpdatedAt time.Time     `gorm:"column:updated_at"`
}

func (Marker) TableName() string {
	return "scheduler_markers"
}

type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Locker keeps two processes from running the same job on the same day.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

type Scheduler struct {
	db       *gorm.DB
	jobs     []Job
	locker   Locker
	location *time.Location
	now      func() time.Time
	cron     *cron.Cron
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(db *gorm.DB, loc *time.Location, jobs []Job, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		db:       db,
		jobs:     jobs,
		location: loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) today() calendar.Date {
	return calendar.TodayIn(s.now(), s.location)
}

// LastRun returns the day job last completed, or the zero Date.
func (s *Scheduler) LastRun(ctx context.Context, job string) (calendar.Date, error) {
	var m Marker
	err := s.db.WithContext(ctx).Where("name = ?", job).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return calendar.Date{}, nil
	}
	return m.LastRunOn, err
}

// RunIfDue runs job unless its marker already holds today. It reports
// whether the job ran to completion.
func (s *Scheduler) RunIfDue(ctx context.Context, job Job) (ran bool, err error) {
	today := s.today()
	log := zap.L().With(zap.String("job", job.Name), zap.Stringer("day", today))

	last, err := s.LastRun(ctx, job.Name)
	if err != nil {
		log.Error("[Scheduler] marker unreadable", zap.Error(err))
		return false, err
	}
	if last == today {
		return false, nil
	}

	if s.locker != nil {
		key := rediskey.BuildSchedulerLockKey(job.Name, today.String())
		ok, lerr := s.locker.Acquire(ctx, key, lockTTL)
		switch {
		case lerr != nil:
			log.Warn("[Scheduler] lock unavailable, running unlocked", zap.Error(lerr))
		case !ok:
			log.Debug("[Scheduler] job held by another process")
			return false, nil
		default:
			defer func() {
				if err != nil {
					_ = s.locker.Release(context.Background(), key)
				}
			}()
		}
	}

	if err := s.run(ctx, job); err != nil {
		runsTotal.WithLabelValues(job.Name, "failed").Inc()
		log.Error("[Scheduler] job failed, will retry on next tick", zap.Error(err))
		return false, err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_on", "updated_at"}),
	}).Create(&Marker{Name: job.Name, LastRunOn: today, UpdatedAt: s.now()}).Error
	if err != nil {
		runsTotal.WithLabelValues(job.Name, "unmarked").Inc()
		log.Error("[Scheduler] job ran but marker not stored", zap.Error(err))
		return true, err
	}

	runsTotal.WithLabelValues(job.Name, "ok").Inc()
	log.Info("[Scheduler] job done")
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Tick runs every due job concurrently and waits for all of them.
func (s *Scheduler) Tick(ctx context.Context) error {
	var g errgroup.Group
	for _, job := range s.jobs {
		g.Go(func() error {
			_, err := s.RunIfDue(ctx, job)
			return err
		})
	}
	return g.Wait()
}

// Start runs one tick immediately and then on every cron firing.
func (s *Scheduler) Start(spec string) error {
	s.cron = cron.New(cron.WithLocation(s.location), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, func() { _ = s.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}
	s.cron.Start()
	go func() { _ = s.Tick(context.Background()) }()
	zap.L().Info("[Scheduler] started", zap.String("spec", spec), zap.String("timezone", s.location.String()))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
