package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/token"
	"ristosmart-license/services/license"
	"ristosmart-license/services/notification"
	"ristosmart-license/services/testutil"
	"ristosmart-license/services/user"

	"github.com/stretchr/testify/require"
)

func TestFailedReminderSweepKeepsDayOpen(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &Marker{}, &license.License{}, &license.RenewalRecord{}, &user.User{})
	codec, err := token.NewCodec([]byte("renewal-secret"))
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	licenses := license.NewStore(db)
	expiry := calendar.MustParse("2025-03-06")
	lic := &license.License{
		ID:         "lic-1",
		LicenseKey: "RSFM-TEST-0000-0000-0001",
		OwnerEmail: "a@x.com",
		HolderName: "Osteria del Ponte",
		ExpiresOn:  &expiry,
		Active:     true,
	}
	require.NoError(t, licenses.Insert(ctx, lic))

	var smtpUp atomic.Bool
	dispatcher := mail.DispatcherFunc(func(_ context.Context, jobs []mail.Job) []mail.Result {
		out := make([]mail.Result, len(jobs))
		for i, j := range jobs {
			out[i] = mail.Result{Email: j.Email, OK: smtpUp.Load()}
			if !out[i].OK {
				out[i].Error = "dial tcp: connection refused"
			}
		}
		return out
	})

	n := notification.New(licenses, user.NewStore(db), codec, dispatcher, "https://app.example.com", time.UTC,
		notification.WithClock(clock))
	require.Len(t, NotificationJobs(n, true), 2)

	jobs := NotificationJobs(n, false)
	require.Len(t, jobs, 1)
	require.Equal(t, JobExpiryReminders, jobs[0].Name)

	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	s := New(db, rome, jobs, WithClock(clock))

	ran, err := s.RunIfDue(ctx, jobs[0])
	require.ErrorIs(t, err, notification.ErrIncompleteSweep)
	require.False(t, ran)
	last, err := s.LastRun(ctx, JobExpiryReminders)
	require.NoError(t, err)
	require.False(t, last.IsSet())

	smtpUp.Store(true)
	now = now.Add(time.Hour)

	ran, err = s.RunIfDue(ctx, jobs[0])
	require.NoError(t, err)
	require.True(t, ran)

	got, err := licenses.FindByID(ctx, lic.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Markers.Exp5SentAt)

	last, err = s.LastRun(ctx, JobExpiryReminders)
	require.NoError(t, err)
	require.Equal(t, "2025-03-01", last.String())
}
