// Package notification plans and sends the scheduled customer mails: the
// expiry reminders for bound licenses and the drip campaign for registered
// users without a license.
package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/token"
	"ristosmart-license/services/license"
	"ristosmart-license/services/user"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ReminderWindowDays bounds the expiry sweep to [today, today+10].
const ReminderWindowDays = 10

// FinalDripStage is the last message of the campaign.
const FinalDripStage = 5

type Kind string

const (
	KindExpiry Kind = "expiry"
	KindDrip   Kind = "drip"
)

// Update is the marker to write once the job with the same index in
// Plan.Jobs has been delivered.
type Update struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
	Stage int    `json:"stage"`
}

// Plan is the outcome of a sweep before anything is sent. Jobs and Updates
// are parallel slices.
type Plan struct {
	Checked int
	Jobs    []mail.Job
	Updates []Update
}

func (p *Plan) add(job mail.Job, u Update) {
	p.Jobs = append(p.Jobs, job)
	p.Updates = append(p.Updates, u)
}

// DripStage maps days since registration to the campaign stage. Zero means
// nothing is due.
func DripStage(days int) int {
	switch {
	case days >= 12:
		return 5
	case days >= 9:
		return 4
	case days >= 6:
		return 3
	case days >= 3:
		return 2
	}
	return 0
}

var dripSubjects = map[int]string{
	2: "Hai già scoperto cosa può fare RistoSmartFM per te?",
	3: "Un regalo per te: il manuale per aprire il tuo ristorante",
	4: "Vuoi costruire un ristorante di successo? Ti aiutiamo noi.",
	5: "Ultima offerta: 20% di sconto + il Foodcost Calculator",
}

var expirySubjects = map[license.ReminderStage]string{
	license.Stage10: "Promemoria: la tua licenza RistoSmartFM scade tra 10 giorni",
	license.Stage5:  "Attenzione: mancano 5 giorni alla scadenza della licenza",
	license.Stage1:  "Ultimo avviso: la licenza scade domani (+ regalo)",
}

// Stager reads licenses and users and turns them into plans. It never
// writes and never sends.
type Stager struct {
	licenses  *license.Store
	users     *user.Store
	codec     *token.Codec
	publicURL string
	location  *time.Location
}

func NewStager(licenses *license.Store, users *user.Store, codec *token.Codec, publicURL string, loc *time.Location) *Stager {
	if loc == nil {
		loc = time.Local
	}
	return &Stager{
		licenses:  licenses,
		users:     users,
		codec:     codec,
		publicURL: strings.TrimRight(publicURL, "/"),
		location:  loc,
	}
}

// ExpiryPlan selects active licenses expiring within the reminder window
// whose remaining days hit a threshold not yet marked as sent.
func (s *Stager) ExpiryPlan(ctx context.Context, today calendar.Date) (*Plan, error) {
	rows, err := s.licenses.ListExpiring(ctx, today, today.AddDays(ReminderWindowDays))
	if err != nil {
		return nil, err
	}

	plan := &Plan{Checked: len(rows)}
	for _, lic := range rows {
		if lic.ExpiresOn == nil {
			continue
		}
		stage, ok := license.StageForDaysLeft(today.DaysUntil(*lic.ExpiresOn))
		if !ok || lic.Markers.SentAt(stage) != nil {
			continue
		}

		// Renewal links are honoured for the owner only.
		to := token.NormalizeEmail(lic.OwnerEmail)
		if to == "" {
			zap.L().Warn("[Notification] unbound license skipped", zap.String("license_key", lic.LicenseKey))
			continue
		}

		body, err := s.renderExpiry(lic, to, stage)
		if err != nil {
			return nil, err
		}
		plan.add(
			mail.Job{Email: to, Subject: expirySubjects[stage], Body: body, HTML: true},
			Update{Kind: KindExpiry, ID: lic.ID, Stage: int(stage)},
		)
	}
	return plan, nil
}

func (s *Stager) renderExpiry(lic *license.License, to string, stage license.ReminderStage) (string, error) {
	link, err := license.RenewalLink(s.codec, s.publicURL, lic.LicenseKey, to)
	if err != nil {
		return "", fmt.Errorf("renewal link for %s: %w", lic.LicenseKey, err)
	}
	var buf bytes.Buffer
	err = templates.ExecuteTemplate(&buf, "expiry.html", map[string]any{
		"Name":      displayName(lic.HolderName, "Cliente"),
		"Expiry":    lic.ExpiresOn.Format(license.DisplayDateLayout),
		"DaysLeft":  int(stage),
		"RenewURL":  link,
		"LinkHours": int(s.codec.TTL().Hours()),
	})
	return buf.String(), err
}

// DripPlan selects opted-in users without access whose registration age
// reached a stage above the last one they were sent.
func (s *Stager) DripPlan(ctx context.Context, now time.Time) (*Plan, error) {
	users, err := s.users.DripCandidates(ctx, now, FinalDripStage)
	if err != nil {
		return nil, err
	}

	today := calendar.TodayIn(now, s.location)
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	owners, err := s.licenses.ActiveOwners(ctx, emails, today)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Checked: len(users)}
	for _, u := range users {
		if owners[u.Email] {
			continue
		}
		registered := calendar.TodayIn(u.RegisteredAt, s.location)
		stage := DripStage(registered.DaysUntil(today))
		if stage == 0 || stage <= u.PromoLastStage {
			continue
		}

		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, "drip.html", map[string]any{
			"Name":       displayName(u.DisplayName(), "Ristoratore"),
			"Stage":      stage,
			"LicenseURL": s.publicURL + "/license",
		}); err != nil {
			return nil, err
		}
		plan.add(
			mail.Job{Email: u.Email, Subject: dripSubjects[stage], Body: buf.String(), HTML: true},
			Update{Kind: KindDrip, ID: u.ID, Stage: stage},
		)
	}
	return plan, nil
}

func displayName(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
