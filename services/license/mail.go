package license

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/token"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	subjectActivation      = "Licenza attivata — RistoSmart FM"
	subjectAdminActivation = "Licenza attivata (notifica admin)"
	subjectRenewal         = "RistoSmart FM — Conferma rinnovo licenza"
	subjectAdminRenewal    = "RistoSmart FM — Rinnovo licenza effettuato dall'amministrazione"
	subjectSendKey         = "La tua licenza RistoSmartFM"

	DisplayDateLayout = "02/01/2006"
)

// RenewalLink returns the self-service renewal URL for key and email.
func RenewalLink(codec *token.Codec, publicURL, key, email string) (string, error) {
	tok, err := codec.Sign(key, email, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(publicURL, "/") + "/license/renew?token=" + url.QueryEscape(tok), nil
}

func displayName(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}

func (s *Service) activationJobs(lic *License, email string) []mail.Job {
	data := struct {
		Name         string
		Key          string
		Expiry       string
		RenewURL     string
		DashboardURL string
	}{
		Name:         displayName(lic.HolderName, "Cliente"),
		Key:          lic.LicenseKey,
		DashboardURL: strings.TrimRight(s.settings.PublicURL, "/") + "/",
	}
	if lic.ExpiresOn != nil {
		data.Expiry = lic.ExpiresOn.Format(DisplayDateLayout)
		if link, err := RenewalLink(s.codec, s.settings.PublicURL, lic.LicenseKey, email); err == nil {
			data.RenewURL = link
		}
	}

	var body bytes.Buffer
	jobs := make([]mail.Job, 0, 2)
	if err := templates.ExecuteTemplate(&body, "activation.html", data); err != nil {
		zap.L().Error("[License] render activation mail", zap.Error(err))
	} else {
		jobs = append(jobs, mail.Job{Email: email, Subject: subjectActivation, Body: body.String(), HTML: true})
	}

	if s.settings.AdminEmail != "" {
		jobs = append(jobs, mail.Job{
			Email:   s.settings.AdminEmail,
			Subject: subjectAdminActivation,
			Body: fmt.Sprintf("Licenza attivata:\nEmail: %s\nKey: %s\nQuando: %s",
				email, lic.LicenseKey, s.now().Format(time.RFC3339)),
		})
	}
	return jobs
}

func renewalJob(res *RenewResult, actor string) mail.Job {
	name := displayName(res.HolderName, "Cliente")
	if actor == ActorAdmin {
		return mail.Job{
			Email:   res.Email,
			Subject: subjectAdminRenewal,
			Body: fmt.Sprintf("Ciao %s,\n\nLa tua licenza %s è stata rinnovata fino al %s.\n",
				name, res.LicenseKey, res.NewExpiry.Format(DisplayDateLayout)),
		}
	}
	return mail.Job{
		Email:   res.Email,
		Subject: subjectRenewal,
		Body: fmt.Sprintf("Ciao %s,\n\nLa tua licenza %s è stata rinnovata fino al %s.\nGrazie!\n",
			name, res.LicenseKey, res.NewExpiry.Format(DisplayDateLayout)),
	}
}

func sendKeyJob(key, email, holder string) mail.Job {
	return mail.Job{
		Email:   email,
		Subject: subjectSendKey,
		Body: fmt.Sprintf("Ciao %s,\n\nChiave licenza: %s\n\n"+
			"Istruzioni: accedi al gestionale, vai su 'Licenza' e incolla la chiave.\n\n"+
			"RistoSmartFM — Ufficio tecnico", displayName(holder, "Cliente"), key),
	}
}

// notify queues confirmation mails. Failures are logged and dropped.
func (s *Service) notify(ctx context.Context, jobs ...mail.Job) {
	if s.outbox == nil {
		return
	}
	for _, job := range jobs {
		if err := s.outbox.Enqueue(ctx, job); err != nil {
			logger.FromContext(ctx).Warn("[License] confirmation mail not queued",
				zap.String("email", job.Email),
				zap.String("subject", job.Subject),
				zap.Error(err),
			)
		}
	}
}
