package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	RatePerSecond float64
	Timeout       time.Duration
}

// SMTPDispatcher opens one SMTP session per batch. A failing recipient is
// reset and skipped, the rest of the batch continues on the same session.
type SMTPDispatcher struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	now     func() time.Time
}

func NewSMTPDispatcher(cfg SMTPConfig) *SMTPDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &SMTPDispatcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (d *SMTPDispatcher) Send(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i] = Result{Email: job.Email}
	}
	if len(jobs) == 0 {
		return results
	}

	conn, client, err := d.open(ctx)
	if err != nil {
		zap.L().Error("[Mail] failed to open SMTP session", zap.String("host", d.cfg.Host), zap.Error(err))
		for i := range results {
			results[i].Error = err.Error()
			dispatchTotal.WithLabelValues("failed").Inc()
		}
		return results
	}
	defer func() {
		if err := client.Quit(); err != nil {
			_ = client.Close()
		}
	}()

	for i, job := range jobs {
		if err := d.limiter.Wait(ctx); err != nil {
			results[i].Error = err.Error()
			dispatchTotal.WithLabelValues("failed").Inc()
			continue
		}

		_ = conn.SetDeadline(time.Now().Add(d.cfg.Timeout))
		if err := d.deliver(client, job); err != nil {
			zap.L().Warn("[Mail] delivery failed", zap.String("email", job.Email), zap.Error(err))
			results[i].Error = err.Error()
			dispatchTotal.WithLabelValues("failed").Inc()
			_ = client.Reset()
			continue
		}
		results[i].OK = true
		dispatchTotal.WithLabelValues("sent").Inc()
	}
	return results
}

func (d *SMTPDispatcher) open(ctx context.Context) (net.Conn, *smtp.Client, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	dialer := &net.Dialer{Timeout: d.cfg.Timeout}

	var conn net.Conn
	var err error
	if d.cfg.Port == 465 {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: d.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(d.cfg.Timeout))

	client, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if d.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: d.cfg.Host}); err != nil {
				client.Close()
				return nil, nil, err
			}
		}
	}

	if d.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			client.Close()
			return nil, nil, errors.New("smtp server does not support AUTH")
		}
		if err := client.Auth(smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)); err != nil {
			client.Close()
			return nil, nil, err
		}
	}
	return conn, client, nil
}

func (d *SMTPDispatcher) deliver(client *smtp.Client, job Job) error {
	msg, err := buildMessage(d.cfg.From, job, d.now())
	if err != nil {
		return err
	}
	from, err := envelopeAddress(d.cfg.From)
	if err != nil {
		return err
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(job.Email); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
