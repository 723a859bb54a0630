// Package mail delivers outbound messages. A Dispatcher sends a batch over one
// transport session and reports per recipient; an Outbox queues single
// messages for best-effort delivery by the worker.
package mail

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mail_dispatch_total",
	Help: "Messages handed to the mail transport by result.",
}, []string{"result"})

type Job struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    bool   `json:"html"`
}

type Result struct {
	Email string `json:"email"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Dispatcher interface {
	Send(ctx context.Context, jobs []Job) []Result
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, jobs []Job) []Result

func (f DispatcherFunc) Send(ctx context.Context, jobs []Job) []Result {
	return f(ctx, jobs)
}

// LogDispatcher is used when no SMTP host is configured. Every message is
// logged and reported as delivered.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		zap.L().Info("[Mail] SMTP disabled, message not sent",
			zap.String("email", job.Email),
			zap.String("subject", job.Subject),
		)
		results[i] = Result{Email: job.Email, OK: true}
		dispatchTotal.WithLabelValues("logged").Inc()
	}
	return results
}

// SendOne dispatches a single job and returns its transport error, if any.
func SendOne(ctx context.Context, d Dispatcher, job Job) error {
	res := d.Send(ctx, []Job{job})
	if len(res) == 0 {
		return &DeliveryError{Email: job.Email, Reason: "no result from dispatcher"}
	}
	if !res[0].OK {
		return &DeliveryError{Email: job.Email, Reason: res[0].Error}
	}
	return nil
}

type DeliveryError struct {
	Email  string
	Reason string
}

func (e *DeliveryError) Error() string {
	return "mail: delivery to " + e.Email + " failed: " + e.Reason
}
