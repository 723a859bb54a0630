package mail

import (
	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/task"
	"ristosmart-license/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("mail",
	fx.Provide(ProvideDispatcher),
)

// OutboxModule provides the Outbox. It uses the asynq queue when an
// Enqueuer is in the graph and direct delivery otherwise, or when the
// queue refuses a message.
var OutboxModule = fx.Module("mail:outbox",
	fx.Provide(ProvideOutbox),
)

// WorkerModule registers the mail:send handler on the asynq mux.
var WorkerModule = fx.Module("mail:worker",
	fx.Invoke(func(mux *asynq.ServeMux, d Dispatcher) {
		mux.Handle(taskname.MailSend, HandleSendTask(d))
	}),
)

func ProvideDispatcher(cfg *config.Config) Dispatcher {
	if cfg.Mail.Host == "" {
		zap.L().Warn("[Mail] MAIL.HOST not set, messages will only be logged")
		return LogDispatcher{}
	}
	return NewSMTPDispatcher(SMTPConfig{
		Host:          cfg.Mail.Host,
		Port:          cfg.Mail.Port,
		Username:      cfg.Mail.Username,
		Password:      cfg.Mail.Password,
		From:          cfg.Mail.From,
		RatePerSecond: cfg.Mail.RatePerSecond,
		Timeout:       cfg.Mail.Timeout,
	})
}

type OutboxParams struct {
	fx.In

	Dispatcher Dispatcher
	Enqueuer   task.Enqueuer `optional:"true"`
}

func ProvideOutbox(p OutboxParams) Outbox {
	direct := NewDirectOutbox(p.Dispatcher)
	if p.Enqueuer == nil {
		return direct
	}
	return NewQueueOutbox(p.Enqueuer, direct)
}
