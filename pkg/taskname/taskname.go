package taskname

const (
	// MailSend delivers one mail.Job.
	MailSend = "mail:send"

	QueueMail = "mail"
)
