package utils

import (
	"errors"

	"gopkg.in/gomail.v2"
)

// Sender delivers an HTML email.
type Sender interface {
	Send(to, subject, body string) error
}

// Mailer sends mail over SMTP.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (m Mailer) Send(to, subject, body string) error {
	if m.Host == "" {
		return errors.New("email: SMTP_HOST is not set")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Username)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	d := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	return d.DialAndSend(msg)
}
