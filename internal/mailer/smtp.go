package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	gomail "gopkg.in/mail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPMailer struct {
	fromEmail string
	domain    string
	dialer    dialer
	backoff   time.Duration
}

func NewSMTPMailer(host string, port int, username, password, fromEmail string) (*SMTPMailer, error) {
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	if fromEmail == "" {
		return nil, errors.New("from email is required")
	}

	return &SMTPMailer{
		fromEmail: fromEmail,
		domain:    host,
		dialer:    gomail.NewDialer(host, port, username, password),
		backoff:   time.Second,
	}, nil
}

// Render executes the "subject" and "body" blocks of an embedded template.
func Render(templateFile string, data any) (string, string, error) {
	tmpl, err := template.ParseFS(FS, "templates/"+templateFile)
	if err != nil {
		return "", "", fmt.Errorf("parse template %s: %w", templateFile, err)
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}

	body := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(body, "body", data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject.String(), body.String(), nil
}

func (m *SMTPMailer) Send(templateFile, username, email string, data any) (string, error) {
	subject, body, err := Render(templateFile, data)
	if err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.domain)

	message := gomail.NewMessage()
	message.SetAddressHeader("From", m.fromEmail, FromName)
	if username != "" {
		message.SetAddressHeader("To", email, username)
	} else {
		message.SetHeader("To", email)
	}
	message.SetHeader("Subject", subject)
	message.SetHeader("Message-ID", messageID)
	message.SetBody("text/html", body)

	var retryErr error
	for i := 0; i < maxRetires; i++ {
		retryErr = m.dialer.DialAndSend(message)
		if retryErr != nil {
			// linear backoff
			time.Sleep(m.backoff * time.Duration(i+1))
			continue
		}
		return messageID, nil
	}

	return "", fmt.Errorf("failed to send email after %d attempts, error: %v", maxRetires, retryErr)
}
