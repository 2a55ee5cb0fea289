package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/smtp"
	"strconv"

	"go.uber.org/zap"

	"genify/models"
)

var ErrMailNotConfigured = errors.New("SMTP not configured")

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppURL   string
}

// SMTPMailer sends the transactional HTML emails over SMTP.
type SMTPMailer struct {
	opts SMTPOptions
	log  *zap.Logger

	// send is smtp.SendMail outside tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(opts SMTPOptions, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{opts: opts, log: log, send: smtp.SendMail}
}

var verificationTmpl = template.Must(template.New("verify").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Welcome to Genify!</h2>
  <p>Hi <strong>{{.Name}}</strong>,</p>
  <p>Please confirm your email address to start your free trial.</p>
  <p><a href="{{.Link}}" style="background: #4f46e5; color: #fff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">Verify email</a></p>
  <p>This link expires in 24 hours. If you did not sign up, you can ignore this email.</p>
  <p>The Genify team</p>
</div>`))

var payoutTmpl = template.Must(template.New("payout").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Your payout request was {{.Status}}</h2>
  <p>Hi <strong>{{.Name}}</strong>,</p>
  <p>Your affiliate payout request for <strong>{{.Amount}}</strong> is now <strong>{{.Status}}</strong>.</p>
  {{if .Notes}}<p>Notes from our team: {{.Notes}}</p>{{end}}
  <p><a href="{{.DashboardURL}}">Open your affiliate dashboard</a></p>
  <p>The Genify team</p>
</div>`))

func (m *SMTPMailer) SendVerification(ctx context.Context, to, name, link string) error {
	return m.render(ctx, to, "Verify Your Email - Genify", verificationTmpl, map[string]string{
		"Name": name,
		"Link": link,
	})
}

func (m *SMTPMailer) SendPayoutStatus(ctx context.Context, to, name string, status models.PayoutStatus, amount models.Money, notes string) error {
	return m.render(ctx, to, fmt.Sprintf("Payout request %s - Genify", status), payoutTmpl, map[string]string{
		"Name":         name,
		"Status":       string(status),
		"Amount":       amount.String(),
		"Notes":        notes,
		"DashboardURL": m.opts.AppURL + "/affiliate",
	})
}

func (m *SMTPMailer) render(ctx context.Context, to, subject string, tmpl *template.Template, data any) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return m.deliver(ctx, to, subject, body.String())
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, html string) error {
	if m.opts.Host == "" || m.opts.Username == "" {
		return ErrMailNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := mail.ParseAddress(m.opts.From)
	if err != nil {
		return fmt.Errorf("parse sender: %w", err)
	}

	msg := []byte("From: " + from.String() + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" + html + "\r\n")

	auth := smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
	addr := m.opts.Host + ":" + strconv.Itoa(m.opts.Port)
	if err := m.send(addr, auth, from.Address, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
