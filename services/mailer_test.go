package services

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"genify/models"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(opts SMTPOptions) (*SMTPMailer, *captured) {
	m := NewSMTPMailer(opts, zap.NewNop())
	c := &captured{}
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return m, c
}

var smtpOpts = SMTPOptions{
	Host:     "smtp.example.com",
	Port:     587,
	Username: "mailer",
	Password: "pw",
	From:     "Genify <no-reply@genify.test>",
	AppURL:   "https://genify.test",
}

func TestSMTPMailerVerification(t *testing.T) {
	m, c := newTestMailer(smtpOpts)

	require.NoError(t, m.SendVerification(context.Background(), "ada@example.com", "<Ada>", "https://genify.test/api/auth/verify-email/abc"))
	assert.Equal(t, "smtp.example.com:587", c.addr)
	assert.Equal(t, "no-reply@genify.test", c.from)
	assert.Equal(t, []string{"ada@example.com"}, c.to)
	assert.Contains(t, c.msg, "Subject: Verify Your Email - Genify\r\n")
	assert.Contains(t, c.msg, "https://genify.test/api/auth/verify-email/abc")
	assert.Contains(t, c.msg, "&lt;Ada&gt;")
}

func TestSMTPMailerPayoutStatus(t *testing.T) {
	m, c := newTestMailer(smtpOpts)

	require.NoError(t, m.SendPayoutStatus(context.Background(), "ada@example.com", "Ada", models.PayoutPaid, 2500, "sent by BACS"))
	assert.Contains(t, c.msg, "Subject: Payout request paid - Genify")
	assert.Contains(t, c.msg, "£25.00")
	assert.Contains(t, c.msg, "sent by BACS")
	assert.Contains(t, c.msg, "https://genify.test/affiliate")
}

func TestSMTPMailerNotConfigured(t *testing.T) {
	m, c := newTestMailer(SMTPOptions{From: "no-reply@genify.test"})

	err := m.SendVerification(context.Background(), "ada@example.com", "Ada", "link")
	assert.ErrorIs(t, err, ErrMailNotConfigured)
	assert.Empty(t, c.msg)
}
