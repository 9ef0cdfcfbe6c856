package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(t *testing.T, sendErr error) (*Mailer, *captured) {
	t.Helper()
	c := &captured{}
	m := New(Config{Host: "smtp.example.com", Port: 587, From: "no-reply@example.com", BaseURL: "https://app.example.com/"})
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return sendErr
	}
	return m, c
}

func TestSendMagicLink_RendersLink(t *testing.T) {
	m, c := newTestMailer(t, nil)

	require.NoError(t, m.SendMagicLink(context.Background(), "doc@example.com", "cdm_abc+def"))
	require.Equal(t, "smtp.example.com:587", c.addr)
	require.Equal(t, []string{"doc@example.com"}, c.to)
	require.Contains(t, c.msg, "Subject: Your sign-in link")
	require.Contains(t, c.msg, "https://app.example.com/auth/magic-link?token=cdm_abc%2Bdef")
}

func TestSendInvitation_EscapesOrgName(t *testing.T) {
	m, c := newTestMailer(t, nil)

	require.NoError(t, m.SendInvitation(context.Background(), "a@example.com", "<Acme>", "admin", "cdi_x"))
	require.Contains(t, c.msg, "&lt;Acme&gt;")
	require.Contains(t, c.msg, "/invitations/accept?token=cdi_x")
}

func TestSend_WrapsTransportError(t *testing.T) {
	m, _ := newTestMailer(t, errors.New("connection refused"))

	err := m.SendPasswordReset(context.Background(), "a@example.com", "cdr_x")
	require.ErrorContains(t, err, "connection refused")
}

func TestSend_WithoutHostLogsOnly(t *testing.T) {
	m := New(Config{BaseURL: "http://localhost"})
	called := false
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	require.NoError(t, m.SendVerification(context.Background(), "a@example.com", "cdv_x"))
	require.False(t, called)
}

func TestSend_CancelledContext(t *testing.T) {
	m, _ := newTestMailer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.SendVerification(ctx, "a@example.com", "x"), context.Canceled)
}
