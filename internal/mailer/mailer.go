// Package mailer sends transactional email over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config holds SMTP settings and the public base URL used in links.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers templated messages. With no SMTP host configured it logs
// the message instead of sending it, which is how local development works.
type Mailer struct {
	cfg  Config
	send sendFunc
}

// New creates a Mailer.
func New(cfg Config) *Mailer {
	m := &Mailer{cfg: cfg}
	m.send = smtp.SendMail
	if cfg.Port == 465 {
		m.send = m.sendImplicitTLS
	}
	return m
}

// Send delivers msg.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.cfg.Host == "" {
		log.Info().
			Str("to", msg.To).
			Str("subject", msg.Subject).
			Str("body", msg.HTML).
			Msg("SMTP not configured; email logged instead of sent")
		return nil
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, m.render(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("Email sent")
	return nil
}

func (m *Mailer) render(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}

func (m *Mailer) sendImplicitTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if a != nil {
		if err := client.Auth(a); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (m *Mailer) link(path, token string) string {
	return strings.TrimRight(m.cfg.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

var actionTemplate = template.Must(template.New("action").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <p>{{.Intro}}</p>
  <p><a href="{{.Link}}">{{.Action}}</a></p>
  <p style="color: #888; font-size: 12px;">{{.Footer}}</p>
</body>
</html>`))

type actionData struct {
	Intro  string
	Action string
	Link   string
	Footer string
}

func (m *Mailer) sendAction(ctx context.Context, to, subject string, data actionData) error {
	var body bytes.Buffer
	if err := actionTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}
	return m.Send(ctx, Message{To: to, Subject: subject, HTML: body.String()})
}

// SendVerification sends the email-address confirmation link.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	return m.sendAction(ctx, to, "Confirm your email address", actionData{
		Intro:  "Please confirm your email address to finish setting up your account.",
		Action: "Confirm email",
		Link:   m.link("/verify-email", token),
		Footer: "This link expires in 24 hours.",
	})
}

// SendMagicLink sends a passwordless sign-in link.
func (m *Mailer) SendMagicLink(ctx context.Context, to, token string) error {
	return m.sendAction(ctx, to, "Your sign-in link", actionData{
		Intro:  "Use the link below to sign in.",
		Action: "Sign in",
		Link:   m.link("/auth/magic-link", token),
		Footer: "This link expires in 15 minutes and can be used once. If you did not request it, ignore this email.",
	})
}

// SendPasswordReset sends the password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	return m.sendAction(ctx, to, "Reset your password", actionData{
		Intro:  "We received a request to reset your password.",
		Action: "Choose a new password",
		Link:   m.link("/reset-password", token),
		Footer: "This link expires in 1 hour. If you did not request a reset, ignore this email.",
	})
}

// SendInvitation invites someone to join an organization.
func (m *Mailer) SendInvitation(ctx context.Context, to, orgName, role, token string) error {
	return m.sendAction(ctx, to, "You have been invited to "+orgName, actionData{
		Intro:  fmt.Sprintf("You have been invited to join %s as %s.", orgName, role),
		Action: "View invitation",
		Link:   m.link("/invitations/accept", token),
		Footer: "This invitation expires in 7 days.",
	})
}
