// Package auth provides email services for password resets.
package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/ortelius/community-site/internal/metrics"
	"go.uber.org/zap"
)

// Message is a single outgoing email
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer delivers email. Callers treat delivery as fire-and-forget.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
	FromName     string `yaml:"from_name"`
}

// Configured reports whether SMTP credentials are present
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}

// SMTPMailer sends HTML mail through an SMTP relay
type SMTPMailer struct {
	config EmailConfig
	send   func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns a mailer for config
func NewSMTPMailer(config EmailConfig) *SMTPMailer {
	return &SMTPMailer{config: config, send: sendMail}
}

// Send delivers msg over SMTP with PLAIN auth. The whole exchange is bounded
// by ctx.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("invalid header value in message to %q", msg.To)
	}

	auth := smtp.PlainAuth("", m.config.SMTPUsername, m.config.SMTPPassword, m.config.SMTPHost)

	headers := make(map[string]string)
	headers["From"] = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.FromEmail)
	headers["To"] = msg.To
	headers["Subject"] = msg.Subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=\"utf-8\""

	var raw bytes.Buffer
	for _, k := range []string{"From", "To", "Subject", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&raw, "%s: %s\r\n", k, headers[k])
	}
	raw.WriteString("\r\n")
	raw.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%s", m.config.SMTPHost, m.config.SMTPPort)
	err := m.send(ctx, addr, auth, m.config.FromEmail, []string{msg.To}, raw.Bytes())
	metrics.RecordMail("smtp", err)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// sendMail is smtp.SendMail with a context: the dial honors ctx, and the
// connection is closed when ctx ends so a stalled relay cannot block forever
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = smtpExchange(conn, addr, a, from, to, msg)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func smtpExchange(conn net.Conn, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// LogMailer writes messages to the log when SMTP is not configured
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a mailer that only logs
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the recipient, subject and body
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Sugar().Infof("EMAIL NOT CONFIGURED - message to %s\nSubject: %s\n%s", msg.To, msg.Subject, msg.Body)
	metrics.RecordMail("log", nil)
	return nil
}

// PasswordResetEmailData holds data for the password reset template
type PasswordResetEmailData struct {
	SiteName  string
	ResetLink string
	ExpiresIn string
}

var passwordResetTemplate = template.Must(template.New("password_reset").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
	<h2>Password Reset Request</h2>
	<p>You requested to reset your {{.SiteName}} password.</p>
	<p>Click the link below to choose a new password:</p>
	<p><a href="{{.ResetLink}}" style="background-color: #4CAF50; color: white; padding: 10px 20px; text-decoration: none; border-radius: 4px; display: inline-block;">Reset Password</a></p>
	<p>This link will expire in {{.ExpiresIn}}.</p>
	<p>If you didn't request this, please ignore this email.</p>
	<hr>
	<p style="color: #666; font-size: 12px;">{{.SiteName}}</p>
</body>
</html>
`))

// PasswordResetMessage renders the reset email for a token
func PasswordResetMessage(siteName, baseURL, email, token string, ttl time.Duration) (Message, error) {
	data := PasswordResetEmailData{
		SiteName:  siteName,
		ResetLink: fmt.Sprintf("%s/reset-password/%s", strings.TrimRight(baseURL, "/"), token),
		ExpiresIn: humanDuration(ttl),
	}

	var body bytes.Buffer
	if err := passwordResetTemplate.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("failed to render email template: %w", err)
	}

	return Message{
		To:      email,
		Subject: fmt.Sprintf("Reset your %s password", siteName),
		Body:    body.String(),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return d.String()
	}
}
