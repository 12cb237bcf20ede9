package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// DefaultTimeout bounds one SMTP delivery when the context has no deadline.
const DefaultTimeout = 10 * time.Second

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SendFunc delivers one message. It must give up once ctx is done.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailService struct {
	config EmailConfig
	send   SendFunc
}

func NewEmailService(config EmailConfig) *EmailService {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &EmailService{config: config, send: sendMail}
}

// WithSender replaces the SMTP transport.
func (s *EmailService) WithSender(send SendFunc) *EmailService {
	s.send = send
	return s
}

// Send emails an HTML body to a single recipient.
func (s *EmailService) Send(ctx context.Context, to, subject, body string) error {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	from := (&mail.Address{Name: s.config.FromName, Address: s.config.From}).String()

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", addr.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	hostPort := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	return s.send(ctx, hostPort, auth, s.config.From, []string{addr.Address}, []byte(msg.String()))
}

// sendMail follows smtp.SendMail but dials with ctx and closes the
// connection when ctx is done, so a silent server cannot hold the caller.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", withContext(ctx, err))
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", withContext(ctx, err))
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return fmt.Errorf("smtp auth: %w", withContext(ctx, err))
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return withContext(ctx, err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return withContext(ctx, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return withContext(ctx, err)
	}
	if _, err := w.Write(msg); err != nil {
		return withContext(ctx, err)
	}
	if err := w.Close(); err != nil {
		return withContext(ctx, err)
	}
	return c.Quit()
}

// withContext reports the context error when it caused a connection failure.
func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
