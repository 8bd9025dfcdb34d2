package smtppool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"
)

// SMTPDialOptions configures how a raw SMTP transport connects and
// authenticates. Mirrors the account fields after decryption.
// ConnectTimeout bounds the TCP dial and GreetingTimeout bounds the wait
// for the server greeting; SocketTimeout is carried but not applied, so
// no deadline is set on the SMTP conversation in Send.
type SMTPDialOptions struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Secure     bool
	HeloDomain string

	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	SocketTimeout   time.Duration
}

type smtpTransport struct {
	client       *smtp.Client
	opts         SMTPDialOptions
	messagesSent int
	healthy      bool
}

// DialSMTP opens one SMTP connection, performing EHLO, opportunistic
// STARTTLS, and AUTH up front so Send never pays connection-setup cost.
func DialSMTP(ctx context.Context, opts SMTPDialOptions) (Transport, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if opts.GreetingTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.GreetingTimeout))
	}
	client, err := smtp.NewClient(conn, opts.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	helo := opts.HeloDomain
	if helo == "" {
		helo = "localhost"
	}
	if err := client.Hello(helo); err != nil {
		client.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: opts.Host, InsecureSkipVerify: !opts.Secure}
		if err := client.StartTLS(tlsCfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if opts.Username != "" {
		auth := smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("AUTH: %w", err)
		}
	}

	return &smtpTransport{client: client, opts: opts, healthy: true}, nil
}

func (t *smtpTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := t.client.Mail(msg.From); err != nil {
		t.healthy = false
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := t.client.Rcpt(msg.To); err != nil {
		t.healthy = false
		return "", fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := t.client.Data()
	if err != nil {
		t.healthy = false
		return "", fmt.Errorf("DATA: %w", err)
	}
	raw := buildMIME(msg)
	if _, err := w.Write(raw); err != nil {
		t.healthy = false
		return "", fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		t.healthy = false
		return "", fmt.Errorf("close body: %w", err)
	}
	t.messagesSent++
	return generateMessageID(msg.From), nil
}

func (t *smtpTransport) Healthy() bool {
	if !t.healthy {
		return false
	}
	if err := t.client.Noop(); err != nil {
		t.healthy = false
		return false
	}
	return true
}

func (t *smtpTransport) MessagesSent() int { return t.messagesSent }

func (t *smtpTransport) Close() error {
	_ = t.client.Quit()
	return t.client.Close()
}

func buildMIME(msg Message) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s\r\n",
		msg.From, msg.To, msg.Subject, msg.HTMLBody,
	))
}

func generateMessageID(from string) string {
	return fmt.Sprintf("<%d.%s@campaignrunner>", time.Now().UnixNano(), domainOf(from))
}

func domainOf(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return "local"
}
